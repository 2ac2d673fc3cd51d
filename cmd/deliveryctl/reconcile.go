package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shuttersend/gallery-delivery/internal/archive"
	"github.com/shuttersend/gallery-delivery/internal/s3util"
	"github.com/shuttersend/gallery-delivery/internal/store"
)

var (
	flagGallery string
	flagStale   time.Duration
	flagDryRun  bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Clear stuck archive generating flags for a gallery",
	Long: `The generating flag on an order is advisory: a worker that crashes
after setting it leaves the order claiming an archive build is in flight
forever. reconcile resolves each flagged order against S3:

  - archive object exists  -> the build finished, only the flag write was
                              lost; the flag is cleared and the hash kept
  - object missing and the order has not been touched within --stale
                           -> the build is presumed dead; flag and hash are
                              cleared so the next approval can regenerate`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringVar(&flagGallery, "gallery", "", "gallery ID to reconcile (required)")
	reconcileCmd.Flags().DurationVar(&flagStale, "stale", 2*time.Hour, "age after which a flagged order with no object is considered dead")
	reconcileCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "report what would change without writing")
	reconcileCmd.MarkFlagRequired("gallery")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, bucket, err := initClients(ctx)
	if err != nil {
		return err
	}

	orders, err := st.ListOrdersByGallery(ctx, flagGallery)
	if err != nil {
		return fmt.Errorf("listing orders: %w", err)
	}
	if len(orders) == 0 {
		fmt.Printf("gallery %s has no orders\n", flagGallery)
		return nil
	}

	now := time.Now()
	fixed := 0
	for _, o := range orders {
		for _, kind := range []store.ArchiveKind{store.ArchiveOriginals, store.ArchiveFinal} {
			changed, err := reconcileOrder(ctx, st, bucket, o, kind, now)
			if err != nil {
				log.Error().Err(err).Str("orderId", o.ID).Str("kind", string(kind)).Msg("Reconcile failed for order")
				continue
			}
			if changed {
				fixed++
			}
		}
	}

	fmt.Printf("reconciled gallery %s: %d orders inspected, %d flags corrected\n", flagGallery, len(orders), fixed)
	return nil
}

func reconcileOrder(ctx context.Context, st store.Store, bucket *s3util.Bucket, o *store.Order, kind store.ArchiveKind, now time.Time) (bool, error) {
	if !o.ArchiveGenerating(kind) {
		return false, nil
	}

	key := archive.ObjectKey(o.GalleryID, o.ID, kind)
	exists, err := bucket.ObjectExists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", key, err)
	}

	switch {
	case exists:
		fmt.Printf("order %s: %s archive exists, clearing stuck flag\n", o.ID, kind)
		if flagDryRun {
			return true, nil
		}
		return true, st.SetArchiveState(ctx, o.GalleryID, o.ID, kind, false, o.ArchiveHash(kind))

	case now.Unix()-o.UpdatedAt > int64(flagStale.Seconds()):
		fmt.Printf("order %s: %s build flagged for %s with no object, resetting\n",
			o.ID, kind, time.Duration(now.Unix()-o.UpdatedAt)*time.Second)
		if flagDryRun {
			return true, nil
		}
		return true, st.SetArchiveState(ctx, o.GalleryID, o.ID, kind, false, "")

	default:
		fmt.Printf("order %s: %s build still within the stale window, leaving alone\n", o.ID, kind)
		return false, nil
	}
}
