package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shuttersend/gallery-delivery/internal/deliverystatus"
)

var (
	flagOwner string
	flagJSON  bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print an owner's delivery dashboard",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&flagOwner, "owner", "", "owner ID (required)")
	statusCmd.Flags().BoolVar(&flagJSON, "json", false, "emit the raw dashboard JSON")
	statusCmd.MarkFlagRequired("owner")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, bucket, err := initClients(ctx)
	if err != nil {
		return err
	}

	agg := deliverystatus.NewAggregator(st, bucket)
	report, fingerprint, _, err := agg.OwnerStatus(ctx, flagOwner, "")
	if err != nil {
		return fmt.Errorf("building dashboard: %w", err)
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("owner %s (fingerprint %.12s)\n", flagOwner, fingerprint)
	for status, entries := range report.Orders {
		if len(entries) == 0 {
			continue
		}
		fmt.Printf("\n%s (%d)\n", status, len(entries))
		for _, e := range entries {
			fmt.Printf("  %-28s gallery=%s #%d selected=%d total=%d¢\n",
				e.OrderID, e.GalleryID, e.OrderNumber, e.SelectedCount, e.TotalCents)
			for kind, a := range e.Archives {
				switch {
				case a.Generating:
					fmt.Printf("    %-10s generating\n", kind)
				case a.Ready:
					fmt.Printf("    %-10s ready  %s\n", kind, a.ZipKey)
				default:
					fmt.Printf("    %-10s not ready\n", kind)
				}
			}
		}
	}
	return nil
}
