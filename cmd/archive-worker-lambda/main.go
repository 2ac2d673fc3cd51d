// Package main is the archive worker Lambda: the out-of-process build task
// behind the archive orchestrator. It receives {galleryId, orderId, keys,
// type}, streams the referenced objects from S3 into a zstd-compressed ZIP,
// uploads it to the deterministic archive key, records completion on the
// order, and returns {zipKey}.
//
// On failure the generating flag is cleared and an error is returned; a
// synchronous caller sees a function error, an asynchronous caller finds the
// order no longer claiming in-flight work.
package main

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/shuttersend/gallery-delivery/internal/archive"
	"github.com/shuttersend/gallery-delivery/internal/lambdaboot"
	"github.com/shuttersend/gallery-delivery/internal/logging"
	"github.com/shuttersend/gallery-delivery/internal/metrics"
	"github.com/shuttersend/gallery-delivery/internal/store"
)

// zipMethodZstd is the ZIP compression method ID for Zstandard
// (APPNOTE 6.3.7). Registered in init() at level 12, the highest the Go
// library supports. Needs generous Lambda memory for the encoder window.
const zipMethodZstd uint16 = 93

var (
	s3Client      *s3.Client
	galleryBucket string
	deliveryStore *store.DynamoStore
)

func init() {
	initStart := time.Now()
	logging.Init()

	zip.RegisterCompressor(zipMethodZstd, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(12)))
	})

	clients := lambdaboot.InitAWS()
	s3c := lambdaboot.InitS3(clients.Config, "GALLERY_BUCKET_NAME")
	s3Client = s3c.Client
	galleryBucket = s3c.Bucket.Name
	deliveryStore = lambdaboot.InitStore(clients.Config, "DELIVERY_TABLE_NAME")

	lambdaboot.StartupLog("archive-worker-lambda", initStart).
		S3Bucket("gallery", galleryBucket).
		DynamoTable("delivery", os.Getenv("DELIVERY_TABLE_NAME")).
		Config("zipMethod", "zstd-93").
		Log()
}

func main() {
	lambda.Start(handle)
}

func handle(ctx context.Context, event archive.WorkerEvent) (archive.WorkerResult, error) {
	if event.GalleryID == "" || event.OrderID == "" {
		return archive.WorkerResult{}, fmt.Errorf("galleryId and orderId are required")
	}
	if len(event.Keys) == 0 {
		return archive.WorkerResult{}, fmt.Errorf("no keys to archive")
	}

	kind := store.ArchiveKind(event.Kind)
	switch kind {
	case store.ArchiveOriginals, store.ArchiveFinal, store.ArchiveUnselected:
	case "":
		kind = store.ArchiveOriginals
	default:
		return archive.WorkerResult{}, fmt.Errorf("unknown archive kind %q", event.Kind)
	}

	zipKey := archive.ObjectKey(event.GalleryID, event.OrderID, kind)
	start := time.Now()

	zipSize, added, err := buildZip(ctx, event.Keys, zipKey)
	if err != nil {
		log.Error().Err(err).
			Str("galleryId", event.GalleryID).
			Str("orderId", event.OrderID).
			Str("kind", string(kind)).
			Msg("Archive build failed")
		clearFlag(ctx, event, kind)
		return archive.WorkerResult{}, err
	}
	if added == 0 {
		log.Error().
			Str("galleryId", event.GalleryID).
			Str("orderId", event.OrderID).
			Msg("No requested objects exist, archive not produced")
		clearFlag(ctx, event, kind)
		return archive.WorkerResult{}, fmt.Errorf("none of %d requested objects exist", len(event.Keys))
	}

	hash := archive.FingerprintKeys(event.Keys)
	if err := deliveryStore.SetArchiveState(ctx, event.GalleryID, event.OrderID, kind, false, hash); err != nil {
		// The object is uploaded; readers will still find it via the
		// existence check even with a stale flag.
		log.Error().Err(err).Str("orderId", event.OrderID).Msg("Failed to record archive completion")
	}

	elapsed := time.Since(start)
	metrics.New().
		Dimension("Operation", "BuildArchive").
		Duration("ArchiveBuildMs", elapsed).
		Metric("ArchiveSizeBytes", float64(zipSize), metrics.UnitBytes).
		Count("ArchiveCount").
		Property("galleryId", event.GalleryID).
		Property("orderId", event.OrderID).
		Property("kind", string(kind)).
		Property("files", added).
		Flush()

	log.Info().
		Str("galleryId", event.GalleryID).
		Str("orderId", event.OrderID).
		Str("kind", string(kind)).
		Str("zipKey", zipKey).
		Int("files", added).
		Int("requested", len(event.Keys)).
		Int64("zipSize", zipSize).
		Dur("elapsed", elapsed).
		Msg("Archive built")

	return archive.WorkerResult{ZipKey: zipKey}, nil
}

// buildZip streams each object into a zstd ZIP in /tmp, then uploads it to
// zipKey. Missing objects are skipped with a warning; the count of entries
// actually written is returned alongside the ZIP size.
func buildZip(ctx context.Context, keys []string, zipKey string) (int64, int, error) {
	tmpFile, err := os.CreateTemp("", "archive-*.zip")
	if err != nil {
		return 0, 0, fmt.Errorf("create temp ZIP: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	zipWriter := zip.NewWriter(tmpFile)
	seen := make(map[string]int)
	added := 0

	for _, key := range keys {
		getResult, err := s3Client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: &galleryBucket,
			Key:    &key,
		})
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to download object for ZIP, skipping")
			continue
		}

		header := &zip.FileHeader{
			Name:   entryName(seen, key),
			Method: zipMethodZstd,
		}
		header.SetModTime(time.Now())

		writer, err := zipWriter.CreateHeader(header)
		if err != nil {
			getResult.Body.Close()
			return 0, 0, fmt.Errorf("create ZIP entry for %s: %w", key, err)
		}
		if _, err := io.Copy(writer, getResult.Body); err != nil {
			getResult.Body.Close()
			return 0, 0, fmt.Errorf("write ZIP entry for %s: %w", key, err)
		}
		getResult.Body.Close()
		added++
	}

	if err := zipWriter.Close(); err != nil {
		tmpFile.Close()
		return 0, 0, fmt.Errorf("close ZIP writer: %w", err)
	}
	tmpFile.Close()

	info, err := os.Stat(tmpPath)
	if err != nil {
		return 0, 0, fmt.Errorf("stat ZIP file: %w", err)
	}

	zipFile, err := os.Open(tmpPath)
	if err != nil {
		return 0, 0, fmt.Errorf("open ZIP for upload: %w", err)
	}
	defer zipFile.Close()

	contentType := "application/zip"
	_, err = s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &galleryBucket,
		Key:         &zipKey,
		Body:        zipFile,
		ContentType: &contentType,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("upload ZIP to S3: %w", err)
	}

	return info.Size(), added, nil
}

// entryName returns the base filename for a key, suffixing duplicates so two
// originals named the same do not collide inside the ZIP.
func entryName(seen map[string]int, key string) string {
	name := filepath.Base(key)
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s-%d%s", name[:len(name)-len(ext)], n, ext)
}

// clearFlag resets the generating flag after a failed build so the order
// does not claim in-flight work forever.
func clearFlag(ctx context.Context, event archive.WorkerEvent, kind store.ArchiveKind) {
	if err := deliveryStore.SetArchiveState(ctx, event.GalleryID, event.OrderID, kind, false, ""); err != nil {
		log.Error().Err(err).Str("orderId", event.OrderID).Msg("Failed to clear generating flag after build failure")
	}
}
