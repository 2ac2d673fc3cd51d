// Package s3util provides the object-storage helpers the delivery core
// needs: existence checks for archive reconciliation, original-file deletion
// after delivery, and presigned download URLs.
package s3util

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// Exists reports whether an object is present in the bucket. A missing
// object is not an error; anything else (permissions, throttling) is.
func Exists(ctx context.Context, client *s3.Client, bucket, key string) (bool, error) {
	_, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("HeadObject %s: %w", key, err)
	}
	return true, nil
}

// ObjectSize returns the content length of an object, or 0 with no error if
// the object does not exist.
func ObjectSize(ctx context.Context, client *s3.Client, bucket, key string) (int64, error) {
	result, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return 0, nil
		}
		return 0, fmt.Errorf("HeadObject %s: %w", key, err)
	}
	if result.ContentLength == nil {
		return 0, nil
	}
	return *result.ContentLength, nil
}

// GeneratePresignedURL returns a time-limited GET URL for the given key.
func GeneratePresignedURL(ctx context.Context, presigner *s3.PresignClient, bucket, key string, expiry time.Duration) (string, error) {
	result, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign GetObject %s: %w", key, err)
	}
	return result.URL, nil
}

// Bucket bundles an S3 client with a bucket name so callers that only need
// existence checks can depend on a narrow interface.
type Bucket struct {
	Client *s3.Client
	Name   string
}

// ObjectExists implements the existence-check interface used by the delivery
// status aggregator and the archive reconciler.
func (b *Bucket) ObjectExists(ctx context.Context, key string) (bool, error) {
	return Exists(ctx, b.Client, b.Name, key)
}

// DeleteOriginals removes the original-resolution object for each key.
// Previews and thumbnails live under separate keys and are deliberately
// retained for continued gallery display. Per-key failures are logged and
// skipped: delivery must not get stuck because cleanup failed.
//
// Returns the number of objects deleted and the total bytes freed (sized
// via HeadObject before each delete, so the gallery storage counter can be
// decremented).
func (b *Bucket) DeleteOriginals(ctx context.Context, keys []string) (int, int64) {
	var deleted int
	var freed int64

	for _, key := range keys {
		size, err := ObjectSize(ctx, b.Client, b.Name, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to size original before delete, skipping")
			continue
		}

		_, err = b.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: &b.Name,
			Key:    &key,
		})
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to delete original, skipping")
			continue
		}

		deleted++
		freed += size
		log.Debug().Str("key", key).Int64("size", size).Msg("Original deleted")
	}

	return deleted, freed
}

// PresignDownload returns a presigned GET URL with an attachment
// content-disposition so browsers download rather than render the archive.
func (b *Bucket) PresignDownload(ctx context.Context, presigner *s3.PresignClient, key, filename string, expiry time.Duration) (string, error) {
	result, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     &b.Name,
		Key:                        &key,
		ResponseContentDisposition: aws.String(fmt.Sprintf(`attachment; filename="%s"`, filename)),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign download %s: %w", key, err)
	}
	return result.URL, nil
}
