package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/shuttersend/gallery-delivery/internal/logging"
	"github.com/shuttersend/gallery-delivery/internal/s3util"
	"github.com/shuttersend/gallery-delivery/internal/store"
)

var (
	flagTable  string
	flagBucket string
)

var rootCmd = &cobra.Command{
	Use:   "deliveryctl",
	Short: "Ops tooling for the gallery delivery service",
	Long: `deliveryctl inspects and repairs delivery state directly against
DynamoDB and S3. It exists for the recovery paths the service leaves to an
operator, most importantly clearing archive generating flags left behind by
a crashed worker.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagTable, "table", logging.EnvOrDefault("DELIVERY_TABLE_NAME", ""), "DynamoDB delivery table name")
	rootCmd.PersistentFlags().StringVar(&flagBucket, "bucket", logging.EnvOrDefault("GALLERY_BUCKET_NAME", ""), "S3 gallery bucket name")

	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(statusCmd)
}

// initClients builds the store and bucket the subcommands operate on.
func initClients(ctx context.Context) (*store.DynamoStore, *s3util.Bucket, error) {
	if flagTable == "" {
		return nil, nil, fmt.Errorf("--table (or DELIVERY_TABLE_NAME) is required")
	}
	if flagBucket == "" {
		return nil, nil, fmt.Errorf("--bucket (or GALLERY_BUCKET_NAME) is required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading AWS config: %w", err)
	}

	st := store.NewDynamoStore(dynamodb.NewFromConfig(cfg), flagTable)
	client := s3.NewFromConfig(cfg)
	return st, &s3util.Bucket{Client: client, Name: flagBucket}, nil
}
