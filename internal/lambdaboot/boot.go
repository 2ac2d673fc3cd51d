// Package lambdaboot provides shared Lambda cold-start bootstrap logic.
//
// Every Lambda in the project needs some subset of: AWS config, S3, DynamoDB,
// the archive-worker invoker, EventBridge, and the client-token secret. This
// package extracts the common init patterns so each Lambda's init() is a
// short composition of helpers.
package lambdaboot

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/shuttersend/gallery-delivery/internal/archive"
	"github.com/shuttersend/gallery-delivery/internal/events"
	"github.com/shuttersend/gallery-delivery/internal/logging"
	"github.com/shuttersend/gallery-delivery/internal/notify"
	"github.com/shuttersend/gallery-delivery/internal/s3util"
	"github.com/shuttersend/gallery-delivery/internal/store"
)

// AWSClients holds the core AWS SDK clients used across Lambdas.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// S3Clients holds the S3 client, presigner, and gallery bucket.
type S3Clients struct {
	Client    *s3.Client
	Presigner *s3.PresignClient
	Bucket    *s3util.Bucket
}

// InitAWS loads the default AWS config. Fatals on failure: a Lambda without
// AWS credentials cannot do anything useful.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates an S3 client and presigner bound to the bucket named by the
// given environment variable. Fatals if the variable is empty.
func InitS3(cfg aws.Config, bucketEnvVar string) S3Clients {
	bucket := os.Getenv(bucketEnvVar)
	if bucket == "" {
		log.Fatal().Str("envVar", bucketEnvVar).Msg("Bucket environment variable is required")
	}
	client := s3.NewFromConfig(cfg)
	return S3Clients{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		Bucket:    &s3util.Bucket{Client: client, Name: bucket},
	}
}

// InitStore creates the DynamoDB-backed store from the table named by the
// given environment variable. Fatals if the variable is empty.
func InitStore(cfg aws.Config, tableEnvVar string) *store.DynamoStore {
	tableName := os.Getenv(tableEnvVar)
	if tableName == "" {
		log.Fatal().Str("envVar", tableEnvVar).Msg("DynamoDB table environment variable is required")
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName)
}

// InitArchiveInvoker creates the invoker for the archive worker Lambda named
// by the given environment variable. Fatals if the variable is empty.
func InitArchiveInvoker(cfg aws.Config, funcEnvVar string) *archive.LambdaInvoker {
	fn := os.Getenv(funcEnvVar)
	if fn == "" {
		log.Fatal().Str("envVar", funcEnvVar).Msg("Archive worker function environment variable is required")
	}
	return &archive.LambdaInvoker{
		Client:       lambda.NewFromConfig(cfg),
		FunctionName: fn,
	}
}

// InitNotifier creates the owner notifier if a notification Lambda is
// configured. Returns a no-op (with a warning) when unset: notifications are
// optional infrastructure.
func InitNotifier(cfg aws.Config, funcEnvVar string) notify.Notifier {
	fn := os.Getenv(funcEnvVar)
	if fn == "" {
		log.Warn().Str("envVar", funcEnvVar).Msg("Notification Lambda not set — notifications disabled")
		return notify.Noop{}
	}
	return &notify.LambdaNotifier{
		Client:       lambda.NewFromConfig(cfg),
		FunctionName: fn,
	}
}

// InitEventPublisher creates the EventBridge publisher if a bus is
// configured. Returns a no-op (with a warning) when unset.
func InitEventPublisher(cfg aws.Config, busEnvVar string) events.Publisher {
	bus := os.Getenv(busEnvVar)
	if bus == "" {
		log.Warn().Str("envVar", busEnvVar).Msg("Event bus not set — domain events disabled")
		return events.Noop{}
	}
	return &events.BridgePublisher{
		Client:  eventbridge.NewFromConfig(cfg),
		BusName: bus,
	}
}

// LoadClientTokenSecret fetches the HS256 signing secret for client tokens.
// CLIENT_TOKEN_SECRET wins when set (local development); otherwise the value
// is read, decrypted, from the SSM parameter named by SSM_CLIENT_TOKEN_PARAM.
// Fatals on error: client routes cannot run without the secret.
func LoadClientTokenSecret(ssmClient *ssm.Client) []byte {
	if v := os.Getenv("CLIENT_TOKEN_SECRET"); v != "" {
		return []byte(v)
	}
	paramName := os.Getenv("SSM_CLIENT_TOKEN_PARAM")
	if paramName == "" {
		paramName = "/gallery-delivery/prod/client-token-secret"
	}
	ssmStart := time.Now()
	result, err := ssmClient.GetParameter(context.Background(), &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		log.Fatal().Err(err).Str("param", paramName).Msg("Failed to read client token secret from SSM")
	}
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Client token secret loaded from SSM")
	return []byte(*result.Parameter.Value)
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
