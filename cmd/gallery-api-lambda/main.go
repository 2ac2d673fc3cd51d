// Package main is the Lambda entry point for the gallery delivery API.
//
// It runs behind API Gateway via the http adapter and serves the selection
// approval, selection state, delivery, and delivery-dashboard endpoints on
// top of the order lifecycle engine.
//
// Endpoints:
//
//	GET  /api/health                                           — health check (no auth)
//	POST /api/galleries/{galleryId}/selection/approve          — client token or owner
//	GET  /api/galleries/{galleryId}/selection                  — client token or owner
//	POST /api/galleries/{galleryId}/orders/{orderId}/delivered — owner only
//	GET  /api/delivery-status                                  — owner only, supports If-None-Match
//
// Identity is established upstream: the authorizer injects x-owner-id for
// owner routes; clients present a gallery-scoped JWT in x-gallery-token.
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/shuttersend/gallery-delivery/internal/archive"
	"github.com/shuttersend/gallery-delivery/internal/deliverystatus"
	"github.com/shuttersend/gallery-delivery/internal/lambdaboot"
	"github.com/shuttersend/gallery-delivery/internal/lifecycle"
	"github.com/shuttersend/gallery-delivery/internal/logging"
	"github.com/shuttersend/gallery-delivery/internal/s3util"
	"github.com/shuttersend/gallery-delivery/internal/store"
)

// Cold-start state shared by all handlers.
var (
	deliveryStore      store.Store
	galleryBucket      *s3util.Bucket
	engine             *lifecycle.Engine
	aggregator         *deliverystatus.Aggregator
	clientTokenSecret  []byte
	originVerifySecret string
	production         bool
)

func init() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	s3c := lambdaboot.InitS3(clients.Config, "GALLERY_BUCKET_NAME")
	ddb := lambdaboot.InitStore(clients.Config, "DELIVERY_TABLE_NAME")
	invoker := lambdaboot.InitArchiveInvoker(clients.Config, "ARCHIVE_WORKER_FUNCTION")
	notifier := lambdaboot.InitNotifier(clients.Config, "NOTIFY_FUNCTION")
	publisher := lambdaboot.InitEventPublisher(clients.Config, "DELIVERY_EVENT_BUS")

	clientTokenSecret = lambdaboot.LoadClientTokenSecret(clients.SSM)

	originVerifySecret = os.Getenv("ORIGIN_VERIFY_SECRET")
	production = os.Getenv("DELIVERY_ENV") == "prod"
	allowEmptyRestore := os.Getenv("ALLOW_EMPTY_RESTORE") == "true"

	deliveryStore = ddb
	galleryBucket = s3c.Bucket
	engine = lifecycle.NewEngine(lifecycle.Config{
		Store:             ddb,
		Archiver:          archive.NewOrchestrator(ddb, invoker),
		Notifier:          notifier,
		Publisher:         publisher,
		Cleaner:           s3c.Bucket,
		AllowEmptyRestore: allowEmptyRestore,
	})
	aggregator = deliverystatus.NewAggregator(ddb, s3c.Bucket)

	lambdaboot.StartupLog("gallery-api-lambda", initStart).
		S3Bucket("gallery", s3c.Bucket.Name).
		DynamoTable("delivery", os.Getenv("DELIVERY_TABLE_NAME")).
		LambdaFunc("archiveWorker", os.Getenv("ARCHIVE_WORKER_FUNCTION")).
		LambdaFunc("notify", logging.EnvOrDefault("NOTIFY_FUNCTION", "(disabled)")).
		EventBus("delivery", logging.EnvOrDefault("DELIVERY_EVENT_BUS", "(disabled)")).
		Feature("originVerify", originVerifySecret != "").
		Feature("emptyRestore", allowEmptyRestore).
		Config("env", logging.EnvOrDefault("DELIVERY_ENV", "dev")).
		Log()
}

func main() {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", handleHealth)
	mux.HandleFunc("/api/delivery-status", handleDeliveryStatus)
	mux.HandleFunc("/api/galleries/", handleGalleryRoutes)

	handler := withOriginVerify(withRequestID(withMetrics(mux)))

	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}
