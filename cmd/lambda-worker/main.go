package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"placelink-backend/internal/bootstrap"
	"placelink-backend/internal/shared/config"
	"placelink-backend/internal/shared/metrics"
	"placelink-backend/internal/shared/telemetry"
	"placelink-backend/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App
)

func initApp() {
	cfg := config.Load()
	built, err := bootstrap.Build(context.Background(), cfg, bootstrap.WithoutRouter())
	if err != nil {
		initErr = err
		return
	}
	app = built
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		log.Printf("bootstrap error: %v", initErr)
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}
	return processRecords(ctx, app.AnalysesService, event.Records), nil
}

// processRecords reports only retryable failures so that permanent ones are dropped from the queue.
func processRecords(ctx context.Context, svc workerproc.Analyzer, records []events.SQSMessage) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range records {
		metrics.IncWarmupReceived()
		fields := map[string]any{"sqs_message_id": record.MessageId}

		out, err := workerproc.HandleWarmup(ctx, svc, record.Body)
		if err == nil {
			fields["analysis_id"] = out.AnalysisID
			fields["cached"] = out.Cached
			telemetry.Info("worker.warmup.completed", fields)
			metrics.IncWarmupCompleted()
			continue
		}

		fields["error"] = err.Error()
		var procErr workerproc.ErrProcess
		if errors.As(err, &procErr) {
			metrics.IncWarmupFailed()
			fields["analysis_id"] = procErr.AnalysisID
			fields["error_kind"] = procErr.Kind.String()
			if procErr.Retryable {
				telemetry.Warn("worker.warmup.failed", fields)
				failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
				continue
			}
		}
		telemetry.Error("worker.warmup.dropped", fields)
		metrics.IncWarmupDeletedUnrecoverable()
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
