package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"placelink-backend/internal/bootstrap"
	"placelink-backend/internal/queue"
	"placelink-backend/internal/shared/config"
	"placelink-backend/internal/shared/metrics"
	"placelink-backend/internal/shared/telemetry"
	"placelink-backend/internal/workerproc"
)

const (
	defaultVisibilitySeconds  = 300
	defaultWorkerConcurrency  = 4
	defaultShutdownTimeoutSec = 30
)

func main() {
	cfg := config.Load()

	queueURL := strings.TrimSpace(cfg.WarmupQueueURL)
	if queueURL == "" {
		log.Fatal("SQS_WARMUP_QUEUE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	visibilitySeconds := envInt("WARMUP_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds)
	concurrency := envInt("WARMUP_CONCURRENCY", defaultWorkerConcurrency)
	shutdownTimeout := time.Duration(envInt("WARMUP_SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSec)) * time.Second

	awsCfg, err := queue.LoadAWSConfig(ctx, cfg.AWSRegion)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	var sqsClient sqsAPI = sqs.NewFromConfig(awsCfg)

	app, err := bootstrap.Build(ctx, cfg, bootstrap.WithoutRouter())
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	go app.AnalysesService.RunJanitor(ctx, time.Minute)

	sem := make(chan struct{}, max(1, concurrency))
	var wg sync.WaitGroup

	log.Printf("worker started queue=%s concurrency=%d visibility=%ds", queueURL, concurrency, visibilitySeconds)

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(visibilitySeconds),
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			log.Printf("receive message: %v", err)
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			metrics.IncWarmupReceived()
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				handleMessage(ctx, sqsClient, queueURL, app.AnalysesService, m)
			}(msg)
		}
	}

	log.Printf("shutdown requested, waiting up to %s for in-flight warmups", shutdownTimeout)
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		log.Printf("shutdown timeout reached; exiting with in-flight warmups")
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		log.Printf("app close: %v", err)
	}
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func handleMessage(ctx context.Context, client sqsAPI, queueURL string, svc workerproc.Analyzer, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)

	decoded, meta, err := workerproc.ParseWarmup(body)
	if err != nil {
		fields := baseFields(msg, "")
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		event := "worker.warmup.decode_failed"
		switch e := err.(type) {
		case workerproc.ErrEmptyBody:
			event = "worker.warmup.empty_body"
		case workerproc.ErrMissingURL:
			event = "worker.warmup.missing_url"
			if e.RequestID != "" {
				fields["request_id"] = e.RequestID
			}
		default:
			fields["error"] = err.Error()
		}
		telemetry.Error(event, fields)
		if deleteMessage(ctx, client, queueURL, msg, "") {
			metrics.IncWarmupDeletedUnrecoverable()
		}
		return
	}

	fields := baseFields(msg, decoded.RequestID)
	fields["url"] = decoded.URL
	fields["force_refresh"] = decoded.ForceRefresh
	telemetry.Info("worker.warmup.received", fields)

	out, err := workerproc.HandleWarmup(workerproc.WithParsedMessage(ctx, decoded), svc, body)
	if err != nil {
		metrics.IncWarmupFailed()
		var procErr workerproc.ErrProcess
		if !errors.As(err, &procErr) {
			fields["error"] = err.Error()
			telemetry.Error("worker.warmup.failed", fields)
			return
		}
		fields["analysis_id"] = procErr.AnalysisID
		fields["error_kind"] = procErr.Kind.String()
		fields["retryable"] = procErr.Retryable
		fields["error"] = procErr.Error()
		if procErr.Retryable {
			telemetry.Warn("worker.warmup.failed", fields)
			return
		}
		telemetry.Error("worker.warmup.failed", fields)
		if deleteMessage(ctx, client, queueURL, msg, decoded.RequestID) {
			metrics.IncWarmupDeletedUnrecoverable()
		}
		return
	}

	if deleteMessage(ctx, client, queueURL, msg, decoded.RequestID) {
		fields["analysis_id"] = out.AnalysisID
		fields["cached"] = out.Cached
		fields["joined"] = out.Joined
		telemetry.Info("worker.warmup.completed", fields)
		metrics.IncWarmupCompleted()
	}
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message, requestID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg, requestID)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.warmup.delete_failed", fields)
		return false
	}
	// The delete must land even when shutdown cancelled ctx after the work finished.
	if _, err := client.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.warmup.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message, requestID string) map[string]any {
	fields := map[string]any{
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}
