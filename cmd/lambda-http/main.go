package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"placelink-backend/internal/bootstrap"
	"placelink-backend/internal/shared/config"
	"placelink-backend/internal/shared/server/respond"
	"placelink-backend/internal/shared/telemetry"
)

// The app outlives any single invocation, so it is built once per execution environment.
var (
	coldStart sync.Once
	proxy     *ginadapter.GinLambdaV2
	buildErr  error
)

func warm() {
	app, err := bootstrap.Build(context.Background(), config.Load())
	if err != nil {
		buildErr = err
		return
	}
	go app.AnalysesService.RunJanitor(context.Background(), time.Minute)
	proxy = ginadapter.NewV2(app.Router)
}

func handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	coldStart.Do(warm)
	if buildErr != nil {
		telemetry.Error("lambda.bootstrap_failed", map[string]any{
			"error":      buildErr.Error(),
			"request_id": req.RequestContext.RequestID,
		})
		return internalError("service unavailable"), buildErr
	}
	return proxy.ProxyWithContext(ctx, req)
}

func internalError(message string) events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(respond.ErrorResponse{Error: respond.ErrorBody{Code: "InternalError", Message: message}})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

func main() {
	lambda.Start(handler)
}
