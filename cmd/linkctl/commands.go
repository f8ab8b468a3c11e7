package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"placelink-backend/internal/analyses"
	"placelink-backend/internal/bootstrap"
	"placelink-backend/internal/platform"
	"placelink-backend/internal/queue"
	"placelink-backend/internal/shared/config"
	"placelink-backend/internal/urlnorm"
)

const defaultAnalyzeTimeout = 2 * time.Minute

func newCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:   "linkctl",
		Usage:  "inspect and analyze shared links from the command line",
		Writer: out,
		Commands: []*cli.Command{
			{
				Name:      "normalize",
				Usage:     "print the canonical form and content key of a link",
				ArgsUsage: "<url>",
				Action:    normalizeAction,
			},
			{
				Name:      "detect",
				Usage:     "print the platform a link belongs to",
				ArgsUsage: "<url>",
				Action:    detectAction,
			},
			{
				Name:      "analyze",
				Usage:     "run one analysis in-process and print the result",
				ArgsUsage: "<url>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force-refresh",
						Usage: "bypass the result cache",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "give up waiting after this long",
						Value: defaultAnalyzeTimeout,
					},
				},
				Action: analyzeAction,
			},
			{
				Name:      "warmup",
				Usage:     "enqueue a link on the warmup queue",
				ArgsUsage: "<url>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force-refresh",
						Usage: "recompute even when cached",
					},
					&cli.StringFlag{
						Name:  "queue-url",
						Usage: "override SQS_WARMUP_QUEUE_URL",
					},
				},
				Action: warmupAction,
			},
		},
	}
}

func urlArg(cmd *cli.Command) (string, error) {
	raw := strings.TrimSpace(cmd.Args().First())
	if raw == "" {
		return "", cli.Exit("a url argument is required", 2)
	}
	return raw, nil
}

func printJSON(cmd *cli.Command, v any) error {
	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func normalizeAction(ctx context.Context, cmd *cli.Command) error {
	_ = ctx
	raw, err := urlArg(cmd)
	if err != nil {
		return err
	}
	n, err := urlnorm.Normalize(raw)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return printJSON(cmd, map[string]string{
		"normalized_url": n.URL,
		"host":           n.Host,
		"content_key":    n.ContentKey,
	})
}

func detectAction(ctx context.Context, cmd *cli.Command) error {
	_ = ctx
	raw, err := urlArg(cmd)
	if err != nil {
		return err
	}
	cfg := config.Load()
	n, err := urlnorm.Normalize(raw)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	p := platform.NewDetector(cfg.GenericHosts).Detect(n)
	return printJSON(cmd, map[string]any{
		"normalized_url": n.URL,
		"platform":       p.String(),
		"supported":      p.Supported(),
	})
}

func analyzeAction(ctx context.Context, cmd *cli.Command) error {
	raw, err := urlArg(cmd)
	if err != nil {
		return err
	}
	cfg := config.Load()
	app, err := bootstrap.Build(ctx, cfg, bootstrap.WithoutRouter())
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.Close(closeCtx)
	}()

	ctx = analyses.WithRequestID(ctx, "cli-"+uuid.NewString())
	sub, err := app.AnalysesService.Analyze(ctx, raw, cmd.Bool("force-refresh"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if sub.Cached || sub.Status.Terminal() {
		return printJSON(cmd, sub)
	}

	waitCtx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()
	view, err := app.AnalysesService.Wait(waitCtx, sub.AnalysisID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			_, _ = app.AnalysesService.Cancel(context.Background(), sub.AnalysisID)
		}
		return cli.Exit(err.Error(), 1)
	}
	if err := printJSON(cmd, view); err != nil {
		return err
	}
	if view.Status != analyses.StatusCompleted {
		return cli.Exit("analysis "+string(view.Status), 1)
	}
	return nil
}

func warmupAction(ctx context.Context, cmd *cli.Command) error {
	raw, err := urlArg(cmd)
	if err != nil {
		return err
	}
	cfg := config.Load()
	queueURL := strings.TrimSpace(cmd.String("queue-url"))
	if queueURL == "" {
		queueURL = strings.TrimSpace(cfg.WarmupQueueURL)
	}
	if queueURL == "" {
		return cli.Exit("SQS_WARMUP_QUEUE_URL or --queue-url is required", 2)
	}
	if _, err := urlnorm.Normalize(raw); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	sender, err := queue.NewSQSClient(ctx, queueURL, cfg.AWSRegion)
	if err != nil {
		return err
	}
	msg := queue.NewWarmupMessage(raw, cmd.Bool("force-refresh"), "cli-"+uuid.NewString(), time.Now().UTC())
	if err := queue.NewPublisher(sender).EnqueueWarmup(ctx, msg); err != nil {
		return fmt.Errorf("enqueue warmup: %w", err)
	}
	return printJSON(cmd, msg)
}
