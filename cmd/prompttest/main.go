package main

// Run a prompt version against one link or a saved extraction:
//   go run ./cmd/prompttest -url https://blog.naver.com/user/123 -prompt-version places_v2
//   go run ./cmd/prompttest -content testdata/post.json -out result.json

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"placelink-backend/internal/analyses"
	"placelink-backend/internal/extract"
	"placelink-backend/internal/llm"
	openai "placelink-backend/internal/llm/openai"
	"placelink-backend/internal/model"
	"placelink-backend/internal/platform"
	"placelink-backend/internal/shared/config"
)

func main() {
	cfg := config.Load()

	rawURL := flag.String("url", "", "Link to extract and analyze")
	contentPath := flag.String("content", "", "Path to a saved ExtractedContent JSON file")
	promptVersion := flag.String("prompt-version", cfg.PromptVersion, "Prompt version (places_v1, places_v2)")
	outPath := flag.String("out", "", "Path to write the analysis JSON (optional)")
	modelName := flag.String("model", cfg.LLMModel, "LLM model")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	flag.Parse()

	if (*rawURL == "") == (*contentPath == "") {
		exitErr("exactly one of -url or -content is required")
	}
	if _, ok := llm.PromptTemplate(*promptVersion); !ok {
		exitErr(fmt.Sprintf("unsupported prompt version: %s", *promptVersion))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var content model.ExtractedContent
	var err error
	if *contentPath != "" {
		content, err = loadContent(*contentPath)
	} else {
		content, err = extractURL(ctx, cfg, *rawURL)
	}
	if err != nil {
		exitErr(err.Error())
	}

	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		exitErr("OPENAI_API_KEY is required")
	}
	client, err := openai.NewClient(openai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   *modelName,
		BaseURL: cfg.OpenAIBaseURL,
		Timeout: cfg.AITimeout,
	})
	if err != nil {
		exitErr(err.Error())
	}

	analyzer := analyses.NewAIAnalyzer(client, analyses.AIAnalyzerConfig{
		Timeout:       cfg.AITimeout,
		Retry:         analyses.AIRetryPolicy(cfg.AIMaxAttempts),
		PromptVersion: *promptVersion,
	})
	result, err := analyzer.Analyze(ctx, content)
	if err != nil {
		exitErr(fmt.Sprintf("analyze: %v", err))
	}

	raw, err := json.Marshal(result)
	if err != nil {
		exitErr(fmt.Sprintf("encode result: %v", err))
	}
	pretty, err := prettyJSON(raw)
	if err != nil {
		exitErr(fmt.Sprintf("format json: %v", err))
	}

	if *outPath != "" {
		if err := os.WriteFile(*outPath, pretty, 0o644); err != nil {
			exitErr(fmt.Sprintf("write output: %v", err))
		}
	}

	if _, err := os.Stdout.Write(pretty); err != nil {
		exitErr(fmt.Sprintf("write stdout: %v", err))
	}
	if len(pretty) == 0 || pretty[len(pretty)-1] != '\n' {
		_, _ = os.Stdout.Write([]byte("\n"))
	}
}

func loadContent(path string) (model.ExtractedContent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.ExtractedContent{}, fmt.Errorf("read content: %w", err)
	}
	var content model.ExtractedContent
	if err := json.Unmarshal(data, &content); err != nil {
		return model.ExtractedContent{}, fmt.Errorf("decode content: %w", err)
	}
	if strings.TrimSpace(content.ExtractedText) == "" && strings.TrimSpace(content.Description) == "" {
		return model.ExtractedContent{}, fmt.Errorf("content has no text to analyze")
	}
	return content, nil
}

func extractURL(ctx context.Context, cfg config.Config, raw string) (model.ExtractedContent, error) {
	n, p, err := platform.NewDetector(cfg.GenericHosts).DetectURL(raw)
	if err != nil {
		return model.ExtractedContent{}, err
	}
	registry := extract.NewRegistry(extract.Config{
		CallTimeout: cfg.FetchTimeout,
		Retry:       extract.CallPolicy(cfg.ExtractMaxAttempts),
	})
	extractor, err := registry.For(p)
	if err != nil {
		return model.ExtractedContent{}, err
	}
	content, err := extractor.Extract(ctx, n.URL)
	if err != nil {
		return model.ExtractedContent{}, fmt.Errorf("extract: %w", err)
	}
	return content, nil
}

func prettyJSON(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func exitErr(msg string) {
	_, _ = fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
