package extract

import (
	"context"
	"strings"

	"placelink-backend/internal/model"
	"placelink-backend/internal/platform"
)

// Instagram reads a post's Open Graph tags. The caption lives in og:description.
type Instagram struct {
	pages pageReader
}

func (e *Instagram) Extract(ctx context.Context, normalizedURL string) (model.ExtractedContent, error) {
	meta, err := e.pages.read(ctx, normalizedURL)
	if err != nil {
		return model.ExtractedContent{}, err
	}
	if meta.Title == "" && meta.Description == "" {
		return model.ExtractedContent{}, contentMissing("instagram post")
	}

	caption := instagramCaption(meta.Description)
	author := instagramAuthor(meta.Title)
	if author == "" {
		author = meta.Author
	}
	return model.ExtractedContent{
		Platform:      platform.Instagram,
		SourceURL:     normalizedURL,
		Title:         meta.Title,
		Description:   caption,
		Author:        author,
		Images:        meta.Images,
		ExtractedText: joinText(caption, meta.Title),
	}, nil
}

// instagramCaption strips the "N likes, M comments - user on <date>: " preamble.
func instagramCaption(desc string) string {
	if i := strings.Index(desc, `: "`); i >= 0 && strings.Contains(desc[:i], " on ") {
		caption := desc[i+3:]
		caption = strings.TrimSuffix(caption, `".`)
		caption = strings.TrimSuffix(caption, `"`)
		return strings.TrimSpace(caption)
	}
	return strings.TrimSpace(desc)
}

// instagramAuthor reads the account name from titles like `Name on Instagram: "..."`.
func instagramAuthor(title string) string {
	if i := strings.Index(title, " on Instagram"); i > 0 {
		return strings.TrimSpace(title[:i])
	}
	return ""
}
