package extract

import (
	"context"

	"placelink-backend/internal/model"
	"placelink-backend/internal/platform"
)

// Generic handles allow-listed hosts with meta tags and visible text.
type Generic struct {
	pages pageReader
}

func (e *Generic) Extract(ctx context.Context, normalizedURL string) (model.ExtractedContent, error) {
	meta, err := e.pages.read(ctx, normalizedURL)
	if err != nil {
		return model.ExtractedContent{}, err
	}
	if meta.Title == "" && meta.Description == "" && meta.Text == "" {
		return model.ExtractedContent{}, contentMissing("page")
	}
	return model.ExtractedContent{
		Platform:      platform.Generic,
		SourceURL:     normalizedURL,
		Title:         meta.Title,
		Description:   meta.Description,
		Author:        firstNonEmpty(meta.Author, meta.SiteName),
		Images:        meta.Images,
		ExtractedText: joinText(meta.Description, meta.Text),
	}, nil
}
