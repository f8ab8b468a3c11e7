// Package model holds the values passed between the extractors, the AI analyzer,
// the result cache and the API.
package model

import "placelink-backend/internal/platform"

// ExtractedContent is raw scraper output for one link.
type ExtractedContent struct {
	Platform      platform.Platform `json:"platform"`
	SourceURL     string            `json:"source_url"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Author        string            `json:"author,omitempty"`
	Images        []string          `json:"images"`
	ExtractedText string            `json:"extracted_text"`
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PlaceCandidate is one place the AI model found in the content.
type PlaceCandidate struct {
	Name        string       `json:"name"`
	Address     *string      `json:"address,omitempty"`
	Category    *string      `json:"category,omitempty"`
	Tags        []string     `json:"tags"`
	Confidence  float64      `json:"confidence"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// ContentMetadata describes the source post a result was derived from.
type ContentMetadata struct {
	Platform    platform.Platform `json:"platform"`
	SourceURL   string            `json:"source_url"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Author      string            `json:"author,omitempty"`
	Images      []string          `json:"images"`
}

// AnalysisResult is the completed output for a content key. Treat as immutable.
type AnalysisResult struct {
	ContentKey      string           `json:"content_key"`
	Candidates      []PlaceCandidate `json:"candidates"`
	Confidence      float64          `json:"confidence"`
	ContentMetadata ContentMetadata  `json:"content_metadata"`
	AnalysisTimeMs  int64            `json:"analysis_time_ms"`
}

// MetadataFrom copies the descriptive fields of extracted content.
func MetadataFrom(c ExtractedContent) ContentMetadata {
	return ContentMetadata{
		Platform:    c.Platform,
		SourceURL:   c.SourceURL,
		Title:       c.Title,
		Description: c.Description,
		Author:      c.Author,
		Images:      append([]string(nil), c.Images...),
	}
}

// Clone returns a deep copy so callers cannot mutate shared cached values.
func (r AnalysisResult) Clone() AnalysisResult {
	out := r
	out.ContentMetadata.Images = append([]string(nil), r.ContentMetadata.Images...)
	out.Candidates = make([]PlaceCandidate, len(r.Candidates))
	for i, c := range r.Candidates {
		cp := c
		cp.Tags = append([]string(nil), c.Tags...)
		if c.Address != nil {
			v := *c.Address
			cp.Address = &v
		}
		if c.Category != nil {
			v := *c.Category
			cp.Category = &v
		}
		if c.Coordinates != nil {
			v := *c.Coordinates
			cp.Coordinates = &v
		}
		out.Candidates[i] = cp
	}
	return out
}
