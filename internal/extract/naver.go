package extract

import (
	"context"
	"net/url"
	"strings"

	"placelink-backend/internal/model"
	"placelink-backend/internal/platform"
	"placelink-backend/internal/shared/errs"
)

const naverMobileHost = "m.blog.naver.com"

// NaverBlog reads the mobile post view, which renders the body inline instead of in a frame.
type NaverBlog struct {
	pages pageReader
}

func (e *NaverBlog) Extract(ctx context.Context, normalizedURL string) (model.ExtractedContent, error) {
	target, err := naverMobileURL(normalizedURL)
	if err != nil {
		return model.ExtractedContent{}, err
	}
	meta, err := e.pages.read(ctx, target)
	if err != nil {
		return model.ExtractedContent{}, err
	}
	if meta.Text == "" && meta.Description == "" {
		return model.ExtractedContent{}, contentMissing("naver blog post")
	}

	title := strings.TrimSpace(strings.TrimSuffix(meta.Title, ": 네이버 블로그"))
	return model.ExtractedContent{
		Platform:      platform.NaverBlog,
		SourceURL:     normalizedURL,
		Title:         title,
		Description:   meta.Description,
		Author:        meta.Author,
		Images:        meta.Images,
		ExtractedText: joinText(meta.Text, meta.Description),
	}, nil
}

func naverMobileURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errs.Wrap(errs.InvalidURL, "parse naver url", err)
	}
	u.Scheme = "https"
	u.Host = naverMobileHost
	return u.String(), nil
}
