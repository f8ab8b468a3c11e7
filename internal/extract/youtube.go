package extract

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"

	"placelink-backend/internal/model"
	"placelink-backend/internal/platform"
	"placelink-backend/internal/shared/errs"
	"placelink-backend/internal/shared/retry"
)

// VideoSource looks up video metadata by id. *youtube.Client satisfies it.
type VideoSource interface {
	GetVideoContext(ctx context.Context, id string) (*youtube.Video, error)
}

func newVideoClient(timeout time.Duration) *youtube.Client {
	return &youtube.Client{HTTPClient: &http.Client{Timeout: timeout}}
}

// YouTube reads title, description, channel and thumbnails of a video.
type YouTube struct {
	videos  VideoSource
	policy  retry.Policy
	timeout time.Duration
}

func (e *YouTube) Extract(ctx context.Context, normalizedURL string) (model.ExtractedContent, error) {
	id, err := videoID(normalizedURL)
	if err != nil {
		return model.ExtractedContent{}, err
	}

	video, err := withRetry(ctx, e.policy, e.timeout, platform.YouTube, normalizedURL, func(ctx context.Context) (*youtube.Video, error) {
		v, err := e.videos.GetVideoContext(ctx, id)
		if err != nil {
			return nil, classifyVideoError(err)
		}
		return v, nil
	})
	if err != nil {
		return model.ExtractedContent{}, err
	}

	images := make([]string, 0, 1)
	if n := len(video.Thumbnails); n > 0 {
		// Thumbnails are ordered smallest first.
		images = append(images, video.Thumbnails[n-1].URL)
	}
	return model.ExtractedContent{
		Platform:      platform.YouTube,
		SourceURL:     normalizedURL,
		Title:         video.Title,
		Description:   video.Description,
		Author:        video.Author,
		Images:        images,
		ExtractedText: joinText(video.Title, video.Description),
	}, nil
}

func classifyVideoError(err error) error {
	switch {
	case errors.Is(err, youtube.ErrVideoPrivate),
		errors.Is(err, youtube.ErrInvalidCharactersInVideoID),
		errors.Is(err, youtube.ErrVideoIDMinLength):
		return errs.Wrap(errs.ContentNotFound, "video unavailable", err)
	case errors.Is(err, youtube.ErrLoginRequired):
		return errs.Wrap(errs.Upstream, "video requires sign-in", err)
	case errs.Is(err, errs.Fetch):
		return err
	default:
		return errs.Wrap(errs.Fetch, "youtube lookup", err)
	}
}

// videoID reads the id from watch, shorts, embed and live links.
func videoID(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errs.Wrap(errs.InvalidURL, "parse youtube url", err)
	}
	if id := u.Query().Get("v"); id != "" {
		return id, nil
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 2 && segments[1] != "" {
		switch segments[0] {
		case "shorts", "embed", "live", "v":
			return segments[1], nil
		}
	}
	if strings.EqualFold(u.Hostname(), "youtu.be") && len(segments) == 1 && segments[0] != "" {
		return segments[0], nil
	}
	return "", errs.New(errs.UnsupportedPlatform, "youtube link does not point to a video")
}
