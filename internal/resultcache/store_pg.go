package resultcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"placelink-backend/internal/platform"
)

// PGStore implements Store using the cache_entries table in Postgres.
type PGStore struct {
	DB *sql.DB
}

// Put upserts the entry; force refreshes overwrite the previous row.
func (s *PGStore) Put(ctx context.Context, key string, entry Entry) error {
	const query = `
INSERT INTO cache_entries (content_key, platform, normalized_url, result_json, created_at, expires_at, analysis_time_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (content_key) DO UPDATE SET
	platform = EXCLUDED.platform,
	normalized_url = EXCLUDED.normalized_url,
	result_json = EXCLUDED.result_json,
	created_at = EXCLUDED.created_at,
	expires_at = EXCLUDED.expires_at,
	analysis_time_ms = EXCLUDED.analysis_time_ms`

	payload, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, query,
		key,
		string(entry.Platform),
		entry.NormalizedURL,
		payload,
		entry.CreatedAt.UTC(),
		entry.ExpiresAt.UTC(),
		entry.AnalysisTimeMs,
	)
	return err
}

// Get loads the entry for key.
func (s *PGStore) Get(ctx context.Context, key string) (Entry, error) {
	const query = `
SELECT platform, normalized_url, result_json, created_at, expires_at, analysis_time_ms
FROM cache_entries
WHERE content_key = $1`

	var (
		plat      string
		url       sql.NullString
		payload   []byte
		createdAt time.Time
		expiresAt time.Time
		elapsed   sql.NullInt64
	)
	err := s.DB.QueryRowContext(ctx, query, key).Scan(&plat, &url, &payload, &createdAt, &expiresAt, &elapsed)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	return decodeRow(key, plat, url.String, payload, createdAt, expiresAt, elapsed.Int64)
}

// Delete removes the row for key.
func (s *PGStore) Delete(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM cache_entries WHERE content_key = $1`, key)
	return err
}

// DeleteExpired removes the row for key only while it is expired.
func (s *PGStore) DeleteExpired(ctx context.Context, key string, now time.Time) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM cache_entries WHERE content_key = $1 AND expires_at <= $2`, key, now.UTC())
	return err
}

// PurgeExpired removes all rows expired at now.
func (s *PGStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func decodeRow(key, plat, url string, payload []byte, createdAt, expiresAt time.Time, elapsed int64) (Entry, error) {
	entry := Entry{
		ContentKey:     key,
		Platform:       platform.Platform(plat),
		NormalizedURL:  url,
		CreatedAt:      createdAt,
		ExpiresAt:      expiresAt,
		AnalysisTimeMs: elapsed,
	}
	if err := json.Unmarshal(payload, &entry.Result); err != nil {
		return Entry{}, fmt.Errorf("decode result_json for %s: %w", key, err)
	}
	return entry, nil
}

var (
	_ Store          = (*PGStore)(nil)
	_ expiredDeleter = (*PGStore)(nil)
	_ Purger         = (*PGStore)(nil)
)
