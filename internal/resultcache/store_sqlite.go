package resultcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore implements Store on a single-node sqlite database opened by db.OpenSQLite.
// Timestamps are stored as unix milliseconds.
type SQLiteStore struct {
	DB *sql.DB
}

// Put upserts the entry.
func (s *SQLiteStore) Put(ctx context.Context, key string, entry Entry) error {
	const query = `
INSERT INTO cache_entries (content_key, platform, normalized_url, result_json, created_at, expires_at, analysis_time_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (content_key) DO UPDATE SET
	platform = excluded.platform,
	normalized_url = excluded.normalized_url,
	result_json = excluded.result_json,
	created_at = excluded.created_at,
	expires_at = excluded.expires_at,
	analysis_time_ms = excluded.analysis_time_ms`

	payload, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, query,
		key,
		string(entry.Platform),
		entry.NormalizedURL,
		string(payload),
		entry.CreatedAt.UnixMilli(),
		entry.ExpiresAt.UnixMilli(),
		entry.AnalysisTimeMs,
	)
	return err
}

// Get loads the entry for key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, error) {
	const query = `
SELECT platform, normalized_url, result_json, created_at, expires_at, analysis_time_ms
FROM cache_entries
WHERE content_key = ?`

	var (
		plat      string
		url       string
		payload   string
		createdAt int64
		expiresAt int64
		elapsed   int64
	)
	err := s.DB.QueryRowContext(ctx, query, key).Scan(&plat, &url, &payload, &createdAt, &expiresAt, &elapsed)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	return decodeRow(key, plat, url, []byte(payload), time.UnixMilli(createdAt).UTC(), time.UnixMilli(expiresAt).UTC(), elapsed)
}

// Delete removes the row for key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM cache_entries WHERE content_key = ?`, key)
	return err
}

// DeleteExpired removes the row for key only while it is expired.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, key string, now time.Time) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM cache_entries WHERE content_key = ? AND expires_at <= ?`, key, now.UnixMilli())
	return err
}

// PurgeExpired removes all rows expired at now.
func (s *SQLiteStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var (
	_ Store          = (*SQLiteStore)(nil)
	_ expiredDeleter = (*SQLiteStore)(nil)
	_ Purger         = (*SQLiteStore)(nil)
)
