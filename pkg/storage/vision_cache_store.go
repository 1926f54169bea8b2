package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/flowlens/flowlens/pkg/cache"
	flerrors "github.com/flowlens/flowlens/pkg/errors"
	"github.com/flowlens/flowlens/pkg/vision"
)

const busyRetries = 3

// GetCachedVisionResult returns the unexpired entry for key, incrementing its
// hit count as part of the same statement so concurrent hits never lose an
// update. A missing or expired key returns (nil, nil).
func (s *Store) GetCachedVisionResult(ctx context.Context, key string) (*cache.Entry, error) {
	var lastErr error
	for attempt := 0; attempt < busyRetries; attempt++ {
		entry, err := s.getCachedVisionResult(ctx, key)
		if err == nil || !isBusyError(err) {
			return entry, err
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return nil, flerrors.Wrap(lastErr, flerrors.ErrCodeCacheBackend, "vision cache lookup").
		WithContext("key", key).
		WithRetryable(true)
}

func (s *Store) getCachedVisionResult(ctx context.Context, key string) (*cache.Entry, error) {
	var (
		entry           cache.Entry
		status          string
		issuesJSON      sql.NullString
		suggestionsJSON sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		UPDATE vision_cache
		   SET hit_count = hit_count + 1
		 WHERE key = ? AND expires_at > ?
		RETURNING status, confidence, issues_json, suggestions_json,
		          input_tokens, output_tokens, cost_usd,
		          created_at, expires_at, hit_count`,
		key, time.Now().UTC(),
	).Scan(
		&status, &entry.Confidence, &issuesJSON, &suggestionsJSON,
		&entry.InputTokens, &entry.OutputTokens, &entry.CostUSD,
		&entry.CreatedAt, &entry.ExpiresAt, &entry.HitCount,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		if isBusyError(err) {
			return nil, err
		}
		return nil, flerrors.Wrap(err, flerrors.ErrCodeCacheBackend, "vision cache lookup").
			WithContext("key", key)
	}

	entry.Key = key
	entry.Status = vision.Status(status)
	if err := decodeStrings(issuesJSON, &entry.Issues); err != nil {
		return nil, flerrors.Wrap(err, flerrors.ErrCodeCacheBackend, "decode cached issues").
			WithContext("key", key)
	}
	if err := decodeStrings(suggestionsJSON, &entry.Suggestions); err != nil {
		return nil, flerrors.Wrap(err, flerrors.ErrCodeCacheBackend, "decode cached suggestions").
			WithContext("key", key)
	}
	return &entry, nil
}

// CacheVisionResult stores a new entry. Create-if-absent: an existing row for
// the key is left untouched.
func (s *Store) CacheVisionResult(ctx context.Context, entry *cache.Entry) error {
	issuesJSON, err := encodeStrings(entry.Issues)
	if err != nil {
		return flerrors.Wrap(err, flerrors.ErrCodeCacheBackend, "encode issues")
	}
	suggestionsJSON, err := encodeStrings(entry.Suggestions)
	if err != nil {
		return flerrors.Wrap(err, flerrors.ErrCodeCacheBackend, "encode suggestions")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO vision_cache (
			key, status, confidence, issues_json, suggestions_json,
			input_tokens, output_tokens, cost_usd,
			created_at, expires_at, hit_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		entry.Key, string(entry.Status), entry.Confidence, issuesJSON, suggestionsJSON,
		entry.InputTokens, entry.OutputTokens, entry.CostUSD,
		entry.CreatedAt.UTC(), entry.ExpiresAt.UTC(),
	)
	if err != nil {
		return flerrors.Wrap(err, flerrors.ErrCodeCacheBackend, "store vision result").
			WithContext("key", entry.Key)
	}
	return nil
}

// PurgeExpiredVisionResults physically deletes entries past their expiry.
func (s *Store) PurgeExpiredVisionResults(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM vision_cache WHERE expires_at <= ?", time.Now().UTC())
	if err != nil {
		return 0, flerrors.Wrap(err, flerrors.ErrCodeCacheBackend, "purge vision cache")
	}
	return res.RowsAffected()
}

// VisionCacheStats summarizes cache occupancy for the CLI.
type VisionCacheStats struct {
	Entries   int   `json:"entries"`
	Expired   int   `json:"expired"`
	TotalHits int64 `json:"total_hits"`
}

// GetVisionCacheStats counts live and expired entries and accumulated hits.
func (s *Store) GetVisionCacheStats(ctx context.Context) (*VisionCacheStats, error) {
	stats := &VisionCacheStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(hit_count), 0)
		  FROM vision_cache`, time.Now().UTC(),
	).Scan(&stats.Entries, &stats.Expired, &stats.TotalHits)
	if err != nil {
		return nil, flerrors.Wrap(err, flerrors.ErrCodeCacheBackend, "vision cache stats")
	}
	return stats, nil
}

func encodeStrings(values []string) (sql.NullString, error) {
	if len(values) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeStrings(raw sql.NullString, out *[]string) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), out)
}
