package invalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgereg/cachelayer/dbpool"
)

// AuditLog is one invalidation fan-out call: what was deleted, who
// triggered it, and how long the delete took. Append-only — rows are never
// updated or removed.
type AuditLog struct {
	ID          int64     `json:"id"`
	Pattern     string    `json:"pattern,omitempty"`
	Keys        []string  `json:"keys"`
	TriggeredBy string    `json:"triggered_by"`
	Timestamp   time.Time `json:"timestamp"`
	LatencyMS   int64     `json:"latency_ms"`
}

// AuditLogger persists AuditLog rows via dbpool. Schema, column names, and
// indexes are carried over from an earlier Encore-backed audit logger;
// only the driver underneath changed.
type AuditLogger struct {
	db dbpool.Querier
}

// NewAuditLogger wraps an existing dbpool connection. It does not create
// the schema itself — EnsureSchema does, separately, so callers can run it
// once at startup rather than on every logger construction.
func NewAuditLogger(db dbpool.Querier) *AuditLogger {
	return &AuditLogger{db: db}
}

// EnsureSchema creates the audit table and its indexes if they don't exist.
func (al *AuditLogger) EnsureSchema(ctx context.Context) error {
	const query = `
		CREATE TABLE IF NOT EXISTS invalidation_audit (
			id BIGSERIAL PRIMARY KEY,
			pattern TEXT NOT NULL DEFAULT '',
			keys JSONB,
			triggered_by TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			latency_ms BIGINT DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_invalidation_audit_timestamp
		ON invalidation_audit(timestamp DESC);

		CREATE INDEX IF NOT EXISTS idx_invalidation_audit_triggered_by
		ON invalidation_audit(triggered_by);
	`
	if _, err := al.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("invalidation: ensure audit schema: %w", err)
	}
	return nil
}

// Insert adds one audit row.
func (al *AuditLogger) Insert(ctx context.Context, log AuditLog) error {
	keysJSON, err := json.Marshal(log.Keys)
	if err != nil {
		return fmt.Errorf("invalidation: marshal keys: %w", err)
	}

	const query = `
		INSERT INTO invalidation_audit (pattern, keys, triggered_by, timestamp, latency_ms)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := al.db.Exec(ctx, query, log.Pattern, keysJSON, log.TriggeredBy, log.Timestamp, log.LatencyMS); err != nil {
		return fmt.Errorf("invalidation: insert audit log: %w", err)
	}
	return nil
}

// GetRecent retrieves recent audit logs, optionally filtered to rows whose
// pattern contains patternFilter.
func (al *AuditLogger) GetRecent(ctx context.Context, limit, offset int, patternFilter string) ([]AuditLog, error) {
	var (
		rows interface {
			Next() bool
			Scan(...any) error
			Close()
			Err() error
		}
		err error
	)
	if patternFilter != "" {
		rows, err = al.db.Query(ctx, `
			SELECT id, pattern, keys, triggered_by, timestamp, latency_ms
			FROM invalidation_audit
			WHERE pattern LIKE $1
			ORDER BY timestamp DESC
			LIMIT $2 OFFSET $3
		`, "%"+patternFilter+"%", limit, offset)
	} else {
		rows, err = al.db.Query(ctx, `
			SELECT id, pattern, keys, triggered_by, timestamp, latency_ms
			FROM invalidation_audit
			ORDER BY timestamp DESC
			LIMIT $1 OFFSET $2
		`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("invalidation: query audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]AuditLog, 0, limit)
	for rows.Next() {
		var log AuditLog
		var keysJSON []byte
		if err := rows.Scan(&log.ID, &log.Pattern, &keysJSON, &log.TriggeredBy, &log.Timestamp, &log.LatencyMS); err != nil {
			return nil, fmt.Errorf("invalidation: scan audit log: %w", err)
		}
		if len(keysJSON) > 0 {
			if err := json.Unmarshal(keysJSON, &log.Keys); err != nil {
				log.Keys = nil
			}
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("invalidation: iterate audit logs: %w", err)
	}
	return logs, nil
}

// recentWindowMultiplier bounds how many unfiltered rows GetRecentMatching
// scans before applying wildcard filtering; a LIKE query can't express
// PatternMatcher's "*" syntax, so true wildcard/regex filtering happens in
// Go over a recent window instead of at the SQL layer.
const recentWindowMultiplier = 20

// GetRecentMatching filters recent audit rows with a wildcard or regex
// pattern (see PatternMatcher), e.g. "projects:*" or "*:profile" — a
// strictly richer query than GetRecent's plain substring filter.
func (al *AuditLogger) GetRecentMatching(ctx context.Context, limit, offset int, pattern string) ([]AuditLog, error) {
	if pattern == "" {
		return al.GetRecent(ctx, limit, offset, "")
	}

	window := (limit + offset) * recentWindowMultiplier
	if window <= 0 || window > 2000 {
		window = 2000
	}
	candidates, err := al.GetRecent(ctx, window, 0, "")
	if err != nil {
		return nil, err
	}

	patterns := make([]string, len(candidates))
	for i, c := range candidates {
		patterns[i] = c.Pattern
	}

	pm := NewPatternMatcher()
	if err := pm.ValidatePattern(pattern); err != nil {
		return nil, fmt.Errorf("invalidation: invalid pattern: %w", err)
	}
	matched := pm.Match(pattern, patterns)
	matchedSet := make(map[string]struct{}, len(matched))
	for _, m := range matched {
		matchedSet[m] = struct{}{}
	}

	filtered := make([]AuditLog, 0, len(matched))
	for _, c := range candidates {
		if _, ok := matchedSet[c.Pattern]; ok {
			filtered = append(filtered, c)
		}
	}

	if offset >= len(filtered) {
		return []AuditLog{}, nil
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end], nil
}

// GetCount returns the total number of audit rows, optionally filtered.
func (al *AuditLogger) GetCount(ctx context.Context, patternFilter string) (int, error) {
	var count int
	var row interface{ Scan(...any) error }
	if patternFilter != "" {
		row = al.db.QueryRow(ctx, `SELECT COUNT(*) FROM invalidation_audit WHERE pattern LIKE $1`, "%"+patternFilter+"%")
	} else {
		row = al.db.QueryRow(ctx, `SELECT COUNT(*) FROM invalidation_audit`)
	}
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("invalidation: count audit logs: %w", err)
	}
	return count, nil
}
