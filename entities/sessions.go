package entities

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/forgereg/cachelayer/cachekeys"
	"github.com/forgereg/cachelayer/codec"
)

// Session is a login session's cached payload.
type Session struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Session   string    `json:"session"`
	Created   time.Time `json:"created"`
	Expires   time.Time `json:"expires"`
	OS        string    `json:"os"`
	Platform  string    `json:"platform"`
}

// Sessions is the Session entity adapter. Lookups by session token use the
// sessions_ids alias namespace; sessions_users is a secondary index (one
// user to many sessions) maintained separately from the engine's
// single-canonical-value model, since a user can own several sessions.
type Sessions struct {
	deps Deps
	eng  *cachekeys.Engine[Session]
}

func NewSessions(deps Deps) *Sessions {
	return &Sessions{deps: deps, eng: cachekeys.New[Session](deps.Store, deps.Coord, deps.Meta, deps.logger())}
}

func (s *Sessions) params() cachekeys.Params {
	ids := NSSessionsIDs
	return cachekeys.Params{Namespace: NSSessions, SlugNamespace: &ids, CaseSensitive: true}
}

// GetMany resolves sessions by numeric id, base-62 short id, or raw session
// token. A base-62 short id is matched only against entries already in the
// cache; on a miss the loader looks it up as a session token.
func (s *Sessions) GetMany(ctx context.Context, ids []string) (map[string]Session, error) {
	return s.eng.GetCachedKeys(ctx, s.params(), ids, s.load)
}

func (s *Sessions) load(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[Session], error) {
	var numeric []int64
	var tokens []string
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			numeric = append(numeric, n)
			continue
		}
		tokens = append(tokens, id)
	}

	rows, err := s.deps.DB.Query(ctx, `
		SELECT id, user_id, session, created, expires, os, platform
		FROM sessions
		WHERE id = ANY($1::bigint[]) OR session = ANY($2::text[])
	`, numeric, tokens)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]cachekeys.LoaderResult[Session])
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Session, &sess.Created, &sess.Expires, &sess.OS, &sess.Platform); err != nil {
			return nil, err
		}
		key := strconv.FormatInt(sess.ID, 10)
		alias := sess.Session
		out[key] = cachekeys.LoaderResult[Session]{Alias: &alias, Val: sess}
	}
	return out, rows.Err()
}

// GetUserSessionIDs reads the sessions_users secondary index: the list of
// session ids belonging to a user, stored as a bare JSON array rather than
// an envelope since it has no single-flight freshness window of its own.
func (s *Sessions) GetUserSessionIDs(ctx context.Context, userID int64) ([]int64, error) {
	key := codec.FullyQualifiedKey(s.deps.Meta(), NSSessionsUsers, strconv.FormatInt(userID, 10))
	raw, ok, err := s.deps.Store.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, nil
	}
	return ids, nil
}

// InvalidateMutation returns the invalidation set for a session mutation.
func (s *Sessions) InvalidateMutation(id int64, sessionToken string, userID int64) []InvalidationPair {
	return []InvalidationPair{
		presentID(NSSessions, strconv.FormatInt(id, 10)),
		presentID(NSSessionsIDs, sessionToken),
		presentID(NSSessionsUsers, strconv.FormatInt(userID, 10)),
	}
}
