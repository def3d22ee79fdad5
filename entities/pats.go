package entities

import (
	"context"
	"strconv"
	"time"

	"github.com/forgereg/cachelayer/cachekeys"
)

// PersonalAccessToken is a PAT's cached payload, ported from the Rust
// DBPersonalAccessToken shape.
type PersonalAccessToken struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	AccessToken string    `json:"access_token"`
	Scopes      int64     `json:"scopes"`
	UserID      int64     `json:"user_id"`
	Created     time.Time `json:"created"`
	Expires     time.Time `json:"expires"`
}

// PATs is the PersonalAccessToken entity adapter.
type PATs struct {
	deps Deps
	eng  *cachekeys.Engine[PersonalAccessToken]
}

func NewPATs(deps Deps) *PATs {
	return &PATs{deps: deps, eng: cachekeys.New[PersonalAccessToken](deps.Store, deps.Coord, deps.Meta, deps.logger())}
}

func (p *PATs) params() cachekeys.Params {
	tokens := NSPatsTokens
	return cachekeys.Params{Namespace: NSPats, SlugNamespace: &tokens, CaseSensitive: true}
}

// GetMany resolves PATs by numeric id, base-62 short id, or raw access
// token string. A base-62 short id is matched only against entries already
// in the cache; on a miss the loader looks it up as an access token.
func (p *PATs) GetMany(ctx context.Context, ids []string) (map[string]PersonalAccessToken, error) {
	return p.eng.GetCachedKeys(ctx, p.params(), ids, p.load)
}

func (p *PATs) load(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[PersonalAccessToken], error) {
	var numeric []int64
	var tokens []string
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			numeric = append(numeric, n)
			continue
		}
		tokens = append(tokens, id)
	}

	rows, err := p.deps.DB.Query(ctx, `
		SELECT id, name, access_token, scopes, user_id, created, expires
		FROM pats
		WHERE id = ANY($1::bigint[]) OR access_token = ANY($2::text[])
		ORDER BY created DESC
	`, numeric, tokens)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]cachekeys.LoaderResult[PersonalAccessToken])
	for rows.Next() {
		var pat PersonalAccessToken
		if err := rows.Scan(&pat.ID, &pat.Name, &pat.AccessToken, &pat.Scopes, &pat.UserID, &pat.Created, &pat.Expires); err != nil {
			return nil, err
		}
		key := strconv.FormatInt(pat.ID, 10)
		alias := pat.AccessToken
		out[key] = cachekeys.LoaderResult[PersonalAccessToken]{Alias: &alias, Val: pat}
	}
	return out, rows.Err()
}

// InvalidateMutation returns the invalidation set for a PAT mutation.
func (p *PATs) InvalidateMutation(id int64, accessToken string, userID int64) []InvalidationPair {
	return []InvalidationPair{
		presentID(NSPats, strconv.FormatInt(id, 10)),
		presentID(NSPatsTokens, accessToken),
		presentID(NSPatsUsers, strconv.FormatInt(userID, 10)),
	}
}
