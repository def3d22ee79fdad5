package entities

import (
	"context"
	"strconv"

	"github.com/forgereg/cachelayer/cachekeys"
)

// TeamMember is one member row belonging to a team.
type TeamMember struct {
	UserID      int64  `json:"user_id"`
	Role        string `json:"role"`
	Permissions int64  `json:"permissions"`
	Accepted    bool   `json:"accepted"`
}

// Team is a team's cached payload: id plus its resolved member list.
type Team struct {
	ID      int64        `json:"id"`
	Members []TeamMember `json:"members"`
}

// Teams is the Team entity adapter.
type Teams struct {
	deps Deps
	eng  *cachekeys.Engine[Team]
}

func NewTeams(deps Deps) *Teams {
	return &Teams{deps: deps, eng: cachekeys.New[Team](deps.Store, deps.Coord, deps.Meta, deps.logger())}
}

func (t *Teams) params() cachekeys.Params {
	return cachekeys.Params{Namespace: NSTeams, CaseSensitive: true}
}

// GetMany resolves teams by numeric id or base-62 short id. A base-62 short
// id is matched only against entries already in the cache; the loader looks
// up decimal ids only.
func (t *Teams) GetMany(ctx context.Context, ids []string) (map[string]Team, error) {
	return t.eng.GetCachedKeys(ctx, t.params(), ids, t.load)
}

func (t *Teams) load(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[Team], error) {
	var numeric []int64
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			numeric = append(numeric, n)
		}
	}

	rows, err := t.deps.DB.Query(ctx, `
		SELECT tm.team_id, tm.user_id, tm.role, tm.permissions, tm.accepted
		FROM team_members tm
		WHERE tm.team_id = ANY($1::bigint[])
	`, numeric)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]cachekeys.LoaderResult[Team])
	for rows.Next() {
		var teamID int64
		var member TeamMember
		if err := rows.Scan(&teamID, &member.UserID, &member.Role, &member.Permissions, &member.Accepted); err != nil {
			return nil, err
		}
		key := strconv.FormatInt(teamID, 10)
		lr, ok := out[key]
		if !ok {
			lr = cachekeys.LoaderResult[Team]{Val: Team{ID: teamID}}
		}
		lr.Val.Members = append(lr.Val.Members, member)
		out[key] = lr
	}
	return out, rows.Err()
}

// InvalidateMutation returns the invalidation set for a team membership
// mutation.
func (t *Teams) InvalidateMutation(teamID int64) []InvalidationPair {
	return []InvalidationPair{presentID(NSTeams, strconv.FormatInt(teamID, 10))}
}
