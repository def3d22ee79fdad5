package entities

import (
	"context"
	"strconv"

	"github.com/forgereg/cachelayer/cachekeys"
)

// User is the cached payload for an account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// UserStatus is a user's presence/availability status, cached separately
// since it changes far more often than the rest of the user row.
type UserStatus struct {
	UserID int64  `json:"user_id"`
	Status string `json:"status"`
}

// Users is the User and user-status entity adapter.
type Users struct {
	deps     Deps
	eng      *cachekeys.Engine[User]
	statuses *cachekeys.Engine[UserStatus]
}

func NewUsers(deps Deps) *Users {
	log := deps.logger()
	return &Users{
		deps:     deps,
		eng:      cachekeys.New[User](deps.Store, deps.Coord, deps.Meta, log),
		statuses: cachekeys.New[UserStatus](deps.Store, deps.Coord, deps.Meta, log),
	}
}

func (u *Users) params() cachekeys.Params {
	return cachekeys.Params{Namespace: NSUsers, CaseSensitive: false}
}

// GetMany resolves users by numeric id, base-62 short id, or username.
// Users have no slug namespace: loaded users are cached under their id
// only, so a username lookup reaches the loader on every call. A base-62
// short id is matched only against entries already in the cache; on a miss
// the loader looks it up as a username.
func (u *Users) GetMany(ctx context.Context, ids []string) (map[string]User, error) {
	return u.eng.GetCachedKeys(ctx, u.params(), ids, u.load)
}

func (u *Users) load(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[User], error) {
	var numeric []int64
	var usernames []string
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			numeric = append(numeric, n)
			continue
		}
		usernames = append(usernames, id)
	}

	rows, err := u.deps.DB.Query(ctx, `
		SELECT id, username, email FROM users WHERE id = ANY($1::bigint[]) OR username = ANY($2::text[])
	`, numeric, usernames)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]cachekeys.LoaderResult[User])
	for rows.Next() {
		var usr User
		if err := rows.Scan(&usr.ID, &usr.Username, &usr.Email); err != nil {
			return nil, err
		}
		out[strconv.FormatInt(usr.ID, 10)] = cachekeys.LoaderResult[User]{Val: usr}
	}
	return out, rows.Err()
}

// GetStatus returns a user's cached status.
func (u *Users) GetStatus(ctx context.Context, userID int64) (UserStatus, bool, error) {
	key := strconv.FormatInt(userID, 10)
	out, err := u.statuses.GetCachedKeys(ctx, cachekeys.Params{Namespace: NSUsersStatuses, CaseSensitive: true}, []string{key}, u.loadStatus)
	if err != nil {
		return UserStatus{}, false, err
	}
	v, ok := out[key]
	return v, ok, nil
}

func (u *Users) loadStatus(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[UserStatus], error) {
	var numeric []int64
	for _, id := range ids {
		if v, err := strconv.ParseInt(id, 10, 64); err == nil {
			numeric = append(numeric, v)
		}
	}
	rows, err := u.deps.DB.Query(ctx, `SELECT user_id, status FROM users_statuses WHERE user_id = ANY($1::bigint[])`, numeric)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]cachekeys.LoaderResult[UserStatus])
	for rows.Next() {
		var s UserStatus
		if err := rows.Scan(&s.UserID, &s.Status); err != nil {
			return nil, err
		}
		out[strconv.FormatInt(s.UserID, 10)] = cachekeys.LoaderResult[UserStatus]{Val: s}
	}
	return out, rows.Err()
}

// InvalidateMutation returns the invalidation set for a user mutation.
func (u *Users) InvalidateMutation(id int64) []InvalidationPair {
	return []InvalidationPair{presentID(NSUsers, strconv.FormatInt(id, 10))}
}

// InvalidateStatusMutation returns the invalidation set for a status change.
func (u *Users) InvalidateStatusMutation(userID int64) []InvalidationPair {
	return []InvalidationPair{presentID(NSUsersStatuses, strconv.FormatInt(userID, 10))}
}
