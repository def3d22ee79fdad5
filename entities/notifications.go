package entities

import (
	"context"
	"strconv"
	"time"

	"github.com/forgereg/cachelayer/cachekeys"
)

// NotificationType is a registered notification kind (the small, mostly
// static notification_types namespace).
type NotificationType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UserNotification is one notification delivered to a user.
type UserNotification struct {
	ID      int64     `json:"id"`
	UserID  int64     `json:"user_id"`
	TypeID  int64     `json:"type_id"`
	Body    string    `json:"body"`
	Read    bool      `json:"read"`
	Created time.Time `json:"created"`
}

// Notifications covers both the notification_types and user_notifications
// namespaces.
type Notifications struct {
	deps  Deps
	types *cachekeys.Engine[NotificationType]
	byUser *cachekeys.Engine[[]UserNotification]
}

func NewNotifications(deps Deps) *Notifications {
	log := deps.logger()
	return &Notifications{
		deps:   deps,
		types:  cachekeys.New[NotificationType](deps.Store, deps.Coord, deps.Meta, log),
		byUser: cachekeys.New[[]UserNotification](deps.Store, deps.Coord, deps.Meta, log),
	}
}

func (n *Notifications) GetType(ctx context.Context, typeID int64) (NotificationType, bool, error) {
	key := strconv.FormatInt(typeID, 10)
	out, err := n.types.GetCachedKeys(ctx, cachekeys.Params{Namespace: NSNotificationTypes, CaseSensitive: true}, []string{key}, n.loadTypes)
	if err != nil {
		return NotificationType{}, false, err
	}
	v, ok := out[key]
	return v, ok, nil
}

func (n *Notifications) loadTypes(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[NotificationType], error) {
	var numeric []int64
	for _, id := range ids {
		if v, err := strconv.ParseInt(id, 10, 64); err == nil {
			numeric = append(numeric, v)
		}
	}
	rows, err := n.deps.DB.Query(ctx, `SELECT id, name FROM notification_types WHERE id = ANY($1::bigint[])`, numeric)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]cachekeys.LoaderResult[NotificationType])
	for rows.Next() {
		var t NotificationType
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		out[strconv.FormatInt(t.ID, 10)] = cachekeys.LoaderResult[NotificationType]{Val: t}
	}
	return out, rows.Err()
}

// GetByUser returns a user's notifications, cached as one list entry per
// user (matching the delivery model: the notifyqueue signals freshness,
// this namespace holds the current page).
func (n *Notifications) GetByUser(ctx context.Context, userID int64) ([]UserNotification, error) {
	key := strconv.FormatInt(userID, 10)
	out, err := n.byUser.GetCachedKeys(ctx, cachekeys.Params{Namespace: NSUserNotifications, CaseSensitive: true}, []string{key}, n.loadByUser)
	if err != nil {
		return nil, err
	}
	return out[key], nil
}

func (n *Notifications) loadByUser(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[[]UserNotification], error) {
	out := make(map[string]cachekeys.LoaderResult[[]UserNotification])
	for _, id := range ids {
		userID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		rows, err := n.deps.DB.Query(ctx, `
			SELECT id, user_id, type_id, body, read, created FROM user_notifications
			WHERE user_id = $1 ORDER BY created DESC
		`, userID)
		if err != nil {
			return nil, err
		}
		var list []UserNotification
		for rows.Next() {
			var un UserNotification
			if err := rows.Scan(&un.ID, &un.UserID, &un.TypeID, &un.Body, &un.Read, &un.Created); err != nil {
				rows.Close()
				return nil, err
			}
			list = append(list, un)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
		out[id] = cachekeys.LoaderResult[[]UserNotification]{Val: list}
	}
	return out, nil
}

// InvalidateMutation returns the invalidation set for a user-notification
// mutation (new delivery, read-state change, deletion).
func (n *Notifications) InvalidateMutation(userID int64) []InvalidationPair {
	return []InvalidationPair{presentID(NSUserNotifications, strconv.FormatInt(userID, 10))}
}
