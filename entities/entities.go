// Package entities wires the cached-keys engine to the relational store:
// one file per entity family, each naming its namespace(s), identifier
// shapes, loader SQL, and invalidation set. Grounded on the per-entity
// get_many/get_cached_keys wiring of the original Rust models (pats,
// sessions, images) and generalized to the rest of the entity roster named
// in the data model.
package entities

import (
	"context"

	"go.uber.org/zap"

	"github.com/forgereg/cachelayer/cachestore"
	"github.com/forgereg/cachelayer/coalesce"
	"github.com/forgereg/cachelayer/codec"
	"github.com/forgereg/cachelayer/dbpool"
)

// Namespaces, one constant per entry in the data model's namespace list.
const (
	NSProjects             = codec.Namespace("projects")
	NSProjectsSlugs        = codec.Namespace("projects_slugs")
	NSVersions             = codec.Namespace("versions")
	NSVersionsFiles        = codec.Namespace("versions_files")
	NSSessions             = codec.Namespace("sessions")
	NSSessionsIDs          = codec.Namespace("sessions_ids")
	NSSessionsUsers        = codec.Namespace("sessions_users")
	NSPats                 = codec.Namespace("pats")
	NSPatsTokens           = codec.Namespace("pats_tokens")
	NSPatsUsers            = codec.Namespace("pats_users")
	NSImages               = codec.Namespace("images")
	NSLoaderFields         = codec.Namespace("loader_fields")
	NSLoaderFieldsAll      = codec.Namespace("loader_fields_all")
	NSLoaderFieldEnums     = codec.Namespace("loader_field_enums")
	NSLoaderFieldEnumVals  = codec.Namespace("loader_field_enum_values")
	NSNotificationTypes    = codec.Namespace("notification_types")
	NSUserNotifications    = codec.Namespace("user_notifications")
	NSGames                = codec.Namespace("games")
	NSLoaders              = codec.Namespace("loaders")
	NSLoaderID             = codec.Namespace("loader_id")
	NSProducts             = codec.Namespace("products")
	NSFlows                = codec.Namespace("flows")
	NSUsersStatuses        = codec.Namespace("users_statuses")
	NSUsers                = codec.Namespace("users")
	NSTeams                = codec.Namespace("teams")
)

// Deps bundles the collaborators every adapter needs: the cache store
// (read/write), the single-flight coordinator (shared across all adapters
// so a project read and a version read never contend on unrelated keys),
// the SQL pool, and a logger. One Deps is constructed at startup and handed
// to every adapter constructor.
type Deps struct {
	Store  *cachestore.Store
	Coord  *coalesce.Coordinator
	DB     dbpool.Querier
	Meta   func() string
	Log    *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

// InvalidationPair is one (namespace, key) tuple slated for deletion.
// Mirrors cachestore.NamespacedKey but expressed in terms of a logical
// namespace rather than an already-qualified string, since adapters build
// these before they know the live meta-namespace prefix.
type InvalidationPair struct {
	Namespace codec.Namespace
	Key       string
	Present   bool
}

// Qualify turns a logical pair into a cachestore.NamespacedKey using the
// current meta namespace.
func (p InvalidationPair) Qualify(meta string, caseSensitive bool) cachestore.NamespacedKey {
	if !p.Present || p.Key == "" {
		return cachestore.NamespacedKey{Ok: false}
	}
	return cachestore.NamespacedKey{
		Key: codec.FullyQualifiedKey(meta, p.Namespace, codec.Lowered(p.Key, caseSensitive)),
		Ok:  true,
	}
}

// present is a small helper for adapters building an InvalidationPair from
// an optional string (e.g. "old slug, if any").
func present(ns codec.Namespace, key *string) InvalidationPair {
	if key == nil || *key == "" {
		return InvalidationPair{Namespace: ns, Present: false}
	}
	return InvalidationPair{Namespace: ns, Key: *key, Present: true}
}

// presentID is present for a numeric id already known to exist.
func presentID(ns codec.Namespace, id string) InvalidationPair {
	return InvalidationPair{Namespace: ns, Key: id, Present: id != ""}
}

type ctxKey struct{}

// WithRequestLogger attaches a per-request logger field (e.g. request id)
// used by adapters that want it in their loader's error logs.
func WithRequestLogger(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

func loggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if log, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && log != nil {
		return log
	}
	return fallback
}
