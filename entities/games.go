package entities

import (
	"context"
	"strconv"

	"github.com/forgereg/cachelayer/cachekeys"
)

// Game is one supported game (the platform's top-level content grouping).
type Game struct {
	ID        int64   `json:"id"`
	Slug      string  `json:"slug"`
	Name      string  `json:"name"`
	IconURL   *string `json:"icon_url,omitempty"`
	BannerURL *string `json:"banner_url,omitempty"`
}

// Loader is one mod-loader definition (e.g. "fabric", "forge").
type Loader struct {
	ID                   int64    `json:"id"`
	Name                 string   `json:"loader"`
	Icon                 string   `json:"icon"`
	SupportedProjectTypes []string `json:"supported_project_types"`
}

// Games caches the full game list as a single list entry, matching the
// original's list-not-by-id access pattern (games are few and read as a
// whole list, then filtered client-side by slug).
type Games struct {
	deps Deps
	eng  *cachekeys.Engine[[]Game]
}

func NewGames(deps Deps) *Games {
	return &Games{deps: deps, eng: cachekeys.New[[]Game](deps.Store, deps.Coord, deps.Meta, deps.logger())}
}

// List returns every game, fully cached behind one list key.
func (g *Games) List(ctx context.Context) ([]Game, error) {
	const key = "games"
	out, err := g.eng.GetCachedKeys(ctx, cachekeys.Params{Namespace: NSGames, CaseSensitive: true}, []string{key}, g.load)
	if err != nil {
		return nil, err
	}
	return out[key], nil
}

func (g *Games) load(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[[]Game], error) {
	rows, err := g.deps.DB.Query(ctx, `SELECT id, slug, name, icon_url, banner_url FROM games`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var games []Game
	for rows.Next() {
		var game Game
		if err := rows.Scan(&game.ID, &game.Slug, &game.Name, &game.IconURL, &game.BannerURL); err != nil {
			return nil, err
		}
		games = append(games, game)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return map[string]cachekeys.LoaderResult[[]Game]{"games": {Val: games}}, nil
}

// Loaders caches the full loader list the same way Games does, plus a
// per-loader-id lookup under loader_id for call sites that only have one
// numeric id on hand.
type Loaders struct {
	deps Deps
	list *cachekeys.Engine[[]Loader]
	byID *cachekeys.Engine[Loader]
}

func NewLoaders(deps Deps) *Loaders {
	log := deps.logger()
	return &Loaders{
		deps: deps,
		list: cachekeys.New[[]Loader](deps.Store, deps.Coord, deps.Meta, log),
		byID: cachekeys.New[Loader](deps.Store, deps.Coord, deps.Meta, log),
	}
}

// List returns every loader, fully cached behind one list key.
func (l *Loaders) List(ctx context.Context) ([]Loader, error) {
	const key = "all"
	out, err := l.list.GetCachedKeys(ctx, cachekeys.Params{Namespace: NSLoaders, CaseSensitive: true}, []string{key}, l.loadList)
	if err != nil {
		return nil, err
	}
	return out[key], nil
}

func (l *Loaders) loadList(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[[]Loader], error) {
	loaders, err := l.queryLoaders(ctx, nil)
	if err != nil {
		return nil, err
	}
	return map[string]cachekeys.LoaderResult[[]Loader]{"all": {Val: loaders}}, nil
}

// GetByID resolves a single loader by numeric id.
func (l *Loaders) GetByID(ctx context.Context, loaderID int64) (Loader, bool, error) {
	key := strconv.FormatInt(loaderID, 10)
	out, err := l.byID.GetCachedKeys(ctx, cachekeys.Params{Namespace: NSLoaderID, CaseSensitive: true}, []string{key}, l.loadByID)
	if err != nil {
		return Loader{}, false, err
	}
	v, ok := out[key]
	return v, ok, nil
}

func (l *Loaders) loadByID(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[Loader], error) {
	var numeric []int64
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			numeric = append(numeric, n)
		}
	}
	loaders, err := l.queryLoaders(ctx, numeric)
	if err != nil {
		return nil, err
	}
	out := make(map[string]cachekeys.LoaderResult[Loader])
	for _, loader := range loaders {
		out[strconv.FormatInt(loader.ID, 10)] = cachekeys.LoaderResult[Loader]{Val: loader}
	}
	return out, nil
}

func (l *Loaders) queryLoaders(ctx context.Context, ids []int64) ([]Loader, error) {
	var rows interface {
		Next() bool
		Scan(...any) error
		Close()
		Err() error
	}
	var err error
	if ids == nil {
		rows, err = l.deps.DB.Query(ctx, `SELECT id, loader, icon FROM loaders`)
	} else {
		rows, err = l.deps.DB.Query(ctx, `SELECT id, loader, icon FROM loaders WHERE id = ANY($1::bigint[])`, ids)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loaders []Loader
	for rows.Next() {
		var ldr Loader
		if err := rows.Scan(&ldr.ID, &ldr.Name, &ldr.Icon); err != nil {
			return nil, err
		}
		loaders = append(loaders, ldr)
	}
	return loaders, rows.Err()
}
