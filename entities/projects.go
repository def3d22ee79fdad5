package entities

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/forgereg/cachelayer/cachekeys"
)

// Project is the cached payload for one project: its row plus the
// sub-records the original model assembles alongside it (category list,
// gallery images, and the aggregate version fields used by listing pages).
type Project struct {
	ID              int64             `json:"id"`
	Slug            string            `json:"slug"`
	Name            string            `json:"name"`
	TeamID          int64             `json:"team_id"`
	Categories      []string          `json:"categories"`
	Gallery         []GalleryImage    `json:"gallery"`
	LatestVersionID *int64            `json:"latest_version_id,omitempty"`
	Downloads       int64             `json:"downloads"`
	Followers       int64             `json:"followers"`
}

// GalleryImage is one entry of a project's gallery.
type GalleryImage struct {
	URL       string `json:"url"`
	Featured  bool   `json:"featured"`
	Ordering  int32  `json:"ordering"`
}

// Projects is the Project entity adapter.
type Projects struct {
	deps Deps
	eng  *cachekeys.Engine[Project]
}

// NewProjects builds the Project adapter.
func NewProjects(deps Deps) *Projects {
	return &Projects{
		deps: deps,
		eng:  cachekeys.New[Project](deps.Store, deps.Coord, deps.Meta, deps.logger()),
	}
}

func (p *Projects) params() cachekeys.Params {
	slugs := NSProjectsSlugs
	return cachekeys.Params{Namespace: NSProjects, SlugNamespace: &slugs, CaseSensitive: false}
}

// GetMany resolves projects by any mix of numeric id, base-62 short id, or
// slug, in a single cached-keys call. A base-62 short id is matched only
// against entries already in the cache; on a miss the loader looks it up as
// a slug.
func (p *Projects) GetMany(ctx context.Context, idsOrSlugs []string) (map[string]Project, error) {
	return p.eng.GetCachedKeys(ctx, p.params(), idsOrSlugs, p.load)
}

func (p *Projects) Get(ctx context.Context, idOrSlug string) (Project, bool, error) {
	out, err := p.GetMany(ctx, []string{idOrSlug})
	if err != nil {
		return Project{}, false, err
	}
	for _, v := range out {
		return v, true, nil
	}
	return Project{}, false, nil
}

// load is the loader closure handed to the engine: it resolves every
// pending identifier (numeric or slug) against the database in a bounded
// number of queries and returns one row per matched project keyed by its
// canonical (decimal id) string.
func (p *Projects) load(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[Project], error) {
	numeric, slugs := splitNumericAndSlugs(ids)

	rows, err := p.deps.DB.Query(ctx, `
		SELECT p.id, p.slug, p.name, p.team_id, p.downloads, p.follower_count,
		       v.id AS latest_version_id
		FROM mods p
		LEFT JOIN LATERAL (
			SELECT id FROM versions WHERE mod_id = p.id ORDER BY date_published DESC LIMIT 1
		) v ON true
		WHERE p.id = ANY($1::bigint[]) OR p.slug = ANY($2::text[])
	`, numeric, slugs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]cachekeys.LoaderResult[Project])
	var projectIDs []int64
	for rows.Next() {
		var proj Project
		var latestVersion *int64
		if err := rows.Scan(&proj.ID, &proj.Slug, &proj.Name, &proj.TeamID, &proj.Downloads, &proj.Followers, &latestVersion); err != nil {
			return nil, err
		}
		proj.LatestVersionID = latestVersion
		projectIDs = append(projectIDs, proj.ID)
		key := strconv.FormatInt(proj.ID, 10)
		slug := proj.Slug
		out[key] = cachekeys.LoaderResult[Project]{Alias: &slug, Val: proj}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(projectIDs) == 0 {
		return out, nil
	}

	if err := attachCategories(ctx, p.deps, projectIDs, out); err != nil {
		loggerFromContext(ctx, p.deps.logger()).Warn("projects: failed to attach categories", zap.Error(err))
	}
	if err := attachGallery(ctx, p.deps, projectIDs, out); err != nil {
		loggerFromContext(ctx, p.deps.logger()).Warn("projects: failed to attach gallery", zap.Error(err))
	}

	return out, nil
}

func attachCategories(ctx context.Context, deps Deps, ids []int64, out map[string]cachekeys.LoaderResult[Project]) error {
	rows, err := deps.DB.Query(ctx, `
		SELECT mc.joining_mod_id, c.category
		FROM mods_categories mc
		JOIN categories c ON c.id = mc.joining_category_id
		WHERE mc.joining_mod_id = ANY($1::bigint[])
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var modID int64
		var category string
		if err := rows.Scan(&modID, &category); err != nil {
			return err
		}
		key := strconv.FormatInt(modID, 10)
		if lr, ok := out[key]; ok {
			lr.Val.Categories = append(lr.Val.Categories, category)
			out[key] = lr
		}
	}
	return rows.Err()
}

func attachGallery(ctx context.Context, deps Deps, ids []int64, out map[string]cachekeys.LoaderResult[Project]) error {
	rows, err := deps.DB.Query(ctx, `
		SELECT mod_id, image_url, featured, ordering
		FROM mods_gallery
		WHERE mod_id = ANY($1::bigint[])
		ORDER BY ordering
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var modID int64
		var img GalleryImage
		if err := rows.Scan(&modID, &img.URL, &img.Featured, &img.Ordering); err != nil {
			return err
		}
		key := strconv.FormatInt(modID, 10)
		if lr, ok := out[key]; ok {
			lr.Val.Gallery = append(lr.Val.Gallery, img)
			out[key] = lr
		}
	}
	return rows.Err()
}

func splitNumericAndSlugs(ids []string) (numeric []int64, slugs []string) {
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			numeric = append(numeric, n)
			continue
		}
		slugs = append(slugs, id)
	}
	return numeric, slugs
}

// InvalidateMutation returns the invalidation set for a project mutation.
// oldSlug is nil when the slug did not change. oldTeamID/newTeamID are
// nil when the project's owning team did not change; when it did, the
// old and new team's cached member/project indirection is invalidated
// alongside the project and slug entries.
func (p *Projects) InvalidateMutation(id int64, oldSlug, newSlug *string, oldTeamID, newTeamID *int64) []InvalidationPair {
	idStr := strconv.FormatInt(id, 10)
	pairs := []InvalidationPair{presentID(NSProjects, idStr)}
	if oldSlug != nil {
		pairs = append(pairs, present(NSProjectsSlugs, oldSlug))
	}
	if newSlug != nil {
		pairs = append(pairs, present(NSProjectsSlugs, newSlug))
	}
	if oldTeamID != nil {
		pairs = append(pairs, presentID(NSTeams, strconv.FormatInt(*oldTeamID, 10)))
	}
	if newTeamID != nil {
		pairs = append(pairs, presentID(NSTeams, strconv.FormatInt(*newTeamID, 10)))
	}
	return pairs
}
