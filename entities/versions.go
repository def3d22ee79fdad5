package entities

import (
	"context"
	"strconv"

	"github.com/forgereg/cachelayer/cachekeys"
)

// VersionFile is one uploaded artifact belonging to a version, keyed in the
// versions_files namespace by {algorithm}_{hash}.
type VersionFile struct {
	Filename string            `json:"filename"`
	Size     int64             `json:"size"`
	Hashes   map[string]string `json:"hashes"`
	Primary  bool              `json:"primary"`
}

// Version is the cached payload for one version.
type Version struct {
	ID          int64         `json:"id"`
	ProjectID   int64         `json:"project_id"`
	Name        string        `json:"name"`
	VersionNum  string        `json:"version_number"`
	Files       []VersionFile `json:"files"`
	Dependencies []int64      `json:"dependencies"`
}

// Versions is the Version entity adapter. Its slug namespace is repurposed
// as a composite-key namespace: versions_files indexed by "{algo}_{hash}"
// rather than a human slug, matching the data model's hash-keyed lookup.
type Versions struct {
	deps Deps
	eng  *cachekeys.Engine[Version]
}

func NewVersions(deps Deps) *Versions {
	return &Versions{deps: deps, eng: cachekeys.New[Version](deps.Store, deps.Coord, deps.Meta, deps.logger())}
}

func (v *Versions) params() cachekeys.Params {
	files := NSVersionsFiles
	return cachekeys.Params{Namespace: NSVersions, SlugNamespace: &files, CaseSensitive: true}
}

// GetMany resolves versions by numeric id, base-62 short id, or a prior
// alias-resolution result already landed in versions_files (used by
// GetByHash). A base-62 short id is matched only against entries already in
// the cache; on a miss the loader looks it up as a hash key.
func (v *Versions) GetMany(ctx context.Context, ids []string) (map[string]Version, error) {
	return v.eng.GetCachedKeys(ctx, v.params(), ids, v.load)
}

// GetByHash resolves the version owning the file with {algorithm, hash}
// (the Version, not a single-file record), matching the
// "versions_files:sha1_aabbcc" composite-key scheme.
func (v *Versions) GetByHash(ctx context.Context, algorithm, hash string) (Version, bool, error) {
	key := algorithm + "_" + hash
	out, err := v.GetMany(ctx, []string{key})
	if err != nil {
		return Version{}, false, err
	}
	for _, val := range out {
		return val, true, nil
	}
	return Version{}, false, nil
}

func (v *Versions) load(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[Version], error) {
	var numeric []int64
	var hashKeys []string
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			numeric = append(numeric, n)
			continue
		}
		hashKeys = append(hashKeys, id)
	}

	rows, err := v.deps.DB.Query(ctx, `
		SELECT id, mod_id, name, version_number
		FROM versions
		WHERE id = ANY($1::bigint[])
	`, numeric)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]cachekeys.LoaderResult[Version])
	var versionIDs []int64
	for rows.Next() {
		var ver Version
		if err := rows.Scan(&ver.ID, &ver.ProjectID, &ver.Name, &ver.VersionNum); err != nil {
			return nil, err
		}
		versionIDs = append(versionIDs, ver.ID)
		out[strconv.FormatInt(ver.ID, 10)] = cachekeys.LoaderResult[Version]{Val: ver}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(hashKeys) > 0 {
		if err := v.loadByHash(ctx, hashKeys, out); err != nil {
			return nil, err
		}
	}

	if len(versionIDs) > 0 {
		if err := v.attachFiles(ctx, versionIDs, out); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (v *Versions) loadByHash(ctx context.Context, hashKeys []string, out map[string]cachekeys.LoaderResult[Version]) error {
	rows, err := v.deps.DB.Query(ctx, `
		SELECT v.id, v.mod_id, v.name, v.version_number, h.algorithm, h.hash
		FROM versions v
		JOIN files f ON f.version_id = v.id
		JOIN hashes h ON h.file_id = f.id
		WHERE h.algorithm || '_' || encode(h.hash, 'hex') = ANY($1::text[])
	`, hashKeys)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var ver Version
		var algo, hash string
		if err := rows.Scan(&ver.ID, &ver.ProjectID, &ver.Name, &ver.VersionNum, &algo, &hash); err != nil {
			return err
		}
		key := strconv.FormatInt(ver.ID, 10)
		alias := algo + "_" + hash
		if _, ok := out[key]; !ok {
			out[key] = cachekeys.LoaderResult[Version]{Alias: &alias, Val: ver}
		}
	}
	return rows.Err()
}

func (v *Versions) attachFiles(ctx context.Context, versionIDs []int64, out map[string]cachekeys.LoaderResult[Version]) error {
	rows, err := v.deps.DB.Query(ctx, `
		SELECT f.version_id, f.filename, f.size, f.is_primary, h.algorithm, h.hash
		FROM files f
		LEFT JOIN hashes h ON h.file_id = f.id
		WHERE f.version_id = ANY($1::bigint[])
	`, versionIDs)
	if err != nil {
		return err
	}
	defer rows.Close()

	filesByVersion := make(map[int64]map[string]*VersionFile)
	for rows.Next() {
		var versionID int64
		var filename string
		var size int64
		var primary bool
		var algo, hash *string
		if err := rows.Scan(&versionID, &filename, &size, &primary, &algo, &hash); err != nil {
			return err
		}
		byFile, ok := filesByVersion[versionID]
		if !ok {
			byFile = make(map[string]*VersionFile)
			filesByVersion[versionID] = byFile
		}
		f, ok := byFile[filename]
		if !ok {
			f = &VersionFile{Filename: filename, Size: size, Primary: primary, Hashes: make(map[string]string)}
			byFile[filename] = f
		}
		if algo != nil && hash != nil {
			f.Hashes[*algo] = *hash
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for versionID, byFile := range filesByVersion {
		key := strconv.FormatInt(versionID, 10)
		lr, ok := out[key]
		if !ok {
			continue
		}
		for _, f := range byFile {
			lr.Val.Files = append(lr.Val.Files, *f)
		}
		out[key] = lr
	}
	return nil
}

// InvalidateMutation returns the invalidation set for a version mutation:
// the version itself, every file's hash-composite key, and the owning
// project (whose aggregate version fields change).
func (v *Versions) InvalidateMutation(id int64, projectID int64, fileHashKeys []string) []InvalidationPair {
	idStr := strconv.FormatInt(id, 10)
	pairs := []InvalidationPair{presentID(NSVersions, idStr), presentID(NSProjects, strconv.FormatInt(projectID, 10))}
	for _, k := range fileHashKeys {
		pairs = append(pairs, presentID(NSVersionsFiles, k))
	}
	return pairs
}
