package entities

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/forgereg/cachelayer/cachekeys"
	"github.com/forgereg/cachelayer/iolimit"
)

// Image is an uploaded image's cached payload: the image row only. The
// bytes FetchThumbnail downloads from external storage are returned to its
// caller and are not part of this payload.
type Image struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	RawURL    string    `json:"raw_url"`
	Size      int64     `json:"size"`
	Created   time.Time `json:"created"`
	OwnerID   int64     `json:"owner_id"`
	ContextID *int64    `json:"context_id,omitempty"`
}

// Images is the Image entity adapter. It is the one adapter that performs
// external I/O (thumbnail fetches), so it is the one adapter constructed
// with an iolimit.Semaphore bounding that traffic.
type Images struct {
	deps  Deps
	eng   *cachekeys.Engine[Image]
	httpc *http.Client
	sem   *iolimit.Semaphore
}

// NewImages builds the Image adapter. sem bounds concurrent thumbnail
// fetches; httpc defaults to http.DefaultClient if nil.
func NewImages(deps Deps, sem *iolimit.Semaphore, httpc *http.Client) *Images {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Images{
		deps:  deps,
		eng:   cachekeys.New[Image](deps.Store, deps.Coord, deps.Meta, deps.logger()),
		httpc: httpc,
		sem:   sem,
	}
}

func (img *Images) params() cachekeys.Params {
	return cachekeys.Params{Namespace: NSImages, CaseSensitive: true}
}

// GetMany resolves images by numeric id or base-62 short id. Images have no
// slug namespace — raw_url is not a lookup key, only a payload field. A
// base-62 short id is matched only against entries already in the cache;
// the loader looks up decimal ids only.
func (img *Images) GetMany(ctx context.Context, ids []string) (map[string]Image, error) {
	return img.eng.GetCachedKeys(ctx, img.params(), ids, img.load)
}

func (img *Images) load(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[Image], error) {
	var numeric []int64
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			numeric = append(numeric, n)
		}
	}

	rows, err := img.deps.DB.Query(ctx, `
		SELECT id, url, raw_url, size, created, owner_id, context_id
		FROM images
		WHERE id = ANY($1::bigint[])
	`, numeric)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]cachekeys.LoaderResult[Image])
	for rows.Next() {
		var im Image
		if err := rows.Scan(&im.ID, &im.URL, &im.RawURL, &im.Size, &im.Created, &im.OwnerID, &im.ContextID); err != nil {
			return nil, err
		}
		out[strconv.FormatInt(im.ID, 10)] = cachekeys.LoaderResult[Image]{Val: im}
	}
	return out, rows.Err()
}

// FetchThumbnail downloads an image's raw bytes through the bounded I/O
// semaphore. This is the cache layer's one piece of non-database external
// I/O and never goes through the cached-keys engine — the bytes are not
// namespace-cached, only rate- and concurrency-bounded.
func (img *Images) FetchThumbnail(ctx context.Context, rawURL string) ([]byte, error) {
	release, err := img.sem.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("images: acquire io slot: %w", err)
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := img.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("images: fetch thumbnail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("images: fetch thumbnail: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// InvalidateMutation returns the invalidation set for an image mutation.
func (img *Images) InvalidateMutation(id int64) []InvalidationPair {
	return []InvalidationPair{presentID(NSImages, strconv.FormatInt(id, 10))}
}
