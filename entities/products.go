package entities

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/forgereg/cachelayer/cachekeys"
)

// Product is a billing product's cached payload. Metadata is kept as raw
// JSON since its shape varies by product kind (subscription tiers,
// one-time purchases) and this layer never needs to interpret it.
type Product struct {
	ID       int64           `json:"id"`
	Metadata json.RawMessage `json:"metadata"`
	Unitary  bool            `json:"unitary"`
}

// Products is the billing-product entity adapter, a supplemental adapter
// beyond the usual roster, grounded on the original ProductItem
// model.
type Products struct {
	deps Deps
	eng  *cachekeys.Engine[Product]
}

func NewProducts(deps Deps) *Products {
	return &Products{deps: deps, eng: cachekeys.New[Product](deps.Store, deps.Coord, deps.Meta, deps.logger())}
}

func (p *Products) params() cachekeys.Params {
	return cachekeys.Params{Namespace: NSProducts, CaseSensitive: true}
}

// GetMany resolves products by numeric id or base-62 short id. A base-62
// short id is matched only against entries already in the cache; the loader
// looks up decimal ids only.
func (p *Products) GetMany(ctx context.Context, ids []string) (map[string]Product, error) {
	return p.eng.GetCachedKeys(ctx, p.params(), ids, p.load)
}

func (p *Products) load(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[Product], error) {
	var numeric []int64
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			numeric = append(numeric, n)
		}
	}

	rows, err := p.deps.DB.Query(ctx, `SELECT id, metadata, unitary FROM products WHERE id = ANY($1::bigint[])`, numeric)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]cachekeys.LoaderResult[Product])
	for rows.Next() {
		var prod Product
		if err := rows.Scan(&prod.ID, &prod.Metadata, &prod.Unitary); err != nil {
			return nil, err
		}
		out[strconv.FormatInt(prod.ID, 10)] = cachekeys.LoaderResult[Product]{Val: prod}
	}
	return out, rows.Err()
}

// InvalidateMutation returns the invalidation set for a product mutation.
func (p *Products) InvalidateMutation(id int64) []InvalidationPair {
	return []InvalidationPair{presentID(NSProducts, strconv.FormatInt(id, 10))}
}
