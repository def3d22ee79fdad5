package entities

import (
	"context"
	"strconv"

	"github.com/forgereg/cachelayer/cachekeys"
)

// FieldType enumerates the loader-field value kinds, ported from the
// original LoaderFieldType tagged union.
type FieldType string

const (
	FieldInteger     FieldType = "integer"
	FieldText        FieldType = "text"
	FieldBoolean     FieldType = "boolean"
	FieldArrayInt    FieldType = "array_integer"
	FieldArrayText   FieldType = "array_text"
	FieldArrayBool   FieldType = "array_boolean"
	FieldEnum        FieldType = "enum"
	FieldArrayEnum   FieldType = "array_enum"
)

// IsArray reports whether the field type carries multiple values.
func (t FieldType) IsArray() bool {
	switch t {
	case FieldArrayInt, FieldArrayText, FieldArrayBool, FieldArrayEnum:
		return true
	default:
		return false
	}
}

// LoaderField describes one field a loader's versions may carry.
type LoaderField struct {
	ID        int64     `json:"id"`
	Field     string    `json:"field"`
	Type      FieldType `json:"field_type"`
	Optional  bool      `json:"optional"`
	MinVal    *int32    `json:"min_val,omitempty"`
	MaxVal    *int32    `json:"max_val,omitempty"`
	EnumID    *int64    `json:"enum_id,omitempty"`
}

// LoaderFieldEnum is a named enum a LoaderField of kind Enum/ArrayEnum
// refers to.
type LoaderFieldEnum struct {
	ID       int64  `json:"id"`
	Name     string `json:"enum_name"`
	Ordering *int32 `json:"ordering,omitempty"`
	Hidable  bool   `json:"hidable"`
}

// LoaderFieldEnumValue is one concrete value of a LoaderFieldEnum.
type LoaderFieldEnumValue struct {
	ID       int64  `json:"id"`
	EnumID   int64  `json:"enum_id"`
	Value    string `json:"value"`
	Ordering *int32 `json:"ordering,omitempty"`
}

// LoaderFields is the adapter covering all four loader-field-family
// namespaces: per-loader fields, the all-fields list, enum definitions,
// and enum values. Each namespace caches a different shape, so unlike the
// other adapters this one wraps four small engines rather than one.
type LoaderFields struct {
	deps       Deps
	perLoader  *cachekeys.Engine[[]LoaderField]
	all        *cachekeys.Engine[[]LoaderField]
	enums      *cachekeys.Engine[LoaderFieldEnum]
	enumValues *cachekeys.Engine[[]LoaderFieldEnumValue]
}

func NewLoaderFields(deps Deps) *LoaderFields {
	log := deps.logger()
	return &LoaderFields{
		deps:       deps,
		perLoader:  cachekeys.New[[]LoaderField](deps.Store, deps.Coord, deps.Meta, log),
		all:        cachekeys.New[[]LoaderField](deps.Store, deps.Coord, deps.Meta, log),
		enums:      cachekeys.New[LoaderFieldEnum](deps.Store, deps.Coord, deps.Meta, log),
		enumValues: cachekeys.New[[]LoaderFieldEnumValue](deps.Store, deps.Coord, deps.Meta, log),
	}
}

// GetFieldsPerLoader returns the fields registered for a given loader id.
func (l *LoaderFields) GetFieldsPerLoader(ctx context.Context, loaderID int64) ([]LoaderField, error) {
	key := strconv.FormatInt(loaderID, 10)
	out, err := l.perLoader.GetCachedKeys(ctx, cachekeys.Params{Namespace: NSLoaderFields, CaseSensitive: true}, []string{key}, l.loadPerLoader)
	if err != nil {
		return nil, err
	}
	return out[key], nil
}

func (l *LoaderFields) loadPerLoader(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[[]LoaderField], error) {
	out := make(map[string]cachekeys.LoaderResult[[]LoaderField])
	for _, id := range ids {
		loaderID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		rows, err := l.deps.DB.Query(ctx, `
			SELECT DISTINCT lf.id, lf.field, lf.field_type, lf.optional, lf.min_val, lf.max_val, lf.enum_type
			FROM loader_fields lf
			JOIN loader_fields_loaders lfl ON lfl.loader_field_id = lf.id
			WHERE lfl.loader_id = $1
		`, loaderID)
		if err != nil {
			return nil, err
		}
		fields, err := scanLoaderFields(rows)
		if err != nil {
			return nil, err
		}
		out[id] = cachekeys.LoaderResult[[]LoaderField]{Val: fields}
	}
	return out, nil
}

// GetAllFields returns every loader field in the system, cached as a single
// entry under a fixed key (there is only ever one "all fields" entry).
func (l *LoaderFields) GetAllFields(ctx context.Context) ([]LoaderField, error) {
	const key = "all"
	out, err := l.all.GetCachedKeys(ctx, cachekeys.Params{Namespace: NSLoaderFieldsAll, CaseSensitive: true}, []string{key}, l.loadAll)
	if err != nil {
		return nil, err
	}
	return out[key], nil
}

func (l *LoaderFields) loadAll(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[[]LoaderField], error) {
	rows, err := l.deps.DB.Query(ctx, `
		SELECT DISTINCT lf.id, lf.field, lf.field_type, lf.optional, lf.min_val, lf.max_val, lf.enum_type
		FROM loader_fields lf
	`)
	if err != nil {
		return nil, err
	}
	fields, err := scanLoaderFields(rows)
	if err != nil {
		return nil, err
	}
	return map[string]cachekeys.LoaderResult[[]LoaderField]{
		"all": {Val: fields},
	}, nil
}

func scanLoaderFields(rows interface {
	Next() bool
	Scan(...any) error
	Close()
	Err() error
}) ([]LoaderField, error) {
	defer rows.Close()
	var fields []LoaderField
	for rows.Next() {
		var f LoaderField
		var fieldType string
		if err := rows.Scan(&f.ID, &f.Field, &fieldType, &f.Optional, &f.MinVal, &f.MaxVal, &f.EnumID); err != nil {
			return nil, err
		}
		f.Type = FieldType(fieldType)
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// GetEnum returns the enum definition for an enum id.
func (l *LoaderFields) GetEnum(ctx context.Context, enumID int64) (LoaderFieldEnum, bool, error) {
	key := strconv.FormatInt(enumID, 10)
	out, err := l.enums.GetCachedKeys(ctx, cachekeys.Params{Namespace: NSLoaderFieldEnums, CaseSensitive: true}, []string{key}, l.loadEnum)
	if err != nil {
		return LoaderFieldEnum{}, false, err
	}
	v, ok := out[key]
	return v, ok, nil
}

func (l *LoaderFields) loadEnum(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[LoaderFieldEnum], error) {
	var numeric []int64
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			numeric = append(numeric, n)
		}
	}
	rows, err := l.deps.DB.Query(ctx, `
		SELECT id, enum_name, ordering, hidable FROM loader_field_enums WHERE id = ANY($1::integer[])
	`, numeric)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]cachekeys.LoaderResult[LoaderFieldEnum])
	for rows.Next() {
		var e LoaderFieldEnum
		if err := rows.Scan(&e.ID, &e.Name, &e.Ordering, &e.Hidable); err != nil {
			return nil, err
		}
		out[strconv.FormatInt(e.ID, 10)] = cachekeys.LoaderResult[LoaderFieldEnum]{Val: e}
	}
	return out, rows.Err()
}

// GetEnumValues returns the ordered values belonging to an enum.
func (l *LoaderFields) GetEnumValues(ctx context.Context, enumID int64) ([]LoaderFieldEnumValue, error) {
	key := strconv.FormatInt(enumID, 10)
	out, err := l.enumValues.GetCachedKeys(ctx, cachekeys.Params{Namespace: NSLoaderFieldEnumVals, CaseSensitive: true}, []string{key}, l.loadEnumValues)
	if err != nil {
		return nil, err
	}
	return out[key], nil
}

func (l *LoaderFields) loadEnumValues(ctx context.Context, ids []string) (map[string]cachekeys.LoaderResult[[]LoaderFieldEnumValue], error) {
	out := make(map[string]cachekeys.LoaderResult[[]LoaderFieldEnumValue])
	for _, id := range ids {
		enumID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		rows, err := l.deps.DB.Query(ctx, `
			SELECT id, enum_id, value, ordering FROM loader_field_enum_values
			WHERE enum_id = $1 ORDER BY ordering
		`, enumID)
		if err != nil {
			return nil, err
		}
		var values []LoaderFieldEnumValue
		for rows.Next() {
			var v LoaderFieldEnumValue
			if err := rows.Scan(&v.ID, &v.EnumID, &v.Value, &v.Ordering); err != nil {
				rows.Close()
				return nil, err
			}
			values = append(values, v)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
		out[id] = cachekeys.LoaderResult[[]LoaderFieldEnumValue]{Val: values}
	}
	return out, nil
}
