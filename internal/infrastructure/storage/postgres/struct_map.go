package postgres

import (
	"reflect"
	"sync"
)

// dbField describes one column-mapped struct field. The index path
// supports fields reached through embedded structs.
type dbField struct {
	column string
	index  []int
}

// structMeta is the cached column mapping of one entity type.
type structMeta struct {
	fields  []dbField
	columns []string
}

var metaCache sync.Map // reflect.Type -> *structMeta

// metaFor computes (once per type) the db-tag mapping of a struct type,
// walking embedded structs depth-first so column order follows field
// declaration order.
func metaFor(t reflect.Type) *structMeta {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := metaCache.Load(t); ok {
		return cached.(*structMeta)
	}

	meta := &structMeta{}
	if t.Kind() == reflect.Struct {
		meta.fields = collectDBFields(t, nil)
		meta.columns = make([]string, len(meta.fields))
		for i, f := range meta.fields {
			meta.columns[i] = f.column
		}
	}

	actual, _ := metaCache.LoadOrStore(t, meta)
	return actual.(*structMeta)
}

func collectDBFields(t reflect.Type, prefix []int) []dbField {
	var fields []dbField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		path := append(append([]int(nil), prefix...), i)

		if f.Anonymous {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				fields = append(fields, collectDBFields(ft, path)...)
				continue
			}
		}

		tag := f.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		fields = append(fields, dbField{column: tag, index: path})
	}
	return fields
}

// columnsOf returns the db columns of the entity type in declaration order.
func columnsOf(t reflect.Type) []string {
	return metaFor(t).columns
}

// rowMap extracts column -> value from an entity using its db tags.
func rowMap(entity any) map[string]any {
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	meta := metaFor(v.Type())
	out := make(map[string]any, len(meta.fields))
	for _, f := range meta.fields {
		out[f.column] = v.FieldByIndex(f.index).Interface()
	}
	return out
}
