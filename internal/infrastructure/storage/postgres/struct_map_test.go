package postgres

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coreapp/internal/core/entity"
	"coreapp/internal/core/id"
)

type mockDocument struct {
	entity.BaseDocument
	Number string `db:"number" json:"number"`
	Note   string `db:"-" json:"note"`
}

func TestColumnsOfWalksEmbedded(t *testing.T) {
	cols := columnsOf(reflect.TypeOf((*mockDocument)(nil)))

	// BaseEntity first, then BaseDocument audit fields, then own fields.
	assert.Equal(t, []string{
		"id", "version", "deleted", "deleted_at", "deleted_by", "delete_reason",
		"created_at", "updated_at", "created_by", "updated_by",
		"number",
	}, cols)
	assert.NotContains(t, cols, "note")
}

func TestRowMapExtractsValues(t *testing.T) {
	doc := &mockDocument{
		BaseDocument: entity.NewBaseDocument(),
		Number:       "SAL-001",
	}
	doc.Version = 5
	doc.DeletedBy = "carol"

	m := rowMap(doc)
	assert.Equal(t, doc.ID, m["id"])
	assert.Equal(t, 5, m["version"])
	assert.Equal(t, "carol", m["deleted_by"])
	assert.Equal(t, "SAL-001", m["number"])
	_, hasNote := m["note"]
	assert.False(t, hasNote)
}

func TestMetaCachedPerType(t *testing.T) {
	first := metaFor(reflect.TypeOf((*mockDocument)(nil)))
	second := metaFor(reflect.TypeOf(mockDocument{}))
	assert.Same(t, first, second)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"sp1"`, quoteIdent("sp1"))
	// Quotes inside the name cannot break out of the identifier.
	assert.Equal(t, `"sp""1"`, quoteIdent(`sp"1`))
}

func TestParseOrderBy(t *testing.T) {
	r := &repository[*mockDocument]{
		binding: &tableBinding{
			table:   "documents",
			columns: columnsOf(reflect.TypeOf((*mockDocument)(nil))),
		},
	}

	got, err := r.parseOrderBy("")
	require.NoError(t, err)
	assert.Equal(t, "id ASC", got)

	got, err = r.parseOrderBy("number")
	require.NoError(t, err)
	assert.Equal(t, "number ASC", got)

	got, err = r.parseOrderBy("-number")
	require.NoError(t, err)
	assert.Equal(t, "number DESC", got)

	got, err = r.parseOrderBy("-created_at")
	require.NoError(t, err)
	assert.Equal(t, "created_at DESC", got)

	_, err = r.parseOrderBy("number; DROP TABLE documents")
	assert.Error(t, err)
}

func TestParseOrderByCreatedAtFallsBackToID(t *testing.T) {
	type bare struct {
		entity.BaseEntity
		Name string `db:"name"`
	}
	r := &repository[*mockDocument]{
		binding: &tableBinding{
			table:   "bare",
			columns: columnsOf(reflect.TypeOf((*bare)(nil))),
		},
	}

	got, err := r.parseOrderBy("-created_at")
	require.NoError(t, err)
	assert.Equal(t, "id DESC", got)
}

func TestRelayConfigDefaults(t *testing.T) {
	var cfg RelayConfig
	cfg.withDefaults()
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.NotZero(t, cfg.RetryBackoff)
}

func TestRegisterTableRejectsTagless(t *testing.T) {
	store := NewStore(nil, Config{}, nil)
	assert.Panics(t, func() {
		RegisterTable[*taglessEntity](store, "tagless")
	})
}

type taglessEntity struct {
	Name string
}

func (e *taglessEntity) EntityID() id.ID         { return id.Nil() }
func (e *taglessEntity) EntityVersion() int      { return 0 }
func (e *taglessEntity) IsDeleted() bool         { return false }
func (e *taglessEntity) Touch()                  {}
func (e *taglessEntity) SetVersion(int)          {}
func (e *taglessEntity) MarkDeleted(_, _ string) {}
func (e *taglessEntity) Restore()                {}
