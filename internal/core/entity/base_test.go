package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coreapp/internal/core/id"
)

func TestNewBaseEntity(t *testing.T) {
	e := NewBaseEntity()

	assert.False(t, id.IsNil(e.ID))
	assert.Equal(t, 1, e.Version)
	assert.False(t, e.Deleted)
	assert.Nil(t, e.DeletedAt)
}

func TestBaseEntity_MarkDeleted(t *testing.T) {
	e := NewBaseEntity()

	e.MarkDeleted("user-42", "duplicate record")

	assert.True(t, e.IsDeleted())
	require.NotNil(t, e.DeletedAt)
	assert.Equal(t, "user-42", e.DeletedBy)
	assert.Equal(t, "duplicate record", e.DeleteReason)
}

func TestBaseEntity_Restore(t *testing.T) {
	e := NewBaseEntity()
	e.MarkDeleted("user-42", "mistake")

	e.Restore()

	assert.False(t, e.IsDeleted())
	assert.Nil(t, e.DeletedAt)
	assert.Empty(t, e.DeletedBy)
	assert.Empty(t, e.DeleteReason)
}

func TestBaseDocument_Touch(t *testing.T) {
	d := NewBaseDocument()
	before := d.UpdatedAt
	v := d.Version

	d.Touch()

	assert.Equal(t, v+1, d.Version)
	assert.False(t, d.UpdatedAt.Before(before))
}

func TestArchivable(t *testing.T) {
	var a Archivable

	a.Archive()
	assert.True(t, a.Archived)
	require.NotNil(t, a.ArchivedAt)

	a.Unarchive()
	assert.False(t, a.Archived)
	assert.Nil(t, a.ArchivedAt)
	assert.False(t, a.LastActivityAt.IsZero())
}
