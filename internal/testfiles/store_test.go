package testfiles

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"testtrack/server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestStore_ActiveOriginalFilenameIsUnique(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	first := seedFile(t, store, "s-a", "report.json", models.StatusPass)

	dup := &models.TestFile{Filename: "report.json", OriginalFilename: "report.json", SprintID: "s-b", Status: models.StatusPending}
	err := store.Create(ctx, dup)
	assert.ErrorIs(t, err, errDuplicateKey)

	first.Sprint = nil
	first.Status = models.StatusDeleted
	require.NoError(t, store.Save(ctx, first))

	// a deleted row does not block a new one
	again := &models.TestFile{Filename: "report.json", OriginalFilename: "report.json", SprintID: "s-a", Status: models.StatusPending}
	require.NoError(t, store.Create(ctx, again))

	// but reviving the deleted row would
	first.Status = models.StatusPass
	assert.ErrorIs(t, store.Save(ctx, first), errDuplicateKey)
}

func TestStore_GetSkipsDeleted(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	file := seedFile(t, store, "s-a", "report.json", models.StatusDeleted)

	_, err := store.Get(ctx, file.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := store.exists(ctx, file.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_FindSprint(t *testing.T) {
	store := NewStore(newTestDB(t))

	sprint, err := store.FindSprint(context.Background(), "s-b")
	require.NoError(t, err)
	assert.Equal(t, "Sprint B", sprint.Name)

	_, err = store.FindSprint(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListClampsLimit(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	for i := 0; i < 3; i++ {
		seedFile(t, store, "s-a", fmt.Sprintf("r%d.json", i), models.StatusPass)
	}

	files, total, err := store.List(context.Background(), ListFilter{Limit: 10000})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, files, 3)
	assert.NotNil(t, files[0].Sprint)
}

func TestIsDuplicateKey(t *testing.T) {
	assert.False(t, isDuplicateKey(nil))
	assert.True(t, isDuplicateKey(gorm.ErrDuplicatedKey))
	assert.True(t, isDuplicateKey(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, isDuplicateKey(errors.New("constraint failed: UNIQUE constraint failed: test_files.original_filename (2067)")))
	assert.True(t, isDuplicateKey(errors.New(`ERROR: duplicate key value violates unique constraint "idx_test_files_active_original"`)))
	assert.True(t, isDuplicateKey(errors.New("Error 1062 (23000): Duplicate entry 'a.json' for key 'test_files.x'")))
	assert.False(t, isDuplicateKey(errors.New("connection refused")))
}
