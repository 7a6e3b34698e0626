package manifest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHooks captures mutation hook invocations for assertions.
type recordingHooks struct {
	mu      sync.Mutex
	creates []string
	updates []string
	deletes []string
}

func (h *recordingHooks) OnCreate(_ context.Context, tn string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.creates = append(h.creates, tn)
}

func (h *recordingHooks) OnUpdate(_ context.Context, tn string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, tn)
}

func (h *recordingHooks) OnDelete(_ context.Context, tn string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deletes = append(h.deletes, tn)
}

func TestInMemoryStore_CRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewInMemoryStore()
	require.NoError(t, err)

	_, err = store.GetByTrackingNumber(ctx, "SF100")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Create(ctx, &Record{TrackingNumber: "SF100", PackageNumber: "PK900"}))

	err = store.Create(ctx, &Record{TrackingNumber: "SF100"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	rec, err := store.GetByTrackingNumber(ctx, "SF100")
	require.NoError(t, err)
	assert.Equal(t, "PK900", rec.PackageNumber)
	assert.True(t, rec.HasPackageNumber())
	assert.False(t, rec.CreatedAt.IsZero())

	require.NoError(t, store.Update(ctx, &Record{TrackingNumber: "SF100", PackageNumber: "PK901"}))
	rec, err = store.GetByTrackingNumber(ctx, "SF100")
	require.NoError(t, err)
	assert.Equal(t, "PK901", rec.PackageNumber)

	err = store.Update(ctx, &Record{TrackingNumber: "SF999"})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, "SF100"))
	assert.ErrorIs(t, store.Delete(ctx, "SF100"), ErrNotFound)
}

func TestInMemoryStore_Hooks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hooks := &recordingHooks{}
	store, err := NewInMemoryStore(WithMemMutationHooks(hooks))
	require.NoError(t, err)

	require.NoError(t, store.Create(ctx, &Record{TrackingNumber: "SF100"}))
	require.NoError(t, store.Update(ctx, &Record{TrackingNumber: "SF100", PackageNumber: "PK1"}))
	require.NoError(t, store.Delete(ctx, "SF100"))

	assert.Equal(t, []string{"SF100"}, hooks.creates)
	assert.Equal(t, []string{"SF100"}, hooks.updates)
	assert.Equal(t, []string{"SF100"}, hooks.deletes)

	// Failed mutations must not fire hooks.
	assert.Error(t, store.Update(ctx, &Record{TrackingNumber: "SF100"}))
	assert.Len(t, hooks.updates, 1)
}

func TestInMemoryStore_ListAndCounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewInMemoryStore()
	require.NoError(t, err)

	require.NoError(t, store.Create(ctx, &Record{TrackingNumber: "SF300"}))
	require.NoError(t, store.Create(ctx, &Record{TrackingNumber: "SF100", PackageNumber: "PK1"}))
	require.NoError(t, store.Create(ctx, &Record{TrackingNumber: "SF200", PackageNumber: "PK2"}))

	recs, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "SF100", recs[0].TrackingNumber)
	assert.Equal(t, "SF200", recs[1].TrackingNumber)

	recs, err = store.List(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "SF300", recs[0].TrackingNumber)

	total, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)

	withPkg, err := store.CountWithPackage(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, withPkg)
}
