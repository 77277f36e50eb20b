package mirror

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalMemory_CreateSearchUpdate(t *testing.T) {
	m := NewLocalMemory()
	ctx := context.Background()

	md := Metadata{SessionID: "s1", ContentType: ContentTypeTaskPlan}
	id, err := m.CreateRecord(ctx, "p1", "Task plan for session s1", md)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = m.CreateRecord(ctx, "p2", "Task plan for session s1", md)
	require.NoError(t, err)

	found, err := m.Search(ctx, "p1", "s1", 10)
	require.NoError(t, err)
	require.Len(t, found, 1, "search must be scoped to the principal")
	assert.Equal(t, id, found[0].ID)
	assert.Equal(t, "p1", found[0].Metadata.PrincipalID)

	require.NoError(t, m.UpdateRecord(ctx, id, "new content", md))
	found, err = m.Search(ctx, "p1", "new", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "new content", found[0].Content)
	assert.Equal(t, "p1", found[0].Metadata.PrincipalID, "update keeps the owner")
}

func TestLocalMemory_UpdateUnknown(t *testing.T) {
	m := NewLocalMemory()
	err := m.UpdateRecord(context.Background(), "missing", "x", Metadata{})
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestLocalMemory_SearchLimitAndEmptyQuery(t *testing.T) {
	m := NewLocalMemory()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := m.CreateRecord(ctx, "p1", "plan", Metadata{})
		require.NoError(t, err)
	}

	found, err := m.Search(ctx, "p1", "", 3)
	require.NoError(t, err)
	assert.Len(t, found, 3)

	found, err = m.Search(ctx, "p1", "PLAN", 0)
	require.NoError(t, err)
	assert.Len(t, found, 5)
	assert.Len(t, m.Records(), 5)
}

func TestLocalMemory_HonorsCancellation(t *testing.T) {
	m := NewLocalMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Search(ctx, "p1", "", 1)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = m.CreateRecord(ctx, "p1", "x", Metadata{})
	assert.ErrorIs(t, err, context.Canceled)
}
