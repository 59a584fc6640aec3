package cart

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "cart:42", Key(42))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	item, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, item)

	require.NoError(t, s.Save(ctx, &Item{Kind: KindAddTraffic, UserID: 1, TrafficGB: 10}))
	item, err = s.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, KindAddTraffic, item.Kind)
	assert.Equal(t, 10, item.TrafficGB)

	require.NoError(t, s.Delete(ctx, 1))
	item, err = s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, item)
}
