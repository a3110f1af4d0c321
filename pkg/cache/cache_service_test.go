package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	ID    string `json:"id"`
	State int    `json:"state"`
}

func TestRedisCache(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCache(db, "test:")
	ctx := context.Background()

	data, err := json.Marshal(entry{ID: "a", State: 1})
	require.NoError(t, err)

	t.Run("SetNX", func(t *testing.T) {
		mock.ExpectSetNX("test:a", data, time.Hour).SetVal(true)
		ok, err := c.SetNX(ctx, "a", entry{ID: "a", State: 1}, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)

		mock.ExpectSetNX("test:a", data, time.Hour).SetVal(false)
		ok, err = c.SetNX(ctx, "a", entry{ID: "a", State: 1}, time.Hour)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Get", func(t *testing.T) {
		mock.ExpectGet("test:a").SetVal(string(data))
		var got entry
		require.NoError(t, c.Get(ctx, "a", &got))
		assert.Equal(t, entry{ID: "a", State: 1}, got)
	})

	t.Run("Miss", func(t *testing.T) {
		mock.ExpectGet("test:missing").RedisNil()
		var got entry
		assert.ErrorIs(t, c.Get(ctx, "missing", &got), ErrCacheMiss)
	})

	t.Run("Delete", func(t *testing.T) {
		mock.ExpectDel("test:a").SetVal(1)
		assert.NoError(t, c.Delete(ctx, "a"))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
