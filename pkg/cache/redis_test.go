package cache

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCacheGetMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheFromClient(db, "p")

	mock.ExpectGet("p:k").RedisNil()
	var out map[string]int
	assert.ErrorIs(t, c.Get(context.Background(), "k", &out), ErrCacheMiss)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCacheGetDecodes(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheFromClient(db, "p")

	mock.ExpectGet("p:k").SetVal(`{"n":2}`)
	var out map[string]int
	require.NoError(t, c.Get(context.Background(), "k", &out))
	assert.Equal(t, 2, out["n"])
}

func TestRedisCacheSetIndexedIsTransactional(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheFromClient(db, "p")

	mock.ExpectTxPipeline()
	mock.ExpectSet("p:trend:a", []byte("raw"), 0).SetVal("OK")
	mock.ExpectZAdd("p:index:trend", redis.Z{Score: 0.7, Member: "a"}).SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, c.SetIndexed(context.Background(), Key("trend", "a"), []byte("raw"), 0, Key("index", "trend"), "a", 0.7))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCacheTopOfIndex(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheFromClient(db, "p")

	mock.ExpectZRevRange("p:index:trend", 0, 1).SetVal([]string{"b", "a"})
	ids, err := c.TopOfIndex(context.Background(), "index:trend", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids)

	ids, err = c.TopOfIndex(context.Background(), "index:trend", 0)
	require.NoError(t, err)
	assert.Nil(t, ids)
}
