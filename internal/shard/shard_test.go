package shard

import (
	"sync"
	"testing"

	"github.com/dreamware/canic/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	pid := ids.NewPID("node-a")
	s := New(pid, "cache")

	assert.Equal(t, pid, s.PID)
	assert.Equal(t, ids.PoolName("cache"), s.Pool)
	assert.Equal(t, Active, s.State())
	assert.NotNil(t, s.Store)
	assert.NotNil(t, s.Stats)
}

func TestShardKeyOperations(t *testing.T) {
	s := New(ids.NewPID("node-a"), "cache")

	_, err := s.Get("missing")
	assert.Error(t, err)

	require.NoError(t, s.Put("a", []byte("1")))
	v, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, s.Put("a", []byte("2")))
	v, err = s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	require.NoError(t, s.Delete("a"))
	_, err = s.Get("a")
	assert.Error(t, err)
}

func TestShardListKeys(t *testing.T) {
	s := New(ids.NewPID("node-a"), "cache")
	require.NoError(t, s.Put("a", []byte("1")))
	require.NoError(t, s.Put("b", []byte("2")))
	require.NoError(t, s.Put("c", []byte("3")))

	keys := s.ListKeys()
	assert.Len(t, keys, 3)
}

func TestShardStats(t *testing.T) {
	s := New(ids.NewPID("node-a"), "cache")

	require.NoError(t, s.Put("a", []byte("1")))
	require.NoError(t, s.Put("b", []byte("2")))
	_, _ = s.Get("a")
	_, _ = s.Get("missing")
	require.NoError(t, s.Delete("a"))

	assert.Equal(t, uint64(2), s.Stats.Puts)
	assert.Equal(t, uint64(2), s.Stats.Gets)
	assert.Equal(t, uint64(1), s.Stats.Deletes)
}

func TestShardInfo(t *testing.T) {
	pid := ids.NewPID("node-a")
	s := New(pid, "cache")
	require.NoError(t, s.Put("a", []byte("12345")))

	info := s.Info()
	assert.Equal(t, pid, info.PID)
	assert.Equal(t, ids.PoolName("cache"), info.Pool)
	assert.Equal(t, Active, info.State)
	assert.Equal(t, 1, info.KeyCount)
	assert.Equal(t, 5, info.ByteSize)
}

func TestShardStateTransitions(t *testing.T) {
	s := New(ids.NewPID("node-a"), "cache")
	assert.Equal(t, Active, s.State())

	s.SetState(Draining)
	assert.Equal(t, Draining, s.State())

	s.SetState(Deleted)
	assert.Equal(t, Deleted, s.State())
}

func TestShardRangeOperations(t *testing.T) {
	s := New(ids.NewPID("node-a"), "cache")
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.Put(k, []byte(k)))
	}

	inRange := s.ListKeysInRange("b", "d")
	assert.Equal(t, []string{"b", "c"}, inRange)

	moved := s.DeleteRange("b", "d")
	assert.Equal(t, 2, moved)
	assert.Empty(t, s.ListKeysInRange("b", "d"))

	remaining := s.ListKeys()
	assert.Len(t, remaining, 3)
}

func TestShardConcurrency(t *testing.T) {
	s := New(ids.NewPID("node-a"), "cache")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%26))
			_ = s.Put(key, []byte{byte(i)})
			_, _ = s.Get(key)
		}(i)
	}
	wg.Wait()

	info := s.Info()
	assert.True(t, info.KeyCount > 0)
}
