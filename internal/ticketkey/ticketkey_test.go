package ticketkey

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Shape(t *testing.T) {
	for i := 0; i < 200; i++ {
		key, err := Generate()
		require.NoError(t, err)
		assert.True(t, Valid(key), key)
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("AB12CD34"))
	assert.False(t, Valid("ab12cd34"))
	assert.False(t, Valid("AB12CD3"))
	assert.False(t, Valid("AB12CD34X"))
	assert.False(t, Valid("AB12-D34"))
}

func TestAllocate_NoDuplicatesAgainstSeededSet(t *testing.T) {
	occupied := map[string]struct{}{}
	seed := []string{"AAAAAAAA", "BBBBBBBB", "00000000"}
	for _, k := range seed {
		occupied[k] = struct{}{}
	}

	// Feed the seeded keys first so every allocation starts with collisions.
	queue := append([]string{}, seed...)
	generate := func() (string, error) {
		if len(queue) > 0 {
			k := queue[0]
			queue = queue[1:]
			return k, nil
		}
		return Generate()
	}
	insert := func(_ context.Context, key string) error {
		if _, ok := occupied[key]; ok {
			return ErrTaken
		}
		occupied[key] = struct{}{}
		return nil
	}

	for i := 0; i < 10000; i++ {
		_, err := Allocate(context.Background(), generate, insert)
		require.NoError(t, err)
	}
	assert.Len(t, occupied, 10000+len(seed))
}

func TestAllocate_ExhaustsAfterMaxAttempts(t *testing.T) {
	calls := 0
	insert := func(context.Context, string) error {
		calls++
		return ErrTaken
	}

	_, err := Allocate(context.Background(), nil, insert)

	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, MaxAttempts, calls)
}

func TestAllocate_PropagatesStorageErrors(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := Allocate(context.Background(), nil, func(context.Context, string) error { return boom })
	assert.ErrorIs(t, err, boom)
}
