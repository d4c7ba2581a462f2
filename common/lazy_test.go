package common

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestLazySingleConstruction(t *testing.T) {
	var calls atomic.Int64
	lazy := NewLazy(func() (int, error) {
		calls.Inc()
		return 42, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := lazy.Get()
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
}

func TestLazyRetriesAfterFailure(t *testing.T) {
	var calls atomic.Int64
	lazy := NewLazy(func() (string, error) {
		if calls.Inc() == 1 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})

	_, err := lazy.Get()
	require.Error(t, err)

	v, err := lazy.Get()
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	// Success is memoized, no further construction.
	_, _ = lazy.Get()
	assert.Equal(t, int64(2), calls.Load())
}
