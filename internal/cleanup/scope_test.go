package cleanup

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeReleasesInReverseOrderOnce(t *testing.T) {
	s := NewScope()
	var order []string
	s.Acquire("first", func() error { order = append(order, "first"); return nil })
	s.Acquire("second", func() error { order = append(order, "second"); return nil })

	assert.Equal(t, 2, s.Release())
	assert.Equal(t, 0, s.Release())
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestHandleReleasedEarlyIsSkipped(t *testing.T) {
	s := NewScope()
	calls := 0
	h := s.Acquire("image", func() error { calls++; return errors.New("no such image") })

	assert.Error(t, h.Release())
	s.Release()
	assert.Equal(t, 1, calls)
}

func TestAcquireAfterReleaseRunsImmediately(t *testing.T) {
	s := NewScope()
	s.Release()

	ran := false
	s.Acquire("late", func() error { ran = true; return nil })
	assert.True(t, ran)
}

func TestConcurrentRelease(t *testing.T) {
	s := NewScope()
	var mu sync.Mutex
	calls := 0
	for i := 0; i < 10; i++ {
		s.Acquire("r", func() error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, calls)
}

func TestNilHandle(t *testing.T) {
	var h *Handle
	assert.NoError(t, h.Release())
}

func TestReleaseCountsOnlyOutstandingHandles(t *testing.T) {
	s := NewScope()
	image := s.Acquire("image", func() error { return nil })
	s.Acquire("archive", func() error { return nil })

	require.NoError(t, image.Release())

	assert.Equal(t, 1, s.Release())
}

func TestReleaseAfterEveryHandleReleased(t *testing.T) {
	s := NewScope()
	h := s.Acquire("image", func() error { return nil })
	require.NoError(t, h.Release())

	assert.Zero(t, s.Release())
}
