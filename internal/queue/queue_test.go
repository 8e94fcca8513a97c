package queue

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAndDrain(t *testing.T) {
	q := NewJobQueue(4)
	pool := NewWorkerPool(q, 1)

	var mu sync.Mutex
	var seen []string
	pool.Start(func(job *DeployJob) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, job.ID)
		if job.ID == "b" {
			return errors.New("pipeline failed")
		}
		return nil
	})

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(&DeployJob{ID: id, Environment: "staging"}))
	}
	q.Close()
	pool.Wait()

	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestEnqueueAfterClose(t *testing.T) {
	q := NewJobQueue(1)
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Enqueue(&DeployJob{ID: "late"}), ErrQueueClosed)
}

func TestEnqueueFull(t *testing.T) {
	q := NewJobQueue(1)
	require.NoError(t, q.Enqueue(&DeployJob{ID: "a"}))
	assert.ErrorIs(t, q.Enqueue(&DeployJob{ID: "b"}), ErrQueueFull)
	assert.Equal(t, 1, q.Len())
}

func TestWorkerPoolAtLeastOneWorker(t *testing.T) {
	pool := NewWorkerPool(NewJobQueue(1), 0)
	assert.Equal(t, 1, pool.workers)
}
