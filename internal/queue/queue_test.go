package queue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"power-agent/internal/queue"
)

func item(s string, urgent bool) queue.Item {
	return queue.Item{Payload: []byte(s), Urgent: urgent}
}

func payloads(items []queue.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = string(it.Payload)
	}
	return out
}

func TestPopUrgentFirst(t *testing.T) {
	q := queue.New(10)
	require.NoError(t, q.Push(item("n1", false)))
	require.NoError(t, q.Push(item("u1", true)))
	require.NoError(t, q.Push(item("n2", false)))
	require.NoError(t, q.Push(item("u2", true)))

	assert.Equal(t, []string{"u1", "u2", "n1"}, payloads(q.Pop(3)))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, []string{"n2"}, payloads(q.Pop(3)))
	assert.Nil(t, q.Pop(1))
	assert.Nil(t, q.Pop(0))
}

func TestPushDropsOldestNormal(t *testing.T) {
	q := queue.New(3)
	require.NoError(t, q.Push(item("n1", false)))
	require.NoError(t, q.Push(item("n2", false)))
	require.NoError(t, q.Push(item("u1", true)))
	require.NoError(t, q.Push(item("n3", false)))
	require.NoError(t, q.Push(item("u2", true)))

	assert.Equal(t, uint64(2), q.Dropped())
	assert.Equal(t, []string{"u1", "u2", "n3"}, payloads(q.Pop(5)))
}

func TestPushRejectsWhenAllUrgent(t *testing.T) {
	q := queue.New(2)
	require.NoError(t, q.Push(item("u1", true)))
	require.NoError(t, q.Push(item("u2", true)))

	assert.ErrorIs(t, q.Push(item("u3", true)), queue.ErrFull)
	assert.ErrorIs(t, q.Push(item("n1", false)), queue.ErrFull)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(2), q.Dropped())
}

func TestRequeue(t *testing.T) {
	q := queue.New(4)
	require.NoError(t, q.Push(item("n1", false)))
	require.NoError(t, q.Push(item("u1", true)))
	require.NoError(t, q.Push(item("n2", false)))

	popped := q.Pop(2)
	require.Equal(t, []string{"u1", "n1"}, payloads(popped))

	require.NoError(t, q.Push(item("n3", false)))
	q.Requeue(popped)

	assert.Equal(t, []string{"u1", "n1", "n2", "n3"}, payloads(q.Pop(10)))
}

func TestRequeueOverCapacity(t *testing.T) {
	q := queue.New(2)
	require.NoError(t, q.Push(item("n1", false)))
	require.NoError(t, q.Push(item("n2", false)))

	q.Requeue([]queue.Item{item("u1", true)})

	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, []string{"u1", "n1"}, payloads(q.Pop(10)))
}
