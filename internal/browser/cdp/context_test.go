package cdp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombineContext(t *testing.T) {
	type ctxKey string
	const key ctxKey = "target"

	t.Run("InheritsValuesFromSession", func(t *testing.T) {
		session := context.WithValue(context.Background(), key, "tab-1")
		combined, cancel := CombineContext(session, context.Background())
		defer cancel()

		assert.Equal(t, "tab-1", combined.Value(key))
		assert.NoError(t, combined.Err())
	})

	t.Run("CancelledBySession", func(t *testing.T) {
		session, cancelSession := context.WithCancel(context.Background())
		combined, cancel := CombineContext(session, context.Background())
		defer cancel()

		cancelSession()
		assert.Eventually(t, func() bool { return combined.Err() != nil }, time.Second, 5*time.Millisecond)
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("CancelledByOperationDeadline", func(t *testing.T) {
		op, cancelOp := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancelOp()
		combined, cancel := CombineContext(context.Background(), op)
		defer cancel()

		<-combined.Done()
		assert.ErrorIs(t, op.Err(), context.DeadlineExceeded)
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("ExplicitCancellation", func(t *testing.T) {
		combined, cancel := CombineContext(context.Background(), context.Background())
		cancel()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})
}

func TestDetach(t *testing.T) {
	type ctxKey string
	const key ctxKey = "target"

	parent, cancelParent := context.WithTimeout(context.WithValue(context.Background(), key, "tab-1"), time.Hour)
	detached := Detach(parent)
	cancelParent()

	require.ErrorIs(t, parent.Err(), context.Canceled)
	assert.Equal(t, "tab-1", detached.Value(key))
	assert.NoError(t, detached.Err())
	assert.Nil(t, detached.Done())
	_, ok := detached.Deadline()
	assert.False(t, ok)
}
