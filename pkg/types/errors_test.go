package types_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/illmade-knight/go-syncstore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsKind(t *testing.T) {
	wrapped := fmt.Errorf("update file: %w", types.Rejected("put /files/f1", "locked"))

	assert.True(t, types.IsKind(wrapped, types.KindRejected))
	assert.False(t, types.IsKind(wrapped, types.KindTransport))
	assert.False(t, types.IsKind(errors.New("plain"), types.KindRejected))
}

func TestUserMessage(t *testing.T) {
	t.Run("Server message is shown verbatim", func(t *testing.T) {
		assert.Equal(t, "locked", types.UserMessage(types.Rejected("op", "locked")))
	})

	t.Run("Transport failure falls back to the generic message", func(t *testing.T) {
		err := types.Transport("op", errors.New("connection refused"))
		assert.Equal(t, types.GenericFailureMessage, types.UserMessage(err))
	})

	t.Run("Nil error has no message", func(t *testing.T) {
		assert.Empty(t, types.UserMessage(nil))
	})
}

func TestStaleUnwrapsToSentinel(t *testing.T) {
	err := types.Stale("fetch")

	require.ErrorIs(t, err, types.ErrStaleResponse)
	assert.True(t, types.IsKind(err, types.KindStale))
}

func TestResultErr(t *testing.T) {
	assert.NoError(t, types.Result{IsSuccess: true}.Err("op"))

	err := types.Result{Message: "quota exceeded"}.Err("post /models")
	require.Error(t, err)
	assert.Equal(t, "quota exceeded", types.UserMessage(err))
}

func TestBatchOutcome_Accounting(t *testing.T) {
	o := types.NewBatchOutcome(3)
	o.Succeed("a")
	o.Fail("b", "")
	assert.False(t, o.Done())
	o.Succeed("c")

	assert.True(t, o.Done())
	assert.Equal(t, []string{"a", "c"}, o.SucceededIDs)
	assert.Equal(t, []string{"b"}, o.FailedIDs)
	assert.Equal(t, types.GenericFailureMessage, o.Failures["b"])
	assert.True(t, o.Succeeded("a"))
	assert.False(t, o.Succeeded("b"))
}
