package buserrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusForMapsKnownCode(t *testing.T) {
	err := New(CodeQueueDoesNotExist, "queue %q does not exist", "orders")
	require.Equal(t, http.StatusBadRequest, StatusFor(err))
	require.Equal(t, CodeQueueDoesNotExist, CodeFor(err))
}

func TestStatusForDefaultsToInternalErrorForPlainError(t *testing.T) {
	err := errors.New("boom")
	require.Equal(t, http.StatusInternalServerError, StatusFor(err))
	require.Equal(t, CodeInternalError, CodeFor(err))
}

func TestIsMatchesWrappedBusError(t *testing.T) {
	err := New(CodeQueueNameExists, "already exists")
	wrapped := errors.Join(errors.New("context"), err)
	require.True(t, Is(wrapped, CodeQueueNameExists))
	require.False(t, Is(wrapped, CodeTopicNotFound))
}
