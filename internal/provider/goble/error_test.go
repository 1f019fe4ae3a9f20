package goble

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/srg/blecollector/internal/provider"
)

func TestNormalizeErrorNil(t *testing.T) {
	require.NoError(t, normalizeError(nil))
}

func TestNormalizeErrorTimeout(t *testing.T) {
	err := normalizeError(context.DeadlineExceeded)
	require.ErrorIs(t, err, provider.ErrTimeout)
}

func TestNormalizeErrorNotConnected(t *testing.T) {
	err := normalizeError(errors.New("client is not connected"))
	require.ErrorIs(t, err, provider.ErrNotConnected)
}

func TestNormalizeErrorAlreadyConnected(t *testing.T) {
	err := normalizeError(errors.New("already connected to peripheral"))
	require.ErrorIs(t, err, provider.ErrAlreadyConnected)
}

func TestNormalizeErrorPassthrough(t *testing.T) {
	original := errors.New("some other ble failure")
	err := normalizeError(original)
	require.Equal(t, original, err)
}
