package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blecollector/internal/provider"
)

// normalizeError maps go-ble's string-shaped errors onto the provider
// package's structured sentinels, the same translation the teacher's
// NormalizeError performed for its own device.Err* sentinels.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", provider.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not connected"), strings.Contains(msg, "disconnected"):
		return fmt.Errorf("%w: %v", provider.ErrNotConnected, err)
	case strings.Contains(msg, "already connected"):
		return fmt.Errorf("%w: %v", provider.ErrAlreadyConnected, err)
	case strings.Contains(msg, "not initialized"):
		return fmt.Errorf("%w: %v", provider.ErrNotInitialized, err)
	default:
		return err
	}
}
