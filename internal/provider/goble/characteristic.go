package goble

import (
	"context"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/blecollector/internal/provider"
)

// characteristic wraps a single GATT characteristic discovered on a
// connected peripheral. go-ble's Client methods are synchronous and
// accept no context, so Read/Write/Subscribe/Unsubscribe race the call
// against a timer via runWithTimeout rather than being able to cancel
// the in-flight operation itself — the same tradeoff the teacher made
// implicitly by running its connect/discover calls under a
// context.WithTimeout wrapping a non-cancellable dial.
type characteristic struct {
	p       *peripheral
	svcUUID string
	bleChar *ble.Characteristic
	uuid    string
}

func newCharacteristic(p *peripheral, bleSvc *ble.Service, bleChar *ble.Characteristic) *characteristic {
	return &characteristic{
		p:       p,
		svcUUID: normalizeUUID(bleSvc.UUID.String()),
		bleChar: bleChar,
		uuid:    normalizeUUID(bleChar.UUID.String()),
	}
}

func (c *characteristic) UUID() string { return c.uuid }

func (c *characteristic) CanSubscribe() bool {
	return c.bleChar.Property&ble.CharNotify != 0 || c.bleChar.Property&ble.CharIndicate != 0
}

func (c *characteristic) CanPoll() bool {
	return c.bleChar.Property&ble.CharRead != 0
}

func (c *characteristic) Read(ctx context.Context, timeout time.Duration) ([]byte, error) {
	var out []byte
	err := runWithTimeout(ctx, timeout, func() error {
		v, err := c.p.client.ReadCharacteristic(c.bleChar)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, normalizeError(err)
	}
	return out, nil
}

func (c *characteristic) Write(ctx context.Context, data []byte, withResponse bool, timeout time.Duration) error {
	err := runWithTimeout(ctx, timeout, func() error {
		return c.p.client.WriteCharacteristic(c.bleChar, data, !withResponse)
	})
	return normalizeError(err)
}

func (c *characteristic) Subscribe(ctx context.Context, timeout time.Duration) error {
	indicate := c.bleChar.Property&ble.CharNotify == 0 && c.bleChar.Property&ble.CharIndicate != 0
	err := runWithTimeout(ctx, timeout, func() error {
		return c.p.client.Subscribe(c.bleChar, indicate, func(data []byte) {
			c.p.deliver(c.svcUUID, c.uuid, data)
		})
	})
	return normalizeError(err)
}

func (c *characteristic) Unsubscribe(ctx context.Context) error {
	err := runWithTimeout(ctx, 5*time.Second, func() error {
		err1 := c.p.client.Unsubscribe(c.bleChar, false)
		err2 := c.p.client.Unsubscribe(c.bleChar, true)
		if err1 != nil && err2 != nil {
			return err1
		}
		return nil
	})
	return normalizeError(err)
}

// runWithTimeout races fn against timeout and ctx cancellation. fn keeps
// running in its goroutine after a timeout fires (go-ble gives no way to
// abort it); the caller only stops waiting on it.
func runWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return provider.ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
