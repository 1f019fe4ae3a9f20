package goble

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecollector/internal/provider"
)

// notificationBuffer bounds the peripheral's broadcast notification
// channel. A slow Peripheral Session consumer drops the connection's
// remaining notifications rather than blocking the go-ble callback
// goroutine, matching the teacher's preference for bounded, non-blocking
// per-characteristic update channels (DefaultChannelBuffer).
const notificationBuffer = 128

// peripheral is a connected BLE device. Unlike the teacher's
// BLEConnection, which exposed one update channel per characteristic,
// this fans every subscribed characteristic's notifications into a
// single broadcast channel per the Peripheral interface; callers
// distinguish origin by ServiceUUID/CharacteristicUUID on each
// Notification.
type peripheral struct {
	adapterID string
	addr      string
	client    ble.Client
	logger    *logrus.Logger

	notifyCh chan provider.Notification
}

func newPeripheral(adapterID, addr string, client ble.Client, logger *logrus.Logger) *peripheral {
	return &peripheral{
		adapterID: adapterID,
		addr:      addr,
		client:    client,
		logger:    logger,
		notifyCh:  make(chan provider.Notification, notificationBuffer),
	}
}

func (p *peripheral) Address() string { return p.addr }

func (p *peripheral) Disconnect() error {
	err := p.client.CancelConnection()
	close(p.notifyCh)
	return normalizeError(err)
}

func (p *peripheral) Notifications() <-chan provider.Notification {
	return p.notifyCh
}

// DiscoverServices walks the GATT profile once, the way the teacher's
// Connect does inline, and wraps every service/characteristic behind the
// provider interfaces.
func (p *peripheral) DiscoverServices(_ context.Context) ([]provider.Service, error) {
	profile, err := p.client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("goble: discovering profile for %q: %w", p.addr, normalizeError(err))
	}

	services := make([]provider.Service, 0, len(profile.Services))
	for _, bleSvc := range profile.Services {
		svc := &service{uuid: normalizeUUID(bleSvc.UUID.String())}
		for _, bleChar := range bleSvc.Characteristics {
			svc.chars = append(svc.chars, newCharacteristic(p, bleSvc, bleChar))
		}
		sort.Slice(svc.chars, func(i, j int) bool { return svc.chars[i].UUID() < svc.chars[j].UUID() })
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].UUID() < services[j].UUID() })
	return services, nil
}

func (p *peripheral) deliver(svcUUID, charUUID string, data []byte) {
	n := provider.Notification{
		ServiceUUID:        svcUUID,
		CharacteristicUUID: charUUID,
		Value:              data,
		TS:                 time.Now(),
	}
	select {
	case p.notifyCh <- n:
	default:
		p.logger.WithFields(logrus.Fields{"service": svcUUID, "characteristic": charUUID}).
			Warn("goble: notification dropped, peripheral channel full")
	}
}
