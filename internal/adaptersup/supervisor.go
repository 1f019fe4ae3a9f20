// Package adaptersup implements the Adapter Supervisor (C5): one per
// local BLE adapter, it scans continuously, matches advertisements
// against configured peripherals, and spawns/retires Peripheral
// Sessions — mirroring the teacher's scanner.Scanner, whose
// devices map and handleAdvertisement dedup logic this generalizes from
// a single implicit adapter to one instance per named radio.
package adaptersup

import (
	"context"
	"fmt"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecollector/internal/config"
	"github.com/srg/blecollector/internal/fanout"
	"github.com/srg/blecollector/internal/groutine"
	"github.com/srg/blecollector/internal/provider"
	"github.com/srg/blecollector/internal/session"
	"github.com/srg/blecollector/internal/template"
)

const (
	dedupWindow  = 30 * time.Second
	scanBackoffBase = 1 * time.Second
	scanBackoffCap  = 30 * time.Second
)

// SpawnFunc constructs and starts a Session for a matched peripheral; the
// returned Session's Run must already have been launched in its own
// goroutine by the time SpawnFunc returns. Swappable in tests to avoid a
// real BLE connect.
type SpawnFunc func(ctx context.Context, adapterID string, adapter provider.Adapter, address string, cfg *config.ConfiguredPeripheral) *session.Session

// Supervisor owns the scan loop and the peripheral->Session map for one
// adapter.
type Supervisor struct {
	adapter     provider.Adapter
	peripherals *config.Config
	logger      *logrus.Logger
	spawn       SpawnFunc

	sessions *hashmap.Map[string, *session.Session]
	lastSeen *hashmap.Map[string, time.Time]
}

// New builds a Supervisor for one adapter. fan/tmplEng are threaded into
// the default SpawnFunc; pass a custom spawn via WithSpawnFunc in tests.
func New(adapter provider.Adapter, cfg *config.Config, fan *fanout.Fanout, tmplEng *template.Engine, logger *logrus.Logger) *Supervisor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Supervisor{
		adapter:     adapter,
		peripherals: cfg,
		logger:      logger,
		sessions:    hashmap.New[string, *session.Session](),
		lastSeen:    hashmap.New[string, time.Time](),
	}
	s.spawn = func(ctx context.Context, adapterID string, a provider.Adapter, address string, pCfg *config.ConfiguredPeripheral) *session.Session {
		sess := session.New(adapterID, a, address, pCfg, fan, tmplEng, logger)
		groutine.Go(ctx, fmt.Sprintf("peripheral-session-%s-%s", adapterID, address), func(ctx context.Context) {
			sess.Run(ctx)
		})
		return sess
	}
	return s
}

// WithSpawnFunc overrides how Sessions are created and started, for
// tests that want to observe match decisions without real BLE I/O.
func (s *Supervisor) WithSpawnFunc(fn SpawnFunc) *Supervisor {
	s.spawn = fn
	return s
}

// Sessions returns a snapshot of currently tracked peripheral addresses.
func (s *Supervisor) Sessions() map[string]*session.Session {
	out := make(map[string]*session.Session)
	s.sessions.Range(func(k string, v *session.Session) bool {
		out[k] = v
		return true
	})
	return out
}

// Run scans continuously until ctx is cancelled, restarting the scan
// with exponential backoff on provider error (§4.5 scan lifecycle).
func (s *Supervisor) Run(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			s.retireAll()
			return
		default:
		}

		err := s.adapter.Scan(ctx, func(adv provider.Advertisement) {
			s.HandleAdvertisement(ctx, adv)
		})
		if ctx.Err() != nil {
			s.retireAll()
			return
		}
		if err != nil {
			s.logger.WithError(err).WithField("adapter", s.adapter.ID()).Warn("adaptersup: scan failed, restarting")
		}

		d := scanBackoff(attempt)
		select {
		case <-ctx.Done():
			s.retireAll()
			return
		case <-time.After(d):
		}
		attempt++
	}
}

// HandleAdvertisement applies the match policy and dedup window to one
// observed advertisement (§4.5).
func (s *Supervisor) HandleAdvertisement(ctx context.Context, adv provider.Advertisement) {
	addr := adv.Addr()
	if seen, ok := s.lastSeen.Get(addr); ok && time.Since(seen) < dedupWindow {
		return
	}
	s.lastSeen.Set(addr, time.Now())

	if _, exists := s.sessions.Get(addr); exists {
		return
	}

	matched := s.match(adv)
	if matched == nil {
		return
	}

	sess := s.spawn(ctx, s.adapter.ID(), s.adapter, addr, matched)
	s.sessions.Set(addr, sess)
}

// match iterates configured peripherals in config order; the first
// whose predicates (device name, MAC, and — if present — this adapter)
// all match wins.
func (s *Supervisor) match(adv provider.Advertisement) *config.ConfiguredPeripheral {
	if s.peripherals == nil || s.peripherals.OrderedPeripherals == nil {
		return nil
	}
	for pair := s.peripherals.OrderedPeripherals.Oldest(); pair != nil; pair = pair.Next() {
		p := pair.Value
		if p.Matches(adv.LocalName(), adv.Addr(), s.adapter.ID()) {
			return p
		}
	}
	return nil
}

// Reap removes Sessions that have reached the terminal Retired state.
func (s *Supervisor) Reap() {
	var retired []string
	s.sessions.Range(func(k string, v *session.Session) bool {
		if v.State() == session.Retired {
			retired = append(retired, k)
		}
		return true
	})
	for _, k := range retired {
		s.sessions.Del(k)
	}
}

// retireAll commands every tracked Session to retire. Run calls it once
// the Supervisor's context is cancelled.
func (s *Supervisor) retireAll() {
	s.sessions.Range(func(_ string, v *session.Session) bool {
		v.Retire()
		return true
	})
}

func scanBackoff(attempt int) time.Duration {
	d := scanBackoffBase
	for i := 0; i < attempt && d < scanBackoffCap; i++ {
		d *= 2
	}
	if d > scanBackoffCap {
		d = scanBackoffCap
	}
	return d
}
