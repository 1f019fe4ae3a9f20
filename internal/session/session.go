// Package session implements the Peripheral Session (C4): the state
// machine that owns one matched peripheral end to end, from initial
// connect through arming subscriptions/polls, degrading on repeated
// failure, and reconnecting — mirroring the lock/snapshot-then-release
// discipline the teacher's BLEConnection used for state shared between
// its network calls and its readers.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecollector/internal/config"
	"github.com/srg/blecollector/internal/decode"
	"github.com/srg/blecollector/internal/fanout"
	"github.com/srg/blecollector/internal/fqcn"
	"github.com/srg/blecollector/internal/groutine"
	"github.com/srg/blecollector/internal/provider"
	"github.com/srg/blecollector/internal/sample"
	"github.com/srg/blecollector/internal/template"
)

// State is one of the seven Peripheral Session states.
type State int

const (
	Matched State = iota
	Connecting
	Discovering
	Armed
	Degraded
	Reconnecting
	Retired
)

func (s State) String() string {
	switch s {
	case Matched:
		return "matched"
	case Connecting:
		return "connecting"
	case Discovering:
		return "discovering"
	case Armed:
		return "armed"
	case Degraded:
		return "degraded"
	case Reconnecting:
		return "reconnecting"
	case Retired:
		return "retired"
	default:
		return "unknown"
	}
}

const (
	connectTimeout  = 15 * time.Second
	readTimeout     = 10 * time.Second
	subscribeTimeout = 10 * time.Second
	backoffBase     = 1 * time.Second
	backoffCap      = 60 * time.Second
	backoffJitter   = 0.2
	pollRetries     = 3
	pollRetryDelay  = 250 * time.Millisecond
	pollJitter      = 0.1
	degradeCount    = 5
	degradeWindow   = 60 * time.Second
	rwRequestTimeout = 10 * time.Second
)

// command is sent to Session's control mailbox.
type command int

const (
	cmdRetire command = iota
	cmdForceReconnect
)

// resolvedChar pairs a configured characteristic with the provider
// handle discovery resolved it to. A nil Characteristic means the
// configured UUID was unavailable (I4/Unavailable bookkeeping).
type resolvedChar struct {
	cfg  config.ConfiguredCharacteristic
	svc  config.ConfiguredService
	char provider.Characteristic
	key  fqcn.FQCN
}

// Session owns exactly one connected peripheral.
type Session struct {
	adapterID  string
	peripheral *config.ConfiguredPeripheral
	address    string
	adapter    provider.Adapter

	fan    *fanout.Fanout
	tmplEng *template.Engine
	logger *logrus.Logger

	mu       sync.Mutex
	state    State
	resolved []resolvedChar
	failures map[fqcn.FQCN][]time.Time

	mailbox chan command
	rwCh    chan rwRequest
	cancel  context.CancelFunc
}

// rwOp distinguishes an ad-hoc read from an ad-hoc write on the
// external HTTP layer's rw surface (§4.6, §6 POST /ble/adapters/{adapter}/rw).
type rwOp int

const (
	rwRead rwOp = iota
	rwWrite
)

type rwRequest struct {
	op           rwOp
	serviceUUID  string
	charUUID     string
	data         []byte
	withResponse bool
	respCh       chan rwResult
}

type rwResult struct {
	data []byte
	err  error
}

// New constructs a Session for a just-matched peripheral. Run must be
// called to start the state machine; it returns once the Session
// reaches Retired.
func New(adapterID string, adapter provider.Adapter, address string, cfg *config.ConfiguredPeripheral, fan *fanout.Fanout, tmplEng *template.Engine, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Session{
		adapterID:  adapterID,
		adapter:    adapter,
		address:    address,
		peripheral: cfg,
		fan:        fan,
		tmplEng:    tmplEng,
		logger:     logger,
		state:      Matched,
		failures:   make(map[fqcn.FQCN][]time.Time),
		mailbox:    make(chan command, 4),
		rwCh:       make(chan rwRequest),
	}
}

// Read performs a one-shot GATT read on serviceUUID/charUUID, crossing
// into this Session's running arm loop. It returns ErrRWTimeout if the arm
// loop does not accept and answer the request within rwRequestTimeout,
// matching the 10s bound in §4.6.
func (s *Session) Read(ctx context.Context, serviceUUID, charUUID string) ([]byte, error) {
	return s.doRW(ctx, rwRequest{op: rwRead, serviceUUID: serviceUUID, charUUID: charUUID})
}

// Write performs a one-shot GATT write on serviceUUID/charUUID.
func (s *Session) Write(ctx context.Context, serviceUUID, charUUID string, data []byte, withResponse bool) error {
	_, err := s.doRW(ctx, rwRequest{op: rwWrite, serviceUUID: serviceUUID, charUUID: charUUID, data: data, withResponse: withResponse})
	return err
}

// ErrRWTimeout is returned when the owning Session's arm loop does not
// service an ad-hoc read/write within rwRequestTimeout.
var ErrRWTimeout = fmt.Errorf("session: read/write request timed out")

func (s *Session) doRW(ctx context.Context, req rwRequest) ([]byte, error) {
	req.respCh = make(chan rwResult, 1)
	timeout := time.NewTimer(rwRequestTimeout)
	defer timeout.Stop()

	select {
	case s.rwCh <- req:
	case <-timeout.C:
		return nil, ErrRWTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.respCh:
		return res.data, res.err
	case <-timeout.C:
		return nil, ErrRWTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// State returns the current state under lock.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	level := logrus.InfoLevel
	if next == Degraded || next == Reconnecting {
		level = logrus.WarnLevel
	}
	s.logger.WithFields(logrus.Fields{
		"adapter":    s.adapterID,
		"peripheral": s.address,
		"from":       prev.String(),
		"to":         next.String(),
	}).Log(level, "session: state transition")
}

// Retire requests termination via the control mailbox; it does not
// block on completion.
func (s *Session) Retire() {
	select {
	case s.mailbox <- cmdRetire:
	default:
	}
}

// ForceReconnect requests an immediate reconnect cycle.
func (s *Session) ForceReconnect() {
	select {
	case s.mailbox <- cmdForceReconnect:
	default:
	}
}

// Run drives the state machine to completion. Cancelling ctx is
// equivalent to Retire.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	forceCh := make(chan struct{}, 1)
	groutine.Go(ctx, fmt.Sprintf("session-mailbox-%s-%s", s.adapterID, s.address), func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-s.mailbox:
				switch cmd {
				case cmdRetire:
					cancel()
					return
				case cmdForceReconnect:
					select {
					case forceCh <- struct{}{}:
					default:
					}
				}
			}
		}
	})

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			s.setState(Retired)
			return
		default:
		}

		s.setState(Connecting)
		peripheral, err := s.connect(ctx)
		if err != nil {
			s.logger.WithError(err).WithField("peripheral", s.address).Warn("session: connect failed")
			if !s.sleepBackoff(ctx, attempt) {
				s.setState(Retired)
				return
			}
			attempt++
			s.setState(Reconnecting)
			continue
		}
		attempt = 0

		s.setState(Discovering)
		s.discover(peripheral)

		s.setState(Armed)
		runCtx, runCancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			s.arm(runCtx, peripheral)
			close(done)
		}()

		select {
		case <-ctx.Done():
			runCancel()
			<-done
			_ = peripheral.Disconnect()
			s.setState(Retired)
			return
		case <-s.degraded(runCtx):
			s.setState(Degraded)
			runCancel()
			<-done
			_ = peripheral.Disconnect()
			s.setState(Reconnecting)
		case <-forceCh:
			runCancel()
			<-done
			_ = peripheral.Disconnect()
			s.setState(Reconnecting)
		}
	}
}

// degraded returns a channel closed once a single characteristic has
// accumulated degradeCount failures within degradeWindow.
func (s *Session) degraded(ctx context.Context) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.anyCharacteristicDegraded() {
					close(out)
					return
				}
			}
		}
	}()
	return out
}

func (s *Session) anyCharacteristicDegraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for key, times := range s.failures {
		kept := times[:0]
		for _, t := range times {
			if now.Sub(t) <= degradeWindow {
				kept = append(kept, t)
			}
		}
		s.failures[key] = kept
		if len(kept) >= degradeCount {
			return true
		}
	}
	return false
}

func (s *Session) recordFailure(key fqcn.FQCN) {
	s.mu.Lock()
	s.failures[key] = append(s.failures[key], time.Now())
	s.mu.Unlock()
}

func (s *Session) resetFailures(key fqcn.FQCN) {
	s.mu.Lock()
	delete(s.failures, key)
	s.mu.Unlock()
}

func (s *Session) connect(ctx context.Context) (provider.Peripheral, error) {
	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return s.adapter.Connect(connCtx, s.address, connectTimeout)
}

// discover resolves every configured service/characteristic UUID to a
// provider handle. Missing UUIDs are logged and recorded Unavailable
// (I4) rather than failing the whole Session.
func (s *Session) discover(p provider.Peripheral) {
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	services, err := p.DiscoverServices(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("session: service discovery failed")
		return
	}
	byUUID := make(map[string]provider.Service, len(services))
	for _, svc := range services {
		byUUID[svc.UUID()] = svc
	}

	var resolved []resolvedChar
	for _, svcCfg := range s.peripheral.Services {
		svc, ok := byUUID[normalizeConfigUUID(svcCfg.UUID)]
		for _, charCfg := range svcCfg.Characteristics {
			key := fqcn.FQCN{
				Adapter:       s.adapterID,
				Peripheral:    s.address,
				ServiceUUID:   svcCfg.UUID,
				CharacterUUID: charCfg.UUID,
			}
			if !ok {
				s.logger.WithField("service", svcCfg.UUID).Warn("session: configured service unavailable")
				resolved = append(resolved, resolvedChar{cfg: charCfg, svc: svcCfg, key: key})
				continue
			}
			var found provider.Characteristic
			for _, c := range svc.Characteristics() {
				if c.UUID() == normalizeConfigUUID(charCfg.UUID) {
					found = c
					break
				}
			}
			if found == nil {
				s.logger.WithFields(logrus.Fields{"service": svcCfg.UUID, "characteristic": charCfg.UUID}).
					Warn("session: configured characteristic unavailable")
			}
			resolved = append(resolved, resolvedChar{cfg: charCfg, svc: svcCfg, char: found, key: key})
		}
	}

	s.mu.Lock()
	s.resolved = resolved
	s.mu.Unlock()
}

func normalizeConfigUUID(uuid string) string {
	out := make([]byte, 0, len(uuid))
	for _, r := range uuid {
		if r == '-' {
			continue
		}
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		out = append(out, byte(r))
	}
	return string(out)
}

// arm routes every resolved characteristic by access mode and blocks
// until ctx is cancelled, fanning notifications in from the
// peripheral's single broadcast stream.
func (s *Session) arm(ctx context.Context, p provider.Peripheral) {
	s.mu.Lock()
	resolved := append([]resolvedChar(nil), s.resolved...)
	s.mu.Unlock()

	for _, rc := range resolved {
		if rc.char == nil {
			continue
		}
		switch rc.cfg.Access {
		case config.AccessSubscribe:
			subCtx, cancel := context.WithTimeout(ctx, subscribeTimeout)
			err := rc.char.Subscribe(subCtx, subscribeTimeout)
			cancel()
			if err != nil {
				s.logger.WithError(err).WithField("characteristic", rc.cfg.UUID).Warn("session: subscribe failed")
				s.recordFailure(rc.key)
			}
		case config.AccessPoll:
			rc := rc
			groutine.Go(ctx, fmt.Sprintf("session-poll-%s", rc.key.String()), func(ctx context.Context) {
				s.pollLoop(ctx, rc)
			})
		}
	}

	notifications := p.Notifications()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			s.handleNotification(n, resolved)
		case req := <-s.rwCh:
			s.serviceRW(ctx, req, resolved)
		}
	}
}

// serviceRW handles one ad-hoc read/write request against a resolved
// characteristic, replying on req.respCh. It runs inline on the arm
// loop, so a slow GATT call naturally queues behind any other pending
// rw request on this peripheral, per §4.6.
func (s *Session) serviceRW(ctx context.Context, req rwRequest, resolved []resolvedChar) {
	var target provider.Characteristic
	for _, rc := range resolved {
		if rc.char != nil &&
			normalizeConfigUUID(rc.svc.UUID) == normalizeConfigUUID(req.serviceUUID) &&
			normalizeConfigUUID(rc.cfg.UUID) == normalizeConfigUUID(req.charUUID) {
			target = rc.char
			break
		}
	}
	if target == nil {
		req.respCh <- rwResult{err: fmt.Errorf("session: characteristic %s/%s not available", req.serviceUUID, req.charUUID)}
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	switch req.op {
	case rwRead:
		data, err := target.Read(opCtx, readTimeout)
		req.respCh <- rwResult{data: data, err: err}
	case rwWrite:
		err := target.Write(opCtx, req.data, req.withResponse, readTimeout)
		req.respCh <- rwResult{err: err}
	}
}

func (s *Session) handleNotification(n provider.Notification, resolved []resolvedChar) {
	for _, rc := range resolved {
		if rc.char == nil || rc.char.UUID() != n.CharacteristicUUID {
			continue
		}
		s.decodeAndDispatch(rc, n.Value, n.TS)
		return
	}
}

func (s *Session) pollLoop(ctx context.Context, rc resolvedChar) {
	interval := rc.cfg.ResolvedInterval(rc.svc.DefaultInterval)
	for {
		jittered := jitterDuration(interval, pollJitter)
		select {
		case <-ctx.Done():
			return
		case <-time.After(jittered):
		}

		var data []byte
		var err error
		for attempt := 0; attempt <= pollRetries; attempt++ {
			readCtx, cancel := context.WithTimeout(ctx, readTimeout)
			data, err = rc.char.Read(readCtx, readTimeout)
			cancel()
			if err == nil {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollRetryDelay):
			}
		}
		if err != nil {
			s.logger.WithError(err).WithField("characteristic", rc.cfg.UUID).Warn("session: poll failed, skipping")
			s.recordFailure(rc.key)
			continue
		}
		s.resetFailures(rc.key)
		s.decodeAndDispatch(rc, data, time.Now())
	}
}

func (s *Session) decodeAndDispatch(rc resolvedChar, raw []byte, ts time.Time) {
	v, err := decode.Decode(rc.cfg.Converter.Converter, raw)
	if err != nil {
		s.logger.WithError(err).WithField("characteristic", rc.cfg.UUID).Warn("session: decode failed, dropping sample")
		return
	}

	if s.fan == nil {
		return
	}
	sink := fanout.CharacteristicSink{
		HistorySize: rc.cfg.ResolvedHistorySize(rc.svc.DefaultHistorySize),
		Metric:      rc.cfg.Metric,
		MQTT:        rc.cfg.MQTT,
	}
	tmplCtx := template.Context{
		Adapter:            s.adapterID,
		Peripheral:         s.address,
		PeripheralName:     s.peripheral.Name,
		ServiceName:        rc.svc.Name,
		CharacteristicName: rc.cfg.Name,
		FQCN:               rc.key,
	}
	s.fan.Dispatch(rc.key, sink, sample.Sample{FQCN: rc.key, TS: ts, Value: v, Raw: raw}, tmplCtx)
}

func (s *Session) sleepBackoff(ctx context.Context, attempt int) bool {
	d := backoffDuration(attempt)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// backoffDuration computes base·2^attempt capped at backoffCap with
// full ±20% jitter, per §4.4.
func backoffDuration(attempt int) time.Duration {
	d := backoffBase
	for i := 0; i < attempt && d < backoffCap; i++ {
		d *= 2
	}
	if d > backoffCap {
		d = backoffCap
	}
	return jitterDuration(d, backoffJitter)
}

func jitterDuration(d time.Duration, frac float64) time.Duration {
	delta := (rand.Float64()*2 - 1) * frac
	return time.Duration(float64(d) * (1 + delta))
}
