// Package collector implements the Collector Root (C6): built from an
// already loaded and validated configuration, it enumerates adapters,
// supervises one Adapter Supervisor per adapter, owns the shared
// sample/metrics registries, and exposes the five read/write operations the external HTTP layer
// translates requests into.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecollector/internal/adaptersup"
	"github.com/srg/blecollector/internal/config"
	"github.com/srg/blecollector/internal/fanout"
	"github.com/srg/blecollector/internal/fqcn"
	"github.com/srg/blecollector/internal/metrics"
	"github.com/srg/blecollector/internal/mqttpub"
	"github.com/srg/blecollector/internal/provider"
	"github.com/srg/blecollector/internal/sample"
	"github.com/srg/blecollector/internal/session"
	"github.com/srg/blecollector/internal/template"
)

// rwTimeout bounds how long Read/Write wait behind in-flight GATT
// operations on the owning peripheral's Session mailbox (§4.6).
const rwTimeout = 10 * time.Second

// AdapterState summarizes one adapter for the external HTTP layer.
type AdapterState struct {
	ID              string
	PeripheralCount int
}

// Root owns every long-lived collector resource for one process.
type Root struct {
	cfg    *config.Config
	logger *logrus.Logger

	samples   *sample.Registry
	metricsReg *metrics.Registry
	templates *template.Engine
	publisher *mqttpub.Publisher
	fan       *fanout.Fanout

	supervisors *hashmap.Map[string, *adaptersup.Supervisor]
	adapters    map[string]provider.Adapter
}

// New builds a Root from validated configuration and a connected BLE
// Provider. Adapters are enumerated immediately; Run starts the
// Supervisors and the MQTT publisher.
func New(ctx context.Context, cfg *config.Config, prov provider.Provider, logger *logrus.Logger) (*Root, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	adapterList, err := prov.Adapters(ctx)
	if err != nil {
		return nil, fmt.Errorf("collector: enumerating adapters: %w", err)
	}

	r := &Root{
		cfg:         cfg,
		logger:      logger,
		samples:     sample.NewRegistry(),
		metricsReg:  metrics.New(),
		templates:   template.New(logger),
		supervisors: hashmap.New[string, *adaptersup.Supervisor](),
		adapters:    make(map[string]provider.Adapter, len(adapterList)),
	}

	if cfg.MQTT != nil {
		pub, err := mqttpub.New(cfg.MQTT, logger)
		if err != nil {
			return nil, fmt.Errorf("collector: connecting to mqtt broker: %w", err)
		}
		r.publisher = pub
	}
	r.fan = fanout.New(r.samples, r.metricsReg, r.templates, r.publisher, logger)

	for _, a := range adapterList {
		r.adapters[a.ID()] = a
		sup := adaptersup.New(a, cfg, r.fan, r.templates, logger)
		r.supervisors.Set(a.ID(), sup)
	}

	return r, nil
}

// Run starts every Adapter Supervisor and the MQTT publisher task and
// blocks until ctx is cancelled.
func (r *Root) Run(ctx context.Context) {
	if r.publisher != nil {
		stop := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(stop)
		}()
		go r.publisher.Run(stop)
	}

	r.supervisors.Range(func(_ string, sup *adaptersup.Supervisor) bool {
		go sup.Run(ctx)
		return true
	})

	<-ctx.Done()
	if r.publisher != nil {
		r.publisher.Close()
	}
}

// ListAdapters reports every enumerated adapter and how many peripherals
// it currently tracks.
func (r *Root) ListAdapters() []AdapterState {
	var out []AdapterState
	r.supervisors.Range(func(id string, sup *adaptersup.Supervisor) bool {
		out = append(out, AdapterState{ID: id, PeripheralCount: len(sup.Sessions())})
		return true
	})
	return out
}

// Describe returns a topology snapshot (peripheral addresses and their
// session state) for one adapter.
func (r *Root) Describe(adapterID string) (map[string]string, error) {
	sup, ok := r.supervisors.Get(adapterID)
	if !ok {
		return nil, fmt.Errorf("collector: unknown adapter %q", adapterID)
	}
	out := make(map[string]string)
	for addr, sess := range sup.Sessions() {
		out[addr] = sess.State().String()
	}
	return out, nil
}

// SnapshotSamples returns every FQCN's current sample history.
func (r *Root) SnapshotSamples() map[fqcn.FQCN][]sample.Sample {
	return r.samples.SnapshotAll()
}

// ErrRWTimeout is returned by Read/Write when the owning Session does not
// service the request within rwTimeout.
var ErrRWTimeout = errors.New("collector: read/write timed out")

// Read performs a one-shot GATT read on the named characteristic,
// crossing into the owning Session's control mailbox (§4.6).
func (r *Root) Read(ctx context.Context, adapterID, peripheral, service, char string) ([]byte, error) {
	sess, err := r.findSession(adapterID, peripheral)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, rwTimeout)
	defer cancel()
	data, err := sess.Read(ctx, service, char)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrRWTimeout
	}
	return data, err
}

// Write performs a one-shot GATT write on the named characteristic.
func (r *Root) Write(ctx context.Context, adapterID, peripheral, service, char string, data []byte) error {
	sess, err := r.findSession(adapterID, peripheral)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, rwTimeout)
	defer cancel()
	err = sess.Write(ctx, service, char, data, true)
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrRWTimeout
	}
	return err
}

func (r *Root) findSession(adapterID, peripheral string) (*session.Session, error) {
	sup, ok := r.supervisors.Get(adapterID)
	if !ok {
		return nil, fmt.Errorf("collector: unknown adapter %q", adapterID)
	}
	sess, ok := sup.Sessions()[peripheral]
	if !ok {
		return nil, fmt.Errorf("collector: unknown peripheral %q on adapter %q", peripheral, adapterID)
	}
	return sess, nil
}
