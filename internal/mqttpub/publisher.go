// Package mqttpub owns the collector's single outbound MQTT connection: a
// bounded, per-FQCN coalescing publish queue drained by one writer task,
// auto-reconnecting with the broker library's own backoff.
package mqttpub

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecollector/internal/config"
	"github.com/srg/blecollector/internal/fqcn"
	"github.com/srg/blecollector/internal/ring"
)

// jobKind distinguishes a state-topic publish from a discovery-topic
// publish for the purpose of (FQCN, kind) coalescing.
type jobKind int

const (
	kindState jobKind = iota
	kindDiscovery
)

type job struct {
	topic   string
	payload []byte
	retain  bool
}

type jobKey struct {
	fqcn fqcn.FQCN
	kind jobKind
}

// StatePayload is the JSON body published to a characteristic's state
// topic.
type StatePayload struct {
	Value interface{} `json:"value"`
	Raw   string      `json:"raw"`
	TS    string      `json:"ts"`
}

// Publisher owns the MQTT client and the coalescing outbound queue.
type Publisher struct {
	client mqtt.Client
	queue  *ring.CoalescingQueue[jobKey, job]
	logger *logrus.Logger
	cfg    *config.MQTTBroker

	discoveryMu   sync.Mutex
	discoverySent map[fqcn.FQCN]bool
}

// New creates a Publisher and connects to the configured broker. The
// caller must call Run in a goroutine to drain the outbound queue.
func New(cfg *config.MQTTBroker, logger *logrus.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	p := &Publisher{
		cfg:           cfg,
		logger:        logger,
		queue:         ring.NewCoalescingQueue[jobKey, job](cfg.QueueDepth),
		discoverySent: make(map[fqcn.FQCN]bool),
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.WithField("broker", cfg.Broker).Info("mqtt: connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WithError(err).Warn("mqtt: connection lost")
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Info("mqtt: reconnecting")
	})

	p.client = mqtt.NewClient(opts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: connecting to %s: %w", cfg.Broker, token.Error())
	}

	return p, nil
}

// PublishState enqueues a state-topic publish for key, coalescing with any
// pending, not-yet-sent state publish for the same FQCN.
func (p *Publisher) PublishState(key fqcn.FQCN, topic string, value interface{}, raw []byte, ts time.Time) {
	body, err := json.Marshal(StatePayload{
		Value: value,
		Raw:   hex.EncodeToString(raw),
		TS:    ts.UTC().Format(time.RFC3339),
	})
	if err != nil {
		p.logger.WithError(err).WithField("fqcn", key.String()).Warn("mqtt: marshalling state payload")
		return
	}
	p.queue.Put(jobKey{fqcn: key, kind: kindState}, job{topic: topic, payload: body})
}

// PublishDiscovery enqueues a discovery-topic publish for key, once per
// (key, boot). Subsequent calls for an already-sent key are no-ops.
func (p *Publisher) PublishDiscovery(key fqcn.FQCN, topic string, payload interface{}, retain bool) {
	p.discoveryMu.Lock()
	if p.discoverySent[key] {
		p.discoveryMu.Unlock()
		return
	}
	p.discoverySent[key] = true
	p.discoveryMu.Unlock()

	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.WithError(err).WithField("fqcn", key.String()).Warn("mqtt: marshalling discovery payload")
		return
	}
	p.queue.Put(jobKey{fqcn: key, kind: kindDiscovery}, job{topic: topic, payload: body, retain: retain})
}

// Run drains the outbound queue until stop is closed, publishing with the
// configured per-publish timeout. Exceeded publishes are dropped and
// logged rather than retried, so one slow broker never backs up the queue.
func (p *Publisher) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-p.queue.Notify():
			for _, j := range p.queue.Drain() {
				p.publishOne(j)
			}
		}
	}
}

func (p *Publisher) publishOne(j job) {
	token := p.client.Publish(j.topic, 0, j.retain, j.payload)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		p.logger.WithField("topic", j.topic).Warn("mqtt: publish timed out, dropping")
		return
	}
	if err := token.Error(); err != nil {
		p.logger.WithError(err).WithField("topic", j.topic).Warn("mqtt: publish failed")
	}
}

// Close disconnects the MQTT client, waiting up to 250ms for in-flight
// publishes to flush.
func (p *Publisher) Close() {
	p.queue.Close()
	p.client.Disconnect(250)
}
