// Package config loads and validates the collector's YAML configuration:
// the peripheral/service/characteristic hierarchy, converters, metric and
// MQTT publication specs, and the top-level daemon settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// AccessMode is how a characteristic's samples are obtained.
type AccessMode string

const (
	AccessSubscribe AccessMode = "subscribe"
	AccessPoll      AccessMode = "poll"
)

// MetricKind is the Prometheus metric type a characteristic's samples are
// published as.
type MetricKind string

const (
	MetricGauge     MetricKind = "gauge"
	MetricCounter   MetricKind = "counter"
	MetricHistogram MetricKind = "histogram"
)

// MetricSpec configures publication of a characteristic's samples to the
// metrics registry.
type MetricSpec struct {
	Name   string            `yaml:"name"`
	Kind   MetricKind        `yaml:"kind" default:"gauge"`
	Help   string            `yaml:"help"`
	Labels map[string]string `yaml:"labels"`
}

// MQTTSpec configures publication of a characteristic's samples over MQTT,
// including an optional Home-Assistant-style discovery payload.
type MQTTSpec struct {
	StateTopic  string      `yaml:"state_topic"`
	ConfigTopic string      `yaml:"config_topic"`
	Retain      bool        `yaml:"retain"`
	Discovery   interface{} `yaml:"discovery"`
}

// ConfiguredCharacteristic is one GATT characteristic the collector samples.
type ConfiguredCharacteristic struct {
	UUID        string         `yaml:"uuid"`
	Name        string         `yaml:"name"`
	Access      AccessMode     `yaml:"access" default:"poll"`
	Interval    *time.Duration `yaml:"interval"`
	HistorySize *int           `yaml:"history_size"`
	ReadTimeout time.Duration  `yaml:"read_timeout" default:"10s"`
	Converter   ConverterSpec  `yaml:"converter"`
	Metric      *MetricSpec    `yaml:"metric"`
	MQTT        *MQTTSpec      `yaml:"mqtt"`
}

// ResolvedInterval returns the characteristic's poll interval, falling back
// to the owning service's default.
func (c *ConfiguredCharacteristic) ResolvedInterval(serviceDefault time.Duration) time.Duration {
	if c.Interval != nil {
		return *c.Interval
	}
	return serviceDefault
}

// ResolvedHistorySize returns the characteristic's ring capacity, falling
// back to the owning service's default.
func (c *ConfiguredCharacteristic) ResolvedHistorySize(serviceDefault int) int {
	if c.HistorySize != nil {
		return *c.HistorySize
	}
	return serviceDefault
}

// ConfiguredService is one GATT service and the characteristics sampled
// under it.
type ConfiguredService struct {
	UUID               string                     `yaml:"uuid"`
	Name               string                     `yaml:"name"`
	DefaultInterval    time.Duration              `yaml:"default_interval" default:"30s"`
	DefaultHistorySize int                        `yaml:"default_history_size" default:"10"`
	Characteristics    []ConfiguredCharacteristic `yaml:"characteristics"`
}

// ConfiguredPeripheral is a match rule set plus the services to sample once
// matched.
type ConfiguredPeripheral struct {
	Name       string              `yaml:"name"`
	DeviceName *Predicate          `yaml:"device_name"`
	MAC        *Predicate          `yaml:"mac"`
	Adapter    *Predicate          `yaml:"adapter"`
	Services   []ConfiguredService `yaml:"services"`
}

// Matches reports whether deviceName/mac/adapter together satisfy this
// peripheral's predicates. A nil predicate matches anything.
func (p *ConfiguredPeripheral) Matches(deviceName, mac, adapter string) bool {
	return p.DeviceName.Match(deviceName) && p.MAC.Match(mac) && p.Adapter.Match(adapter)
}

// MQTTBroker configures the collector's single outbound MQTT connection.
type MQTTBroker struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id" default:"blecollector"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TLSInsecure    bool          `yaml:"tls_insecure"`
	PublishTimeout time.Duration `yaml:"publish_timeout" default:"5s"`
	QueueDepth     int           `yaml:"queue_depth" default:"256"`
}

// Config is the root of the collector's YAML configuration.
type Config struct {
	LogLevel     string                 `yaml:"log_level" default:"info"`
	HTTPAddr     string                 `yaml:"http_addr" default:":8080"`
	MetricsAddr  string                 `yaml:"metrics_addr" default:":9090"`
	MQTT         *MQTTBroker            `yaml:"mqtt"`
	Peripherals  []ConfiguredPeripheral `yaml:"peripherals"`

	// OrderedPeripherals mirrors Peripherals in an orderedmap keyed by
	// synthetic config-order index, so match policy ("first in config
	// order wins") never depends on map iteration order.
	OrderedPeripherals *orderedmap.OrderedMap[string, *ConfiguredPeripheral] `yaml:"-"`
}

// Error is a fatal configuration error: unknown converter tags, zero-length
// converters, duplicate metric names, or a zero history size all abort
// startup per this shape.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

// Load reads, parses, and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Msg: fmt.Sprintf("reading config %s: %v", path, err)}
	}
	return Parse(raw)
}

// Parse parses and validates YAML configuration bytes.
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, &Error{Msg: fmt.Sprintf("parsing config: %v", err)}
	}
	defaults.SetDefaults(cfg)
	applyHierarchicalDefaults(cfg)
	buildOrderedPeripherals(cfg)
	if errs := Validate(cfg); len(errs) > 0 {
		return nil, &Error{Msg: joinValidationErrors(errs)}
	}
	return cfg, nil
}

// applyHierarchicalDefaults runs after defaults.SetDefaults, which only
// knows about scalar struct tags: service-level interval/history-size
// defaults must be defaulted explicitly since go-defaults cannot express
// "default to my sibling service's field."
func applyHierarchicalDefaults(cfg *Config) {
	for i := range cfg.Peripherals {
		p := &cfg.Peripherals[i]
		for j := range p.Services {
			s := &p.Services[j]
			if s.DefaultInterval == 0 {
				s.DefaultInterval = 30 * time.Second
			}
			if s.DefaultHistorySize == 0 {
				s.DefaultHistorySize = 10
			}
		}
	}
}

func buildOrderedPeripherals(cfg *Config) {
	cfg.OrderedPeripherals = orderedmap.New[string, *ConfiguredPeripheral]()
	for i := range cfg.Peripherals {
		key := fmt.Sprintf("%04d:%s", i, cfg.Peripherals[i].Name)
		cfg.OrderedPeripherals.Set(key, &cfg.Peripherals[i])
	}
}

func joinValidationErrors(errs []error) string {
	s := "configuration invalid:"
	for _, e := range errs {
		s += "\n  - " + e.Error()
	}
	return s
}
