package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pratik1724/trendflow/internal/adapters/opcua"
	"github.com/pratik1724/trendflow/internal/domain"
)

type Config struct {
	Engine  EngineConfig   `yaml:"engine"`
	Source  SourceConfig   `yaml:"source"`
	Metrics []MetricConfig `yaml:"metrics"`
	Server  ServerConfig   `yaml:"server"`
}

type EngineConfig struct {
	PollInterval    Duration `yaml:"poll_interval"`
	StaggerDelay    Duration `yaml:"stagger_delay"`
	RefreshInterval Duration `yaml:"refresh_interval"`
	FetchTimeout    Duration `yaml:"fetch_timeout"`
	LiveWindow      Duration `yaml:"live_window"`
	Resolution      Duration `yaml:"resolution"`
	Aggregate       string   `yaml:"aggregate"`
}

// Duration unmarshals yaml scalars like "10s" or "150ms"; bare integers are
// taken as nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type SourceConfig struct {
	Kind      string          `yaml:"kind"`
	OPCUA     opcua.Config    `yaml:"opcua"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type TimescaleConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type MetricConfig struct {
	ID        string `yaml:"id"`
	SourceRef string `yaml:"source_ref"`
	Label     string `yaml:"label"`
	Unit      string `yaml:"unit"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.PollInterval == 0 {
		c.Engine.PollInterval = Duration(10 * time.Second)
	}
	if c.Engine.StaggerDelay == 0 {
		c.Engine.StaggerDelay = Duration(150 * time.Millisecond)
	}
	if c.Engine.RefreshInterval == 0 {
		c.Engine.RefreshInterval = Duration(time.Minute)
	}
	if c.Engine.FetchTimeout == 0 {
		c.Engine.FetchTimeout = Duration(5 * time.Second)
	}
	if c.Engine.LiveWindow == 0 {
		c.Engine.LiveWindow = Duration(time.Hour)
	}
	if c.Engine.Resolution == 0 {
		c.Engine.Resolution = Duration(time.Minute)
	}
	if c.Engine.Aggregate == "" {
		c.Engine.Aggregate = string(domain.AggregateAvg)
	}
	if c.Source.Kind == "" {
		c.Source.Kind = "opcua"
	}
	if c.Source.Timescale.Table == "" {
		c.Source.Timescale.Table = "samples"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":9200"
	}

	c.Source.OPCUA.ApplyDefaults()

	for i := range c.Metrics {
		if c.Metrics[i].SourceRef == "" {
			c.Metrics[i].SourceRef = c.Metrics[i].ID
		}
		if c.Metrics[i].Label == "" {
			c.Metrics[i].Label = c.Metrics[i].ID
		}
	}
}

func (c *Config) validate() error {
	if len(c.Metrics) == 0 {
		return fmt.Errorf("at least one metric must be configured")
	}
	seen := make(map[string]struct{}, len(c.Metrics))
	for _, m := range c.Metrics {
		if m.ID == "" {
			return fmt.Errorf("metric id is required")
		}
		if _, ok := seen[m.ID]; ok {
			return fmt.Errorf("duplicate metric id %q", m.ID)
		}
		seen[m.ID] = struct{}{}
	}

	switch c.Source.Kind {
	case "opcua":
		if err := c.Source.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua source: %w", err)
		}
	case "timescale":
		if c.Source.Timescale.ConnString == "" {
			return fmt.Errorf("timescale.conn_string is required")
		}
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}

	switch domain.AggregateKind(c.Engine.Aggregate) {
	case domain.AggregateAvg, domain.AggregateMin, domain.AggregateMax:
	default:
		return fmt.Errorf("unknown aggregate %q", c.Engine.Aggregate)
	}
	return nil
}

// Descriptors converts the configured catalog into the engine's shape.
func (c *Config) Descriptors() []domain.MetricDescriptor {
	out := make([]domain.MetricDescriptor, 0, len(c.Metrics))
	for _, m := range c.Metrics {
		out = append(out, domain.MetricDescriptor{
			ID:        m.ID,
			SourceRef: m.SourceRef,
			Label:     m.Label,
			Unit:      m.Unit,
		})
	}
	return out
}
