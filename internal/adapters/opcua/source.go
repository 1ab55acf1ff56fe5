package opcua

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/pratik1724/trendflow/internal/domain"
	"github.com/pratik1724/trendflow/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint        string `yaml:"endpoint"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	SecurityMode    string `yaml:"security_mode"`
	SecurityPolicy  string `yaml:"security_policy"`
	ApplicationName string `yaml:"application_name"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "TrendFlow"
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	return nil
}

// Source serves live reads and history against one OPC UA session. Metric
// source refs are node id strings ("ns=2;s=Flow.GasA").
type Source struct {
	cfg     Config
	mu      sync.Mutex
	client  *opcua.Client
	started bool
}

func NewSource(cfg Config) (*Source, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Source{cfg: cfg}, nil
}

func (s *Source) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("opcua source already connected")
	}

	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(s.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(s.cfg.SecurityPolicy)),
		opcua.ApplicationName(s.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if s.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(s.cfg.Username, s.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}

	client, err := opcua.NewClient(s.cfg.Endpoint, opts...)
	if err != nil {
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("opcua connect: %w", domain.ErrUnavailable)
	}

	s.client = client
	s.started = true
	return nil
}

func (s *Source) Close(ctx context.Context) error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.started = false
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Source) ReadLive(ctx context.Context, sourceRef string) (ports.LiveReading, error) {
	client, err := s.session()
	if err != nil {
		return ports.LiveReading{}, err
	}
	nodeID, err := ua.ParseNodeID(sourceRef)
	if err != nil {
		return ports.LiveReading{}, fmt.Errorf("parse node id %q: %w", sourceRef, domain.ErrNotFound)
	}

	resp, err := client.Read(ctx, &ua.ReadRequest{
		MaxAge:             0,
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead: []*ua.ReadValueID{
			{NodeID: nodeID, AttributeID: ua.AttributeIDValue},
		},
	})
	if err != nil {
		return ports.LiveReading{}, fmt.Errorf("opcua read %q: %v: %w", sourceRef, err, domain.ErrUnavailable)
	}
	if len(resp.Results) == 0 {
		return ports.LiveReading{}, fmt.Errorf("opcua read %q: empty result: %w", sourceRef, domain.ErrUnavailable)
	}

	dv := resp.Results[0]
	if isNodeUnknown(dv.Status) {
		return ports.LiveReading{}, fmt.Errorf("opcua read %q: %s: %w", sourceRef, dv.Status, domain.ErrNotFound)
	}

	reading := ports.LiveReading{
		Timestamp: pickTimestamp(dv.ServerTimestamp, dv.SourceTimestamp),
		Quality:   statusToQuality(dv.Status),
	}
	if v, ok := variantToFloat(dv.Value); ok {
		reading.Value = v
		reading.Valid = true
	}
	return reading, nil
}

func (s *Source) ReadAggregate(ctx context.Context, sourceRef string, start, end time.Time, resolution time.Duration, kind domain.AggregateKind) ([]domain.AggregatePoint, error) {
	client, err := s.session()
	if err != nil {
		return nil, err
	}
	nodeID, err := ua.ParseNodeID(sourceRef)
	if err != nil {
		return nil, fmt.Errorf("parse node id %q: %w", sourceRef, domain.ErrNotFound)
	}

	resp, err := client.HistoryReadRawModified(ctx, []*ua.HistoryReadValueID{
		{NodeID: nodeID, DataEncoding: &ua.QualifiedName{}},
	}, &ua.ReadRawModifiedDetails{
		IsReadModified: false,
		StartTime:      start,
		EndTime:        end,
		ReturnBounds:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("opcua history read %q: %v: %w", sourceRef, err, domain.ErrUnavailable)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("opcua history read %q: empty result: %w", sourceRef, domain.ErrUnavailable)
	}

	res := resp.Results[0]
	if isNodeUnknown(res.StatusCode) {
		return nil, fmt.Errorf("opcua history read %q: %s: %w", sourceRef, res.StatusCode, domain.ErrNotFound)
	}
	if res.StatusCode&severityBad != 0 {
		return nil, fmt.Errorf("opcua history read %q: %s: %w", sourceRef, res.StatusCode, domain.ErrUnavailable)
	}

	raw := extractDataValues(res)
	return Downsample(raw, resolution, kind), nil
}

func (s *Source) session() (*opcua.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.client == nil {
		return nil, fmt.Errorf("opcua session not connected: %w", domain.ErrUnavailable)
	}
	return s.client, nil
}

func extractDataValues(res *ua.HistoryReadResult) []domain.AggregatePoint {
	if res.HistoryData == nil {
		return nil
	}
	data, ok := res.HistoryData.Value.(*ua.HistoryData)
	if !ok || data == nil {
		return nil
	}

	points := make([]domain.AggregatePoint, 0, len(data.DataValues))
	for _, dv := range data.DataValues {
		if dv == nil || dv.Status&severityBad != 0 {
			continue
		}
		v, ok := variantToFloat(dv.Value)
		if !ok {
			continue
		}
		points = append(points, domain.AggregatePoint{
			Timestamp: pickTimestamp(dv.SourceTimestamp, dv.ServerTimestamp),
			Value:     v,
		})
	}
	return points
}

// Downsample buckets raw history into the requested resolution and applies
// the aggregate kind per bucket. Output is ascending; empty buckets produce
// no point.
func Downsample(points []domain.AggregatePoint, resolution time.Duration, kind domain.AggregateKind) []domain.AggregatePoint {
	if len(points) == 0 || resolution <= 0 {
		return points
	}

	type bucket struct {
		sum, min, max float64
		n             int
	}
	buckets := make(map[int64]*bucket)
	for _, p := range points {
		key := p.Timestamp.Truncate(resolution).UnixMilli()
		b, ok := buckets[key]
		if !ok {
			buckets[key] = &bucket{sum: p.Value, min: p.Value, max: p.Value, n: 1}
			continue
		}
		b.sum += p.Value
		b.n++
		if p.Value < b.min {
			b.min = p.Value
		}
		if p.Value > b.max {
			b.max = p.Value
		}
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]domain.AggregatePoint, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		var v float64
		switch kind {
		case domain.AggregateMin:
			v = b.min
		case domain.AggregateMax:
			v = b.max
		default:
			v = b.sum / float64(b.n)
		}
		out = append(out, domain.AggregatePoint{Timestamp: time.UnixMilli(k), Value: v})
	}
	return out
}

// UA status codes carry severity in the top two bits.
const (
	severityBad       ua.StatusCode = 0x80000000
	severityUncertain ua.StatusCode = 0x40000000
)

func statusToQuality(code ua.StatusCode) domain.Quality {
	switch {
	case code&severityBad != 0:
		return domain.QualityBad
	case code&severityUncertain != 0:
		return domain.QualityWarn
	default:
		return domain.QualityGood
	}
}

func isNodeUnknown(code ua.StatusCode) bool {
	return code == ua.StatusBadNodeIDUnknown || code == ua.StatusBadNodeIDInvalid
}

func pickTimestamp(primary, fallback time.Time) time.Time {
	if !primary.IsZero() {
		return primary
	}
	return fallback
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.TelemetrySource = (*Source)(nil)
