package opcua

import (
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"

	"github.com/pratik1724/trendflow/internal/domain"
)

func TestStatusToQuality(t *testing.T) {
	if q := statusToQuality(ua.StatusOK); q != domain.QualityGood {
		t.Fatalf("OK should map to GOOD, got %s", q)
	}
	if q := statusToQuality(ua.StatusUncertainInitialValue); q != domain.QualityWarn {
		t.Fatalf("uncertain should map to WARN, got %s", q)
	}
	if q := statusToQuality(ua.StatusBadNodeIDUnknown); q != domain.QualityBad {
		t.Fatalf("bad should map to BAD, got %s", q)
	}
}

func TestVariantToFloatCoversNumericTypes(t *testing.T) {
	for _, val := range []any{float32(1.5), float64(1.5), int8(1), uint8(1), int16(1), uint16(1), int32(1), uint32(1), int64(1), uint64(1)} {
		variant, err := ua.NewVariant(val)
		if err != nil {
			t.Fatalf("NewVariant(%T): %v", val, err)
		}
		if _, ok := variantToFloat(variant); !ok {
			t.Fatalf("expected %T to convert", val)
		}
	}

	str, err := ua.NewVariant("not a number")
	if err != nil {
		t.Fatalf("NewVariant: %v", err)
	}
	if _, ok := variantToFloat(str); ok {
		t.Fatalf("strings must not convert")
	}
	if _, ok := variantToFloat(nil); ok {
		t.Fatalf("nil variants must not convert")
	}
}

func TestDownsampleAverage(t *testing.T) {
	base := time.UnixMilli(0)
	raw := []domain.AggregatePoint{
		{Timestamp: base.Add(10 * time.Second), Value: 10},
		{Timestamp: base.Add(20 * time.Second), Value: 20},
		{Timestamp: base.Add(70 * time.Second), Value: 40},
	}

	out := Downsample(raw, time.Minute, domain.AggregateAvg)
	if len(out) != 2 {
		t.Fatalf("expected 2 buckets, got %+v", out)
	}
	if out[0].Value != 15 || !out[0].Timestamp.Equal(base) {
		t.Fatalf("unexpected first bucket: %+v", out[0])
	}
	if out[1].Value != 40 || !out[1].Timestamp.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected second bucket: %+v", out[1])
	}
}

func TestDownsampleMinMax(t *testing.T) {
	base := time.UnixMilli(0)
	raw := []domain.AggregatePoint{
		{Timestamp: base.Add(time.Second), Value: 3},
		{Timestamp: base.Add(2 * time.Second), Value: 9},
		{Timestamp: base.Add(3 * time.Second), Value: 6},
	}

	if out := Downsample(raw, time.Minute, domain.AggregateMin); out[0].Value != 3 {
		t.Fatalf("min bucket wrong: %+v", out)
	}
	if out := Downsample(raw, time.Minute, domain.AggregateMax); out[0].Value != 9 {
		t.Fatalf("max bucket wrong: %+v", out)
	}
}

func TestDownsamplePassthrough(t *testing.T) {
	raw := []domain.AggregatePoint{{Timestamp: time.UnixMilli(5), Value: 1}}
	if out := Downsample(raw, 0, domain.AggregateAvg); len(out) != 1 || out[0] != raw[0] {
		t.Fatalf("zero resolution should pass raw points through: %+v", out)
	}
	if out := Downsample(nil, time.Minute, domain.AggregateAvg); len(out) != 0 {
		t.Fatalf("empty input should stay empty")
	}
}

func TestConfigDefaultsAndValidation(t *testing.T) {
	if _, err := NewSource(Config{}); err == nil {
		t.Fatalf("endpoint is required")
	}

	src, err := NewSource(Config{Endpoint: "opc.tcp://plant:4840"})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	if src.cfg.SecurityMode != "None" || src.cfg.ApplicationName != "TrendFlow" {
		t.Fatalf("defaults not applied: %+v", src.cfg)
	}
}
