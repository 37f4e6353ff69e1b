package replication

import (
	"testing"

	"github.com/QYUbit/replix/pkg/codec"
	"github.com/QYUbit/replix/pkg/packet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("REPLIX_MTU", "1200")
	t.Setenv("REPLIX_MAX_BYTES", "4096")
	t.Setenv("REPLIX_MAX_ENTITIES", "64")
	t.Setenv("REPLIX_WORKERS", "2")
	t.Setenv("REPLIX_PENDING_STREAMS", "8")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, Config{MTU: 1200, MaxBytes: 4096, MaxEntities: 64, Workers: 2, PendingStreams: 8}, cfg)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("unparsable", func(t *testing.T) {
		t.Setenv("REPLIX_MTU", "large")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "parse env")
	})
	t.Run("invalid", func(t *testing.T) {
		t.Setenv("REPLIX_WORKERS", "0")
		_, err := LoadConfig()
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestConfigValidate(t *testing.T) {
	small := DefaultConfig()
	small.MTU = packet.MinMTU
	small.MaxBytes = small.Capacity()
	require.NoError(t, small.Validate())

	tests := []struct {
		name string
		edit func(*Config)
	}{
		{"mtu below minimum", func(c *Config) { c.MTU = packet.MinMTU - 1 }},
		{"max bytes cannot hold a record", func(c *Config) { c.MaxBytes = streamOverhead + recordHeaderSize }},
		{"max bytes exceeds packet limit", func(c *Config) { c.MTU = 64; c.MaxBytes = c.Capacity() + 1 }},
		{"no entities", func(c *Config) { c.MaxEntities = 0 }},
		{"no workers", func(c *Config) { c.Workers = -1 }},
		{"no pending streams", func(c *Config) { c.PendingStreams = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.edit(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestCapacityFitsPacketLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MTU = 32
	cfg.MaxBytes = cfg.Capacity()

	s, err := packet.NewStream(cfg.MTU)
	require.NoError(t, err)
	for s.Len() < cfg.MaxBytes-4 {
		s.WriteU8(0)
	}
	s.WriteU32(EndOfStream)
	assert.NoError(t, s.Err())
	assert.LessOrEqual(t, s.PacketCount(), packet.MaxPackets)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	point := codec.Record(codec.F("x", codec.Scalar(codec.F64)))

	require.NoError(t, reg.Register(7, "point", point))
	require.NoError(t, reg.Register(3, "hp", codec.Scalar(codec.U16)))

	assert.ErrorIs(t, reg.Register(7, "again", point), ErrDuplicateComponent)
	assert.ErrorIs(t, reg.Register(0, "zero", point), ErrReservedComponent)
	assert.ErrorIs(t, reg.Register(9, "empty", codec.Record()), codec.ErrInvalidSchema)

	c, ok := reg.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, "point", c.Name)
	_, ok = reg.Lookup(9)
	assert.False(t, ok)

	var ids []uint16
	for _, c := range reg.Components() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []uint16{3, 7}, ids)

	assert.Panics(t, func() { reg.MustRegister(3, "hp", codec.Scalar(codec.U16)) })
	assert.EqualError(t, ErrUnknownComponent{ID: 12}, "replication: unknown component 12")
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.sent(1, 2, 3, 4)
		m.sendFailed()
		m.applied()
		m.discarded()
		m.setObservers(1)
		m.observeTick(0)
	})
}

func TestMetricsRegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
