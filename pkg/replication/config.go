package replication

import (
	"errors"
	"fmt"

	"github.com/QYUbit/replix/pkg/packet"
	"github.com/caarlos0/env/v11"
)

var ErrInvalidConfig = errors.New("replication: invalid config")

// Config bounds the work done per observer and tick.
type Config struct {
	// MTU is the packet size including the 5 byte header.
	MTU int `env:"REPLIX_MTU" envDefault:"1300"`
	// MaxBytes caps the payload of one observer's stream per tick.
	MaxBytes int `env:"REPLIX_MAX_BYTES" envDefault:"16384"`
	// MaxEntities caps the entity records of one observer's stream per tick.
	MaxEntities int `env:"REPLIX_MAX_ENTITIES" envDefault:"512"`
	// Workers is the number of observers replicated in parallel.
	Workers int `env:"REPLIX_WORKERS" envDefault:"4"`
	// PendingStreams bounds the incomplete streams a Receiver buffers.
	PendingStreams int `env:"REPLIX_PENDING_STREAMS" envDefault:"16"`
}

func DefaultConfig() Config {
	return Config{
		MTU:            packet.DefaultMTU,
		MaxBytes:       16384,
		MaxEntities:    512,
		Workers:        4,
		PendingStreams: 16,
	}
}

// LoadConfig reads Config from the environment and validates it.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// streamOverhead is the tick prefix plus the end marker.
const streamOverhead = 8

// Capacity returns the largest payload a stream can carry at c.MTU. The
// end marker is a fixed width write and may waste up to 3 bytes.
func (c Config) Capacity() int {
	return packet.MaxPackets*(c.MTU-packet.HeaderSize) - 3
}

func (c Config) Validate() error {
	switch {
	case c.MTU < packet.MinMTU:
		return fmt.Errorf("%w: mtu %d below %d", ErrInvalidConfig, c.MTU, packet.MinMTU)
	case c.MaxBytes <= streamOverhead+recordHeaderSize:
		return fmt.Errorf("%w: max bytes %d cannot hold a record", ErrInvalidConfig, c.MaxBytes)
	case c.MaxBytes > c.Capacity():
		return fmt.Errorf("%w: max bytes %d exceeds %d packets of mtu %d", ErrInvalidConfig, c.MaxBytes, packet.MaxPackets, c.MTU)
	case c.MaxEntities <= 0:
		return fmt.Errorf("%w: max entities must be positive", ErrInvalidConfig)
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.PendingStreams <= 0:
		return fmt.Errorf("%w: pending streams must be positive", ErrInvalidConfig)
	}
	return nil
}
