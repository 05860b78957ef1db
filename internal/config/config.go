package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/beeper/groundstation-gateway/internal/gateway"
	"github.com/beeper/groundstation-gateway/internal/link"
	"github.com/beeper/groundstation-gateway/internal/satellite"
)

type Config struct {
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Control   ControlConfig   `yaml:"control"`
	NATS      NATSConfig      `yaml:"nats"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Timing    TimingConfig    `yaml:"timing"`
	Log       LogConfig       `yaml:"log"`
	Satellite SatelliteConfig `yaml:"satellite"`
}

type APIConfig struct {
	Listen string `yaml:"listen"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// ControlConfig locates the control system.
type ControlConfig struct {
	URL               string        `yaml:"url"`
	RESTURL           string        `yaml:"rest_url"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ChunkSize         int           `yaml:"chunk_size"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

type NATSConfig struct {
	URL             string        `yaml:"url"`
	Name            string        `yaml:"name"`
	UplinkSubject   string        `yaml:"uplink_subject"`
	DownlinkSubject string        `yaml:"downlink_subject"`
	ReconnectWait   time.Duration `yaml:"reconnect_wait"`
	MaxReconnects   int           `yaml:"max_reconnects"`
}

type GatewayConfig struct {
	StagingDir string `yaml:"staging_dir"`
	Tombstones int    `yaml:"tombstones"`
}

// TimingConfig paces the simulated ground hardware and the handshake.
type TimingConfig struct {
	HardwareTick      time.Duration `yaml:"hardware_tick"`
	OrientTick        time.Duration `yaml:"orient_tick"`
	OrientStep        int           `yaml:"orient_step"`
	OrientMaxAngle    int           `yaml:"orient_max_angle"`
	CarrierTick       time.Duration `yaml:"carrier_tick"`
	CarrierMaxWait    time.Duration `yaml:"carrier_max_wait"`
	HandshakeInterval time.Duration `yaml:"handshake_interval"`
	HandshakeAttempts int           `yaml:"handshake_attempts"`
	ChecksumLatency   time.Duration `yaml:"checksum_latency"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// File enables a rotated log file next to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// SatelliteConfig is only read by the simulated satellite.
type SatelliteConfig struct {
	System            string        `yaml:"system"`
	LibraryDir        string        `yaml:"library_dir"`
	DownlinkDir       string        `yaml:"downlink_dir"`
	ChunkSize         int           `yaml:"chunk_size"`
	TelemetryInterval time.Duration `yaml:"telemetry_interval"`
	TelemetryDuration time.Duration `yaml:"telemetry_duration"`
	SafemodePause     time.Duration `yaml:"safemode_pause"`
}

func Default() Config {
	t := gateway.DefaultTiming()
	s := satellite.DefaultConfig()
	subjects := link.DefaultSubjects()
	return Config{
		API:     APIConfig{Listen: ":8000"},
		Metrics: MetricsConfig{Listen: ":5000"},
		Control: ControlConfig{
			URL:               "ws://localhost:8080/gateway_api/v1.0/ws",
			RESTURL:           "http://localhost:8080",
			ReconnectInterval: 5 * time.Second,
			ChunkSize:         32 * 1024,
			WriteTimeout:      10 * time.Second,
		},
		NATS: NATSConfig{
			URL:             "nats://localhost:4222",
			Name:            "groundstation-gateway",
			UplinkSubject:   subjects.Uplink,
			DownlinkSubject: subjects.Downlink,
			ReconnectWait:   2 * time.Second,
			MaxReconnects:   -1,
		},
		Gateway: GatewayConfig{Tombstones: 1024},
		Timing: TimingConfig{
			HardwareTick:      t.HardwareTick,
			OrientTick:        t.OrientTick,
			OrientStep:        t.OrientStep,
			OrientMaxAngle:    t.OrientMaxAngle,
			CarrierTick:       t.CarrierTick,
			CarrierMaxWait:    t.CarrierMaxWait,
			HandshakeInterval: t.HandshakeInterval,
			HandshakeAttempts: t.HandshakeAttempts,
			ChecksumLatency:   t.ChecksumLatency,
		},
		Log: LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
		Satellite: SatelliteConfig{
			System:            s.System,
			LibraryDir:        s.LibraryDir,
			DownlinkDir:       s.DownlinkDir,
			ChunkSize:         s.ChunkSize,
			TelemetryInterval: s.TelemetryInterval,
			TelemetryDuration: s.TelemetryDuration,
			SafemodePause:     s.SafemodePause,
		},
	}
}

// Load reads a YAML file over the defaults. An empty filename yields the
// defaults. Environment overrides are applied last.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}
	if controlURL := os.Getenv("CONTROL_URL"); controlURL != "" {
		c.Control.URL = controlURL
	}
	if restURL := os.Getenv("CONTROL_REST_URL"); restURL != "" {
		c.Control.RESTURL = restURL
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
	if staging := os.Getenv("GATEWAY_STAGING_DIR"); staging != "" {
		c.Gateway.StagingDir = staging
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required"))
	}
	if c.NATS.UplinkSubject == "" || c.NATS.DownlinkSubject == "" {
		errs = append(errs, errors.New("nats subjects are required"))
	}
	if c.NATS.UplinkSubject != "" && c.NATS.UplinkSubject == c.NATS.DownlinkSubject {
		errs = append(errs, errors.New("nats uplink and downlink subjects must differ"))
	}
	if c.Control.URL == "" {
		errs = append(errs, errors.New("control.url is required"))
	}
	if c.Control.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("control.chunk_size must be positive, got %d", c.Control.ChunkSize))
	}
	if c.Gateway.Tombstones < 0 {
		errs = append(errs, fmt.Errorf("gateway.tombstones must not be negative, got %d", c.Gateway.Tombstones))
	}
	if c.Timing.HandshakeAttempts < 1 {
		errs = append(errs, fmt.Errorf("timing.handshake_attempts must be at least 1, got %d", c.Timing.HandshakeAttempts))
	}
	if c.Timing.OrientStep < 1 {
		errs = append(errs, fmt.Errorf("timing.orient_step must be at least 1, got %d", c.Timing.OrientStep))
	}
	if c.Control.WriteTimeout <= 0 {
		errs = append(errs, errors.New("control.write_timeout must be positive"))
	}
	if c.Satellite.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("satellite.chunk_size must be positive, got %d", c.Satellite.ChunkSize))
	}
	if c.Satellite.TelemetryInterval <= 0 {
		errs = append(errs, errors.New("satellite.telemetry_interval must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"hardware_tick":      c.Timing.HardwareTick,
		"orient_tick":        c.Timing.OrientTick,
		"carrier_tick":       c.Timing.CarrierTick,
		"handshake_interval": c.Timing.HandshakeInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("timing.%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) GatewayTiming() gateway.Timing {
	return gateway.Timing{
		HardwareTick:      c.Timing.HardwareTick,
		OrientTick:        c.Timing.OrientTick,
		OrientStep:        c.Timing.OrientStep,
		OrientMaxAngle:    c.Timing.OrientMaxAngle,
		CarrierTick:       c.Timing.CarrierTick,
		CarrierMaxWait:    c.Timing.CarrierMaxWait,
		HandshakeInterval: c.Timing.HandshakeInterval,
		HandshakeAttempts: c.Timing.HandshakeAttempts,
		ChecksumLatency:   c.Timing.ChecksumLatency,
	}
}

func (c *Config) Subjects() link.Subjects {
	return link.Subjects{Uplink: c.NATS.UplinkSubject, Downlink: c.NATS.DownlinkSubject}
}

// SatelliteConfig merges the satellite section over the simulator defaults.
func (c *Config) SatelliteConfig() satellite.Config {
	s := satellite.DefaultConfig()
	s.System = c.Satellite.System
	s.LibraryDir = c.Satellite.LibraryDir
	s.DownlinkDir = c.Satellite.DownlinkDir
	s.ChunkSize = c.Satellite.ChunkSize
	s.TelemetryInterval = c.Satellite.TelemetryInterval
	s.TelemetryDuration = c.Satellite.TelemetryDuration
	s.SafemodePause = c.Satellite.SafemodePause
	return s
}
