package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sink names accepted in Config.Sink.
const (
	SinkLog    = "log"
	SinkIT8951 = "it8951"
)

// SPIConfig describes the wiring of the IT8951 controller board.
type SPIConfig struct {
	// Port is the periph SPI port name ("" = default, e.g. /dev/spidev0.0).
	Port  string `yaml:"port"`
	MaxHz int64  `yaml:"max_hz"`

	CSPin   string `yaml:"cs_pin"`
	RSTPin  string `yaml:"rst_pin"`
	HRDYPin string `yaml:"hrdy_pin"`

	// VCOM in millivolts as printed on the panel's FPC cable; 0 keeps the
	// controller's value.
	VCOM int `yaml:"vcom"`

	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// Config is the update server's configuration.
type Config struct {
	// QueueKey is the System V key of the update channel. Every producer
	// must use the same key.
	QueueKey int `yaml:"queue_key"`

	// ShmName and ShmDir locate the shared pixel surface.
	ShmName string `yaml:"shm_name"`
	ShmDir  string `yaml:"shm_dir"`

	// SemDir is where wait semaphores are looked up.
	SemDir string `yaml:"sem_dir"`

	// Width and Height are the panel resolution in pixels.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Sink selects the device sink: "log" (dry run) or "it8951".
	Sink string    `yaml:"sink"`
	SPI  SPIConfig `yaml:"spi"`

	// StatusListen, if set, serves /health, /api/status and /preview.png.
	StatusListen string `yaml:"status_listen"`

	// GhostPurge is a cron expression for periodic full-screen GC16
	// refreshes. Empty disables it.
	GhostPurge string `yaml:"ghost_purge"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		QueueKey: 0x2257c,
		ShmName:  "/swtfb.01",
		ShmDir:   "/dev/shm",
		SemDir:   "/dev/shm",
		Width:    1404,
		Height:   1872,
		LogLevel: "info",
		Sink:     SinkLog,
		SPI: SPIConfig{
			MaxHz:        12_000_000,
			CSPin:        "GPIO8",
			RSTPin:       "GPIO17",
			HRDYPin:      "GPIO24",
			ReadyTimeout: 5 * time.Second,
		},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.QueueKey == 0 {
		c.QueueKey = d.QueueKey
	}
	if c.ShmName == "" {
		c.ShmName = d.ShmName
	}
	if c.ShmDir == "" {
		c.ShmDir = d.ShmDir
	}
	if c.SemDir == "" {
		c.SemDir = d.SemDir
	}
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = d.Width, d.Height
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	c.Sink = strings.ToLower(strings.TrimSpace(c.Sink))
	if c.Sink == "" {
		c.Sink = d.Sink
	}
	if c.SPI.MaxHz <= 0 {
		c.SPI.MaxHz = d.SPI.MaxHz
	}
	if c.SPI.CSPin == "" {
		c.SPI.CSPin = d.SPI.CSPin
	}
	if c.SPI.RSTPin == "" {
		c.SPI.RSTPin = d.SPI.RSTPin
	}
	if c.SPI.HRDYPin == "" {
		c.SPI.HRDYPin = d.SPI.HRDYPin
	}
	if c.SPI.ReadyTimeout <= 0 {
		c.SPI.ReadyTimeout = d.SPI.ReadyTimeout
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	switch c.Sink {
	case SinkLog, SinkIT8951:
	default:
		return fmt.Errorf("config: unknown sink %q", c.Sink)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if !strings.HasPrefix(c.ShmName, "/") || strings.Contains(c.ShmName[1:], "/") {
		return fmt.Errorf("config: shm_name %q must be a single /name", c.ShmName)
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written there with
//     0600 permissions and returned.
//   - Otherwise the YAML is read, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions, creating the parent
// directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".swtfb-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
