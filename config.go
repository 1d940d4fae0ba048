package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every option of the program. Zero values are replaced by
// DefaultConfig.
type Config struct {
	Debug bool   `yaml:"debug"`
	UI    string `yaml:"ui"` // log, tui or none

	// RescanInterval is how often the MIDI watcher enumerates inputs.
	RescanInterval time.Duration `yaml:"rescan_interval"`

	// Ports matching any of these patterns are never opened (virtual/system ports).
	Exclude []string `yaml:"exclude"`

	HTTPAddr string `yaml:"http_addr"`

	NATSURL    string `yaml:"nats_url"`
	NATSPrefix string `yaml:"nats_prefix"`

	OSCHost string `yaml:"osc_host"`
	OSCPort int    `yaml:"osc_port"`

	Serial SerialConfig `yaml:"serial"`
}

// SerialConfig configures the serial tempo display.
type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	// Preferred picks the device shown on the serial display; the first
	// pattern that matches a connected device wins.
	Preferred []string `yaml:"preferred"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		UI:             "log",
		RescanInterval: time.Second,
		Exclude:        []string{"Midi Through", "Through Port", "Dummy"},
		NATSPrefix:     "midiclock",
		Serial: SerialConfig{
			Baud: 115200,
		},
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks option values that cannot be fixed up silently.
func (c Config) Validate() error {
	switch c.UI {
	case "log", "tui", "none":
	default:
		return fmt.Errorf("unknown ui %q (want log, tui or none)", c.UI)
	}
	if c.RescanInterval <= 0 {
		return fmt.Errorf("rescan interval must be positive, got %s", c.RescanInterval)
	}
	if c.OSCHost != "" && (c.OSCPort <= 0 || c.OSCPort > 65535) {
		return fmt.Errorf("invalid osc port %d", c.OSCPort)
	}
	if c.Serial.Device != "" && c.Serial.Baud <= 0 {
		return fmt.Errorf("invalid serial baud rate %d", c.Serial.Baud)
	}
	return nil
}

// parseFlags builds the configuration from the command line. Flags that are
// set explicitly override values from the -config file.
func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	def := DefaultConfig()
	path := fs.String("config", "", "YAML config file")
	debug := fs.Bool("debug", def.Debug, "enable debug logging (adds source location)")
	ui := fs.String("ui", def.UI, "display: log, tui or none")
	rescan := fs.Duration("rescan", def.RescanInterval, "MIDI input rescan interval")
	httpAddr := fs.String("http", "", "serve the live tempo feed on this address, e.g. :8080")
	natsURL := fs.String("nats", "", "publish tempo events to this NATS server")
	natsPrefix := fs.String("nats-prefix", def.NATSPrefix, "NATS subject prefix")
	oscHost := fs.String("osc-host", "", "send tempo as OSC to this host")
	oscPort := fs.Int("osc-port", 9000, "OSC port")
	serialDev := fs.String("serial", "", "serial tempo display device, e.g. /dev/ttyACM0")
	baud := fs.Int("baud", def.Serial.Baud, "serial baud rate")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg, err := LoadConfig(*path)
	if err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "debug":
			cfg.Debug = *debug
		case "ui":
			cfg.UI = *ui
		case "rescan":
			cfg.RescanInterval = *rescan
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "nats":
			cfg.NATSURL = *natsURL
		case "nats-prefix":
			cfg.NATSPrefix = *natsPrefix
		case "osc-host":
			cfg.OSCHost = *oscHost
		case "osc-port":
			cfg.OSCPort = *oscPort
		case "serial":
			cfg.Serial.Device = *serialDev
		case "baud":
			cfg.Serial.Baud = *baud
		}
	})
	if cfg.OSCHost != "" && cfg.OSCPort == 0 {
		cfg.OSCPort = *oscPort
	}
	return cfg, cfg.Validate()
}
