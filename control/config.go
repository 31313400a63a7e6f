// control/config.go
// Author: momentics <momentics@gmail.com>
//
// File configuration for the server, client and connection layers.

package control

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/momentics/hioload-wsmsg/internal/logging"
	"github.com/momentics/hioload-wsmsg/protocol"
)

// Config mirrors the configuration file:
//
//	[server]     listening endpoint
//	[connection] per-connection limits and auto replies
//	[client]     outbound connect
//	[log]        logger setup
type Config struct {
	Server     ServerSection       `toml:"server"`
	Connection protocol.ConnConfig `toml:"connection"`
	Client     ClientSection       `toml:"client"`
	Log        LogSection          `toml:"log"`
}

type ServerSection struct {
	Host             string        `toml:"host"`
	Port             int           `toml:"port"`
	Handshake        bool          `toml:"handshake"`
	HandshakeTimeout time.Duration `toml:"handshake_timeout"`
	MaxPending       int           `toml:"max_pending"`
	ReusePort        bool          `toml:"reuse_port"`
}

type ClientSection struct {
	URL              string        `toml:"url"`
	Handshake        bool          `toml:"handshake"`
	HandshakeTimeout time.Duration `toml:"handshake_timeout"`
	UseProxy         bool          `toml:"use_proxy"`
	ReconnectMax     int           `toml:"reconnect_max"`
	FragmentSize     int           `toml:"fragment_size"`
}

type LogSection struct {
	Level     string `toml:"level"`
	Timestamp bool   `toml:"timestamp"`
	NoColor   bool   `toml:"no_color"`
	JSON      bool   `toml:"json"`
}

// DefaultConfig returns the values used for keys missing from the file.
func DefaultConfig() Config {
	return Config{
		Server: ServerSection{
			Port:             9000,
			Handshake:        true,
			HandshakeTimeout: 5 * time.Second,
			MaxPending:       128,
		},
		Connection: protocol.DefaultConnConfig(),
		Client: ClientSection{
			URL:              "ws://127.0.0.1:9000/",
			Handshake:        true,
			HandshakeTimeout: 5 * time.Second,
		},
		Log: LogSection{Level: "info", Timestamp: true},
	}
}

// LoadConfig reads path over the defaults. Unknown keys are an error so
// that typos do not silently fall back to defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("control: decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("control: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("control: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxPending < 0 {
		errs = append(errs, errors.New("server.max_pending must not be negative"))
	}
	if c.Connection.MaxFrameSize < 0 {
		errs = append(errs, errors.New("connection.max_frame_size must not be negative"))
	}
	if c.Connection.MaxMessageSize < 0 {
		errs = append(errs, errors.New("connection.max_message_size must not be negative"))
	}
	if c.Connection.AssemblyTimeout < 0 {
		errs = append(errs, errors.New("connection.assembly_timeout must not be negative"))
	}
	if c.Client.ReconnectMax < 0 {
		errs = append(errs, errors.New("client.reconnect_max must not be negative"))
	}
	if c.Client.FragmentSize < 0 {
		errs = append(errs, errors.New("client.fragment_size must not be negative"))
	}
	if _, ok := logging.ParseLevel(c.Log.Level); c.Log.Level != "" && !ok {
		errs = append(errs, fmt.Errorf("log.level %q not recognised", c.Log.Level))
	}
	return errors.Join(errs...)
}

// ApplyLogging installs the [log] section as the process logger. An empty
// level means info.
func (c Config) ApplyLogging() {
	lvl, _ := logging.ParseLevel(c.Log.Level)
	logging.Apply(logging.Config{
		Level:     lvl,
		Timestamp: c.Log.Timestamp,
		NoColor:   c.Log.NoColor,
		Bypass:    c.Log.JSON,
	})
}
