/*
Package config loads client settings from a yaml file, with environment variables taking
precedence over whatever the file says. The file is read and written under a lock so that several
processes can share one.
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/gatewaykit/gatewaylib/connection/gateway"
	"github.com/gatewaykit/gatewaylib/connection/httpclient"
	"github.com/gatewaykit/gatewaylib/connection/transporter/websocket"
	"github.com/gatewaykit/gatewaylib/logger"
)

const (
	EnvAddress          = "GATEWAY_ADDRESS"
	EnvCompress         = "GATEWAY_COMPRESS"
	EnvLenient          = "GATEWAY_LENIENT_DECOMPRESSION"
	EnvHandshakeTimeout = "GATEWAY_HANDSHAKE_TIMEOUT"
	EnvCloseGracePeriod = "GATEWAY_CLOSE_GRACE_PERIOD"
	EnvLogLevel         = "GATEWAY_LOG_LEVEL"
	EnvLogPath          = "GATEWAY_LOG_PATH"
	EnvHttpTimeout      = "GATEWAY_HTTP_TIMEOUT"
	EnvHttpRetry        = "GATEWAY_HTTP_RETRY"

	lockSuffix = ".lock"
)

type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Log     LogConfig     `yaml:"log"`
	Http    HttpConfig    `yaml:"http"`
}

type GatewayConfig struct {
	Address              string        `yaml:"address"`
	Compress             bool          `yaml:"compress"`
	LenientDecompression bool          `yaml:"lenientDecompression"`
	HandshakeTimeout     time.Duration `yaml:"handshakeTimeout"`
	CloseGracePeriod     time.Duration `yaml:"closeGracePeriod"`
	ReadLimit            int64         `yaml:"readLimit"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"filePath,omitempty"`
}

type HttpConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Retry   bool          `yaml:"retry"`
}

func Defaults() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Compress:         true,
			HandshakeTimeout: websocket.DefaultHandshakeTimeout,
			CloseGracePeriod: websocket.DefaultCloseGracePeriod,
		},
		Log: LogConfig{
			Level: "info",
		},
		Http: HttpConfig{
			Timeout: httpclient.DefaultTimeout,
		},
	}
}

// Load reads path on top of the defaults and then applies the environment. A missing file is not
// an error; an empty path skips the file entirely.
func Load(path string) (*Config, error) {
	config := Defaults()

	if path != "" {
		if err := readFile(path, config); err != nil {
			return nil, err
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, &ValidationError{InnerErr: err}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save writes the config to path, creating its directory if needed
func Save(path string, config *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return &FileError{Path: path, InnerErr: err}
	}

	lock := flock.New(path + lockSuffix)
	if err := lock.Lock(); err != nil {
		return &FileError{Path: path, InnerErr: fmt.Errorf("failed to acquire lock: %w", err)}
	}
	defer lock.Unlock()

	contents, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, contents, 0600); err != nil {
		return &FileError{Path: path, InnerErr: err}
	}

	return nil
}

func readFile(path string, config *Config) error {
	// nothing saved yet, and no directory to put a lock file in either
	if _, err := os.Stat(filepath.Dir(path)); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	lock := flock.New(path + lockSuffix)
	if err := lock.RLock(); err != nil {
		return &FileError{Path: path, InnerErr: fmt.Errorf("failed to acquire lock: %w", err)}
	}
	defer lock.Unlock()

	contents, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return &FileError{Path: path, InnerErr: err}
	}

	if err := yaml.Unmarshal(contents, config); err != nil {
		return &ValidationError{InnerErr: err}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Gateway.HandshakeTimeout < 0 || c.Gateway.CloseGracePeriod < 0 || c.Http.Timeout < 0 {
		return &ValidationError{InnerErr: fmt.Errorf("timeouts cannot be negative")}
	}
	if c.Gateway.ReadLimit < 0 {
		return &ValidationError{InnerErr: fmt.Errorf("read limit cannot be negative")}
	}
	return nil
}

func (c *Config) GatewayOptions() gateway.Options {
	return gateway.Options{
		Address:              c.Gateway.Address,
		Compress:             c.Gateway.Compress,
		LenientDecompression: c.Gateway.LenientDecompression,
		Websocket: websocket.Options{
			HandshakeTimeout: c.Gateway.HandshakeTimeout,
			CloseGracePeriod: c.Gateway.CloseGracePeriod,
			ReadLimit:        c.Gateway.ReadLimit,
		},
	}
}

func (c *Config) LoggerConfig(console ...io.Writer) *logger.Config {
	return &logger.Config{
		FilePath:       c.Log.FilePath,
		ConsoleWriters: console,
		LogLevel:       logger.ToLogLevel(c.Log.Level),
	}
}

func (c *Config) HttpOptions() httpclient.Options {
	return httpclient.Options{
		Retry:   c.Http.Retry,
		Timeout: c.Http.Timeout,
	}
}

func (c *Config) applyEnv() error {
	if value, ok := os.LookupEnv(EnvAddress); ok {
		c.Gateway.Address = value
	}
	if value, ok := os.LookupEnv(EnvLogLevel); ok {
		c.Log.Level = value
	}
	if value, ok := os.LookupEnv(EnvLogPath); ok {
		c.Log.FilePath = value
	}

	bools := map[string]*bool{
		EnvCompress:  &c.Gateway.Compress,
		EnvLenient:   &c.Gateway.LenientDecompression,
		EnvHttpRetry: &c.Http.Retry,
	}
	for env, target := range bools {
		if value, ok := os.LookupEnv(env); ok {
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("%s must be a boolean: %w", env, err)
			}
			*target = parsed
		}
	}

	durations := map[string]*time.Duration{
		EnvHandshakeTimeout: &c.Gateway.HandshakeTimeout,
		EnvCloseGracePeriod: &c.Gateway.CloseGracePeriod,
		EnvHttpTimeout:      &c.Http.Timeout,
	}
	for env, target := range durations {
		if value, ok := os.LookupEnv(env); ok {
			parsed, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("%s must be a duration: %w", env, err)
			}
			*target = parsed
		}
	}

	return nil
}
