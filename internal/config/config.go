package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appdefaults "github.com/saker-ai/voicestream/config"

	"github.com/saker-ai/voicestream/internal/logger"
	"github.com/saker-ai/voicestream/internal/playback"
	"github.com/saker-ai/voicestream/pkg/audio"
	"github.com/saker-ai/voicestream/pkg/audioout"
)

const (
	envPrefix  = "voicestream"
	envRootDir = "VOICESTREAM_ROOT_DIR"
)

// AudioConfig describes how inbound audio payloads are decoded.
type AudioConfig struct {
	Format     string `mapstructure:"format" yaml:"format"`
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
}

// DeviceConfig represents the audio output device configuration.
type DeviceConfig struct {
	Backend    string   `mapstructure:"backend" yaml:"backend"`
	Command    string   `mapstructure:"command" yaml:"command"`
	Args       []string `mapstructure:"args" yaml:"args"`
	SampleRate int      `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int      `mapstructure:"channels" yaml:"channels"`
}

// PlaybackConfig represents a playbackConfig.
type PlaybackConfig struct {
	Mode string `mapstructure:"mode" yaml:"mode"`
}

// StatusConfig controls the local status server.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// Config represents a config.
type Config struct {
	RootDir        string         `mapstructure:"-" yaml:"-"`
	ServerURL      string         `mapstructure:"server_url" yaml:"server_url"`
	Voice          int            `mapstructure:"voice" yaml:"voice"`
	ReconnectDelay time.Duration  `mapstructure:"reconnect_delay" yaml:"-"`
	Audio          AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Device         DeviceConfig   `mapstructure:"device" yaml:"device"`
	Playback       PlaybackConfig `mapstructure:"playback" yaml:"playback"`
	Status         StatusConfig   `mapstructure:"status" yaml:"status"`
	Log            logger.Config  `mapstructure:"log" yaml:"log"`
}

// Load reads the embedded defaults, then conf.yaml from the root dir when
// present, then VOICESTREAM_* environment overrides.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigName("conf")
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)

	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}
	return decode(v, rootDir)
}

// LoadConfig reads configPath over the embedded defaults. An empty path
// falls back to Load.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv(envRootDir))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}
	return decode(v, rootDir)
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return nil, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetDefault("server_url", "ws://127.0.0.1:8000/ws")
	v.SetDefault("voice", 0)
	v.SetDefault("reconnect_delay", "2s")
	v.SetDefault("audio.format", audio.FormatAuto)
	v.SetDefault("audio.sample_rate", 24000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("device.backend", audioout.BackendProcess)
	v.SetDefault("device.sample_rate", 24000)
	v.SetDefault("device.channels", 1)
	v.SetDefault("playback.mode", playback.ModeOverlap)
	v.SetDefault("status.enabled", false)
	v.SetDefault("status.addr", "127.0.0.1:8102")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.stdout", false)
	v.SetDefault("log.file.enabled", true)
	v.SetDefault("log.file.path", "./data/logs")
	v.SetDefault("log.file.name", "voicestream.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func decode(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.RootDir = rootDir
	derivePaths(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be fixed up with a default.
func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(strings.TrimSpace(c.ServerURL))
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("server_url: %w", err))
	case u.Scheme != "ws" && u.Scheme != "wss":
		errs = append(errs, fmt.Errorf("server_url: scheme must be ws or wss, got %q", u.Scheme))
	case u.Host == "":
		errs = append(errs, errors.New("server_url: host is empty"))
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("reconnect_delay must be positive, got %s", c.ReconnectDelay))
	}
	if _, err := audio.NewDecoder(c.DecoderConfig()); err != nil {
		errs = append(errs, fmt.Errorf("audio.format: %w", err))
	}
	if _, err := playback.NormalizeMode(c.Playback.Mode); err != nil {
		errs = append(errs, fmt.Errorf("playback.mode: %w", err))
	}
	switch strings.TrimSpace(strings.ToLower(c.Device.Backend)) {
	case "", audioout.BackendProcess, audioout.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("device.backend: unsupported backend %q", c.Device.Backend))
	}
	if c.Status.Enabled && strings.TrimSpace(c.Status.Addr) == "" {
		errs = append(errs, errors.New("status.addr is required when status.enabled is set"))
	}
	return errors.Join(errs...)
}

// DecoderConfig maps the audio section onto the decoder.
func (c Config) DecoderConfig() audio.DecoderConfig {
	return audio.DecoderConfig{
		Format:     c.Audio.Format,
		SampleRate: c.Audio.SampleRate,
		Channels:   c.Audio.Channels,
	}
}

// DeviceConfig maps the device section onto the output device.
func (c Config) DeviceConfig() audioout.Config {
	return audioout.Config{
		Backend:    c.Device.Backend,
		Command:    c.Device.Command,
		Args:       c.Device.Args,
		SampleRate: c.Device.SampleRate,
		Channels:   c.Device.Channels,
	}
}

// Encode renders the effective configuration as YAML.
func Encode(cfg Config) ([]byte, error) {
	out := struct {
		Config         `yaml:",inline"`
		ReconnectDelay string `yaml:"reconnect_delay"`
	}{
		Config:         cfg,
		ReconnectDelay: cfg.ReconnectDelay.String(),
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv(envRootDir)); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	if cfg.Log.File.Enabled {
		cfg.Log.File.Path = resolvePath(cfg.RootDir, cfg.Log.File.Path, filepath.Join("data", "logs"))
	}
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
