package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeConf(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "conf.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envRootDir, t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ServerURL != "ws://127.0.0.1:8000/ws" {
		t.Fatalf("ServerURL=%q, want ws://127.0.0.1:8000/ws", cfg.ServerURL)
	}
	if cfg.ReconnectDelay != 2*time.Second {
		t.Fatalf("ReconnectDelay=%v, want 2s", cfg.ReconnectDelay)
	}
	if cfg.Audio.Format != "auto" || cfg.Audio.SampleRate != 24000 || cfg.Audio.Channels != 1 {
		t.Fatalf("Audio=%+v, want auto/24000/1", cfg.Audio)
	}
	if cfg.Playback.Mode != "overlap" {
		t.Fatalf("Playback.Mode=%q, want overlap", cfg.Playback.Mode)
	}
	if cfg.Log.File.Name != "voicestream.log" {
		t.Fatalf("Log.File.Name=%q, want voicestream.log", cfg.Log.File.Name)
	}
	if !filepath.IsAbs(cfg.Log.File.Path) {
		t.Fatalf("Log.File.Path=%q, want absolute", cfg.Log.File.Path)
	}
}

func TestLoadMergesConfFromRootDir(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "server_url: wss://speech.example.com/ws\nvoice: 2\nreconnect_delay: 500ms\nplayback:\n  mode: ordered\n")
	t.Setenv(envRootDir, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ServerURL != "wss://speech.example.com/ws" || cfg.Voice != 2 {
		t.Fatalf("ServerURL=%q Voice=%d, want merged values", cfg.ServerURL, cfg.Voice)
	}
	if cfg.ReconnectDelay != 500*time.Millisecond {
		t.Fatalf("ReconnectDelay=%v, want 500ms", cfg.ReconnectDelay)
	}
	if cfg.Playback.Mode != "ordered" {
		t.Fatalf("Playback.Mode=%q, want ordered", cfg.Playback.Mode)
	}
	if cfg.Audio.SampleRate != 24000 {
		t.Fatalf("Audio.SampleRate=%d, want default 24000", cfg.Audio.SampleRate)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(envRootDir, t.TempDir())
	t.Setenv("VOICESTREAM_SERVER_URL", "ws://10.0.0.5:9000/ws")
	t.Setenv("VOICESTREAM_DEVICE_BACKEND", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ServerURL != "ws://10.0.0.5:9000/ws" {
		t.Fatalf("ServerURL=%q, want env override", cfg.ServerURL)
	}
	if cfg.Device.Backend != "memory" {
		t.Fatalf("Device.Backend=%q, want memory", cfg.Device.Backend)
	}
}

func TestLoadConfigExplicitPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "config")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll error: %v", err)
	}
	path := writeConf(t, dir, "audio:\n  format: pcm16\n  sample_rate: 16000\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.RootDir != filepath.Dir(dir) {
		t.Fatalf("RootDir=%q, want parent of config dir %q", cfg.RootDir, filepath.Dir(dir))
	}
	if cfg.Audio.Format != "pcm16" || cfg.DecoderConfig().SampleRate != 16000 {
		t.Fatalf("Audio=%+v, want pcm16/16000", cfg.Audio)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := writeConf(t, dir, "server_url: http://example.com\nplayback:\n  mode: shuffle\n")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("LoadConfig error=nil, want validation error")
	}
	for _, want := range []string{"server_url", "playback.mode"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error=%q, want mention of %s", err, want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		ServerURL:      "ws://127.0.0.1:8000/ws",
		ReconnectDelay: time.Second,
		Audio:          AudioConfig{Format: "auto"},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no host", mutate: func(c *Config) { c.ServerURL = "ws:///ws" }},
		{name: "zero delay", mutate: func(c *Config) { c.ReconnectDelay = 0 }},
		{name: "unknown format", mutate: func(c *Config) { c.Audio.Format = "mp3" }},
		{name: "unknown backend", mutate: func(c *Config) { c.Device.Backend = "alsa" }},
		{name: "status without addr", mutate: func(c *Config) { c.Status = StatusConfig{Enabled: true} }},
	}
	for _, tt := range tests {
		cfg := valid
		tt.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: Validate error=nil, want error", tt.name)
		}
	}
}

func TestEncodeRendersDurations(t *testing.T) {
	t.Setenv(envRootDir, t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	data, err := Encode(cfg)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("yaml.Unmarshal error: %v", err)
	}
	if out["reconnect_delay"] != "2s" {
		t.Fatalf("reconnect_delay=%v, want 2s", out["reconnect_delay"])
	}
	if out["server_url"] != "ws://127.0.0.1:8000/ws" {
		t.Fatalf("server_url=%v, want default", out["server_url"])
	}
}
