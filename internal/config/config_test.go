package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Tone.Frequency != 440 || cfg.Tone.DurationMS != 200 || cfg.Tone.GapMS != 50 {
		t.Fatalf("unexpected tone defaults %+v", cfg.Tone)
	}
	if cfg.Morse.Frequency != 750 || cfg.Morse.WPM != 20 {
		t.Fatalf("unexpected morse defaults %+v", cfg.Morse)
	}
	if cfg.Music.BPM != 120 || cfg.Output.Buffers != 3 {
		t.Fatalf("unexpected music/output defaults")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_NODE_ID", "test-node")
	t.Setenv("LOQA_NODE_HEARTBEAT_INTERVAL_MS", "1500")
	t.Setenv("LOQA_NODE_HEARTBEAT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_EVENT_STORE_MAX_JOBS", "123")
	t.Setenv("LOQA_EVENT_STORE_VACUUM_ON_START", "true")
	t.Setenv("LOQA_OUTPUT_DEVICE", "headless")
	t.Setenv("LOQA_OUTPUT_BUFFERS", "5")
	t.Setenv("LOQA_TONE_FREQUENCY", "1000.5")
	t.Setenv("LOQA_MORSE_WPM", "25")
	t.Setenv("LOQA_MORSE_CHAR_WPM", "30")
	t.Setenv("LOQA_MUSIC_BPM", "90")
	t.Setenv("LOQA_JOBS_CHUNK_BYTES", "4096")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" || cfg.Node.HeartbeatInterval != 1500 || cfg.Node.HeartbeatTimeout != 5000 {
		t.Fatalf("expected node overrides, got %+v", cfg.Node)
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
	if cfg.EventStore.RetentionDays != 7 || cfg.EventStore.MaxJobs != 123 || !cfg.EventStore.VacuumOnStart {
		t.Fatalf("expected event store retention overrides, got %+v", cfg.EventStore)
	}
	if cfg.Output.Device != "headless" || cfg.Output.Buffers != 5 {
		t.Fatalf("expected output overrides, got %+v", cfg.Output)
	}
	if cfg.Tone.Frequency != 1000.5 {
		t.Fatalf("expected tone frequency override, got %v", cfg.Tone.Frequency)
	}
	if cfg.Morse.WPM != 25 || cfg.Morse.CharWPM != 30 {
		t.Fatalf("expected morse overrides, got %+v", cfg.Morse)
	}
	if cfg.Music.BPM != 90 || cfg.Jobs.ChunkBytes != 4096 {
		t.Fatalf("expected music and jobs overrides")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beep.yaml")
	data := []byte(`
output:
  device: exec
  command: "aplay -q"
morse:
  wpm: 15
  standard: codex
music:
  bpm: 200
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Output.Device != "exec" || cfg.Output.Command != "aplay -q" {
		t.Fatalf("unexpected output %+v", cfg.Output)
	}
	if cfg.Morse.WPM != 15 || cfg.Morse.Standard != "codex" || cfg.Morse.Frequency != 750 {
		t.Fatalf("unexpected morse %+v", cfg.Morse)
	}
	if cfg.Music.BPM != 200 {
		t.Fatalf("unexpected bpm %v", cfg.Music.BPM)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateBounds(t *testing.T) {
	cases := map[string]func(*Config){
		"low frequency":   func(c *Config) { c.Tone.Frequency = 19 },
		"high frequency":  func(c *Config) { c.Morse.Frequency = 20001 },
		"slow wpm":        func(c *Config) { c.Morse.WPM = 4 },
		"fast wpm":        func(c *Config) { c.Morse.WPM = 61 },
		"char below wpm":  func(c *Config) { c.Morse.CharWPM = 10 },
		"word space":      func(c *Config) { c.Morse.WordSpace = 0.5 },
		"standard":        func(c *Config) { c.Morse.Standard = "lisbon" },
		"slow bpm":        func(c *Config) { c.Music.BPM = 19 },
		"fast bpm":        func(c *Config) { c.Music.BPM = 501 },
		"negative gap":    func(c *Config) { c.Music.GapMS = -1 },
		"negative repeat": func(c *Config) { c.Tone.Repeats = -1 },
		"no buffers":      func(c *Config) { c.Output.Buffers = 0 },
		"device":          func(c *Config) { c.Output.Device = "gramophone" },
		"exec command":    func(c *Config) { c.Output.Device, c.Output.Command = "exec", " " },
		"keyer port":      func(c *Config) { c.Output.Device = "keyer" },
		"chunk bytes":     func(c *Config) { c.Jobs.ChunkBytes = 0 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := validate(Default()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
