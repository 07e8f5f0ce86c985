package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Output      OutputConfig     `yaml:"output"`
	Tone        ToneConfig       `yaml:"tone"`
	Morse       MorseConfig      `yaml:"morse"`
	Music       MusicConfig      `yaml:"music"`
	Jobs        JobsConfig       `yaml:"jobs"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string           `yaml:"id"`
	Role              string           `yaml:"role"`
	HeartbeatInterval int              `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int              `yaml:"heartbeat_timeout_ms"`
	Capabilities      []NodeCapability `yaml:"capabilities"`
}

type NodeCapability struct {
	Name       string            `yaml:"name"`
	Tier       string            `yaml:"tier"`
	Attributes map[string]string `yaml:"attributes"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxJobs       int    `yaml:"max_jobs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// OutputConfig selects where audio goes and sizes the buffer pool.
type OutputConfig struct {
	Device         string `yaml:"device"` // oto, headless, exec, keyer
	Command        string `yaml:"command"`
	Buffers        int    `yaml:"buffers"`
	BufferSamples  int    `yaml:"buffer_samples"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
	SerialPort     string `yaml:"serial_port"`
	SerialBaud     int    `yaml:"serial_baud"`
	KeyLine        string `yaml:"key_line"`
}

type ToneConfig struct {
	Frequency  float64 `yaml:"frequency"`
	DurationMS float64 `yaml:"duration_ms"`
	GapMS      float64 `yaml:"gap_ms"`
	Repeats    int     `yaml:"repeats"`
}

type MorseConfig struct {
	Frequency float64 `yaml:"frequency"`
	WPM       float64 `yaml:"wpm"`
	// CharWPM enables Farnsworth timing when greater than WPM.
	CharWPM   float64 `yaml:"char_wpm"`
	Standard  string  `yaml:"standard"`
	WordSpace float64 `yaml:"word_space"`
}

type MusicConfig struct {
	BPM   float64 `yaml:"bpm"`
	GapMS float64 `yaml:"gap_ms"`
}

type JobsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ChunkBytes int    `yaml:"chunk_bytes"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	TempDir    string `yaml:"temp_dir"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-beep",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "loqa-beep-1",
			Role:              "beep",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
			Capabilities: []NodeCapability{
				{Name: "beep.tone", Tier: "local"},
				{Name: "beep.morse", Tier: "local"},
				{Name: "beep.music", Tier: "local"},
			},
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-beep.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxJobs:       10000,
		},
		Output: OutputConfig{
			Device:         "oto",
			Command:        "aplay -q -t raw -f S16_LE -r 44100 -c 1",
			Buffers:        3,
			BufferSamples:  44100,
			PollIntervalMS: 1,
			SerialBaud:     9600,
			KeyLine:        "rts",
		},
		Tone: ToneConfig{
			Frequency:  440,
			DurationMS: 200,
			GapMS:      50,
			Repeats:    1,
		},
		Morse: MorseConfig{
			Frequency: 750,
			WPM:       20,
			Standard:  "paris",
			WordSpace: 1,
		},
		Music: MusicConfig{
			BPM:   120,
			GapMS: 50,
		},
		Jobs: JobsConfig{
			Enabled:    true,
			ChunkBytes: 32 * 1024,
			TimeoutMS:  120000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideString(&cfg.Node.Role, "LOQA_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxJobs, "LOQA_EVENT_STORE_MAX_JOBS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Output.Device, "LOQA_OUTPUT_DEVICE")
	overrideString(&cfg.Output.Command, "LOQA_OUTPUT_COMMAND")
	overrideInt(&cfg.Output.Buffers, "LOQA_OUTPUT_BUFFERS")
	overrideInt(&cfg.Output.BufferSamples, "LOQA_OUTPUT_BUFFER_SAMPLES")
	overrideInt(&cfg.Output.PollIntervalMS, "LOQA_OUTPUT_POLL_INTERVAL_MS")
	overrideString(&cfg.Output.SerialPort, "LOQA_OUTPUT_SERIAL_PORT")
	overrideInt(&cfg.Output.SerialBaud, "LOQA_OUTPUT_SERIAL_BAUD")
	overrideString(&cfg.Output.KeyLine, "LOQA_OUTPUT_KEY_LINE")
	overrideFloat(&cfg.Tone.Frequency, "LOQA_TONE_FREQUENCY")
	overrideFloat(&cfg.Tone.DurationMS, "LOQA_TONE_DURATION_MS")
	overrideFloat(&cfg.Tone.GapMS, "LOQA_TONE_GAP_MS")
	overrideInt(&cfg.Tone.Repeats, "LOQA_TONE_REPEATS")
	overrideFloat(&cfg.Morse.Frequency, "LOQA_MORSE_FREQUENCY")
	overrideFloat(&cfg.Morse.WPM, "LOQA_MORSE_WPM")
	overrideFloat(&cfg.Morse.CharWPM, "LOQA_MORSE_CHAR_WPM")
	overrideString(&cfg.Morse.Standard, "LOQA_MORSE_STANDARD")
	overrideFloat(&cfg.Morse.WordSpace, "LOQA_MORSE_WORD_SPACE")
	overrideFloat(&cfg.Music.BPM, "LOQA_MUSIC_BPM")
	overrideFloat(&cfg.Music.GapMS, "LOQA_MUSIC_GAP_MS")
	overrideBool(&cfg.Jobs.Enabled, "LOQA_JOBS_ENABLED")
	overrideInt(&cfg.Jobs.ChunkBytes, "LOQA_JOBS_CHUNK_BYTES")
	overrideInt(&cfg.Jobs.TimeoutMS, "LOQA_JOBS_TIMEOUT_MS")
	overrideString(&cfg.Jobs.TempDir, "LOQA_JOBS_TEMP_DIR")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if len(cfg.Node.Capabilities) == 0 {
		return errors.New("node.capabilities must not be empty")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if err := validateOutput(cfg.Output); err != nil {
		return err
	}
	if err := validateSound(cfg); err != nil {
		return err
	}
	if cfg.Jobs.Enabled {
		if cfg.Jobs.ChunkBytes <= 0 {
			return errors.New("jobs.chunk_bytes must be positive")
		}
		if cfg.Jobs.TimeoutMS <= 0 {
			return errors.New("jobs.timeout_ms must be positive")
		}
	}
	return nil
}

func validateOutput(out OutputConfig) error {
	switch out.Device {
	case "oto", "headless":
	case "exec":
		if strings.TrimSpace(out.Command) == "" {
			return errors.New("output.command must be set when device=exec")
		}
	case "keyer":
		if out.SerialPort == "" {
			return errors.New("output.serial_port must be set when device=keyer")
		}
		if out.SerialBaud <= 0 {
			return errors.New("output.serial_baud must be positive")
		}
		if out.KeyLine != "rts" && out.KeyLine != "dtr" {
			return errors.New("output.key_line must be one of rts|dtr")
		}
	default:
		return errors.New("output.device must be one of oto|headless|exec|keyer")
	}
	if out.Buffers < 1 {
		return errors.New("output.buffers must be >= 1")
	}
	if out.BufferSamples < 1 {
		return errors.New("output.buffer_samples must be >= 1")
	}
	if out.PollIntervalMS < 0 {
		return errors.New("output.poll_interval_ms must be >= 0")
	}
	return nil
}

func validateSound(cfg Config) error {
	if cfg.Tone.Frequency < 20 || cfg.Tone.Frequency > 20000 {
		return errors.New("tone.frequency must be between 20 and 20000")
	}
	if cfg.Morse.Frequency < 20 || cfg.Morse.Frequency > 20000 {
		return errors.New("morse.frequency must be between 20 and 20000")
	}
	if cfg.Tone.DurationMS < 0 || cfg.Tone.GapMS < 0 {
		return errors.New("tone.duration_ms and tone.gap_ms must be >= 0")
	}
	if cfg.Tone.Repeats < 0 {
		return errors.New("tone.repeats must be >= 0")
	}
	if cfg.Morse.WPM < 5 || cfg.Morse.WPM > 60 {
		return errors.New("morse.wpm must be between 5 and 60")
	}
	if cfg.Morse.CharWPM != 0 && cfg.Morse.CharWPM < cfg.Morse.WPM {
		return errors.New("morse.char_wpm must be >= morse.wpm")
	}
	if cfg.Morse.WordSpace != 0 && cfg.Morse.WordSpace < 1 {
		return errors.New("morse.word_space must be >= 1")
	}
	switch strings.ToLower(cfg.Morse.Standard) {
	case "", "paris", "codex":
	default:
		return errors.New("morse.standard must be one of paris|codex")
	}
	if cfg.Music.BPM < 20 || cfg.Music.BPM > 500 {
		return errors.New("music.bpm must be between 20 and 500")
	}
	if cfg.Music.GapMS < 0 {
		return errors.New("music.gap_ms must be >= 0")
	}
	return nil
}
