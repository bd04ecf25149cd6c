package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the process-wide configuration, resolved once at startup.
// Precedence: explicit flag overrides > environment > config file > defaults.
type Config struct {
	Service     Service     `mapstructure:"service"`
	Transport   Transport   `mapstructure:"transport"`
	Timeouts    Timeouts    `mapstructure:"timeouts"`
	Matchmaking Matchmaking `mapstructure:"matchmaking"`
	Data        Data        `mapstructure:"data"`
	Scenes      Scenes      `mapstructure:"scenes"`
	Admin       Admin       `mapstructure:"admin"`
	Log         Log         `mapstructure:"log"`
	Telemetry   Telemetry   `mapstructure:"telemetry"`
	Webhook     Webhook     `mapstructure:"webhook"`
}

type Service struct {
	Name string `mapstructure:"name"`
}

type Transport struct {
	Bind string `mapstructure:"bind"`
	Port int    `mapstructure:"port"`
	// QueueSize bounds each connection's outbound event queue.
	QueueSize int `mapstructure:"queue_size"`
	// RTTIntervalMs is the app-level ping cadence.
	RTTIntervalMs int `mapstructure:"rtt_interval_ms"`
}

func (t Transport) RTTInterval() time.Duration { return ms(t.RTTIntervalMs) }

// Timeouts carries every load-bearing window, in milliseconds to match the
// environment contract (PING_TIMEOUT_MS and friends).
type Timeouts struct {
	PingIntervalMs         int `mapstructure:"ping_interval_ms"`
	PingTimeoutMs          int `mapstructure:"ping_timeout_ms"`
	LoadingTimeoutMs       int `mapstructure:"loading_timeout_ms"`
	ProbeTimeoutMs         int `mapstructure:"probe_timeout_ms"`
	ParticipantRetentionMs int `mapstructure:"participant_retention_ms"`
	AuditRetentionMs       int `mapstructure:"audit_retention_ms"`
	SweepIntervalMs        int `mapstructure:"sweep_interval_ms"`
}

func (t Timeouts) PingInterval() time.Duration { return ms(t.PingIntervalMs) }
func (t Timeouts) PingTimeout() time.Duration  { return ms(t.PingTimeoutMs) }
func (t Timeouts) LoadingTimeout() time.Duration {
	return ms(t.LoadingTimeoutMs)
}
func (t Timeouts) ProbeTimeout() time.Duration { return ms(t.ProbeTimeoutMs) }
func (t Timeouts) ParticipantRetention() time.Duration {
	return ms(t.ParticipantRetentionMs)
}
func (t Timeouts) AuditRetention() time.Duration {
	return ms(t.AuditRetentionMs)
}
func (t Timeouts) SweepInterval() time.Duration { return ms(t.SweepIntervalMs) }

type Matchmaking struct {
	// RequeueToTail sends probe-failed candidates to the queue tail instead
	// of their original positions.
	RequeueToTail bool `mapstructure:"requeue_to_tail"`
}

type Data struct {
	Dir          string `mapstructure:"dir"`
	ExperimentID string `mapstructure:"experiment_id"`
}

type Scenes struct {
	// Path points at the scenes YAML; empty runs with the built-in default
	// scene only.
	Path string `mapstructure:"path"`
	// Watch hot-reloads the file on change.
	Watch bool `mapstructure:"watch"`
}

type Admin struct {
	// ThrottleMs caps state_update emission per session.
	ThrottleMs int `mapstructure:"throttle_ms"`
	// WarningRTTMs is the degraded-health threshold.
	WarningRTTMs float64 `mapstructure:"warning_rtt_ms"`
	// ConsoleRingSize is how many console errors are kept per participant.
	ConsoleRingSize int `mapstructure:"console_ring_size"`
}

func (a Admin) Throttle() time.Duration { return ms(a.ThrottleMs) }

type Log struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // text | json
	// File enables a rotating file sink when non-empty.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type Telemetry struct {
	// OTLPEndpoint enables the OTLP log pipeline when non-empty,
	// e.g. "localhost:4318".
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Insecure     bool   `mapstructure:"insecure"`
}

type Webhook struct {
	// URL receives a POST per ended session when non-empty.
	URL       string `mapstructure:"url"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

func (w Webhook) Timeout() time.Duration { return ms(w.TimeoutMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// Overrides carries explicit flag values into Load with highest precedence.
type Overrides struct {
	fs *pflag.FlagSet
}

// NewOverrides declares the overridable keys. Values applied through Set
// win over environment and file.
func NewOverrides() *Overrides {
	fs := pflag.NewFlagSet("overrides", pflag.ContinueOnError)
	fs.Int("port", 0, "transport port")
	fs.String("data-dir", "", "audit output directory")
	fs.String("experiment", "", "experiment id")
	fs.String("log-level", "", "log level")
	return &Overrides{fs: fs}
}

// Set records one override; unknown keys error out at bind time.
func (o *Overrides) Set(key, value string) error {
	return o.fs.Set(key, value)
}

// Load resolves the configuration from defaults, the optional file, the
// environment and the given overrides, then validates it.
func Load(path string, overrides *Overrides) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	v.SetEnvPrefix("TANDEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if overrides != nil {
		if err := bindOverrides(v, overrides); err != nil {
			return nil, fmt.Errorf("bind overrides: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "tandem-coordinator")

	v.SetDefault("transport.bind", "0.0.0.0")
	v.SetDefault("transport.port", 8080)
	v.SetDefault("transport.queue_size", 256)
	v.SetDefault("transport.rtt_interval_ms", 1000)

	v.SetDefault("timeouts.ping_interval_ms", 8000)
	// 30s because clients block on WASM compile and miss heartbeats.
	v.SetDefault("timeouts.ping_timeout_ms", 30000)
	v.SetDefault("timeouts.loading_timeout_ms", 60000)
	v.SetDefault("timeouts.probe_timeout_ms", 10000)
	v.SetDefault("timeouts.participant_retention_ms", 300000)
	v.SetDefault("timeouts.audit_retention_ms", 60000)
	v.SetDefault("timeouts.sweep_interval_ms", 10000)

	v.SetDefault("matchmaking.requeue_to_tail", false)

	v.SetDefault("data.dir", "data")
	v.SetDefault("data.experiment_id", "default")

	v.SetDefault("scenes.path", "")
	v.SetDefault("scenes.watch", true)

	v.SetDefault("admin.throttle_ms", 500)
	v.SetDefault("admin.warning_rtt_ms", 200)
	v.SetDefault("admin.console_ring_size", 20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size_mb", 64)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("webhook.timeout_ms", 3000)
}

// bindLegacyEnv wires the bare environment names from the deployment
// contract; they apply without the TANDEM_ prefix.
func bindLegacyEnv(v *viper.Viper) {
	pairs := map[string]string{
		"transport.port":                    "PORT",
		"timeouts.ping_interval_ms":         "PING_INTERVAL_MS",
		"timeouts.ping_timeout_ms":          "PING_TIMEOUT_MS",
		"timeouts.loading_timeout_ms":       "LOADING_TIMEOUT_MS",
		"timeouts.probe_timeout_ms":         "PROBE_TIMEOUT_MS",
		"timeouts.participant_retention_ms": "PARTICIPANT_RETENTION_MS",
		"timeouts.audit_retention_ms":       "AUDIT_RETENTION_MS",
		"data.dir":                          "DATA_DIR",
	}
	for key, env := range pairs {
		// BindEnv only fails on an empty key, which cannot happen here.
		_ = v.BindEnv(key, env)
	}
}

func bindOverrides(v *viper.Viper, o *Overrides) error {
	binds := map[string]string{
		"transport.port":     "port",
		"data.dir":           "data-dir",
		"data.experiment_id": "experiment",
		"log.level":          "log-level",
	}
	for key, flag := range binds {
		f := o.fs.Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown override flag %q", flag)
		}
		if !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Transport.Port <= 0 || c.Transport.Port > 65535 {
		return fmt.Errorf("transport.port %d out of range", c.Transport.Port)
	}
	if c.Transport.QueueSize < 16 {
		return fmt.Errorf("transport.queue_size %d too small", c.Transport.QueueSize)
	}
	if c.Timeouts.PingIntervalMs <= 0 || c.Timeouts.PingTimeoutMs <= 0 {
		return fmt.Errorf("heartbeat intervals must be positive")
	}
	if c.Timeouts.PingTimeoutMs <= c.Timeouts.PingIntervalMs {
		return fmt.Errorf("ping_timeout_ms must exceed ping_interval_ms")
	}
	for name, v := range map[string]int{
		"loading_timeout_ms":       c.Timeouts.LoadingTimeoutMs,
		"probe_timeout_ms":         c.Timeouts.ProbeTimeoutMs,
		"participant_retention_ms": c.Timeouts.ParticipantRetentionMs,
		"audit_retention_ms":       c.Timeouts.AuditRetentionMs,
		"sweep_interval_ms":        c.Timeouts.SweepIntervalMs,
	} {
		if v <= 0 {
			return fmt.Errorf("timeouts.%s must be positive", name)
		}
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir must be set")
	}
	if c.Data.ExperimentID == "" {
		return fmt.Errorf("data.experiment_id must be set")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q invalid", c.Log.Level)
	}
	return nil
}

// Addr is the listen address for the HTTP/WebSocket server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Transport.Bind, c.Transport.Port)
}
