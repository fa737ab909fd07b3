package config

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/caarlos0/env/v11"
)

type Target struct {
	Scheme         string        `env:"SCHEME" envDefault:"http"`
	Host           string        `env:"HOST" envDefault:"localhost"`
	Port           int           `env:"PORT" envDefault:"80"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"` // per replayed request
}

type Playback struct {
	Speed         float64 `env:"SPEED" envDefault:"1.0"`
	QueueCapacity int     `env:"QUEUE_SIZE" envDefault:"100"`
	Workers       int     `env:"WORKERS" envDefault:"30"`
	MaxRPS        float64 `env:"MAX_RPS" envDefault:"0"` // 0 disables the rate ceiling
	LatencyMillis bool    `env:"LATENCY_MILLIS" envDefault:"false"`
}

type IO struct {
	Input     string `env:"INPUT" envDefault:"-"`  // "-" is stdin
	Output    string `env:"OUTPUT" envDefault:"-"` // "-" is stdout
	Delimiter string `env:"DELIMITER" envDefault:"\t"`
}

type Sinks struct {
	PostgresDSN     string `env:"PG_DSN"`
	SQLitePath      string `env:"SQLITE"`
	NsqdTCPAddr     string `env:"NSQD_ADDR"` // e.g. nsqd:4150
	ResultsTopic    string `env:"NSQ_TOPIC" envDefault:"replay_results"`
	FailuresTopic   string `env:"NSQ_FAILURE_TOPIC" envDefault:"replay_failures"`
	PublishFailures bool   `env:"NSQ_PUBLISH_FAILURES" envDefault:"true"`
}

type Auth struct {
	Token          string        `env:"AUTH_TOKEN"`
	PrivateKeyFile string        `env:"JWT_PRIVATE_KEY"`
	Secret         string        `env:"JWT_SECRET"`
	Issuer         string        `env:"JWT_ISSUER" envDefault:"logreplay"`
	Audience       string        `env:"JWT_AUDIENCE"`
	Subject        string        `env:"JWT_SUBJECT" envDefault:"replay"`
	TTL            time.Duration `env:"JWT_TTL" envDefault:"5m"`
}

type FakeReceiver struct {
	FailFirstN      int           `env:"FAIL_FIRST_N" envDefault:"0"`
	FailPathPrefix  string        `env:"FAIL_PATH_PREFIX"`
	ResponseDelayMS int           `env:"RESPONSE_DELAY_MS" envDefault:"0"`
	Port            string        `env:"FAKE_RECEIVER_PORT" envDefault:":8081"`
	ReadTimeout     time.Duration `env:"FAKE_RECEIVER_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"FAKE_RECEIVER_WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout     time.Duration `env:"FAKE_RECEIVER_IDLE_TIMEOUT" envDefault:"60s"`

	// bearer token checks are enabled by either a public key or a secret
	JWTPublicKeyFile string `env:"JWT_PUBLIC_KEY"`
	JWTSecret        string `env:"JWT_SECRET"`
	JWTIssuer        string `env:"JWT_ISSUER" envDefault:"logreplay"`
	JWTAudience      string `env:"JWT_AUDIENCE"`
}

// Config is everything a replay run needs. Environment variables carry the
// REPLAY_ prefix, e.g. REPLAY_TARGET_HOST or REPLAY_WORKERS.
type Config struct {
	AppName     string   `env:"APP_NAME" envDefault:"logreplay"`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`
	MetricsAddr string   `env:"METRICS_ADDR"` // e.g. :9090, empty disables
	Target      Target   `envPrefix:"TARGET_"`
	Playback    Playback
	IO          IO
	Sinks       Sinks
	Auth        Auth
}

// ConfigurationError reports an unusable setting. It is fatal at startup.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Defaults returns the configuration with every default applied and no
// environment consulted.
func Defaults() Config {
	var c Config
	// defaults only; the empty environment cannot fail to parse
	_ = env.ParseWithOptions(&c, env.Options{Prefix: "REPLAY_", Environment: map[string]string{}})
	return c
}

// FromEnv loads the configuration from REPLAY_* environment variables.
func FromEnv() (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Prefix: "REPLAY_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return c, nil
}

// FakeReceiverFromEnv loads the fake receiver settings. They are unprefixed
// so the receiver can run in a plain container.
func FakeReceiverFromEnv() (FakeReceiver, error) {
	var f FakeReceiver
	if err := env.Parse(&f); err != nil {
		return FakeReceiver{}, fmt.Errorf("parse env: %w", err)
	}
	return f, nil
}

// Validate returns a *ConfigurationError for the first unusable setting.
func (c Config) Validate() error {
	switch {
	case c.Playback.QueueCapacity < 1:
		return &ConfigurationError{"queue size", c.Playback.QueueCapacity, "must be at least 1"}
	case c.Playback.Workers < 1:
		return &ConfigurationError{"worker count", c.Playback.Workers, "must be at least 1"}
	case c.Playback.Speed <= 0 || math.IsNaN(c.Playback.Speed) || math.IsInf(c.Playback.Speed, 0):
		return &ConfigurationError{"speed", c.Playback.Speed, "must be a positive number"}
	case c.Playback.MaxRPS < 0 || math.IsNaN(c.Playback.MaxRPS):
		return &ConfigurationError{"max rps", c.Playback.MaxRPS, "must not be negative"}
	case c.Target.Port < 0 || c.Target.Port > 65535:
		return &ConfigurationError{"port", c.Target.Port, "must be between 0 and 65535"}
	case c.Target.Scheme == "":
		return &ConfigurationError{"scheme", `""`, "must not be empty"}
	case c.Target.Host == "":
		return &ConfigurationError{"host", `""`, "must not be empty"}
	case c.Target.RequestTimeout <= 0:
		return &ConfigurationError{"request timeout", c.Target.RequestTimeout, "must be positive"}
	case utf8.RuneCountInString(c.IO.Delimiter) != 1:
		return &ConfigurationError{"delimiter", strconv.Quote(c.IO.Delimiter), "must be a single character"}
	case c.Auth.PrivateKeyFile != "" && c.Auth.Secret != "":
		return &ConfigurationError{"jwt signing key", "both", "set either a private key or a secret"}
	case (c.Auth.PrivateKeyFile != "" || c.Auth.Secret != "") && c.Auth.TTL <= 0:
		return &ConfigurationError{"jwt ttl", c.Auth.TTL, "must be positive"}
	}
	return nil
}

// DelimiterRune returns the input field separator.
func (c Config) DelimiterRune() rune {
	r, _ := utf8.DecodeRuneInString(c.IO.Delimiter)
	return r
}

// TargetURL composes scheme://host:port followed by path.
func (c Config) TargetURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.Target.Scheme + "://" + net.JoinHostPort(c.Target.Host, strconv.Itoa(c.Target.Port)) + path
}
