// Package config holds the settings shared by both binaries: flags bound to
// IMPOSTOR_* environment variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/DoyleJ11/impostor/internal/transport"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const EnvPrefix = "IMPOSTOR"

const (
	TransportMemory = "memory"
	TransportRelay  = "relay"
	TransportNtfy   = "ntfy"

	TopicsBank    = "bank"
	TopicsLLM     = "llm"
	TopicsCatalog = "catalog"
)

type Config struct {
	Transport     string
	RelayURL      string
	NtfyURL       string
	ChannelPrefix string

	Heartbeat    time.Duration
	JoinRetry    time.Duration
	TopicTimeout time.Duration

	TopicSource   string
	AIProvider    string
	AIModel       string
	OpenAIKey     string
	OpenAIBaseURL string
	OllamaHost    string
	DatabaseDSN   string

	Addr    string
	Origins []string
	Verbose bool
}

// RegisterClientFlags adds the participant settings to fs.
func RegisterClientFlags(fs *pflag.FlagSet, c *Config) {
	fs.StringVar(&c.Transport, "transport", TransportRelay, "memory, relay or ntfy (env: IMPOSTOR_TRANSPORT)")
	fs.StringVar(&c.RelayURL, "relay-url", "http://localhost:8080", "relay server base url (env: IMPOSTOR_RELAY_URL)")
	fs.StringVar(&c.NtfyURL, "ntfy-url", "https://ntfy.sh", "ntfy server base url (env: IMPOSTOR_NTFY_URL)")
	fs.StringVar(&c.ChannelPrefix, "channel-prefix", transport.DefaultChannelPrefix, "prefix for room channel names (env: IMPOSTOR_CHANNEL_PREFIX)")
	fs.DurationVar(&c.Heartbeat, "heartbeat", 2*time.Second, "host snapshot re-broadcast interval (env: IMPOSTOR_HEARTBEAT)")
	fs.DurationVar(&c.JoinRetry, "join-retry", 1500*time.Millisecond, "guest join request retry interval (env: IMPOSTOR_JOIN_RETRY)")
	fs.DurationVar(&c.TopicTimeout, "topic-timeout", 5*time.Second, "time to wait for a generated topic before using the bank (env: IMPOSTOR_TOPIC_TIMEOUT)")
	fs.StringVar(&c.TopicSource, "topics", TopicsBank, "bank, llm or catalog (env: IMPOSTOR_TOPICS)")
	fs.StringVar(&c.AIProvider, "ai-provider", "openai", "openai or ollama (env: IMPOSTOR_AI_PROVIDER)")
	fs.StringVar(&c.AIModel, "ai-model", "gpt-4o-mini", "model used to generate topics (env: IMPOSTOR_AI_MODEL)")
	fs.StringVar(&c.OpenAIKey, "openai-key", "", "openai api key (env: IMPOSTOR_OPENAI_KEY)")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "", "openai compatible base url (env: IMPOSTOR_OPENAI_BASE_URL)")
	fs.StringVar(&c.OllamaHost, "ollama-host", "http://localhost:11434", "ollama host (env: IMPOSTOR_OLLAMA_HOST)")
	fs.StringVar(&c.DatabaseDSN, "database-dsn", "", "postgres dsn for the topic catalog (env: IMPOSTOR_DATABASE_DSN)")
	fs.BoolVarP(&c.Verbose, "verbose", "v", false, "display debug logs (env: IMPOSTOR_VERBOSE)")
}

// RegisterServerFlags adds the relay settings to fs.
func RegisterServerFlags(fs *pflag.FlagSet, c *Config) {
	fs.StringVarP(&c.Addr, "addr", "a", ":8080", "address to listen on (env: IMPOSTOR_ADDR)")
	fs.StringSliceVar(&c.Origins, "origins", nil, "extra websocket origin patterns (env: IMPOSTOR_ORIGINS)")
	fs.BoolVarP(&c.Verbose, "verbose", "v", false, "display debug logs (env: IMPOSTOR_VERBOSE)")
}

// BindEnv fills every flag the user did not set from IMPOSTOR_<FLAG> when
// that variable exists. Dashes in flag names become underscores.
func BindEnv(fs *pflag.FlagSet) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

// LoadDotEnv exports variables from the given files (default ".env") without
// overriding ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) ValidateClient() error {
	switch c.Transport {
	case TransportMemory:
	case TransportRelay:
		if err := checkURL("relay-url", c.RelayURL); err != nil {
			return err
		}
	case TransportNtfy:
		if err := checkURL("ntfy-url", c.NtfyURL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid --transport %q (want memory, relay or ntfy)", c.Transport)
	}

	if c.Heartbeat <= 0 || c.JoinRetry <= 0 || c.TopicTimeout <= 0 {
		return errors.New("--heartbeat, --join-retry and --topic-timeout must be positive")
	}

	switch c.TopicSource {
	case TopicsBank:
	case TopicsLLM:
		switch c.AIProvider {
		case "openai":
			if c.OpenAIKey == "" {
				return errors.New("--topics llm with --ai-provider openai needs --openai-key")
			}
		case "ollama":
		default:
			return fmt.Errorf("invalid --ai-provider %q (want openai or ollama)", c.AIProvider)
		}
	case TopicsCatalog:
		if c.DatabaseDSN == "" {
			return errors.New("--topics catalog needs --database-dsn")
		}
	default:
		return fmt.Errorf("invalid --topics %q (want bank, llm or catalog)", c.TopicSource)
	}
	return nil
}

func (c *Config) ValidateServer() error {
	if c.Addr == "" {
		return errors.New("--addr must not be empty")
	}
	return nil
}

func checkURL(flag, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid --%s %q", flag, raw)
	}
	return nil
}

// NewLogger builds a development logger when verbose, production otherwise.
func NewLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}
