// Package chatconfig loads client configuration from YAML with environment
// overrides and builds the wire-level subject names.
package chatconfig

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixed provisioning/administration subjects shared with the access
// service.
const (
	AccessRequestSubject      = "chat.req.access"
	RevokeSubject             = "chat.req.revoke"
	ProvisionedSubject        = "chat.req.provisioned"
	ProvisionedUpdatesSubject = "chat.req.provisioned.updates"
)

type Config struct {
	ServerURL         string        `yaml:"serverUrl"`
	ClientName        string        `yaml:"clientName"`
	Namespace         string        `yaml:"namespace"`
	Channels          []string      `yaml:"channels"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	PresenceTTL       time.Duration `yaml:"presenceTTL"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	DataDir           string        `yaml:"dataDir"`
	StorageSecret     string        `yaml:"-"`
}

type fileConfig struct {
	Chat fileChatConfig `yaml:"chat"`
}

// fileChatConfig mirrors Config with yaml-friendly duration fields, so
// files can say "30s" rather than nanosecond integers.
type fileChatConfig struct {
	ServerURL         string   `yaml:"serverUrl"`
	ClientName        string   `yaml:"clientName"`
	Namespace         string   `yaml:"namespace"`
	Channels          []string `yaml:"channels"`
	HeartbeatInterval duration `yaml:"heartbeatInterval"`
	PresenceTTL       duration `yaml:"presenceTTL"`
	RequestTimeout    duration `yaml:"requestTimeout"`
	DataDir           string   `yaml:"dataDir"`
}

func (f fileChatConfig) toConfig() Config {
	return Config{
		ServerURL:         f.ServerURL,
		ClientName:        f.ClientName,
		Namespace:         f.Namespace,
		Channels:          f.Channels,
		HeartbeatInterval: time.Duration(f.HeartbeatInterval),
		PresenceTTL:       time.Duration(f.PresenceTTL),
		RequestTimeout:    time.Duration(f.RequestTimeout),
		DataDir:           f.DataDir,
	}
}

type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func DefaultConfig() Config {
	return Config{
		ServerURL:         "nats://localhost:4222",
		ClientName:        "NATS Chat Client",
		Namespace:         "chat.KUBECON",
		Channels:          []string{"General", "NATS", "KUBECON"},
		HeartbeatInterval: 30 * time.Second,
		PresenceTTL:       60 * time.Second,
		RequestTimeout:    5 * time.Second,
		DataDir:           ".natschat",
	}
}

// LoadFromPath reads configPath if set, otherwise tries the default
// candidates. Missing or unreadable files fall back to defaults; env
// overrides always apply.
func LoadFromPath(configPath string) Config {
	cfg := DefaultConfig()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates, "configs/config.yaml")
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		Merge(&cfg, parsed.Chat.toConfig())
		break
	}

	ApplyEnvOverrides(&cfg)
	return normalize(cfg)
}

func Merge(dst *Config, src Config) {
	if src.ServerURL != "" {
		dst.ServerURL = src.ServerURL
	}
	if src.ClientName != "" {
		dst.ClientName = src.ClientName
	}
	if src.Namespace != "" {
		dst.Namespace = src.Namespace
	}
	if src.Channels != nil {
		dst.Channels = src.Channels
	}
	if src.HeartbeatInterval > 0 {
		dst.HeartbeatInterval = src.HeartbeatInterval
	}
	if src.PresenceTTL > 0 {
		dst.PresenceTTL = src.PresenceTTL
	}
	if src.RequestTimeout > 0 {
		dst.RequestTimeout = src.RequestTimeout
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("NATSCHAT_SERVER_URL")); v != "" {
		cfg.ServerURL = v
	}
	if v := strings.TrimSpace(os.Getenv("NATSCHAT_NAMESPACE")); v != "" {
		cfg.Namespace = v
	}
	if v := strings.TrimSpace(os.Getenv("NATSCHAT_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("NATSCHAT_STORAGE_SECRET"); v != "" {
		cfg.StorageSecret = v
	}
}

func normalize(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Namespace == "" {
		cfg.Namespace = def.Namespace
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = def.Channels
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.PresenceTTL < cfg.HeartbeatInterval {
		cfg.PresenceTTL = 2 * cfg.HeartbeatInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	return cfg
}

// PostSubject is the broadcast subject for one channel.
func (c Config) PostSubject(channel string) string {
	return c.Namespace + ".posts." + channel
}

// DirectSubject is the DM subject scoped to one recipient public key.
func (c Config) DirectSubject(publicKey string) string {
	return c.Namespace + ".dms." + publicKey
}

// OnlineSubject carries presence heartbeats for everyone in the namespace.
func (c Config) OnlineSubject() string {
	return c.Namespace + ".online"
}

// HasChannel reports whether channel is in the configured closed set.
func (c Config) HasChannel(channel string) bool {
	for _, ch := range c.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}
