package pipeline

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/probe"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/state"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"

	"gopkg.in/yaml.v3"
)

const DefaultQueueSize = 64

var (
	DefaultPrivacyHostnames   = []string{"symantec.com", "norton.com", "avast.com", "mcafee.com", "torproject.org", "duckduckgo.com"}
	DefaultStreamingHostnames = []string{"netflix.com", "hulu.com", "hbo.com", "primevideo.com", "disneyplus.com", "bbc.co.uk"}
)

// Config represents the complete study configuration.
type Config struct {
	Study     StudyConfig              `yaml:"study"`
	Policy    PolicyConfig             `yaml:"policy"`
	Probe     probe.Config             `yaml:"probe"`
	Hostnames HostnameConfig           `yaml:"hostnames"`
	CatchAll  CatchAllConfig           `yaml:"catch_all"`
	Landing   study.LandingPage        `yaml:"landing"`
	Messages  map[string]study.Message `yaml:"messages,omitempty"`
	Queue     QueueConfig              `yaml:"queue"`
}

// StudyConfig controls branch assignment.
type StudyConfig struct {
	Name           string         `yaml:"name"`
	Weights        map[string]int `yaml:"weights"`
	ShadowTracking *bool          `yaml:"shadow_tracking,omitempty"`
}

// PolicyConfig holds the notification policy constants.
type PolicyConfig struct {
	RateLimitWindow  time.Duration `yaml:"rate_limit_window"`
	MaxNotifications int           `yaml:"max_notifications"`
	AutoDismissAfter time.Duration `yaml:"auto_dismiss_after"`
}

// HostnameConfig lists the tracked domains per hostname branch.
type HostnameConfig struct {
	Privacy   []string `yaml:"privacy"`
	Streaming []string `yaml:"streaming"`
}

// CatchAllConfig controls the catch-all timer.
type CatchAllConfig struct {
	Delay time.Duration `yaml:"delay"`
}

// QueueConfig sizes the evaluation queue.
type QueueConfig struct {
	Size int `yaml:"size"`
}

// LoadConfig loads the study configuration from a YAML file.
// Supports environment variable expansion in the form ${VAR_NAME} or ${VAR_NAME:default}.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return ParseConfig(data)
}

// ParseConfig parses, defaults and validates a configuration document.
func ParseConfig(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns a configuration with every default applied and an
// even split across all branches.
func DefaultConfig() *Config {
	config := &Config{}
	config.ApplyDefaults()
	return config
}

// ApplyDefaults fills every unset value.
func (c *Config) ApplyDefaults() {
	if c.Study.Name == "" {
		c.Study.Name = "vpn-recommendation-study-1"
	}
	if len(c.Study.Weights) == 0 {
		c.Study.Weights = make(map[string]int, len(study.Variations))
		for _, v := range study.Variations {
			c.Study.Weights[string(v)] = 1
		}
	}
	if len(c.Hostnames.Privacy) == 0 {
		c.Hostnames.Privacy = append([]string(nil), DefaultPrivacyHostnames...)
	}
	if len(c.Hostnames.Streaming) == 0 {
		c.Hostnames.Streaming = append([]string(nil), DefaultStreamingHostnames...)
	}
	if c.Policy.RateLimitWindow <= 0 {
		c.Policy.RateLimitWindow = state.DefaultRateLimitWindow
	}
	if c.Policy.MaxNotifications <= 0 {
		c.Policy.MaxNotifications = state.DefaultMaxNotifications
	}
	if c.Policy.AutoDismissAfter <= 0 {
		c.Policy.AutoDismissAfter = 3 * time.Minute
	}
	if c.CatchAll.Delay <= 0 {
		c.CatchAll.Delay = 60 * time.Minute
	}
	if c.Landing.URL == "" {
		c.Landing = study.DefaultLandingPage()
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = DefaultQueueSize
	}
	c.Probe = c.Probe.Normalize()
}

// ShadowTrackingEnabled reports whether off-branch sources are subscribed
// for shadow telemetry. It defaults to true.
func (c *Config) ShadowTrackingEnabled() bool {
	return c.Study.ShadowTracking == nil || *c.Study.ShadowTracking
}

// Validate validates the configuration for common errors.
func (c *Config) Validate() error {
	total := 0
	for name, weight := range c.Study.Weights {
		if _, err := study.ParseVariation(name); err != nil {
			return fmt.Errorf("weights: %w", err)
		}
		if weight < 0 {
			return fmt.Errorf("weight for %s must not be negative", name)
		}
		total += weight
	}
	if total == 0 {
		return fmt.Errorf("at least one variation needs a positive weight")
	}

	if c.Study.Weights[string(study.VariationPrivacyHostname)] > 0 && len(c.Hostnames.Privacy) == 0 {
		return fmt.Errorf("privacy-hostname is weighted but hostnames.privacy is empty")
	}
	if c.Study.Weights[string(study.VariationStreamingHostname)] > 0 && len(c.Hostnames.Streaming) == 0 {
		return fmt.Errorf("streaming-hostname is weighted but hostnames.streaming is empty")
	}
	for _, host := range append(append([]string{}, c.Hostnames.Privacy...), c.Hostnames.Streaming...) {
		if strings.TrimSpace(host) == "" || strings.Contains(host, "/") {
			return fmt.Errorf("invalid hostname %q", host)
		}
	}

	for name, msg := range c.Messages {
		v, err := study.ParseVariation(name)
		if err != nil {
			return fmt.Errorf("messages: %w", err)
		}
		if v.IsControl() {
			return fmt.Errorf("messages: control never shows a panel")
		}
		if msg.Header == "" || msg.Text == "" {
			return fmt.Errorf("message for %s needs a header and a text", name)
		}
	}

	landing, err := url.Parse(c.Landing.URL)
	if err != nil || landing.Scheme == "" || landing.Host == "" {
		return fmt.Errorf("landing url %q must be absolute", c.Landing.URL)
	}

	if _, err := url.Parse(c.Probe.URL); err != nil {
		return fmt.Errorf("invalid probe url %q: %w", c.Probe.URL, err)
	}

	return nil
}

// MessageTable returns the configured panel copy as a lookup table.
func (c *Config) MessageTable() study.MessageTable {
	table := make(study.MessageTable, len(c.Messages))
	for name, msg := range c.Messages {
		table[study.Variation(name)] = msg
	}
	return table
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}.
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		parts := strings.SplitN(key, ":", 2)
		varName := parts[0]
		defaultValue := ""
		if len(parts) == 2 {
			defaultValue = parts[1]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}
