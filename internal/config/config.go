package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/waveform"
)

// DefaultConfigPath is where the service looks when no -config flag is given.
const DefaultConfigPath = "config/airvibe.json"

const (
	defaultListen      = ":8080"
	defaultIdleTimeout = 30 * time.Minute
	defaultMQTTQoS     = 1
	defaultStream      = "airvibe"
)

// Config is the service configuration. Every field is optional; the Get*
// methods supply defaults for anything left out of the file.
type Config struct {
	Listen        *string `json:"listen,omitempty"`
	WireRevision  *string `json:"wire_revision,omitempty"`  // "v2.1.2" or "legacy-be"
	AxisInference *string `json:"axis_inference,omitempty"` // "variance" or "none"
	// AxisPreference lists single axes (1, 2, 3) in tie-break order.
	AxisPreference []int   `json:"axis_preference,omitempty"`
	IdleTimeout    *string `json:"idle_timeout,omitempty"` // duration string like "30m"

	Serial   *SerialConfig   `json:"serial,omitempty"`
	MQTT     *MQTTConfig     `json:"mqtt,omitempty"`
	Redis    *RedisConfig    `json:"redis,omitempty"`
	Downlink *DownlinkConfig `json:"downlink,omitempty"`
	Log      *LogConfig      `json:"log,omitempty"`
}

// SerialConfig selects the line console. An empty Port disables it.
type SerialConfig struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate,omitempty"`
	Device   string `json:"device,omitempty"` // device id assigned to console lines
	Fixture  string `json:"fixture,omitempty"` // replay file instead of a real port
}

// MQTTConfig points at The Things Stack MQTT server. An empty Broker
// disables the bridge.
type MQTTConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	AppID    string `json:"app_id"`
	QoS      *int   `json:"qos,omitempty"`
	// PublishDownlinks pushes suggested downlinks back through the broker.
	PublishDownlinks bool `json:"publish_downlinks,omitempty"`
}

// RedisConfig enables the event streams when Addr is set.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Stream   string `json:"stream,omitempty"` // stream prefix
}

// DownlinkConfig enables the webhook downlink pusher when BaseURL is set.
type DownlinkConfig struct {
	BaseURL   string `json:"base_url"`
	AppID     string `json:"app_id"`
	WebhookID string `json:"webhook_id"`
	APIKey    string `json:"api_key,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"`
}

func ptrString(v string) *string { return &v }

// Load reads a JSON configuration file. The path must end in .json and the
// file must be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv applies AIRVIBE_* environment overrides.
func (c *Config) LoadFromEnv() {
	c.ApplyEnv(os.Getenv)
}

// ApplyEnv applies overrides read through getenv. Unset variables leave the
// file value alone.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("AIRVIBE_LISTEN"); v != "" {
		c.Listen = ptrString(v)
	}
	if v := getenv("AIRVIBE_WIRE_REVISION"); v != "" {
		c.WireRevision = ptrString(v)
	}
	if v := getenv("AIRVIBE_SERIAL_PORT"); v != "" {
		if c.Serial == nil {
			c.Serial = &SerialConfig{}
		}
		c.Serial.Port = v
	}
	if v := getenv("AIRVIBE_MQTT_BROKER"); v != "" {
		if c.MQTT == nil {
			c.MQTT = &MQTTConfig{}
		}
		c.MQTT.Broker = v
	}
	if c.MQTT != nil {
		if v := getenv("AIRVIBE_MQTT_USERNAME"); v != "" {
			c.MQTT.Username = v
		}
		if v := getenv("AIRVIBE_MQTT_PASSWORD"); v != "" {
			c.MQTT.Password = v
		}
		if v := getenv("AIRVIBE_MQTT_APP_ID"); v != "" {
			c.MQTT.AppID = v
		}
	}
	if v := getenv("AIRVIBE_REDIS_ADDR"); v != "" {
		if c.Redis == nil {
			c.Redis = &RedisConfig{}
		}
		c.Redis.Addr = v
	}
	if c.Redis != nil {
		if v := getenv("AIRVIBE_REDIS_PASSWORD"); v != "" {
			c.Redis.Password = v
		}
		if v := getenv("AIRVIBE_REDIS_DB"); v != "" {
			if db, err := strconv.Atoi(v); err == nil {
				c.Redis.DB = db
			}
		}
	}
	if v := getenv("AIRVIBE_DOWNLINK_URL"); v != "" {
		if c.Downlink == nil {
			c.Downlink = &DownlinkConfig{}
		}
		c.Downlink.BaseURL = v
	}
	if c.Downlink != nil {
		if v := getenv("AIRVIBE_DOWNLINK_API_KEY"); v != "" {
			c.Downlink.APIKey = v
		}
	}
	if v := getenv("AIRVIBE_LOG_LEVEL"); v != "" {
		if c.Log == nil {
			c.Log = &LogConfig{}
		}
		c.Log.Level = v
	}
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.WireRevision != nil {
		if _, err := codec.ParseRevision(*c.WireRevision); err != nil {
			return err
		}
	}
	if c.AxisInference != nil {
		switch *c.AxisInference {
		case "", "variance", "none":
		default:
			return fmt.Errorf("axis_inference must be \"variance\" or \"none\", got %q", *c.AxisInference)
		}
	}
	for _, a := range c.AxisPreference {
		if a < 1 || a > 3 {
			return fmt.Errorf("axis_preference entries must be 1, 2 or 3, got %d", a)
		}
	}
	if c.IdleTimeout != nil && *c.IdleTimeout != "" {
		d, err := time.ParseDuration(*c.IdleTimeout)
		if err != nil {
			return fmt.Errorf("invalid idle_timeout '%s': %w", *c.IdleTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("idle_timeout must be positive, got %s", d)
		}
	}
	if c.MQTT != nil && c.MQTT.Broker != "" {
		if c.MQTT.AppID == "" {
			return fmt.Errorf("mqtt.app_id is required when mqtt.broker is set")
		}
		if c.MQTT.QoS != nil && (*c.MQTT.QoS < 0 || *c.MQTT.QoS > 2) {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", *c.MQTT.QoS)
		}
	}
	if c.Downlink != nil && c.Downlink.BaseURL != "" {
		if c.Downlink.AppID == "" || c.Downlink.WebhookID == "" {
			return fmt.Errorf("downlink.app_id and downlink.webhook_id are required when downlink.base_url is set")
		}
		if c.Downlink.Timeout != "" {
			if _, err := time.ParseDuration(c.Downlink.Timeout); err != nil {
				return fmt.Errorf("invalid downlink.timeout '%s': %w", c.Downlink.Timeout, err)
			}
		}
	}
	return nil
}

func (c *Config) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return defaultListen
	}
	return *c.Listen
}

// GetRevision returns the wire revision, v2.1.2 unless configured otherwise.
func (c *Config) GetRevision() codec.Revision {
	if c.WireRevision == nil {
		return codec.RevisionV212
	}
	r, _ := codec.ParseRevision(*c.WireRevision)
	return r
}

// GetInference returns the axis-inference strategy for the tracker.
func (c *Config) GetInference() waveform.AxisInference {
	if c.AxisInference != nil && *c.AxisInference == "none" {
		return waveform.NoInference{}
	}
	v := waveform.VarianceInference{}
	for _, a := range c.AxisPreference {
		v.Preference = append(v.Preference, codec.AxisSelection(1<<(a-1)))
	}
	return v
}

func (c *Config) GetIdleTimeout() time.Duration {
	if c.IdleTimeout == nil || *c.IdleTimeout == "" {
		return defaultIdleTimeout
	}
	d, err := time.ParseDuration(*c.IdleTimeout)
	if err != nil {
		return defaultIdleTimeout
	}
	return d
}

func (c *Config) GetMQTTQoS() byte {
	if c.MQTT == nil || c.MQTT.QoS == nil {
		return defaultMQTTQoS
	}
	return byte(*c.MQTT.QoS)
}

func (c *Config) GetStreamPrefix() string {
	if c.Redis == nil || c.Redis.Stream == "" {
		return defaultStream
	}
	return c.Redis.Stream
}

func (c *Config) GetDownlinkTimeout() time.Duration {
	if c.Downlink == nil || c.Downlink.Timeout == "" {
		return 10 * time.Second
	}
	d, _ := time.ParseDuration(c.Downlink.Timeout)
	return d
}

func (c *Config) GetLogLevel() string {
	if c.Log == nil || c.Log.Level == "" {
		return "info"
	}
	return c.Log.Level
}

func (c *Config) GetLogFormat() string {
	if c.Log == nil || c.Log.Format == "" {
		return "json"
	}
	return c.Log.Format
}
