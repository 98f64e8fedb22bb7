// Package config provides application configuration loading and validation.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
	"github.com/oszuidwest/zwfm-lamper/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultName                = "Lamper"
	DefaultMode                = "spectrum"
	DefaultBrightnessWindow    = 50
	DefaultScaleFactor         = 0.9
	DefaultCycleLength         = 255
	DefaultListenAddr          = "0.0.0.0:4002"
	DefaultMulticastAddr       = "239.255.255.250:4001"
	DefaultControlPort         = 4003
	DefaultDiscoveryTimeoutMs  = 5000
	DefaultStatusTimeoutMs     = 2000
	DefaultQueueSize           = 64
	DefaultOverflow            = "drop-oldest"
	DefaultHealthCheckInterval = types.HealthCheckInterval
	DefaultMaxRetries          = types.MaxRetries
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultZabbixPort          = 10051
)

// Name: any printable characters except control chars (blocks CRLF injection in emails)
var namePattern = regexp.MustCompile(`^[^\x00-\x1F\x7F]+$`)

// SystemConfig holds installation-wide settings.
type SystemConfig struct {
	Name        string `json:"name" yaml:"name"`                 // Installation name used in alerts
	CapturePath string `json:"capture_path" yaml:"capture_path"` // Capture binary override (empty = PATH)
	EventLog    string `json:"event_log" yaml:"event_log"`       // JSON lines event file (empty = off)
}

// AudioConfig holds audio input settings.
type AudioConfig struct {
	Input string `json:"input" yaml:"input"` // Device identifier, or a .wav/.mp3 file
	Loop  bool   `json:"loop" yaml:"loop"`   // Restart file input at the end
}

// AnalysisConfig holds the frame analysis settings.
type AnalysisConfig struct {
	Mode             string   `json:"mode" yaml:"mode" validate:"oneof=spectrum cycle"`
	BrightnessWindow int      `json:"brightness_window" yaml:"brightness_window" validate:"min=1,max=10000"`
	ScaleFactor      float64  `json:"scale_factor" yaml:"scale_factor" validate:"gt=0,lt=1"`
	CeilingFloor     float64  `json:"ceiling_floor" yaml:"ceiling_floor" validate:"gte=0"`
	MinFrequency     float64  `json:"min_frequency" yaml:"min_frequency" validate:"gt=0"`
	MaxFrequency     float64  `json:"max_frequency" yaml:"max_frequency" validate:"gtfield=MinFrequency"`
	CycleLength      int      `json:"cycle_length" yaml:"cycle_length" validate:"min=1"`
	Palette          []string `json:"palette" yaml:"palette" validate:"omitempty,dive,hexcolor,len=7"`
}

// DeviceConfig holds the light's network settings.
type DeviceConfig struct {
	Address            string `json:"address" yaml:"address" validate:"omitempty,ipv4"` // Fixed address; skips discovery
	ListenAddr         string `json:"listen_addr" yaml:"listen_addr" validate:"hostname_port"`
	MulticastAddr      string `json:"multicast_addr" yaml:"multicast_addr" validate:"hostname_port"`
	ControlPort        int    `json:"control_port" yaml:"control_port" validate:"min=1,max=65535"`
	DiscoveryTimeoutMs int64  `json:"discovery_timeout_ms" yaml:"discovery_timeout_ms" validate:"min=100"`
	StatusTimeoutMs    int64  `json:"status_timeout_ms" yaml:"status_timeout_ms" validate:"min=100"`
}

// PipelineConfig holds the stage and retry settings.
type PipelineConfig struct {
	QueueSize           int    `json:"queue_size" yaml:"queue_size" validate:"min=1,max=4096"`
	Overflow            string `json:"overflow" yaml:"overflow" validate:"oneof=drop-oldest block"`
	HealthCheckInterval int    `json:"health_check_interval" yaml:"health_check_interval" validate:"min=1"`
	MaxBrightness       int    `json:"max_brightness" yaml:"max_brightness" validate:"min=0,max=100"` // 0 = ask at startup
	Headless            bool   `json:"headless" yaml:"headless"`                                     // Retry without asking
	MaxRetries          int    `json:"max_retries" yaml:"max_retries" validate:"min=0"`              // Headless retry budget, 0 = unlimited
}

// ServerConfig holds the status server settings.
type ServerConfig struct {
	Listen string `json:"listen" yaml:"listen" validate:"omitempty,hostname_port"` // Empty disables the server
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" yaml:"url" validate:"omitempty,url"` // Webhook URL for device alerts
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id" yaml:"tenant_id"`
	ClientID     string `json:"client_id" yaml:"client_id"`
	ClientSecret string `json:"client_secret" yaml:"client_secret"`
	FromAddress  string `json:"from_address" yaml:"from_address" validate:"omitempty,email"`
	Recipients   string `json:"recipients" yaml:"recipients"` // Comma-separated recipient addresses
}

// ZabbixConfig holds Zabbix trapper settings.
type ZabbixConfig struct {
	Server string `json:"server" yaml:"server" validate:"omitempty,hostname_rfc1123|ip"`
	Port   int    `json:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
	Host   string `json:"host" yaml:"host"` // Host name as configured in Zabbix
	Key    string `json:"key" yaml:"key"`   // Trapper item key
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook" yaml:"webhook"`
	Email   EmailConfig   `json:"email" yaml:"email"`
	Zabbix  ZabbixConfig  `json:"zabbix" yaml:"zabbix"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"oneof=text json"`
}

// Config holds all application configuration. It is read once at startup
// and never written back.
type Config struct {
	System        SystemConfig        `json:"system" yaml:"system"`
	Audio         AudioConfig         `json:"audio" yaml:"audio"`
	Analysis      AnalysisConfig      `json:"analysis" yaml:"analysis"`
	Device        DeviceConfig        `json:"device" yaml:"device"`
	Pipeline      PipelineConfig      `json:"pipeline" yaml:"pipeline"`
	Server        ServerConfig        `json:"server" yaml:"server"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
	Log           LogConfig           `json:"log" yaml:"log"`

	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	// Zero means unlimited, so this default cannot live in applyDefaults.
	c.Pipeline.MaxRetries = DefaultMaxRetries
	c.applyDefaults()
	return c
}

// Path returns the file the configuration is read from.
func (c *Config) Path() string {
	return c.filePath
}

// Load reads the config file. A missing file leaves the defaults in place.
// Files ending in .yaml or .yml are YAML, anything else is JSON.
func (c *Config) Load() error {
	if c.filePath != "" {
		data, err := os.ReadFile(c.filePath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Info("config file not found, using defaults", "path", c.filePath)
		case err != nil:
			return fmt.Errorf("failed to read config: %w", err)
		default:
			if err := c.decode(data); err != nil {
				return util.WrapError("parse config", err)
			}
		}
	}

	c.applyDefaults()
	return c.Validate()
}

func (c *Config) decode(data []byte) error {
	switch strings.ToLower(filepath.Ext(c.filePath)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, c)
	default:
		return json.Unmarshal(data, c)
	}
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.System.Name == "" {
		c.System.Name = DefaultName
	}

	// Analysis defaults
	if c.Analysis.Mode == "" {
		c.Analysis.Mode = DefaultMode
	}
	if c.Analysis.BrightnessWindow == 0 {
		c.Analysis.BrightnessWindow = DefaultBrightnessWindow
	}
	if c.Analysis.ScaleFactor == 0 {
		c.Analysis.ScaleFactor = DefaultScaleFactor
	}
	if c.Analysis.MinFrequency == 0 {
		c.Analysis.MinFrequency = types.MinFrequency
	}
	if c.Analysis.MaxFrequency == 0 {
		c.Analysis.MaxFrequency = types.MaxFrequency
	}
	if c.Analysis.CycleLength == 0 {
		c.Analysis.CycleLength = DefaultCycleLength
	}

	// Device defaults
	if c.Device.ListenAddr == "" {
		c.Device.ListenAddr = DefaultListenAddr
	}
	if c.Device.MulticastAddr == "" {
		c.Device.MulticastAddr = DefaultMulticastAddr
	}
	if c.Device.ControlPort == 0 {
		c.Device.ControlPort = DefaultControlPort
	}
	if c.Device.DiscoveryTimeoutMs == 0 {
		c.Device.DiscoveryTimeoutMs = DefaultDiscoveryTimeoutMs
	}
	if c.Device.StatusTimeoutMs == 0 {
		c.Device.StatusTimeoutMs = DefaultStatusTimeoutMs
	}

	// Pipeline defaults
	if c.Pipeline.QueueSize == 0 {
		c.Pipeline.QueueSize = DefaultQueueSize
	}
	if c.Pipeline.Overflow == "" {
		c.Pipeline.Overflow = DefaultOverflow
	}
	if c.Pipeline.HealthCheckInterval == 0 {
		c.Pipeline.HealthCheckInterval = DefaultHealthCheckInterval
	}

	// Notification defaults
	if c.Notifications.Zabbix.Port == 0 {
		c.Notifications.Zabbix.Port = DefaultZabbixPort
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages instead of struct field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}

// validate is the shared validator instance.
var validate *validator.Validate

// Validate checks all fields and returns a *types.ValidationError listing
// every problem.
func (c *Config) Validate() error {
	verr := types.NewValidationError()

	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return util.WrapError("validate config", err)
		}
		for _, e := range validationErrors {
			verr.Add(fieldPath(e.Namespace()), formatValidationMessage(e), e.Value())
		}
	}

	name := c.System.Name
	if len(name) > 30 || !namePattern.MatchString(name) {
		verr.Add("system.name", "must be 1-30 printable characters", name)
	}
	if c.Analysis.Mode == "cycle" && len(c.Analysis.Palette) == 1 {
		verr.Add("analysis.palette", "cycle mode needs at least two colors", c.Analysis.Palette)
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// fieldPath turns "Config.analysis.mode" into "analysis.mode".
func fieldPath(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return rest
}

// formatValidationMessage creates a human-readable message from a validator error.
func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", e.Param())
	case "gtfield":
		return "must be greater than min_frequency"
	case "url":
		return "must be a valid URL"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "ipv4":
		return "must be an IPv4 address"
	case "hostname_port":
		return "must be host:port"
	case "hexcolor", "len":
		return "must be hex format (#RRGGBB)"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// --- Derived values ---

// ParsedPalette returns the configured cycle palette, or nil for the default.
func (a *AnalysisConfig) ParsedPalette() ([]types.RGB, error) {
	if len(a.Palette) == 0 {
		return nil, nil
	}
	out := make([]types.RGB, 0, len(a.Palette))
	for _, hex := range a.Palette {
		r, g, b, err := util.ParseHexColor(hex)
		if err != nil {
			return nil, err
		}
		out = append(out, types.RGB{R: r, G: g, B: b})
	}
	return out, nil
}

// DiscoveryTimeout returns the discovery timeout as a duration.
func (d *DeviceConfig) DiscoveryTimeout() time.Duration {
	return time.Duration(d.DiscoveryTimeoutMs) * time.Millisecond
}

// StatusTimeout returns the status query timeout as a duration.
func (d *DeviceConfig) StatusTimeout() time.Duration {
	return time.Duration(d.StatusTimeoutMs) * time.Millisecond
}

// GraphConfig returns the email settings in the form the notifier uses.
func (n *NotificationsConfig) GraphConfig() types.GraphConfig {
	return types.GraphConfig{
		TenantID:     n.Email.TenantID,
		ClientID:     n.Email.ClientID,
		ClientSecret: n.Email.ClientSecret,
		FromAddress:  n.Email.FromAddress,
		Recipients:   n.Email.Recipients,
	}
}

// ZabbixConfig returns the trapper settings in the form the notifier uses.
func (n *NotificationsConfig) ZabbixConfig() types.ZabbixConfig {
	return types.ZabbixConfig{
		Server: n.Zabbix.Server,
		Port:   n.Zabbix.Port,
		Host:   n.Zabbix.Host,
		Key:    n.Zabbix.Key,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (n *NotificationsConfig) HasWebhook() bool {
	return n.Webhook.URL != ""
}

// HasGraph reports whether all email settings are configured.
func (n *NotificationsConfig) HasGraph() bool {
	e := n.Email
	return util.IsConfigured(e.TenantID, e.ClientID, e.ClientSecret, e.FromAddress, e.Recipients)
}

// SlogLevel returns the configured log level.
func (l *LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
