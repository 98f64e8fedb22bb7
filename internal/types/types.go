// Package types provides shared type definitions used across the lighting pipeline.
package types

import (
	"fmt"
	"time"

	"github.com/oszuidwest/zwfm-lamper/internal/util"
)

// Audio format constants for capture and analysis.
const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 44100
	// Channels is the number of captured channels (mono).
	Channels = 1
	// WindowSize is the number of samples in one frame.
	WindowSize = 2048
)

// Audible range used for frequency to hue mapping.
const (
	MinFrequency = 20.0
	MaxFrequency = 20000.0
)

const (
	// InitialRetryDelay is the starting delay between unattended retry attempts.
	InitialRetryDelay = 3000 * time.Millisecond
	// MaxRetryDelay is the maximum delay between unattended retry attempts.
	MaxRetryDelay = 60000 * time.Millisecond
	// MaxRetries is the default number of unattended reconnect attempts.
	MaxRetries = 10
)

const (
	// HealthCheckInterval is the number of dispatch cycles between device health checks.
	HealthCheckInterval = 255
	// ExitDelay keeps a fatal message on screen before the process exits.
	ExitDelay = 2000 * time.Millisecond
	// ShutdownTimeout bounds the restore and HTTP shutdown sequence.
	ShutdownTimeout = 3000 * time.Millisecond
)

// Frame is one window of mono samples. It is not modified after handoff.
type Frame []float32

// SpectrumSample is the dominant bin of one frame's spectrum.
type SpectrumSample struct {
	FrequencyHz float64 `json:"frequency_hz"`
	Magnitude   float64 `json:"magnitude"`
}

// RGB is a color with 8-bit channels.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Hex returns the color as #RRGGBB.
func (c RGB) Hex() string {
	return util.HexColor(c.R, c.G, c.B)
}

// CommandKind identifies the variant of a LightCommand.
type CommandKind uint8

const (
	// CommandPower switches the light on or off.
	CommandPower CommandKind = iota + 1
	// CommandBrightness sets brightness in percent.
	CommandBrightness
	// CommandColor sets an RGB color.
	CommandColor
)

func (k CommandKind) String() string {
	switch k {
	case CommandPower:
		return "power"
	case CommandBrightness:
		return "brightness"
	case CommandColor:
		return "color"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// LightCommand is a single control instruction for the light.
// Only the field that belongs to Kind is meaningful.
type LightCommand struct {
	Kind       CommandKind
	On         bool
	Brightness uint8
	Color      RGB
}

// PowerCommand returns a command that switches the light on or off.
func PowerCommand(on bool) LightCommand {
	return LightCommand{Kind: CommandPower, On: on}
}

// BrightnessCommand returns a command that sets brightness (0-100).
func BrightnessCommand(value uint8) LightCommand {
	return LightCommand{Kind: CommandBrightness, Brightness: value}
}

// ColorCommand returns a command that sets the color.
func ColorCommand(c RGB) LightCommand {
	return LightCommand{Kind: CommandColor, Color: c}
}

func (c LightCommand) String() string {
	switch c.Kind {
	case CommandPower:
		if c.On {
			return "power(on)"
		}
		return "power(off)"
	case CommandBrightness:
		return fmt.Sprintf("brightness(%d)", c.Brightness)
	case CommandColor:
		return fmt.Sprintf("color(%d,%d,%d)", c.Color.R, c.Color.G, c.Color.B)
	default:
		return c.Kind.String()
	}
}

// DeviceState is a snapshot of the light as reported by a status query.
type DeviceState struct {
	Power                  bool  `json:"power"`
	Brightness             uint8 `json:"brightness"`
	Color                  RGB   `json:"color"`
	ColorTemperatureKelvin int   `json:"color_temperature_kelvin,omitzero"`
}

// Levels are the RMS and peak levels of one frame in dBFS.
type Levels struct {
	RMS  float64 `json:"rms_db"`
	Peak float64 `json:"peak_db"`
	Clip int     `json:"clip,omitzero"` // Samples at or near full scale
}

// Update is the result of analysing one frame.
type Update struct {
	Spectrum   SpectrumSample `json:"spectrum"`
	Levels     Levels         `json:"levels"`
	Brightness uint8          `json:"brightness"`
	Color      RGB            `json:"color"`
	Commands   []LightCommand `json:"-"`
	Captured   time.Time      `json:"captured"`
}

// PipelineState represents the current state of the orchestrator.
type PipelineState string

const (
	// StateStopped indicates the pipeline is not running.
	StateStopped PipelineState = "stopped"
	// StateConnecting indicates discovery or the initial status query is in progress.
	StateConnecting PipelineState = "connecting"
	// StateRunning indicates audio is flowing to the light.
	StateRunning PipelineState = "running"
	// StateReconnecting indicates a health check failed and a retry is pending.
	StateReconnecting PipelineState = "reconnecting"
	// StateStopping indicates the light is being restored.
	StateStopping PipelineState = "stopping"
)

// DeviceStatus describes the connection to the light.
type DeviceStatus struct {
	State           string       `json:"state"`                      // disconnected, discovering or connected
	Address         string       `json:"address,omitzero"`           // Unicast IPv4 address
	Initial         *DeviceState `json:"initial,omitempty"`          // Snapshot restored on shutdown
	LastHealthCheck time.Time    `json:"last_health_check,omitzero"` // Time of last successful check
	HealthChecks    int64        `json:"health_checks"`              // Successful checks this run
	Reconnects      int          `json:"reconnects,omitzero"`        // Reconnects after lost contact
	CommandErrors   int64        `json:"command_errors,omitzero"`    // Rejected or failed commands
	LostSince       time.Time    `json:"lost_since,omitzero"`        // Start of current outage
}

// PipelineStatus contains a summary of the pipeline's operational state.
type PipelineStatus struct {
	RunID         string        `json:"run_id"`
	State         PipelineState `json:"state"`
	Mode          string        `json:"mode"`
	Uptime        string        `json:"uptime,omitzero"`
	LastError     string        `json:"last_error,omitzero"`
	MaxBrightness uint8         `json:"max_brightness"`
	Frames        int64         `json:"frames"`
	FramesDropped int64         `json:"frames_dropped,omitzero"`
	Device        DeviceStatus  `json:"device"`
}

// AudioDevice represents an available audio input device.
type AudioDevice struct {
	ID   string `json:"id"`   // Device identifier
	Name string `json:"name"` // Device display name
}

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`         // Azure AD tenant ID
	ClientID     string `json:"client_id,omitempty" yaml:"client_id,omitempty"`         // App registration client ID
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"` // App registration client secret
	FromAddress  string `json:"from_address,omitempty" yaml:"from_address,omitempty"`   // Shared mailbox address (sender)
	Recipients   string `json:"recipients,omitempty" yaml:"recipients,omitempty"`       // Comma-separated recipients
}

// ZabbixConfig contains Zabbix trapper settings for device alerts.
type ZabbixConfig struct {
	Server string `json:"server,omitempty" yaml:"server,omitempty"` // Zabbix server or proxy host
	Port   int    `json:"port,omitempty" yaml:"port,omitempty"`     // Trapper port
	Host   string `json:"host,omitempty" yaml:"host,omitempty"`     // Host name as configured in Zabbix
	Key    string `json:"key,omitempty" yaml:"key,omitempty"`       // Trapper item key
}

// IsConfigured reports whether all trapper settings are present.
func (z ZabbixConfig) IsConfigured() bool {
	return util.IsConfigured(z.Server, z.Host, z.Key) && z.Port > 0
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
