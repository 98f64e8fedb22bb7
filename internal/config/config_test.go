package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	c := New("")
	require.NoError(t, c.Load())

	assert.Equal(t, DefaultMode, c.Analysis.Mode)
	assert.Equal(t, 50, c.Analysis.BrightnessWindow)
	assert.InDelta(t, 0.9, c.Analysis.ScaleFactor, 1e-9)
	assert.Equal(t, 4003, c.Device.ControlPort)
	assert.Equal(t, "239.255.255.250:4001", c.Device.MulticastAddr)
	assert.Equal(t, 64, c.Pipeline.QueueSize)
	assert.Equal(t, "drop-oldest", c.Pipeline.Overflow)
	assert.Equal(t, 255, c.Pipeline.HealthCheckInterval)
	assert.Equal(t, 10, c.Pipeline.MaxRetries)
	assert.Zero(t, c.Pipeline.MaxBrightness)
	assert.Empty(t, c.Server.Listen)
}

func TestMissingFileUsesDefaultsAndWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	c := New(path)
	require.NoError(t, c.Load())

	assert.Equal(t, DefaultName, c.System.Name)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"audio": {"input": "song.wav", "loop": true},
		"analysis": {"mode": "cycle", "palette": ["#FF0000", "#00ff00"]},
		"device": {"address": "192.168.1.50", "status_timeout_ms": 500},
		"pipeline": {"max_brightness": 60, "overflow": "block", "max_retries": 0},
		"server": {"listen": "127.0.0.1:8080"}
	}`)
	c := New(path)
	require.NoError(t, c.Load())

	assert.Equal(t, "song.wav", c.Audio.Input)
	assert.True(t, c.Audio.Loop)
	assert.Equal(t, "cycle", c.Analysis.Mode)
	assert.Equal(t, "192.168.1.50", c.Device.Address)
	assert.Equal(t, int64(500), c.Device.StatusTimeout().Milliseconds())
	assert.Equal(t, int64(5000), c.Device.DiscoveryTimeout().Milliseconds())
	assert.Equal(t, 60, c.Pipeline.MaxBrightness)
	assert.Equal(t, "block", c.Pipeline.Overflow)
	assert.Zero(t, c.Pipeline.MaxRetries)

	palette, err := c.Analysis.ParsedPalette()
	require.NoError(t, err)
	assert.Equal(t, []types.RGB{{R: 255}, {G: 255}}, palette)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "lamper.yaml", `
system:
  name: Studio 1
analysis:
  brightness_window: 20
  scale_factor: 0.8
pipeline:
  headless: true
log:
  level: debug
  format: json
`)
	c := New(path)
	require.NoError(t, c.Load())

	assert.Equal(t, "Studio 1", c.System.Name)
	assert.Equal(t, 20, c.Analysis.BrightnessWindow)
	assert.InDelta(t, 0.8, c.Analysis.ScaleFactor, 1e-9)
	assert.True(t, c.Pipeline.Headless)
	assert.Equal(t, 10, c.Pipeline.MaxRetries)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, "DEBUG", c.Log.SlogLevel().String())
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	c := New(writeFile(t, "config.json", `{"analysis": `))
	err := c.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestValidationCollectsAllErrors(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"analysis": {"mode": "strobe", "scale_factor": 1.5, "palette": ["red"]},
		"device": {"address": "fe80::1", "control_port": 70000},
		"pipeline": {"max_brightness": 150, "overflow": "drop-newest"},
		"notifications": {"webhook": {"url": "not a url"}},
		"log": {"level": "loud"}
	}`)
	err := New(path).Load()
	require.Error(t, err)

	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)

	fields := make(map[string]string)
	for _, fe := range verr.Errors {
		fields[fe.Field] = fe.Message
	}
	assert.Equal(t, "must be one of: spectrum cycle", fields["analysis.mode"])
	assert.Equal(t, "must be less than 1", fields["analysis.scale_factor"])
	assert.Equal(t, "must be hex format (#RRGGBB)", fields["analysis.palette[0]"])
	assert.Equal(t, "must be an IPv4 address", fields["device.address"])
	assert.Equal(t, "must be at most 65535", fields["device.control_port"])
	assert.Equal(t, "must be at most 100", fields["pipeline.max_brightness"])
	assert.Contains(t, fields, "pipeline.overflow")
	assert.Equal(t, "must be a valid URL", fields["notifications.webhook.url"])
	assert.Contains(t, fields, "log.level")
}

func TestValidateFrequencyRange(t *testing.T) {
	c := New("")
	c.Analysis.MinFrequency = 500
	c.Analysis.MaxFrequency = 100

	var verr *types.ValidationError
	require.ErrorAs(t, c.Validate(), &verr)
	require.Len(t, verr.Errors, 1)
	assert.Equal(t, "analysis.max_frequency", verr.Errors[0].Field)
}

func TestValidateName(t *testing.T) {
	c := New("")
	c.System.Name = "Studio\r\nBcc: someone"

	var verr *types.ValidationError
	require.ErrorAs(t, c.Validate(), &verr)
	assert.Equal(t, "system.name", verr.Errors[0].Field)
}

func TestNotificationChannels(t *testing.T) {
	var n NotificationsConfig
	assert.False(t, n.HasWebhook())
	assert.False(t, n.HasGraph())

	n.Webhook.URL = "https://example.com/hook"
	n.Email = EmailConfig{
		TenantID: "t", ClientID: "c", ClientSecret: "s",
		FromAddress: "lamp@example.com", Recipients: "a@example.com",
	}
	assert.True(t, n.HasWebhook())
	assert.True(t, n.HasGraph())
	assert.Equal(t, "lamp@example.com", n.GraphConfig().FromAddress)
}

func TestZabbixDefaultsAndConversion(t *testing.T) {
	c := New("")
	require.NoError(t, c.Load())
	assert.Equal(t, DefaultZabbixPort, c.Notifications.Zabbix.Port)
	assert.False(t, c.Notifications.ZabbixConfig().IsConfigured())

	c.Notifications.Zabbix.Server = "zabbix.example.com"
	c.Notifications.Zabbix.Host = "studio-lamp"
	c.Notifications.Zabbix.Key = "lamper.event"
	require.NoError(t, c.Validate())

	z := c.Notifications.ZabbixConfig()
	assert.True(t, z.IsConfigured())
	assert.Equal(t, 10051, z.Port)
	assert.Equal(t, "studio-lamp", z.Host)
}
