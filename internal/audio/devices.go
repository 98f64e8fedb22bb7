package audio

import (
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

// ListDevices returns available audio input devices for the current platform.
func ListDevices() []types.AudioDevice {
	return getPlatformConfig().ListDevices()
}

// DeviceListConfig describes how one platform enumerates capture devices:
// a command whose output holds an audio section bounded by optional
// markers, with one device per line matching DevicePattern.
type DeviceListConfig struct {
	Command          []string
	AudioStartMarker string
	AudioStopMarker  string // optional
	DevicePattern    *regexp.Regexp
	ParseDevice      func(matches []string) *types.AudioDevice

	// FallbackDevices are returned when nothing could be detected.
	FallbackDevices []types.AudioDevice
}

// parseDeviceList runs the listing command and parses its output.
//
//nolint:gocritic // hugeParam: called once per listing
func parseDeviceList(cfg DeviceListConfig) []types.AudioDevice {
	if len(cfg.Command) == 0 {
		return cfg.FallbackDevices
	}

	output, err := exec.Command(cfg.Command[0], cfg.Command[1:]...).CombinedOutput()
	if err != nil && len(output) == 0 {
		slog.Error("failed to list audio devices", "command", cfg.Command[0], "error", err)
		return cfg.FallbackDevices
	}
	return parseDeviceOutput(string(output), cfg)
}

// parseDeviceOutput extracts devices from listing output.
//
//nolint:gocritic // hugeParam: see parseDeviceList
func parseDeviceOutput(output string, cfg DeviceListConfig) []types.AudioDevice {
	if cfg.DevicePattern == nil || cfg.ParseDevice == nil {
		return cfg.FallbackDevices
	}

	var devices []types.AudioDevice
	inSection := cfg.AudioStartMarker == ""
	for line := range strings.SplitSeq(output, "\n") {
		switch {
		case cfg.AudioStartMarker != "" && strings.Contains(line, cfg.AudioStartMarker):
			inSection = true
		case cfg.AudioStopMarker != "" && strings.Contains(line, cfg.AudioStopMarker):
			inSection = false
		case !inSection, strings.Contains(line, "Alternative name"):
			// DirectShow prints an alternative name under each device.
		default:
			m := cfg.DevicePattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			if dev := cfg.ParseDevice(m); dev != nil {
				devices = append(devices, *dev)
			}
		}
	}

	if len(devices) == 0 {
		return cfg.FallbackDevices
	}
	return devices
}
