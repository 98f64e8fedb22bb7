//go:build linux

package audio

import (
	"fmt"
	"regexp"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
	"github.com/oszuidwest/zwfm-lamper/internal/util"
)

// getPlatformConfig prefers PulseAudio/PipeWire so the monitor of the
// default output can be captured, and falls back to ALSA.
func getPlatformConfig() CaptureConfig {
	if util.ResolveBinary("", "parec") != "" {
		return CaptureConfig{
			Command:       "parec",
			DefaultDevice: "@DEFAULT_MONITOR@",
			BuildArgs:     buildPulseArgs,
			ListDevices:   listPulseSources,
		}
	}
	return CaptureConfig{
		Command:       "arecord",
		DefaultDevice: "default",
		BuildArgs:     buildALSAArgs,
		ListDevices:   listALSADevices,
	}
}

func buildPulseArgs(device string) []string {
	return []string{
		"--device=" + device,
		"--format=float32le",
		fmt.Sprintf("--rate=%d", types.SampleRate),
		fmt.Sprintf("--channels=%d", types.Channels),
		"--raw",
	}
}

func buildALSAArgs(device string) []string {
	return []string{
		"-D", device,
		"-f", "FLOAT_LE",
		"-r", fmt.Sprintf("%d", types.SampleRate),
		"-c", fmt.Sprintf("%d", types.Channels),
		"-t", "raw",
		"-q",
		"-",
	}
}

var pulseSourcePattern = regexp.MustCompile(`^\d+\s+(\S+)\s+`)

func listPulseSources() []types.AudioDevice {
	return parseDeviceList(DeviceListConfig{
		Command:       []string{"pactl", "list", "short", "sources"},
		DevicePattern: pulseSourcePattern,
		ParseDevice: func(matches []string) *types.AudioDevice {
			if len(matches) < 2 {
				return nil
			}
			return &types.AudioDevice{ID: matches[1], Name: matches[1]}
		},
		FallbackDevices: []types.AudioDevice{
			{ID: "@DEFAULT_MONITOR@", Name: "Monitor of default output"},
		},
	})
}

var alsaCardPattern = regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`)

func listALSADevices() []types.AudioDevice {
	return parseDeviceList(DeviceListConfig{
		Command:       []string{"arecord", "-l"},
		DevicePattern: alsaCardPattern,
		ParseDevice: func(matches []string) *types.AudioDevice {
			if len(matches) < 4 {
				return nil
			}
			return &types.AudioDevice{
				ID:   "default:CARD=" + matches[2],
				Name: matches[3],
			}
		},
		FallbackDevices: []types.AudioDevice{
			{ID: "default", Name: "ALSA default"},
		},
	})
}
