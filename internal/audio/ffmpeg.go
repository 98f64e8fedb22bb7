//go:build !linux

package audio

import (
	"fmt"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

// buildFFmpegCaptureArgs constructs FFmpeg arguments for raw mono float capture.
func buildFFmpegCaptureArgs(inputFormat, device string) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "f32le",
		"-ac", fmt.Sprintf("%d", types.Channels),
		"-ar", fmt.Sprintf("%d", types.SampleRate),
		"pipe:1",
	}
}
