package util

import "os/exec"

// ResolveBinary returns the path to an external capture binary.
// If customPath is set, it validates the path exists and is executable.
// Otherwise, it searches for name in the system PATH.
// Returns an empty string if the binary is not found.
func ResolveBinary(customPath, name string) string {
	if customPath != "" {
		if _, err := exec.LookPath(customPath); err == nil {
			return customPath
		}
		return ""
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}
