package util

import "log/slog"

// Deliver runs send for one alert channel and logs the outcome. It reports
// whether the alert went out.
func Deliver(channel string, send func() error) bool {
	if err := send(); err != nil {
		slog.Error("alert delivery failed", "channel", channel, "error", err)
		return false
	}
	slog.Info("alert delivered", "channel", channel)
	return true
}
