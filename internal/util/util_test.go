package util

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := NewBackoff(time.Second, 5*time.Second)

	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Current())

	b.Reset()
	assert.Equal(t, time.Second, b.Current())
}

func TestBackoffWaitHonoursContext(t *testing.T) {
	b := NewBackoff(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffWaitSleeps(t *testing.T) {
	b := NewBackoff(time.Millisecond, time.Millisecond)
	require.NoError(t, b.Wait(context.Background()))
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("open socket", nil))

	base := errors.New("address in use")
	err := WrapError("open socket", base)
	assert.EqualError(t, err, "failed to open socket: address in use")
	assert.ErrorIs(t, err, base)
}

func TestLastStderrLine(t *testing.T) {
	stderr := "line one\nStream map '' matches no streams.\n\n  \n"
	assert.Equal(t, "Stream map '' matches no streams.", LastStderrLine(stderr))
	assert.Equal(t, "only line", LastStderrLine("  only line  "))
	assert.Empty(t, LastStderrLine(""))
	assert.Empty(t, LastStderrLine("\n \n"))

	long := strings.Repeat("é", stderrLineLimit+10)
	got := LastStderrLine(long)
	assert.Equal(t, strings.Repeat("é", stderrLineLimit)+"...", got)
}

func TestDeliver(t *testing.T) {
	assert.True(t, Deliver("webhook", func() error { return nil }))
	assert.False(t, Deliver("webhook", func() error { return errors.New("timeout") }))
}

func TestHexColorRoundTrip(t *testing.T) {
	assert.Equal(t, "#FF6F00", HexColor(255, 111, 0))

	r, g, b, err := ParseHexColor("#5e00ff")
	require.NoError(t, err)
	assert.Equal(t, [3]uint8{94, 0, 255}, [3]uint8{r, g, b})

	_, _, _, err = ParseHexColor("#12345")
	assert.Error(t, err)
	_, _, _, err = ParseHexColor("zzzzzz")
	assert.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", FormatDuration(45*time.Second))
	assert.Equal(t, "2m 34s", FormatDuration(154*time.Second))
	assert.Equal(t, "1h 23m", FormatDuration(83*time.Minute))
}

func TestIsConfigured(t *testing.T) {
	assert.True(t, IsConfigured("a", "b"))
	assert.False(t, IsConfigured("a", ""))
}
