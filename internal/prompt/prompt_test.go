package prompt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-lamper/internal/util"
)

var errLost = errors.New("no reply before deadline")

func TestMaxBrightness(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  uint8
	}{
		{"default", "\n", 100},
		{"value", "40\n", 40},
		{"trimmed", "  7 \r\n", 7},
		{"retries until valid", "0\n101\nbright\n55\n", 55},
		{"no newline", "80", 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := NewTerminal(strings.NewReader(tt.input), &out).MaxBrightness(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Set maximum brightness (1-100) [100]: ")
		})
	}
}

func TestMaxBrightnessReprompts(t *testing.T) {
	var out bytes.Buffer
	_, err := NewTerminal(strings.NewReader("abc\n\n"), &out).MaxBrightness(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out.String(), "Please enter a value 1-100"))
}

func TestMaxBrightnessEOF(t *testing.T) {
	got, err := NewTerminal(strings.NewReader(""), io.Discard).MaxBrightness(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, uint8(DefaultMaxBrightness), got)
}

func TestConfirm(t *testing.T) {
	tests := map[string]bool{
		"\n":      true,
		"y\n":     true,
		"Y\n":     true,
		"yes\n":   true,
		"maybe\n": true,
		"n\n":     false,
		"N\n":     false,
		" n \n":   false,
		"":        false,
	}
	for input, want := range tests {
		term := NewTerminal(strings.NewReader(input), io.Discard)
		assert.Equal(t, want, term.RetryHealthCheck(context.Background(), errLost), "input %q", input)
	}
}

func TestConfirmShowsError(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader("n\n"), &out)
	assert.False(t, term.RetryDiscovery(context.Background(), errLost))
	assert.Contains(t, out.String(), "no reply before deadline")
	assert.Contains(t, out.String(), "[Y/n]")
}

func TestSequentialQuestionsShareInput(t *testing.T) {
	term := NewTerminal(strings.NewReader("y\n25\nn\n"), io.Discard)
	ctx := context.Background()

	assert.True(t, term.RetryDiscovery(ctx, errLost))
	b, err := term.MaxBrightness(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(25), b)
	assert.False(t, term.RetryHealthCheck(ctx, errLost))
}

func TestConfirmCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	term := NewTerminal(r, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, term.RetryHealthCheck(ctx, errLost))
}

func TestAutoRetriesWithinBudget(t *testing.T) {
	a := NewAuto(util.NewBackoff(time.Millisecond, 4*time.Millisecond), 3)
	ctx := context.Background()

	assert.True(t, a.RetryDiscovery(ctx, errLost))
	assert.True(t, a.RetryHealthCheck(ctx, errLost))
	assert.True(t, a.RetryDiscovery(ctx, errLost))
	assert.False(t, a.RetryDiscovery(ctx, errLost))
	assert.Equal(t, 4, a.Attempts())

	a.Reset()
	assert.Zero(t, a.Attempts())
	assert.True(t, a.RetryHealthCheck(ctx, errLost))
}

func TestAutoUnlimited(t *testing.T) {
	a := NewAuto(util.NewBackoff(time.Microsecond, time.Microsecond), 0)
	for range 20 {
		require.True(t, a.RetryDiscovery(context.Background(), errLost))
	}
}

func TestAutoStopsOnCancel(t *testing.T) {
	a := NewAuto(util.NewBackoff(time.Hour, time.Hour), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, a.RetryHealthCheck(ctx, errLost))
}
