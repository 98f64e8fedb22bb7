// Package prompt answers the operator questions of the pipeline, either
// interactively on a terminal or unattended with a retry budget.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// DefaultMaxBrightness is used when the operator just presses enter.
const DefaultMaxBrightness = 100

type line struct {
	text string
	err  error
}

// Terminal asks questions on out and reads the answers from in.
type Terminal struct {
	out   io.Writer
	in    *bufio.Reader
	once  sync.Once
	lines chan line
	mu    sync.Mutex
}

// NewTerminal returns a prompt reading from in and writing to out.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		out:   out,
		in:    bufio.NewReader(in),
		lines: make(chan line),
	}
}

// readLine waits for the next input line. A single goroutine owns the
// reader so an abandoned read does not race the next one.
func (t *Terminal) readLine(ctx context.Context) (string, error) {
	t.once.Do(func() {
		go func() {
			for {
				s, err := t.in.ReadString('\n')
				if s != "" || err == nil {
					t.lines <- line{text: s}
				}
				if err != nil {
					t.lines <- line{err: err}
					return
				}
			}
		}()
	})

	select {
	case l := <-t.lines:
		return strings.TrimRight(l.text, "\r\n"), l.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// MaxBrightness asks for the brightness limit (1-100). An empty answer
// selects DefaultMaxBrightness.
func (t *Terminal) MaxBrightness(ctx context.Context) (uint8, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "Set maximum brightness (1-100) [%d]: ", DefaultMaxBrightness)
	for {
		answer, err := t.readLine(ctx)
		if err != nil {
			return DefaultMaxBrightness, err
		}
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return DefaultMaxBrightness, nil
		}
		if n, err := strconv.ParseUint(answer, 10, 8); err == nil && n >= 1 && n <= 100 {
			return uint8(n), nil
		}
		fmt.Fprintf(t.out, "Please enter a value 1-100 or press enter for default [%d]: ", DefaultMaxBrightness)
	}
}

// RetryDiscovery asks whether to search for the light again.
func (t *Terminal) RetryDiscovery(ctx context.Context, err error) bool {
	return t.confirm(ctx, fmt.Sprintf("Could not connect to the light: %v\nRetry connection? [Y/n] ", err))
}

// RetryHealthCheck asks whether to reconnect after the light stopped
// answering.
func (t *Terminal) RetryHealthCheck(ctx context.Context, err error) bool {
	return t.confirm(ctx, fmt.Sprintf("Error retrieving device status: %v\nRetry connection? [Y/n] ", err))
}

// confirm defaults to yes; only n or N declines. A read error declines.
func (t *Terminal) confirm(ctx context.Context, question string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprint(t.out, question)
	answer, err := t.readLine(ctx)
	if err != nil && answer == "" {
		fmt.Fprintln(t.out)
		return false
	}
	answer = strings.TrimSpace(answer)
	return answer != "n" && answer != "N"
}
