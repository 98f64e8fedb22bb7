package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
	"github.com/oszuidwest/zwfm-lamper/internal/util"
)

const (
	githubRepo = "oszuidwest/zwfm-lamper"

	versionCheckInterval = 24 * time.Hour
	versionCheckDelay    = 30 * time.Second
	versionCheckTimeout  = 30 * time.Second
	versionMaxRetries    = 3
	versionRetryDelay    = time.Minute
)

// VersionChecker polls the latest release. It is safe for concurrent use.
type VersionChecker struct {
	releaseURL string
	client     *http.Client

	mu     sync.RWMutex
	latest string
	etag   string // last ETag, sent back as If-None-Match
}

// NewVersionChecker returns a checker for the project's GitHub releases.
func NewVersionChecker() *VersionChecker {
	return &VersionChecker{
		releaseURL: "https://api.github.com/repos/" + githubRepo + "/releases/latest",
		client:     http.DefaultClient,
	}
}

// Run checks once after a startup delay and then daily until ctx is done.
func (vc *VersionChecker) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	wait := versionCheckDelay
	for util.SleepContext(ctx, wait) == nil {
		vc.checkWithRetry(ctx)
		wait = versionCheckInterval
	}
}

func (vc *VersionChecker) checkWithRetry(ctx context.Context) {
	for attempt := 1; !vc.check(ctx); attempt++ {
		if attempt == versionMaxRetries || util.SleepContext(ctx, versionRetryDelay) != nil {
			return
		}
	}
}

type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// check fetches the latest release and reports whether the attempt is
// settled. False means a retry is worthwhile.
func (vc *VersionChecker) check(ctx context.Context) bool {
	release, etag, done := vc.fetch(ctx)
	if release == nil {
		return done
	}
	if release.Draft || release.Prerelease {
		return true
	}
	if release.TagName == "" {
		return false
	}

	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.latest = normalizeVersion(release.TagName)
	if etag != "" {
		vc.etag = etag
	}
	return true
}

// fetch performs the conditional release request. A nil release comes with
// done reporting whether the outcome is final.
func (vc *VersionChecker) fetch(ctx context.Context) (release *githubRelease, etag string, done bool) {
	ctx, cancel := context.WithTimeoutCause(ctx, versionCheckTimeout, errors.New("github API request timeout"))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vc.releaseURL, http.NoBody)
	if err != nil {
		return nil, "", false
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "zwfm-lamper/"+Version)

	vc.mu.RLock()
	if vc.etag != "" {
		req.Header.Set("If-None-Match", vc.etag)
	}
	vc.mu.RUnlock()

	resp, err := vc.client.Do(req)
	if err != nil {
		slog.Debug("version check failed", "error", err)
		return nil, "", false
	}
	defer func() { _ = resp.Body.Close() }()

	switch code := resp.StatusCode; {
	case code == http.StatusOK:
	case code == http.StatusNotModified, code == http.StatusNotFound:
		return nil, "", true
	case code == http.StatusForbidden, code == http.StatusTooManyRequests, code >= 500:
		return nil, "", false
	default:
		return nil, "", true
	}

	release = new(githubRelease)
	if err := json.NewDecoder(resp.Body).Decode(release); err != nil {
		return nil, "", false
	}
	return release, resp.Header.Get("ETag"), true
}

// Info returns the running version and whether a newer release exists.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	current := normalizeVersion(Version)
	info := types.VersionInfo{
		Current:   current,
		Latest:    vc.latest,
		Commit:    Commit,
		BuildTime: util.FormatBuildTime(BuildTime),
	}
	if vc.latest != "" && current != "dev" && current != "unknown" {
		info.UpdateAvail = isNewerVersion(vc.latest, current)
	}
	return info
}

func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// isNewerVersion reports whether latest is a newer semver than current.
func isNewerVersion(latest, current string) bool {
	return semver.Compare(canonicalVersion(latest), canonicalVersion(current)) > 0
}
