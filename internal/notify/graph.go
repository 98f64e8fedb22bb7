package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
	"github.com/oszuidwest/zwfm-lamper/internal/util"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	graphBaseURL     = "https://graph.microsoft.com/v1.0"
	graphScope       = "https://graph.microsoft.com/.default"
	tokenURLTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/token" //nolint:gosec // URL template, not a credential

	maxRetries       = 3
	initialRetryWait = 1 * time.Second
	maxRetryWait     = 30 * time.Second

	httpTimeout = 30 * time.Second

	// errorBodyLimit caps how much of a failed response ends up in an error.
	errorBodyLimit = 4096
)

var (
	guidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

	errNoFromAddress = errors.New("from address (shared mailbox) is required")
)

// credentialField is one required Graph credential.
type credentialField struct {
	name  string
	value string
	guid  bool
}

// checkCredentials reports the first missing credential. With strict set,
// tenant and client IDs must also be GUIDs.
func checkCredentials(cfg *types.GraphConfig, strict bool) error {
	fields := []credentialField{
		{"tenant ID", cfg.TenantID, true},
		{"client ID", cfg.ClientID, true},
		{"client secret", cfg.ClientSecret, false},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%s is required", f.name)
		}
		if strict && f.guid && !guidPattern.MatchString(f.value) {
			return fmt.Errorf("%s must be a valid GUID (e.g., 12345678-1234-1234-1234-123456789abc)", f.name)
		}
	}
	return nil
}

// GraphClient sends mail from a shared mailbox through Microsoft Graph.
type GraphClient struct {
	fromAddress string
	baseURL     string
	httpClient  *http.Client
}

// NewGraphClient returns a client that authenticates with the OAuth2 client
// credentials flow. Tokens are fetched lazily on the first request.
func NewGraphClient(cfg *types.GraphConfig) (*GraphClient, error) {
	if err := checkCredentials(cfg, false); err != nil {
		return nil, err
	}
	if cfg.FromAddress == "" {
		return nil, errNoFromAddress
	}

	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf(tokenURLTemplate, cfg.TenantID),
		Scopes:       []string{graphScope},
	}
	// Token requests use the same bounded client as API calls.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: httpTimeout})

	return &GraphClient{
		fromAddress: cfg.FromAddress,
		baseURL:     graphBaseURL,
		httpClient:  creds.Client(ctx),
	}, nil
}

// graphMailRequest is the sendMail request body.
type graphMailRequest struct {
	Message struct {
		Subject      string          `json:"subject"`
		Body         mailBody        `json:"body"`
		ToRecipients []mailRecipient `json:"toRecipients"`
	} `json:"message"`
}

type mailBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type mailRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

func newMailRequest(recipients []string, subject, body string) graphMailRequest {
	var req graphMailRequest
	req.Message.Subject = subject
	req.Message.Body = mailBody{ContentType: "Text", Content: body}
	for _, addr := range recipients {
		if addr = strings.TrimSpace(addr); addr == "" {
			continue
		}
		var r mailRecipient
		r.EmailAddress.Address = addr
		req.Message.ToRecipients = append(req.Message.ToRecipients, r)
	}
	return req
}

// SendMail sends a plain-text message to recipients. Blank addresses are
// ignored.
func (c *GraphClient) SendMail(ctx context.Context, recipients []string, subject, body string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients specified")
	}
	req := newMailRequest(recipients, subject, body)
	if len(req.Message.ToRecipients) == 0 {
		return fmt.Errorf("no valid recipients after filtering")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.postWithRetry(ctx, c.userURL("sendMail"), payload)
}

func (c *GraphClient) userURL(suffix string) string {
	u := c.baseURL + "/users/" + url.PathEscape(c.fromAddress)
	if suffix != "" {
		u += "/" + suffix
	}
	return u
}

// transientStatus reports whether Graph may succeed on a later attempt.
func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter returns the server-requested delay, or zero when absent.
// Graph sends integer seconds.
func retryAfter(h http.Header) time.Duration {
	seconds, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// postWithRetry posts payload to apiURL. Throttling and gateway errors are
// retried with backoff until maxRetries or ctx runs out.
func (c *GraphClient) postWithRetry(ctx context.Context, apiURL string, payload []byte) error {
	backoff := util.NewBackoff(initialRetryWait, maxRetryWait)

	var lastErr error
	for attempt := range maxRetries + 1 {
		if attempt > 0 {
			if err := backoff.Wait(ctx); err != nil {
				return fmt.Errorf("%w (last error: %w)", err, lastErr)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("send request: %w", err)
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		_ = resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if !transientStatus(resp.StatusCode) {
			return fmt.Errorf("graph API error %d: %s", resp.StatusCode, body)
		}
		lastErr = fmt.Errorf("graph API returned %d: %s", resp.StatusCode, body)

		if d := retryAfter(resp.Header); d > 0 {
			if err := util.SleepContext(ctx, d); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// ValidateAuth fetches a token and looks up the sending mailbox. A 403 is
// accepted since Mail.Send alone does not grant User.Read.
func (c *GraphClient) ValidateAuth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userURL(""), http.NoBody)
	if err != nil {
		return fmt.Errorf("create validation request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return fmt.Errorf("authentication failed: %w", err)
		}
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusForbidden:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("mailbox %s not found", c.fromAddress)
	case http.StatusUnauthorized:
		return fmt.Errorf("authentication failed: invalid credentials")
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return fmt.Errorf("validation failed with status %d: %s", resp.StatusCode, body)
}

// ValidateConfig checks that cfg is complete and its IDs are well formed.
func ValidateConfig(cfg *types.GraphConfig) error {
	if err := checkCredentials(cfg, true); err != nil {
		return err
	}
	if cfg.FromAddress == "" {
		return errNoFromAddress
	}
	if cfg.Recipients == "" {
		return fmt.Errorf("recipients are required")
	}
	return nil
}

// IsConfigured reports whether every Graph field is set.
func IsConfigured(cfg *types.GraphConfig) bool {
	return util.IsConfigured(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, cfg.FromAddress, cfg.Recipients)
}

// ParseRecipients splits a comma-separated address list, dropping blanks.
func ParseRecipients(recipients string) []string {
	var result []string
	for r := range strings.SplitSeq(recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			result = append(result, r)
		}
	}
	return result
}
