package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-lamper/internal/config"
	"github.com/oszuidwest/zwfm-lamper/internal/util"
)

// sendTimeout bounds one email delivery including token refresh and retries.
const sendTimeout = 30 * time.Second

// Alert describes one device outage event.
type Alert struct {
	Name    string        // Installation name
	RunID   string        // Identifies the process run
	Address string        // Device address
	Error   string        // Health check failure, empty on recovery
	Outage  time.Duration // Outage length, zero on loss
}

// DeviceNotifier fans device loss and recovery out to the configured
// channels. Each channel is notified at most once per outage.
type DeviceNotifier struct {
	cfg   *config.Config
	runID string

	// mu protects the notification state fields below
	mu sync.Mutex

	// Track which notifications have been sent for the current outage
	webhookSent bool
	emailSent   bool
	zabbixSent  bool

	// Cached Graph client for email notifications
	graphClient *GraphClient

	wg sync.WaitGroup
}

// NewDeviceNotifier returns a DeviceNotifier for the given config and run.
func NewDeviceNotifier(cfg *config.Config, runID string) *DeviceNotifier {
	return &DeviceNotifier{cfg: cfg, runID: runID}
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *DeviceNotifier) getOrCreateGraphClient(cfg *GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

func (n *DeviceNotifier) alert(addr string) *Alert {
	return &Alert{Name: n.cfg.System.Name, RunID: n.runID, Address: addr}
}

// DeviceLost notifies every configured channel that has not yet been told
// about the current outage.
func (n *DeviceNotifier) DeviceLost(addr string, err error) {
	a := n.alert(addr)
	if err != nil {
		a.Error = err.Error()
	}
	nc := &n.cfg.Notifications

	n.trySend(&n.webhookSent, nc.HasWebhook(), "Device lost webhook", func() error {
		return SendDeviceLostWebhook(nc.Webhook.URL, a)
	})
	n.trySend(&n.emailSent, nc.HasGraph(), "Device lost email", func() error {
		subject, body := deviceLostEmail(a)
		return n.sendEmail(subject, body)
	})
	n.trySend(&n.zabbixSent, nc.ZabbixConfig().IsConfigured(), "Device lost zabbix", func() error {
		return SendDeviceLostZabbix(nc.ZabbixConfig(), a)
	})
}

// trySend sends a notification if the condition is met and not already sent.
func (n *DeviceNotifier) trySend(sent *bool, condition bool, channel string, fn func() error) {
	n.mu.Lock()
	shouldSend := !*sent && condition
	if shouldSend {
		*sent = true
	}
	n.mu.Unlock()
	if shouldSend {
		n.wg.Go(func() { util.Deliver(channel, fn) })
	}
}

// DeviceRecovered sends recovery notifications on the channels that reported
// the outage and resets the per-outage state.
func (n *DeviceNotifier) DeviceRecovered(addr string, outage time.Duration) {
	a := n.alert(addr)
	a.Outage = outage
	nc := &n.cfg.Notifications

	n.mu.Lock()
	webhook, email, zabbix := n.webhookSent, n.emailSent, n.zabbixSent
	n.webhookSent, n.emailSent, n.zabbixSent = false, false, false
	n.mu.Unlock()

	if webhook {
		n.wg.Go(func() {
			util.Deliver("Device recovered webhook", func() error { return SendDeviceRecoveredWebhook(nc.Webhook.URL, a) })
		})
	}
	if email {
		n.wg.Go(func() {
			util.Deliver("Device recovered email", func() error {
				subject, body := deviceRecoveredEmail(a)
				return n.sendEmail(subject, body)
			})
		})
	}
	if zabbix {
		n.wg.Go(func() {
			util.Deliver("Device recovered zabbix", func() error { return SendDeviceRecoveredZabbix(nc.ZabbixConfig(), a) })
		})
	}
}

// Wait blocks until all in-flight notifications have finished.
func (n *DeviceNotifier) Wait() {
	n.wg.Wait()
}

// sendEmail handles the common email sending infrastructure.
func (n *DeviceNotifier) sendEmail(subject, body string) error {
	cfg := n.cfg.Notifications.GraphConfig()
	if !IsConfigured(&cfg) {
		return nil
	}

	client, err := n.getOrCreateGraphClient(&cfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := client.SendMail(ctx, recipients, subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}

// SendTest sends a test notification on every configured channel and
// returns the combined failures.
func (n *DeviceNotifier) SendTest(ctx context.Context) error {
	nc := &n.cfg.Notifications
	name := n.cfg.System.Name
	var errs []error
	sent := 0

	if nc.HasWebhook() {
		sent++
		if err := SendTestWebhook(nc.Webhook.URL, name); err != nil {
			errs = append(errs, util.WrapError("webhook", err))
		}
	}
	if nc.HasGraph() {
		sent++
		cfg := nc.GraphConfig()
		if err := SendTestEmail(ctx, &cfg, name); err != nil {
			errs = append(errs, util.WrapError("email", err))
		}
	}
	if z := nc.ZabbixConfig(); z.IsConfigured() {
		sent++
		if err := SendTestZabbix(z); err != nil {
			errs = append(errs, util.WrapError("zabbix", err))
		}
	}

	if sent == 0 {
		return errors.New("no notification channels configured")
	}
	return errors.Join(errs...)
}
