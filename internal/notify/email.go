package notify

import (
	"context"
	"fmt"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
	"github.com/oszuidwest/zwfm-lamper/internal/util"
)

// GraphConfig is the configuration for email notifications.
type GraphConfig = types.GraphConfig

func deviceLostEmail(a *Alert) (subject, body string) {
	subject = "[ALERT] Light Unreachable - " + a.Name
	body = fmt.Sprintf(
		"The light stopped answering status queries.\n\n"+
			"Address: %s\n"+
			"Error:   %s\n"+
			"Run:     %s\n"+
			"Time:    %s\n\n"+
			"Check that the light is powered and on the network.",
		a.Address, a.Error, a.RunID, util.HumanTime(),
	)
	return subject, body
}

func deviceRecoveredEmail(a *Alert) (subject, body string) {
	subject = "[OK] Light Reachable - " + a.Name
	body = fmt.Sprintf(
		"The light answers again.\n\n"+
			"Address: %s\n"+
			"Outage:  %s\n"+
			"Run:     %s\n"+
			"Time:    %s",
		a.Address, util.FormatDuration(a.Outage), a.RunID, util.HumanTime(),
	)
	return subject, body
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(ctx context.Context, cfg *GraphConfig, name string) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return fmt.Errorf("create Graph client: %w", err)
	}

	if err := client.ValidateAuth(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	subject := "[TEST] " + name
	body := fmt.Sprintf(
		"Test email from %s.\n\n"+
			"Time: %s\n\n"+
			"Microsoft Graph configuration is working correctly.",
		AppName, util.HumanTime(),
	)

	if err := client.SendMail(ctx, ParseRecipients(cfg.Recipients), subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
