package alert

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/banshee-data/perimeter.watch/internal/httputil"
)

// SMSChannel delivers a short alert summary through an HTTP SMS
// gateway. Config keys: gateway_url (required), to (required).
type SMSChannel struct {
	Client httputil.HTTPClient
}

// NewSMSChannel creates an SMS channel. A nil client uses
// http.DefaultClient.
func NewSMSChannel(client httputil.HTTPClient) *SMSChannel {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &SMSChannel{Client: client}
}

func (c *SMSChannel) Type() string { return "sms" }

func (c *SMSChannel) Send(ctx context.Context, cfg map[string]string, a Alert) error {
	gateway := cfg["gateway_url"]
	if gateway == "" {
		return fmt.Errorf("sms: missing gateway_url")
	}
	to := cfg["to"]
	if to == "" {
		return fmt.Errorf("sms: missing recipient")
	}

	form := url.Values{
		"to":      {to},
		"message": {fmt.Sprintf("%s: %s on %s", a.RuleName, a.EventType, a.CameraID)},
	}
	resp, err := c.Client.Post(gateway, "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("sms: post %s: %w", gateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sms: gateway returned %d", resp.StatusCode)
	}
	return nil
}
