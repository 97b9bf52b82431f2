package alert

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SendMailFunc matches smtp.SendMail, injectable for tests.
type SendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel sends a plain-text alert summary over SMTP.
// Config keys: to (required, comma separated), smtp_addr (required,
// host:port), from, subject.
type EmailChannel struct {
	SendMail SendMailFunc
}

// NewEmailChannel creates an email channel. A nil sendMail uses
// smtp.SendMail.
func NewEmailChannel(sendMail SendMailFunc) *EmailChannel {
	if sendMail == nil {
		sendMail = smtp.SendMail
	}
	return &EmailChannel{SendMail: sendMail}
}

func (c *EmailChannel) Type() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, cfg map[string]string, a Alert) error {
	addr := cfg["smtp_addr"]
	if addr == "" {
		return fmt.Errorf("email: missing smtp_addr")
	}
	var to []string
	for _, r := range strings.Split(cfg["to"], ",") {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}
	if len(to) == 0 {
		return fmt.Errorf("email: missing recipients")
	}

	from := cfg["from"]
	if from == "" {
		from = "alerts@localhost"
	}
	subject := cfg["subject"]
	if subject == "" {
		subject = fmt.Sprintf("Alert: %s on %s", a.RuleName, a.CameraID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n\r\n", subject)
	fmt.Fprintf(&b, "Rule %q matched %s event %s\r\n", a.RuleName, a.EventType, a.EventID)
	fmt.Fprintf(&b, "Camera: %s\r\nTrack: %d\r\nTime: %s\r\n",
		a.CameraID, a.TrackID, a.CreatedAt.Format("2006-01-02 15:04:05 MST"))

	if err := c.SendMail(addr, nil, from, to, []byte(b.String())); err != nil {
		return fmt.Errorf("email: send via %s: %w", addr, err)
	}
	return nil
}
