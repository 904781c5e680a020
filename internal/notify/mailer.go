package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer is the external email collaborator.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer sends through a plain SMTP relay with AUTH.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (m *SMTPMailer) Send(_ context.Context, msg Message) error {
	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)
	auth := smtp.PlainAuth("", m.Username, m.Password, m.Host)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)

	if err := smtp.SendMail(addr, auth, m.From, []string{msg.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

func composeWelcome(args DeliveryJobArgs) Message {
	expires := args.ExpiresAt.Format("January 2, 2006")
	if args.ExpiresAt.After(time.Now().AddDate(50, 0, 0)) {
		expires = "Never"
	}

	body := fmt.Sprintf(`Dear %s,

Thank you for purchasing a RescuePC Repairs %s license.

LICENSE DETAILS:
- License Key: %s
- Tier: %s
- Devices: %d
- Expires: %s

Enter your license key when prompted on first run to activate.

Need help? Contact support@rescuepcrepairs.com.

RescuePC Repairs
`, args.Name, args.Tier, args.LicenseKey, args.Tier, args.MaxDevices, expires)

	return Message{
		To:      args.Email,
		Subject: fmt.Sprintf("Your RescuePC Repairs %s license", args.Tier),
		Body:    body,
	}
}
