package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"text/template"

	fileGate "github.com/MrEthical07/fileGate"
)

type mailTemplate struct {
	subject *template.Template
	body    *template.Template
}

var mailTemplates = map[string]mailTemplate{
	fileGate.MailTemplateWelcome: {
		subject: template.Must(template.New("s").Parse(`Welcome to the {{.company_name}} Customer Portal`)),
		body: template.Must(template.New("b").Parse(`Hello {{.customer_name}},

An account "{{.handle}}" was created for you on the {{.company_name}} customer portal.
Choose your password here to activate it:

{{.activation_url}}
`)),
	},
	fileGate.MailTemplatePasswordReset: {
		subject: template.Must(template.New("s").Parse(`Password Reset Request`)),
		body: template.Must(template.New("b").Parse(`Hello {{.handle}},

Use this link to choose a new password:

{{.reset_url}}

If you did not ask for a reset you can ignore this message.
`)),
	},
	fileGate.MailTemplateFileAssigned: {
		subject: template.Must(template.New("s").Parse(`New File Available`)),
		body: template.Must(template.New("b").Parse(`Hello {{.handle}},

The file "{{.file_name}}" is now available to you on {{.portal_url}}.
{{with .expires_at}}Access ends {{.}}.
{{end}}`)),
	},
}

// renderMail builds an RFC 5322 message for templateID.
func renderMail(from, to, templateID string, vars map[string]string) ([]byte, error) {
	tpl, ok := mailTemplates[templateID]
	if !ok {
		return nil, fmt.Errorf("unknown mail template %q", templateID)
	}
	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, vars); err != nil {
		return nil, err
	}
	if err := tpl.body.Execute(&body, vars); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject.String())
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// smtpMailer sends through one relay. net/smtp upgrades with STARTTLS when
// the server offers it.
type smtpMailer struct {
	addr string
	auth smtp.Auth
	from string
}

func newSMTPMailer(cfg mailSection) *smtpMailer {
	m := &smtpMailer{
		addr: net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port)),
		from: cfg.Sender,
	}
	if cfg.Username != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Server)
	}
	return m
}

func (m *smtpMailer) Send(_ context.Context, to, templateID string, vars map[string]string) error {
	msg, err := renderMail(m.from, to, templateID, vars)
	if err != nil {
		return err
	}
	return smtp.SendMail(m.addr, m.auth, m.from, []string{to}, msg)
}

// logMailer writes mail to the log when no relay is configured.
type logMailer struct {
	logger *slog.Logger
}

func (m logMailer) Send(ctx context.Context, to, templateID string, vars map[string]string) error {
	msg, err := renderMail("portal", to, templateID, vars)
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "mail not sent: no relay configured",
		slog.String("to", to),
		slog.String("template", templateID),
		slog.String("message", string(msg)),
	)
	return nil
}
