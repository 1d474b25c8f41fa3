// Package mailer sends the end-of-job report as one multi-part
// (text+HTML) message over SMTP (spec §2 component 6, §6 email config).
// The only email client elsewhere in this codebase's lineage is an
// HTTP-API client for a transactional-email provider; that shape doesn't
// fit a host/port/user/password SMTP target, so this adapts net/smtp
// directly (see DESIGN.md).
package mailer

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
)

type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	FromAddress string
	ToAddress   []string
}

type Message struct {
	Subject  string
	TextBody string
	HTMLBody string
}

type Mailer interface {
	Send(msg Message) error
}

type smtpMailer struct {
	cfg Config
}

func New(cfg Config) Mailer {
	return &smtpMailer{cfg: cfg}
}

// NoopMailer discards every message. Wired in when email.enable_email is
// false, so the reporter still has something to call.
type NoopMailer struct{}

func (NoopMailer) Send(Message) error { return nil }

func (m *smtpMailer) Send(msg Message) error {
	raw, err := buildMIME(m.cfg, msg)
	if err != nil {
		return fmt.Errorf("building message: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
	if err := smtp.SendMail(addr, auth, m.cfg.FromAddress, m.cfg.ToAddress, raw); err != nil {
		return fmt.Errorf("sending mail via %s: %w", addr, err)
	}
	return nil
}

func buildMIME(cfg Config, msg Message) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	buf.WriteString("From: " + cfg.FromAddress + "\r\n")
	buf.WriteString("To: " + strings.Join(cfg.ToAddress, ", ") + "\r\n")
	buf.WriteString("Subject: " + mime.QEncoding.Encode("UTF-8", msg.Subject) + "\r\n")
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: multipart/alternative; boundary=" + w.Boundary() + "\r\n\r\n")

	textPart, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=UTF-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := textPart.Write([]byte(msg.TextBody)); err != nil {
		return nil, err
	}

	htmlPart, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=UTF-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := htmlPart.Write([]byte(msg.HTMLBody)); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
