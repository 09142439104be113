package mailer

import (
	"fmt"
	"net/smtp"
)

// SMTPMailer 通过 SMTP 发送纯文本邮件，实现 worker.Mailer 接口。
type SMTPMailer struct {
	host     string
	port     string
	username string
	password string
	from     string
}

// NewSMTPMailer 创建 SMTPMailer 实例。
func NewSMTPMailer(host, port, username, password, from string) (*SMTPMailer, error) {
	if host == "" || port == "" {
		return nil, fmt.Errorf("smtp host and port are required")
	}
	if from == "" {
		from = username
	}
	return &SMTPMailer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}, nil
}

// Send 发送一封纯文本邮件。
func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n%s", m.from, to, subject, body)

	addr := m.host + ":" + m.port
	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}
	if err := smtp.SendMail(addr, auth, m.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp: failed to send mail to %s: %w", to, err)
	}
	return nil
}
