package mailer

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"html"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"regexp"
	"strings"

	"contactrelay/backend/internal/config"
)

// Message 描述一封待发的转发邮件。
// FromName 逐封设置，信封发件地址始终取配置值。
type Message struct {
	FromName   string
	ToName     string
	ToEmail    string
	ReplyName  string // 留空时不携带 Reply-To
	ReplyEmail string
	Subject    string
	HTMLBody   string // 页面主体，发送时包进完整 HTML 文档
}

// Mailer 定义外发邮件操作。
type Mailer interface {
	Send(msg *Message) error
}

// SMTPMailer 通过 SMTP 发送邮件。
type SMTPMailer struct {
	cfg config.SMTPConfig
}

// NewSMTPMailer 创建 SMTP 发送器。
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send 同步发送一封邮件，不做重试。
func (m *SMTPMailer) Send(msg *Message) error {
	if m.cfg.Host == "" || m.cfg.Port == 0 || m.cfg.FromEmail == "" {
		return fmt.Errorf("smtp not configured")
	}
	if _, err := mail.ParseAddress(msg.ToEmail); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}

	body, err := buildMessage(m.cfg.FromEmail, msg)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" || m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	to := []string{msg.ToEmail}
	if m.cfg.UseSSL {
		return sendMailWithSSL(addr, auth, m.cfg.Host, m.cfg.FromEmail, to, body)
	}
	if m.cfg.UseTLS {
		return sendMailWithStartTLS(addr, auth, m.cfg.Host, m.cfg.FromEmail, to, body)
	}
	return sendMailPlain(addr, auth, m.cfg.Host, m.cfg.FromEmail, to, body)
}

const (
	htmlDocHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Contact message</title>
<style>
    body {font-family: sans-serif;}
</style>
</head>
<body>`
	htmlDocTail = `</body>
</html>`
)

// buildMessage 组装 multipart/alternative 邮件：
// 纯文本部分由 HTML 退化而来，HTML 部分包上统一的文档外壳。
func buildMessage(fromEmail string, msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	alt := multipart.NewWriter(&buf)

	from := formatAddress(msg.FromName, fromEmail)
	to := formatAddress(msg.ToName, msg.ToEmail)

	buf2 := &bytes.Buffer{}
	fmt.Fprintf(buf2, "From: %s\r\n", from)
	fmt.Fprintf(buf2, "To: %s\r\n", to)
	if msg.ReplyEmail != "" {
		fmt.Fprintf(buf2, "Reply-To: %s\r\n", formatAddress(msg.ReplyName, msg.ReplyEmail))
	}
	fmt.Fprintf(buf2, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", msg.Subject))
	buf2.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(buf2, "Content-Type: multipart/alternative; boundary=%q\r\n", alt.Boundary())
	buf2.WriteString("\r\n")

	htmlDoc := htmlDocHead + msg.HTMLBody + htmlDocTail

	plainHeader := textproto.MIMEHeader{}
	plainHeader.Set("Content-Type", "text/plain; charset=UTF-8")
	part, err := alt.CreatePart(plainHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte(PlainTextAlternative(msg.HTMLBody))); err != nil {
		return nil, err
	}

	htmlHeader := textproto.MIMEHeader{}
	htmlHeader.Set("Content-Type", "text/html; charset=UTF-8")
	part, err = alt.CreatePart(htmlHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte(htmlDoc)); err != nil {
		return nil, err
	}

	if err := alt.Close(); err != nil {
		return nil, err
	}

	buf2.Write(buf.Bytes())
	return buf2.Bytes(), nil
}

func formatAddress(name, email string) string {
	if strings.TrimSpace(name) == "" {
		return email
	}
	encoded := mime.QEncoding.Encode("UTF-8", name)
	return (&mail.Address{Name: encoded, Address: email}).String()
}

var (
	lineBreakTags = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>`)
	anyTag        = regexp.MustCompile(`<[^>]*>`)
)

// PlainTextAlternative 把 HTML 主体退化为纯文本备选内容
func PlainTextAlternative(htmlBody string) string {
	text := lineBreakTags.ReplaceAllString(htmlBody, "\n")
	text = anyTag.ReplaceAllString(text, "")
	text = html.UnescapeString(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func sendMailWithSSL(addr string, auth smtp.Auth, host, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}

	return sendSMTPData(client, from, to, msg)
}

func sendMailWithStartTLS(addr string, auth smtp.Auth, host, from string, to []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
		return err
	}

	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}

	return sendSMTPData(client, from, to, msg)
}

func sendMailPlain(addr string, auth smtp.Auth, host, from string, to []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}

	return sendSMTPData(client, from, to, msg)
}

func sendSMTPData(client *smtp.Client, from string, to []string, msg []byte) error {
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
