// notify/email.go
package notify

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// EmailNotifier sends plain-text mail. Port 465 uses implicit TLS, any other
// port upgrades with STARTTLS when the server offers it. The whole exchange
// is bounded by timeout so a stalled server cannot hold up the caller.
type EmailNotifier struct {
	host     string
	port     int
	from     string
	to       []string
	password string
	timeout  time.Duration
}

func NewEmailNotifier(host string, port int, from, to, password string) *EmailNotifier {
	var rcpt []string
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			rcpt = append(rcpt, addr)
		}
	}
	return &EmailNotifier{host: host, port: port, from: from, to: rcpt, password: password, timeout: 15 * time.Second}
}

func (e *EmailNotifier) Notify(subject, body string) error {
	if err := e.send(buildMessage(e.from, e.to, subject, body)); err != nil {
		return fmt.Errorf("email %q: %w", subject, err)
	}
	return nil
}

func (e *EmailNotifier) send(msg []byte) error {
	addr := net.JoinHostPort(e.host, strconv.Itoa(e.port))
	tlsConfig := &tls.Config{ServerName: e.host}

	dialer := &net.Dialer{Timeout: e.timeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(e.timeout)); err != nil {
		conn.Close()
		return err
	}
	if e.port == 465 {
		conn = tls.Client(conn, tlsConfig)
	}

	c, err := smtp.NewClient(conn, e.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if e.port != 465 {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if ok, _ := c.Extension("AUTH"); ok && e.password != "" {
		if err := c.Auth(smtp.PlainAuth("", e.from, e.password, e.host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(e.from); err != nil {
		return err
	}
	for _, r := range e.to {
		if err := c.Rcpt(r); err != nil {
			return fmt.Errorf("rcpt %s: %w", r, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + strings.NewReplacer("\r", " ", "\n", " ").Replace(subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
