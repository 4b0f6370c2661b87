// -----------------------------------------------------------------------
// Email Gateway - SMTP delivery of run reports
// Settings come from config, overridable in KeyValue storage with smtp_ prefix
// -----------------------------------------------------------------------

package notify

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/ternarybob/checkin/internal/common"
	"github.com/ternarybob/checkin/internal/interfaces"
)

// EmailConfig holds the SMTP settings of one delivery
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	To       string
	UseTLS   bool
}

type sendFunc func(config *EmailConfig, msg []byte) error

// EmailGateway sends the report as a multipart text and HTML mail
type EmailGateway struct {
	defaults  EmailConfig
	kvStorage interfaces.KeyValueStorage
	markdown  goldmark.Markdown
	send      sendFunc
	logger    arbor.ILogger
}

// NewEmailGateway creates a gateway; kvStorage may be nil
func NewEmailGateway(config common.EmailConfig, kvStorage interfaces.KeyValueStorage, logger arbor.ILogger) *EmailGateway {
	defaults := EmailConfig{
		Host:     config.Host,
		Port:     config.Port,
		Username: config.Username,
		Password: config.Password,
		From:     config.From,
		FromName: config.FromName,
		To:       config.To,
		UseTLS:   config.UseTLS,
	}
	if defaults.Port == 0 {
		defaults.Port = 587
	}
	if defaults.FromName == "" {
		defaults.FromName = "Checkin"
	}

	g := &EmailGateway{
		defaults:  defaults,
		kvStorage: kvStorage,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		logger: logger,
	}
	g.send = g.deliver
	return g
}

// GetConfig applies KeyValue overrides on top of the configured settings
func (g *EmailGateway) GetConfig(ctx context.Context) *EmailConfig {
	config := g.defaults
	if g.kvStorage == nil {
		return &config
	}

	override := func(key string, target *string) {
		if v, err := g.kvStorage.Get(ctx, key); err == nil && v != "" {
			*target = v
		}
	}
	override("smtp_host", &config.Host)
	override("smtp_username", &config.Username)
	override("smtp_password", &config.Password)
	override("smtp_from", &config.From)
	override("smtp_from_name", &config.FromName)
	override("smtp_to", &config.To)

	if portStr, err := g.kvStorage.Get(ctx, "smtp_port"); err == nil && portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			config.Port = port
		}
	}
	if tlsStr, err := g.kvStorage.Get(ctx, "smtp_use_tls"); err == nil && tlsStr != "" {
		config.UseTLS = strings.ToLower(tlsStr) == "true" || tlsStr == "1"
	}
	return &config
}

func (c *EmailConfig) validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("SMTP host not configured")
	case c.Username == "" || c.Password == "":
		return fmt.Errorf("SMTP credentials not configured")
	case c.From == "":
		return fmt.Errorf("from email not configured")
	case c.To == "":
		return fmt.Errorf("recipient not configured")
	}
	return nil
}

// Push renders the body as markdown and mails it
func (g *EmailGateway) Push(ctx context.Context, title, body string) error {
	config := g.GetConfig(ctx)
	if err := config.validate(); err != nil {
		return err
	}

	var htmlBody bytes.Buffer
	if err := g.markdown.Convert([]byte(body), &htmlBody); err != nil {
		return fmt.Errorf("failed to render email body: %w", err)
	}

	msg := buildMessage(config, title, htmlBody.String(), body, generateBoundary())
	if err := g.send(config, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	g.logger.Info().Str("to", config.To).Str("subject", title).Msg("Email notification sent")
	return nil
}

// buildMessage assembles a multipart/alternative message with base64 parts
func buildMessage(config *EmailConfig, subject, htmlBody, textBody, boundary string) []byte {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", config.FromName, config.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", config.To))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	msg.WriteString("\r\n")

	writePart := func(contentType, content string) {
		msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		msg.WriteString(fmt.Sprintf("Content-Type: %s; charset=\"UTF-8\"\r\n", contentType))
		msg.WriteString("Content-Transfer-Encoding: base64\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(encodeBase64WithLineBreaks(content))
		msg.WriteString("\r\n")
	}
	writePart("text/plain", textBody)
	writePart("text/html", htmlBody)

	msg.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return []byte(msg.String())
}

func (g *EmailGateway) deliver(config *EmailConfig, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	if !config.UseTLS {
		return smtp.SendMail(addr, auth, config.From, []string{config.To}, msg)
	}

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: config.Host})
	if err != nil {
		// STARTTLS fallback
		return smtp.SendMail(addr, auth, config.From, []string{config.To}, msg)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, config.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}
	if err := client.Mail(config.From); err != nil {
		return fmt.Errorf("failed to set mail from: %w", err)
	}
	if err := client.Rcpt(config.To); err != nil {
		return fmt.Errorf("failed to set mail recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return client.Quit()
}

func generateBoundary() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "checkin_boundary_fallback"
	}
	return fmt.Sprintf("checkin_%x", b)
}

// encodeBase64WithLineBreaks wraps base64 at 76 characters per RFC 2045
func encodeBase64WithLineBreaks(content string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))

	var result strings.Builder
	const lineLen = 76
	for i := 0; i < len(encoded); i += lineLen {
		end := min(i+lineLen, len(encoded))
		result.WriteString(encoded[i:end])
		if end < len(encoded) {
			result.WriteString("\r\n")
		}
	}
	return result.String()
}
