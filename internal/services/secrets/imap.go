// -----------------------------------------------------------------------
// IMAP Broker - reads one-time passwords from a mailbox
// Connection settings come from config, overridable in KeyValue storage with imap_ prefix
// -----------------------------------------------------------------------

package secrets

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/checkin/internal/common"
	"github.com/ternarybob/checkin/internal/interfaces"
)

// IMAPConfig holds the mailbox connection settings
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	Subject  string
}

// Email is a fetched message
type Email struct {
	ID      uint32
	From    string
	Subject string
	Body    string
	Date    time.Time
}

// Mailbox reads unread mail
type Mailbox interface {
	FetchUnread(ctx context.Context, subjectFilter string, since time.Time) ([]Email, error)
	MarkAsRead(ctx context.Context, id uint32) error
}

// IMAPMailbox is the emersion go-imap Mailbox
type IMAPMailbox struct {
	defaults  IMAPConfig
	kvStorage interfaces.KeyValueStorage
	logger    arbor.ILogger
}

// NewIMAPMailbox creates a mailbox; kvStorage may be nil
func NewIMAPMailbox(config common.IMAPConfig, kvStorage interfaces.KeyValueStorage, logger arbor.ILogger) *IMAPMailbox {
	defaults := IMAPConfig{
		Host:     config.Host,
		Port:     config.Port,
		Username: config.Username,
		Password: config.Password,
		UseTLS:   config.UseTLS,
		Subject:  config.Subject,
	}
	if defaults.Port == 0 {
		defaults.Port = 993
	}
	return &IMAPMailbox{defaults: defaults, kvStorage: kvStorage, logger: logger}
}

// GetConfig applies KeyValue overrides on top of the configured settings
func (m *IMAPMailbox) GetConfig(ctx context.Context) *IMAPConfig {
	config := m.defaults
	if m.kvStorage == nil {
		return &config
	}

	if host, err := m.kvStorage.Get(ctx, "imap_host"); err == nil && host != "" {
		config.Host = host
	}
	if portStr, err := m.kvStorage.Get(ctx, "imap_port"); err == nil && portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			config.Port = port
		}
	}
	if username, err := m.kvStorage.Get(ctx, "imap_username"); err == nil && username != "" {
		config.Username = username
	}
	if password, err := m.kvStorage.Get(ctx, "imap_password"); err == nil && password != "" {
		config.Password = password
	}
	if tlsStr, err := m.kvStorage.Get(ctx, "imap_use_tls"); err == nil && tlsStr != "" {
		config.UseTLS = strings.ToLower(tlsStr) == "true" || tlsStr == "1"
	}
	return &config
}

// IsConfigured checks the minimum required settings
func (c *IMAPConfig) IsConfigured() bool {
	return c.Host != "" && c.Username != "" && c.Password != ""
}

func (m *IMAPMailbox) connect(ctx context.Context) (*client.Client, error) {
	config := m.GetConfig(ctx)
	if !config.IsConfigured() {
		return nil, fmt.Errorf("IMAP not configured")
	}

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	var (
		c   *client.Client
		err error
	)
	if config.UseTLS {
		c, err = client.DialTLS(addr, nil)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(config.Username, config.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("IMAP login failed: %w", err)
	}
	if _, err := c.Select("INBOX", false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}
	return c, nil
}

// FetchUnread fetches unseen messages received after since whose subject contains the filter
func (m *IMAPMailbox) FetchUnread(ctx context.Context, subjectFilter string, since time.Time) ([]Email, error) {
	c, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if !since.IsZero() {
		criteria.Since = since
	}

	seqNums, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search for unseen messages: %w", err)
	}
	if len(seqNums) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	messages := make(chan *imap.Message, len(seqNums))
	section := &imap.BodySectionName{Peek: true}

	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	var emails []Email
	for msg := range messages {
		if msg == nil || msg.Envelope == nil {
			continue
		}
		subject := msg.Envelope.Subject
		if subjectFilter != "" && !strings.Contains(strings.ToLower(subject), strings.ToLower(subjectFilter)) {
			continue
		}

		body, err := parseMessageBody(msg.GetBody(section))
		if err != nil {
			m.logger.Warn().Err(err).Uint32("seq", msg.SeqNum).Msg("Failed to parse message body")
			continue
		}

		from := ""
		if len(msg.Envelope.From) > 0 {
			from = msg.Envelope.From[0].Address()
		}
		emails = append(emails, Email{
			ID:      msg.SeqNum,
			From:    from,
			Subject: subject,
			Body:    body,
			Date:    msg.Envelope.Date,
		})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return emails, nil
}

// MarkAsRead flags a message as seen
func (m *IMAPMailbox) MarkAsRead(ctx context.Context, id uint32) error {
	c, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Logout()

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(id)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seqSet, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("failed to mark message as read: %w", err)
	}
	return nil
}

// parseMessageBody extracts the text body, preferring text/plain over text/html
func parseMessageBody(r io.Reader) (string, error) {
	if r == nil {
		return "", fmt.Errorf("no body section")
	}
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to create mail reader: %w", err)
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read next part: %w", err)
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read body: %w", err)
		}
		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			plain = string(b)
		case strings.HasPrefix(contentType, "text/html"):
			html = string(b)
		}
	}
	if plain != "" {
		return strings.TrimSpace(plain), nil
	}
	return strings.TrimSpace(html), nil
}

var otpPattern = regexp.MustCompile(`\b(\d{6,8})\b`)

// ExtractOTP returns the first 6 to 8 digit code in text
func ExtractOTP(text string) string {
	m := otpPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// IMAPBroker answers OTP secret requests from mail delivered to a mailbox
type IMAPBroker struct {
	mailbox      Mailbox
	subject      string
	pollInterval time.Duration
	now          func() time.Time
	logger       arbor.ILogger
}

// NewIMAPBroker creates a broker polling the mailbox for mail whose subject contains subject
func NewIMAPBroker(mailbox Mailbox, subject string, logger arbor.ILogger) *IMAPBroker {
	return &IMAPBroker{
		mailbox:      mailbox,
		subject:      subject,
		pollInterval: 10 * time.Second,
		now:          time.Now,
		logger:       logger,
	}
}

// Get fills every requested key with the code found in the first matching unread mail
func (b *IMAPBroker) Get(ctx context.Context, spec interfaces.SecretSpec, timeout time.Duration) (map[string]string, error) {
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	since := b.now().Add(-time.Minute)

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b.logger.Info().Str("secret", spec.Name).Str("subject", b.subject).Dur("timeout", timeout).Msg("Waiting for OTP mail")

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		emails, err := b.mailbox.FetchUnread(pollCtx, b.subject, since)
		if err != nil {
			b.logger.Warn().Err(err).Msg("Failed to read mailbox")
		}
		for _, email := range emails {
			if email.Date.Before(since) {
				continue
			}
			code := ExtractOTP(email.Subject + "\n" + email.Body)
			if code == "" {
				continue
			}
			if err := b.mailbox.MarkAsRead(pollCtx, email.ID); err != nil {
				b.logger.Warn().Err(err).Uint32("message_id", email.ID).Msg("Failed to mark OTP mail as read")
			}
			b.logger.Info().Str("secret", spec.Name).Str("from", email.From).Msg("OTP found in mailbox")
			values := make(map[string]string, len(spec.Keys))
			for _, k := range spec.Keys {
				values[k.Name] = code
			}
			return values, nil
		}

		select {
		case <-pollCtx.Done():
			b.logger.Warn().Str("secret", spec.Name).Msg("Timed out waiting for OTP mail")
			return nil, nil
		case <-ticker.C:
		}
	}
}
