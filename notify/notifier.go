package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Notifier delivers one notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier { return &LogNotifier{log: log} }

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.log.Info("notification",
		zap.String("id", n.ID),
		zap.String("to", n.To),
		zap.String("subject", n.Subject),
		zap.String("body", n.Body),
	)
	return nil
}

// GmailNotifier sends notifications through the Gmail API as from.
type GmailNotifier struct {
	service *gmail.Service
	from    string
}

// NewGmailNotifier authenticates with service account credentials that have
// domain-wide delegation and impersonates sender.
func NewGmailNotifier(ctx context.Context, credentialsPath, sender string) (*GmailNotifier, error) {
	credBytes, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}
	config, err := google.JWTConfigFromJSON(credBytes, gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}
	config.Subject = sender
	return NewGmailNotifierWithOptions(ctx, sender, option.WithHTTPClient(config.Client(ctx)))
}

func NewGmailNotifierWithOptions(ctx context.Context, sender string, opts ...option.ClientOption) (*GmailNotifier, error) {
	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Gmail client: %w", err)
	}
	return &GmailNotifier{service: service, from: sender}, nil
}

func (g *GmailNotifier) Notify(ctx context.Context, n Notification) error {
	if !headerSafe(n.To) || !headerSafe(n.Subject) {
		return fmt.Errorf("notification %s: header contains a line break", n.ID)
	}
	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(buildMessage(g.from, n))}
	if _, err := g.service.Users.Messages.Send("me", msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail send: %w", err)
	}
	return nil
}

// buildMessage renders an RFC 2822 message with a UTF-8 base64 body.
func buildMessage(from string, n Notification) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", n.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.BEncoding.Encode("UTF-8", n.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")

	enc := base64.StdEncoding.EncodeToString([]byte(n.Body))
	for len(enc) > 76 {
		b.WriteString(enc[:76] + "\r\n")
		enc = enc[76:]
	}
	b.WriteString(enc + "\r\n")
	return b.Bytes()
}

// headerSafe reports whether v can be placed in a mail header as is.
func headerSafe(v string) bool {
	return !strings.ContainsAny(v, "\r\n")
}
