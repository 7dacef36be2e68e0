package email

import (
	"context"
	"log/slog"
)

// Message is an outbound notification. Delivery is fire-and-forget: nothing on
// the invitation or verification critical path waits on it.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers outbound mail. Implementations must be safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer records outbound mail in the log instead of delivering it. It
// stands in for the real provider in development and tests.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "outbound email",
		"to", msg.To,
		"subject", msg.Subject,
	)
	return nil
}

// SendAsync dispatches msg on a separate goroutine and logs delivery failures.
// Callers use this after state has been committed; a lost email is recoverable,
// a blocked registration is not.
func SendAsync(mailer Mailer, logger *slog.Logger, msg Message) {
	go func() {
		if err := mailer.Send(context.Background(), msg); err != nil {
			logger.Error("email delivery failed",
				"to", msg.To,
				"subject", msg.Subject,
				"error", err,
			)
		}
	}()
}
