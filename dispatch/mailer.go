package dispatch

import (
	"context"

	"golang.org/x/time/rate"
)

// Attachment is a file attached to a dispatch e-mail.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"-"`
}

// Mailer is the mail relay collaborator. A nil error means the relay
// accepted the message.
type Mailer interface {
	Send(ctx context.Context, to []string, cc []string, subject, htmlBody string, attachments ...Attachment) error
}

// RateLimitedMailer wraps a Mailer with a token-bucket limiter so bulk
// dispatches respect the relay's sending quota. Send blocks until a
// token is available or the context is cancelled.
type RateLimitedMailer struct {
	inner   Mailer
	limiter *rate.Limiter
}

// NewRateLimitedMailer wraps inner, allowing perSecond sends with the
// given burst.
func NewRateLimitedMailer(inner Mailer, perSecond float64, burst int) *RateLimitedMailer {
	return &RateLimitedMailer{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Send waits for the limiter, then delegates to the wrapped Mailer.
func (m *RateLimitedMailer) Send(ctx context.Context, to []string, cc []string, subject, htmlBody string, attachments ...Attachment) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	return m.inner.Send(ctx, to, cc, subject, htmlBody, attachments...)
}
