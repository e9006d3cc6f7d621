package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/xkayo32/pytake-sub013/errors"
	"github.com/xkayo32/pytake-sub013/natsclient"
)

// subjectPrefix is where the channel bridge consumes outbound messages.
const subjectPrefix = "pytake.outbound"

// NATSSender publishes outbound messages onto per-tenant NATS subjects,
// smoothed by a token-bucket rate limiter.
type NATSSender struct {
	client  *natsclient.Client
	limiter *rate.Limiter
}

// NewNATSSender creates a sender publishing through client. perSecond
// bounds the sustained publish rate; burst allows short spikes (a single
// flow event can emit several messages back to back). Non-positive values
// disable limiting.
func NewNATSSender(client *natsclient.Client, perSecond float64, burst int) *NATSSender {
	var limiter *rate.Limiter
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return &NATSSender{client: client, limiter: limiter}
}

func (s *NATSSender) publish(ctx context.Context, msg Message) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return errors.WrapTransient(err, "sender", "publish", "rate limit wait")
		}
	}

	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.WrapFatal(err, "sender", "publish", "marshal message")
	}

	subject := fmt.Sprintf("%s.%s", subjectPrefix, msg.TenantID)
	if err := s.client.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "sender", "publish", fmt.Sprintf("publish %s", subject))
	}
	return nil
}

// SendFreeform implements Sender.
func (s *NATSSender) SendFreeform(ctx context.Context, msg Message) error {
	msg.Kind = KindFreeform
	return s.publish(ctx, msg)
}

// SendTemplate implements Sender.
func (s *NATSSender) SendTemplate(ctx context.Context, msg Message) error {
	msg.Kind = KindTemplate
	return s.publish(ctx, msg)
}
