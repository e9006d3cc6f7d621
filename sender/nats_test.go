package sender

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkayo32/pytake-sub013/natsclient"
)

func TestNATSSenderPublishesPerTenantSubject(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires docker")
	}

	client := natsclient.StartTestServer(t)

	received := make(chan *nats.Msg, 1)
	sub, err := client.Conn().ChanSubscribe("pytake.outbound.acme", received)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	s := NewNATSSender(client, 0, 0)
	err = s.SendFreeform(context.Background(), Message{
		EventID:  "evt-1",
		TenantID: "acme",
		To:       "+5511999990000",
		Text:     "Thanks Maria!",
	})
	require.NoError(t, err)

	select {
	case m := <-received:
		var msg Message
		require.NoError(t, json.Unmarshal(m.Data, &msg))
		assert.Equal(t, KindFreeform, msg.Kind)
		assert.Equal(t, "Thanks Maria!", msg.Text)
		assert.False(t, msg.SentAt.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("outbound message not received")
	}
}

func TestNATSSenderRateLimiterHonorsContext(t *testing.T) {
	// Limiter of 1/hour with burst 1: the second send must block, and a
	// cancelled context must release it with an error.
	client := natsclient.New(natsclient.DefaultOptions(), nil)
	s := NewNATSSender(client, 1.0/3600, 1)

	// Consume the single burst token without touching the network.
	require.True(t, s.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.SendTemplate(ctx, Message{TenantID: "acme", TemplateRef: "welcome"})
	assert.Error(t, err)
}
