package gmail_test

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"testing"

	"github.com/marcelsud/finsync/events"
	"github.com/marcelsud/finsync/webhook"
	"github.com/marcelsud/finsync/webhook/gmail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pushEnvelope(t *testing.T, data, messageID string) []byte {
	t.Helper()
	encoded := base64.StdEncoding.EncodeToString([]byte(data))
	return []byte(`{"message":{"data":"` + encoded + `","messageId":"` + messageID + `"},"subscription":"projects/p/subscriptions/s"}`)
}

func TestHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("emits transaction.email", func(t *testing.T) {
		bus := events.NewBus()
		handler := gmail.NewHandler(bus, testLogger())

		var got []events.Event
		bus.Subscribe(events.TypeTransactionEmail, func(e events.Event) {
			got = append(got, e)
		})

		body := pushEnvelope(t, `{"emailAddress":"user@example.com","historyId":42}`, "msg-1")
		resp := handler.Handle(ctx, webhook.Request{Source: webhook.Gmail, Body: body})

		assert.Equal(t, 200, resp.Status)
		assert.True(t, resp.Processed)
		require.Len(t, got, 1)
		assert.Equal(t, "user@example.com", got[0].Payload["email_address"])
		assert.Equal(t, uint64(42), got[0].Payload["history_id"])
	})

	t.Run("empty message data acknowledged unprocessed", func(t *testing.T) {
		handler := gmail.NewHandler(events.NewBus(), testLogger())

		resp := handler.Handle(ctx, webhook.Request{Source: webhook.Gmail, Body: []byte(`{"message":{}}`)})

		assert.Equal(t, 200, resp.Status)
		assert.False(t, resp.Processed)
	})

	t.Run("bad base64 is a 400", func(t *testing.T) {
		handler := gmail.NewHandler(events.NewBus(), testLogger())

		resp := handler.Handle(ctx, webhook.Request{
			Source: webhook.Gmail,
			Body:   []byte(`{"message":{"data":"!!!","messageId":"m"}}`),
		})

		assert.Equal(t, 400, resp.Status)
	})
}

func TestNewRequest(t *testing.T) {
	body := pushEnvelope(t, `{"emailAddress":"a@b.c","historyId":1}`, "msg-77")

	req := gmail.NewRequest(body, nil, nil)

	assert.Equal(t, webhook.Gmail, req.Source)
	assert.Equal(t, "msg-77", req.Nonce)
}
