package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    WebhookEvent
		wantErr bool
	}{
		{
			name: "captured",
			body: `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"intent_1","amount":100}}}}`,
			want: WebhookEvent{Event: EventPaymentCaptured, PaymentID: "pay_1", IntentID: "intent_1"},
		},
		{
			name: "failed with null description",
			body: `{"payload":{"payment":{"entity":{"order_id":"intent_2","error_description":null}}},"event":"payment.failed"}`,
			want: WebhookEvent{Event: EventPaymentFailed, IntentID: "intent_2"},
		},
		{
			name: "unrelated payload entities",
			body: `{"event":"order.paid","payload":{"order":{"entity":{"id":"intent_3"}}}}`,
			want: WebhookEvent{Event: "order.paid"},
		},
		{name: "missing event", body: `{"payload":{}}`, wantErr: true},
		{name: "truncated", body: `{"event":"payment.captured","payload":{`, wantErr: true},
		{name: "wrong type", body: `{"event":42}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWebhook([]byte(tt.body))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedEvent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}
