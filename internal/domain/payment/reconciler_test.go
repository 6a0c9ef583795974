package payment

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/martok-store/internal/domain/order"
	"github.com/xenking/martok-store/internal/domain/settings"
)

// --- Mock implementations ---

// mockOrders keeps orders in memory and applies Settle/Fail only to pending
// orders, like the real lifecycle.
type mockOrders struct {
	mu       sync.Mutex
	orders   map[string]*order.Order
	draftErr error
	placed   int
	settles  int
	fails    []string
}

func newMockOrders() *mockOrders {
	return &mockOrders{orders: make(map[string]*order.Order)}
}

func (m *mockOrders) Draft(_ context.Context, req order.CreateRequest, _ settings.Settings) (*order.Order, error) {
	if m.draftErr != nil {
		return nil, m.draftErr
	}
	return &order.Order{
		ID:            "o-1",
		Number:        "ORD-000001-AAAAAA",
		Customer:      req.Customer,
		PaymentMethod: req.PaymentMethod,
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		Total:         decimal.RequireFromString("810.50"),
	}, nil
}

func (m *mockOrders) Place(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placed++
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *mockOrders) Get(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrders) GetByIntentID(_ context.Context, intentID string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Payment.IntentID == intentID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *mockOrders) Settle(_ context.Context, id string, p order.PaymentDetails, _ string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	if o.Status == order.StatusPending && o.PaymentStatus == order.PaymentPending {
		m.settles++
		o.Status = order.StatusConfirmed
		o.PaymentStatus = order.PaymentCompleted
		o.Payment.PaymentID = p.PaymentID
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrders) Fail(_ context.Context, id, note string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	if o.Status == order.StatusPending && o.PaymentStatus == order.PaymentPending {
		m.fails = append(m.fails, note)
		o.Status = order.StatusCancelled
		o.PaymentStatus = order.PaymentFailed
	}
	cp := *o
	return &cp, nil
}

type mockGateway struct {
	intent *Intent
	err    error
	got    IntentRequest
	creds  Credentials
	calls  int
}

func (m *mockGateway) CreateIntent(_ context.Context, creds Credentials, req IntentRequest) (*Intent, error) {
	m.calls++
	m.got = req
	m.creds = creds
	if m.err != nil {
		return nil, m.err
	}
	return m.intent, nil
}

// --- Helpers ---

const (
	keySecret     = "test_secret"
	webhookSecret = "whsec"
)

func gatewaySettings() settings.Settings {
	s := settings.Defaults()
	s.Payment.Gateway.KeyID = "key_123"
	s.Payment.Gateway.KeySecret = keySecret
	s.Payment.Gateway.WebhookSecret = webhookSecret
	return s
}

func newReconciler(t *testing.T, orders Orders, gw Gateway) *Reconciler {
	t.Helper()
	r, err := NewReconciler(orders, gw, "INR", noop.NewMeterProvider())
	require.NoError(t, err)
	return r
}

func checkoutRequest() order.CreateRequest {
	return order.CreateRequest{Customer: order.Customer{ID: "u1"}}
}

// placeOrder runs a successful checkout and returns the stored order.
func placeOrder(t *testing.T, orders *mockOrders) *order.Order {
	t.Helper()
	gw := &mockGateway{intent: &Intent{ID: "intent_1"}}
	co, err := newReconciler(t, orders, gw).CheckoutGateway(context.Background(), checkoutRequest(), gatewaySettings())
	require.NoError(t, err)
	return co.Order
}

// --- Tests ---

func TestCheckoutGateway(t *testing.T) {
	orders := newMockOrders()
	gw := &mockGateway{intent: &Intent{ID: "intent_1", AmountMinor: 81050, Currency: "INR"}}
	r := newReconciler(t, orders, gw)

	co, err := r.CheckoutGateway(context.Background(), checkoutRequest(), gatewaySettings())
	require.NoError(t, err)

	assert.Equal(t, int64(81050), gw.got.AmountMinor)
	assert.Equal(t, "INR", gw.got.Currency)
	assert.Equal(t, "ORD-000001-AAAAAA", gw.got.Receipt)
	assert.Equal(t, Credentials{KeyID: "key_123", KeySecret: keySecret}, gw.creds)

	assert.Equal(t, "key_123", co.KeyID)
	assert.Equal(t, "intent_1", co.Order.Payment.IntentID)
	assert.Equal(t, order.MethodGateway, co.Order.PaymentMethod)
	assert.Equal(t, 1, orders.placed)
}

func TestCheckoutGateway_GatewayFailureCreatesNoOrder(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "rejected", err: errors.New("bad request")},
		{name: "timeout", err: context.DeadlineExceeded},
		{name: "already wrapped", err: &GatewayError{Op: "create intent", Err: errors.New("circuit open")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := newMockOrders()
			r := newReconciler(t, orders, &mockGateway{err: tt.err})

			_, err := r.CheckoutGateway(context.Background(), checkoutRequest(), gatewaySettings())
			require.ErrorIs(t, err, ErrGatewayUnavailable)
			assert.Zero(t, orders.placed)
		})
	}
}

func TestCheckoutGateway_MissingCredentials(t *testing.T) {
	orders := newMockOrders()
	gw := &mockGateway{intent: &Intent{ID: "intent_1"}}
	r := newReconciler(t, orders, gw)

	_, err := r.CheckoutGateway(context.Background(), checkoutRequest(), settings.Defaults())
	require.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Zero(t, gw.calls)
	assert.Zero(t, orders.placed)
}

func TestCheckoutGateway_DraftErrorSkipsGateway(t *testing.T) {
	orders := newMockOrders()
	orders.draftErr = &order.MethodDisabledError{Method: order.MethodGateway}
	gw := &mockGateway{intent: &Intent{ID: "intent_1"}}

	_, err := newReconciler(t, orders, gw).CheckoutGateway(context.Background(), checkoutRequest(), gatewaySettings())

	var mdErr *order.MethodDisabledError
	require.ErrorAs(t, err, &mdErr)
	assert.Zero(t, gw.calls)
}

func TestVerify(t *testing.T) {
	orders := newMockOrders()
	o := placeOrder(t, orders)
	r := newReconciler(t, orders, &mockGateway{})

	settled, err := r.Verify(context.Background(), VerifyRequest{
		OrderID:   o.ID,
		IntentID:  "intent_1",
		PaymentID: "pay_1",
		Signature: Sign(keySecret, "intent_1", "pay_1"),
	}, "u1", gatewaySettings())
	require.NoError(t, err)

	assert.Equal(t, order.PaymentCompleted, settled.PaymentStatus)
	assert.Equal(t, "pay_1", settled.Payment.PaymentID)
	assert.Equal(t, 1, orders.settles)
}

func TestVerify_Rejections(t *testing.T) {
	valid := Sign(keySecret, "intent_1", "pay_1")

	tests := []struct {
		name    string
		req     func(orderID string) VerifyRequest
		userID  string
		wantErr error
	}{
		{
			name: "mismatched signature",
			req: func(id string) VerifyRequest {
				return VerifyRequest{OrderID: id, IntentID: "intent_1", PaymentID: "pay_1", Signature: Sign("other", "intent_1", "pay_1")}
			},
			userID:  "u1",
			wantErr: ErrInvalidSignature,
		},
		{
			name: "signature for another payment",
			req: func(id string) VerifyRequest {
				return VerifyRequest{OrderID: id, IntentID: "intent_1", PaymentID: "pay_2", Signature: valid}
			},
			userID:  "u1",
			wantErr: ErrInvalidSignature,
		},
		{
			name: "intent of another order",
			req: func(id string) VerifyRequest {
				return VerifyRequest{OrderID: id, IntentID: "intent_9", PaymentID: "pay_1", Signature: Sign(keySecret, "intent_9", "pay_1")}
			},
			userID:  "u1",
			wantErr: ErrInvalidSignature,
		},
		{
			name: "other customer",
			req: func(id string) VerifyRequest {
				return VerifyRequest{OrderID: id, IntentID: "intent_1", PaymentID: "pay_1", Signature: valid}
			},
			userID:  "u2",
			wantErr: order.ErrForbidden,
		},
		{
			name: "unknown order",
			req: func(string) VerifyRequest {
				return VerifyRequest{OrderID: "missing", IntentID: "intent_1", PaymentID: "pay_1", Signature: valid}
			},
			userID:  "u1",
			wantErr: order.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := newMockOrders()
			o := placeOrder(t, orders)
			r := newReconciler(t, orders, &mockGateway{})

			_, err := r.Verify(context.Background(), tt.req(o.ID), tt.userID, gatewaySettings())
			require.ErrorIs(t, err, tt.wantErr)

			stored, err := orders.Get(context.Background(), o.ID)
			require.NoError(t, err)
			assert.Equal(t, order.PaymentPending, stored.PaymentStatus)
			assert.Zero(t, orders.settles)
		})
	}
}

func TestVerify_EmptySecretRejects(t *testing.T) {
	orders := newMockOrders()
	o := placeOrder(t, orders)
	r := newReconciler(t, orders, &mockGateway{})

	_, err := r.Verify(context.Background(), VerifyRequest{
		OrderID:   o.ID,
		IntentID:  "intent_1",
		PaymentID: "pay_1",
		Signature: Sign("", "intent_1", "pay_1"),
	}, "u1", settings.Defaults())
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestReportFailure(t *testing.T) {
	orders := newMockOrders()
	o := placeOrder(t, orders)
	r := newReconciler(t, orders, &mockGateway{})

	_, err := r.ReportFailure(context.Background(), o.ID, "u2", "card declined")
	require.ErrorIs(t, err, order.ErrForbidden)

	failed, err := r.ReportFailure(context.Background(), o.ID, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, order.PaymentFailed, failed.PaymentStatus)
	assert.Equal(t, []string{"Payment failed: Unknown error"}, orders.fails)
}

func webhookBody(event, intentID, paymentID string) []byte {
	return []byte(`{"entity":"event","event":"` + event + `","contains":["payment"],` +
		`"payload":{"payment":{"entity":{"id":"` + paymentID + `","order_id":"` + intentID +
		`","amount":81050,"error_description":"Insufficient funds","notes":[]}}},"created_at":1718452800}`)
}

// deliver hands body to r signed the way the gateway signs it.
func deliver(r *Reconciler, body []byte) error {
	return r.HandleWebhook(context.Background(), body, SignBody(webhookSecret, body), gatewaySettings())
}

func TestHandleWebhook_CapturedAfterVerifyIsNoop(t *testing.T) {
	orders := newMockOrders()
	o := placeOrder(t, orders)
	r := newReconciler(t, orders, &mockGateway{})

	_, err := r.Verify(context.Background(), VerifyRequest{
		OrderID:   o.ID,
		IntentID:  "intent_1",
		PaymentID: "pay_1",
		Signature: Sign(keySecret, "intent_1", "pay_1"),
	}, "u1", gatewaySettings())
	require.NoError(t, err)

	err = deliver(r, webhookBody(EventPaymentCaptured, "intent_1", "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, 1, orders.settles)
}

func TestHandleWebhook_Captured(t *testing.T) {
	orders := newMockOrders()
	o := placeOrder(t, orders)
	r := newReconciler(t, orders, &mockGateway{})

	err := deliver(r, webhookBody(EventPaymentCaptured, "intent_1", "pay_7"))
	require.NoError(t, err)

	stored, err := orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentCompleted, stored.PaymentStatus)
	assert.Equal(t, "pay_7", stored.Payment.PaymentID)
}

func TestHandleWebhook_Failed(t *testing.T) {
	orders := newMockOrders()
	placeOrder(t, orders)
	r := newReconciler(t, orders, &mockGateway{})

	err := deliver(r, webhookBody(EventPaymentFailed, "intent_1", "pay_7"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Payment failed: Insufficient funds"}, orders.fails)
}

func TestHandleWebhook_Ignored(t *testing.T) {
	orders := newMockOrders()
	placeOrder(t, orders)
	r := newReconciler(t, orders, &mockGateway{})

	require.NoError(t, deliver(r, webhookBody("refund.created", "intent_1", "pay_1")))
	require.NoError(t, deliver(r, webhookBody(EventPaymentCaptured, "intent_unknown", "pay_1")))
	assert.Zero(t, orders.settles)
}

func TestHandleWebhook_Signature(t *testing.T) {
	orders := newMockOrders()
	placeOrder(t, orders)
	r := newReconciler(t, orders, &mockGateway{})

	s := gatewaySettings()
	body := webhookBody(EventPaymentCaptured, "intent_1", "pay_1")

	err := r.HandleWebhook(context.Background(), body, "deadbeef", s)
	require.ErrorIs(t, err, ErrInvalidSignature)
	err = r.HandleWebhook(context.Background(), body, "", s)
	require.ErrorIs(t, err, ErrInvalidSignature)
	assert.Zero(t, orders.settles)

	err = r.HandleWebhook(context.Background(), body, SignBody(webhookSecret, body), s)
	require.NoError(t, err)
	assert.Equal(t, 1, orders.settles)
}

func TestHandleWebhook_Malformed(t *testing.T) {
	r := newReconciler(t, newMockOrders(), &mockGateway{})

	err := deliver(r, []byte(`{"event":`))
	require.ErrorIs(t, err, ErrMalformedEvent)
}

func TestHandleWebhook_NoSecretRejectsEverything(t *testing.T) {
	orders := newMockOrders()
	o := placeOrder(t, orders)
	r := newReconciler(t, orders, &mockGateway{})

	s := gatewaySettings()
	s.Payment.Gateway.WebhookSecret = ""
	body := webhookBody(EventPaymentCaptured, "intent_1", "pay_1")

	err := r.HandleWebhook(context.Background(), body, "", s)
	require.ErrorIs(t, err, ErrInvalidSignature)
	err = r.HandleWebhook(context.Background(), body, SignBody("", body), s)
	require.ErrorIs(t, err, ErrInvalidSignature)

	stored, err := orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPending, stored.PaymentStatus)
	assert.Zero(t, orders.settles)
}

func TestSign(t *testing.T) {
	sig := Sign("secret", "order_1", "pay_1")
	assert.Len(t, sig, 64)
	assert.True(t, ValidSignature("secret", "order_1", "pay_1", sig))
	assert.False(t, ValidSignature("secret", "order_1", "pay_2", sig))
	assert.False(t, ValidSignature("secret", "order_1", "pay_1", sig[:63]))
}
