package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/martok-store/internal/domain/order"
	"github.com/xenking/martok-store/internal/domain/pricing"
	"github.com/xenking/martok-store/internal/domain/settings"
)

// Checkout is the result of starting a gateway payment.
type Checkout struct {
	Order  *order.Order
	Intent *Intent
	// KeyID is the public key the client needs to open the gateway widget.
	KeyID string
}

// VerifyRequest is the confirmation a client returns after paying.
type VerifyRequest struct {
	OrderID   string
	IntentID  string
	PaymentID string
	Signature string
}

// Reconciler drives gateway payments through the order lifecycle.
type Reconciler struct {
	orders   Orders
	gateway  Gateway
	currency string

	webhookEvents metric.Int64Counter
	rejected      metric.Int64Counter
}

// NewReconciler creates a Reconciler charging in currency.
func NewReconciler(orders Orders, gateway Gateway, currency string, mp metric.MeterProvider) (*Reconciler, error) {
	meter := mp.Meter("martok/payment")
	webhookEvents, err := meter.Int64Counter("payment.webhook.events",
		metric.WithDescription("Gateway webhook events by type and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "webhook counter")
	}
	rejected, err := meter.Int64Counter("payment.signature.rejected",
		metric.WithDescription("Payment confirmations rejected for a bad signature"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "signature counter")
	}
	return &Reconciler{
		orders:        orders,
		gateway:       gateway,
		currency:      currency,
		webhookEvents: webhookEvents,
		rejected:      rejected,
	}, nil
}

// CheckoutGateway prices req, creates a payment intent for the exact total
// and only then persists the pending order. A gateway failure leaves no local
// order behind.
func (r *Reconciler) CheckoutGateway(ctx context.Context, req order.CreateRequest, st settings.Settings) (*Checkout, error) {
	req.PaymentMethod = order.MethodGateway
	o, err := r.orders.Draft(ctx, req, st)
	if err != nil {
		return nil, err
	}

	creds := Credentials{KeyID: st.Payment.Gateway.KeyID, KeySecret: st.Payment.Gateway.KeySecret}
	if creds.KeyID == "" || creds.KeySecret == "" {
		return nil, &GatewayError{Op: "create intent", Err: errors.New("gateway credentials not configured")}
	}

	intent, err := r.gateway.CreateIntent(ctx, creds, IntentRequest{
		AmountMinor: pricing.MinorUnits(o.Total),
		Currency:    r.currency,
		Receipt:     o.Number,
	})
	if err != nil {
		lg := zctx.From(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			// The intent may exist remotely without a local order.
			lg.Error("Gateway timed out creating intent, needs reconciliation",
				zap.String("receipt", o.Number),
				zap.Error(err),
			)
		} else {
			lg.Warn("Gateway intent creation failed", zap.String("receipt", o.Number), zap.Error(err))
		}
		var gwErr *GatewayError
		if errors.As(err, &gwErr) {
			return nil, err
		}
		return nil, &GatewayError{Op: "create intent", Err: err}
	}

	o.Payment.IntentID = intent.ID
	if err := r.orders.Place(ctx, o); err != nil {
		return nil, err
	}
	return &Checkout{Order: o, Intent: intent, KeyID: creds.KeyID}, nil
}

// Verify checks the client's payment confirmation for an order owned by
// userID and settles it. A mismatched signature leaves the order pending.
func (r *Reconciler) Verify(ctx context.Context, req VerifyRequest, userID string, st settings.Settings) (*order.Order, error) {
	if !ValidSignature(st.Payment.Gateway.KeySecret, req.IntentID, req.PaymentID, req.Signature) {
		r.rejected.Add(ctx, 1)
		zctx.From(ctx).Warn("Payment signature mismatch",
			zap.String("order_id", req.OrderID),
			zap.String("intent_id", req.IntentID),
		)
		return nil, ErrInvalidSignature
	}

	o, err := r.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Customer.ID != userID {
		return nil, order.ErrForbidden
	}
	if o.Payment.IntentID != req.IntentID {
		r.rejected.Add(ctx, 1)
		return nil, errors.Wrap(ErrInvalidSignature, "intent does not belong to order")
	}

	return r.orders.Settle(ctx, o.ID, order.PaymentDetails{
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	}, "payment verified")
}

// ReportFailure records a payment failure reported by the client.
func (r *Reconciler) ReportFailure(ctx context.Context, orderID, userID, description string) (*order.Order, error) {
	o, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Customer.ID != userID {
		return nil, order.ErrForbidden
	}
	if description == "" {
		description = "Unknown error"
	}
	return r.orders.Fail(ctx, o.ID, "Payment failed: "+description)
}

// HandleWebhook applies a gateway event. The body must carry a valid
// signature under the gateway webhook secret; without a secret every event
// is rejected. Events for unknown intents and unrecognized event types are
// logged and ignored.
func (r *Reconciler) HandleWebhook(ctx context.Context, body []byte, signature string, st settings.Settings) error {
	secret := st.Payment.Gateway.WebhookSecret
	if secret == "" || !ValidBodySignature(secret, body, signature) {
		r.rejected.Add(ctx, 1)
		return ErrInvalidSignature
	}

	ev, err := ParseWebhook(body)
	if err != nil {
		return err
	}
	lg := zctx.From(ctx).With(
		zap.String("event", ev.Event),
		zap.String("intent_id", ev.IntentID),
	)

	outcome := "applied"
	defer func() {
		r.webhookEvents.Add(ctx, 1, metric.WithAttributes(
			attribute.String("payment.event", ev.Event),
			attribute.String("payment.outcome", outcome),
		))
	}()

	switch ev.Event {
	case EventPaymentCaptured, EventPaymentFailed:
	default:
		outcome = "ignored"
		lg.Info("Unhandled webhook event")
		return nil
	}

	o, err := r.orders.GetByIntentID(ctx, ev.IntentID)
	if errors.Is(err, order.ErrNotFound) {
		outcome = "unknown_intent"
		lg.Warn("Webhook for unknown intent")
		return nil
	}
	if err != nil {
		outcome = "error"
		return errors.Wrap(err, "find order by intent")
	}

	var updated *order.Order
	if ev.Event == EventPaymentCaptured {
		updated, err = r.orders.Settle(ctx, o.ID, order.PaymentDetails{PaymentID: ev.PaymentID}, "payment captured")
	} else {
		note := "Payment failed"
		if ev.ErrorDescription != "" {
			note += ": " + ev.ErrorDescription
		}
		updated, err = r.orders.Fail(ctx, o.ID, note)
	}
	if err != nil {
		outcome = "error"
		return errors.Wrapf(err, "apply %s", ev.Event)
	}

	lg.Info("Webhook applied",
		zap.String("order_id", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.String("payment_status", string(updated.PaymentStatus)),
	)
	return nil
}
