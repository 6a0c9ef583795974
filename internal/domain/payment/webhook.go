package payment

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
)

// WebhookEvent is the subset of a gateway webhook the reconciler acts on.
type WebhookEvent struct {
	Event            string
	IntentID         string
	PaymentID        string
	ErrorDescription string
}

// ParseWebhook extracts the event name and payment entity from a webhook
// body of the form {"event": ..., "payload": {"payment": {"entity": {...}}}}.
// Unknown fields are skipped.
func ParseWebhook(data []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	d := jx.DecodeBytes(data)

	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event":
			v, err := d.Str()
			if err != nil {
				return err
			}
			ev.Event = v
			return nil
		case "payload":
			return objField(d, "payment", func(d *jx.Decoder) error {
				return objField(d, "entity", func(d *jx.Decoder) error {
					return parseEntity(d, &ev)
				})
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(ErrMalformedEvent, err.Error())
	}
	if ev.Event == "" {
		return nil, errors.Wrap(ErrMalformedEvent, "missing event")
	}
	return &ev, nil
}

// objField descends into the object field named key and skips the rest.
func objField(d *jx.Decoder, key string, fn func(d *jx.Decoder) error) error {
	return d.Obj(func(d *jx.Decoder, k string) error {
		if k != key {
			return d.Skip()
		}
		return fn(d)
	})
}

func parseEntity(d *jx.Decoder, ev *WebhookEvent) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var dst *string
		switch key {
		case "id":
			dst = &ev.PaymentID
		case "order_id":
			dst = &ev.IntentID
		case "error_description":
			dst = &ev.ErrorDescription
		default:
			return d.Skip()
		}
		if d.Next() == jx.Null {
			return d.Null()
		}
		v, err := d.Str()
		if err != nil {
			return err
		}
		*dst = v
		return nil
	})
}
