// Package gateway implements payment.Gateway over the gateway's HTTP API.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/martok-store/internal/domain/payment"
)

var _ payment.Gateway = (*Client)(nil)

// ErrCircuitOpen is returned by Check while the breaker rejects calls.
var ErrCircuitOpen = errors.New("payment gateway circuit open")

// StatusError is a non-2xx gateway response.
type StatusError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *StatusError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("gateway responded %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway responded %d: %s: %s", e.StatusCode, e.Code, e.Description)
}

// Config controls the gateway client.
type Config struct {
	BaseURL string
	// Timeout bounds every call.
	Timeout time.Duration
}

// Client calls the payment gateway through a circuit breaker.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
}

// New creates a gateway Client.
func New(cfg Config, lg *zap.Logger, tp trace.TracerProvider, mp metric.MeterProvider) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	st := gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		IsSuccessful: breakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithMeterProvider(mp),
			),
		},
		cb: gobreaker.NewCircuitBreaker(st),
	}
}

// breakerSuccess does not count 4xx responses against the breaker.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode < http.StatusInternalServerError
	}
	return false
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.cb.State()
}

// Check reports ErrCircuitOpen while the breaker is open.
func (c *Client) Check(context.Context) error {
	if c.cb.State() == gobreaker.StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

// CreateIntent reserves req.AmountMinor with the gateway.
func (c *Client) CreateIntent(ctx context.Context, creds payment.Credentials, req payment.IntentRequest) (*payment.Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.createIntent(ctx, creds, req)
	})
	if err != nil {
		return nil, &payment.GatewayError{Op: "create intent", Err: err}
	}
	return res.(*payment.Intent), nil
}

func (c *Client) createIntent(ctx context.Context, creds payment.Credentials, req payment.IntentRequest) (*payment.Intent, error) {
	body := encodeIntentRequest(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	httpReq.SetBasicAuth(creds.KeyID, creds.KeySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeStatusError(resp.StatusCode, data)
	}
	return decodeIntent(data)
}

func encodeIntentRequest(req payment.IntentRequest) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("amount")
	e.Int64(req.AmountMinor)
	e.FieldStart("currency")
	e.Str(req.Currency)
	e.FieldStart("receipt")
	e.Str(req.Receipt)
	e.FieldStart("payment_capture")
	e.Int(1)
	e.ObjEnd()
	return e.Bytes()
}

func decodeIntent(data []byte) (*payment.Intent, error) {
	var in payment.Intent
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			in.ID, err = d.Str()
		case "amount":
			in.AmountMinor, err = d.Int64()
		case "currency":
			in.Currency, err = d.Str()
		case "status":
			in.Status, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode intent")
	}
	if in.ID == "" {
		return nil, errors.New("decode intent: missing id")
	}
	return &in, nil
}

// decodeStatusError reads {"error": {"code": ..., "description": ...}} when
// the body has that shape.
func decodeStatusError(status int, data []byte) error {
	se := &StatusError{StatusCode: status}
	_ = jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "error" {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "code":
				se.Code, err = d.Str()
			case "description":
				se.Description, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		})
	})
	return se
}
