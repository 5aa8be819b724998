// Package midtrans adapts the Midtrans Snap API to the payment domain:
// opening hosted payment sessions, parsing notifications, verifying their
// signatures and mapping provider statuses.
package midtrans

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/preloved-shop/internal/domain/order"
	"github.com/xenking/preloved-shop/internal/domain/payment"
)

const (
	SandboxBaseURL    = "https://app.sandbox.midtrans.com"
	ProductionBaseURL = "https://app.midtrans.com"

	defaultTimeout = 5 * time.Second
	// maxResponseSize bounds how much of a provider response is read.
	maxResponseSize = 1 << 20
)

// Request field defaults and limits.
const (
	defaultName        = "Guest"
	defaultEmail       = "guest@example.com"
	defaultPhone       = "081234567890"
	defaultAddress     = "N/A"
	defaultCity        = "Jakarta"
	defaultPostalCode  = "10000"
	defaultItemName    = "Product"
	countryCode        = "IDN"
	maxPhoneDigits     = 15
	maxAddressLength   = 100
	maxItemNameLength  = 50
	confirmationPrefix = "/order-confirmation/"
)

// Config holds Snap client settings.
type Config struct {
	ServerKey  string
	Production bool
	// BaseURL overrides the environment base URL; used by tests.
	BaseURL string
	// AppURL is the storefront origin used for the finish redirect.
	AppURL  string
	Timeout time.Duration

	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

var _ payment.Creator = (*SnapClient)(nil)

// SnapClient opens hosted payment sessions. It never writes orders.
type SnapClient struct {
	client    *http.Client
	endpoint  string
	serverKey string
	appURL    string
	tracer    trace.Tracer
}

// NewSnapClient creates a SnapClient.
func NewSnapClient(cfg Config) (*SnapClient, error) {
	if cfg.ServerKey == "" {
		return nil, errors.New("server key is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = SandboxBaseURL
		if cfg.Production {
			base = ProductionBaseURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var transportOpts []otelhttp.Option
	if cfg.MeterProvider != nil {
		transportOpts = append(transportOpts, otelhttp.WithMeterProvider(cfg.MeterProvider))
	}
	var tracer trace.Tracer
	if cfg.TracerProvider != nil {
		transportOpts = append(transportOpts, otelhttp.WithTracerProvider(cfg.TracerProvider))
		tracer = cfg.TracerProvider.Tracer("midtrans")
	} else {
		tracer = tracenoop.NewTracerProvider().Tracer("midtrans")
	}

	return &SnapClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, transportOpts...),
		},
		endpoint:  strings.TrimRight(base, "/") + "/snap/v1/transactions",
		serverKey: cfg.ServerKey,
		appURL:    strings.TrimRight(cfg.AppURL, "/"),
		tracer:    tracer,
	}, nil
}

// CreateTransaction opens a Snap session for o. The order id is used as the
// provider reference, so later notifications carry it back.
func (c *SnapClient) CreateTransaction(ctx context.Context, o *order.Order) (_ *payment.Session, rerr error) {
	ctx, span := c.tracer.Start(ctx, "midtrans.CreateTransaction",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("order.id", o.ID)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(c.encodeRequest(o)))
	if err != nil {
		return nil, &payment.ProviderError{Err: errors.Wrap(err, "create request")}
	}
	req.SetBasicAuth(c.serverKey, "")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &payment.ProviderError{Err: errors.Wrap(err, "send request")}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &payment.ProviderError{StatusCode: resp.StatusCode, Err: errors.Wrap(err, "read response")}
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &payment.ProviderError{StatusCode: resp.StatusCode, Body: body}
	}

	token, redirectURL, err := decodeSnapResponse(body)
	if err != nil {
		return nil, &payment.ProviderError{StatusCode: resp.StatusCode, Body: body, Err: err}
	}

	return &payment.Session{
		Reference:   o.ID,
		RedirectURL: redirectURL,
		Token:       token,
	}, nil
}

func (c *SnapClient) encodeRequest(o *order.Order) []byte {
	name := orDefault(strings.TrimSpace(o.Customer.Name), defaultName)
	email := orDefault(strings.TrimSpace(o.Customer.Email), defaultEmail)
	phone := SanitizePhone(o.Shipping.Phone)
	address := orDefault(truncate(strings.TrimSpace(o.Shipping.Address), maxAddressLength), defaultAddress)
	city := orDefault(strings.TrimSpace(o.Shipping.City), defaultCity)
	postal := orDefault(strings.TrimSpace(o.Shipping.Postal), defaultPostalCode)

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("transaction_details", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("order_id", func(e *jx.Encoder) { e.Str(o.ID) })
				e.Field("gross_amount", func(e *jx.Encoder) { e.Int64(o.TotalAmount) })
			})
		})
		e.Field("customer_details", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("first_name", func(e *jx.Encoder) { e.Str(name) })
				e.Field("email", func(e *jx.Encoder) { e.Str(email) })
				e.Field("phone", func(e *jx.Encoder) { e.Str(phone) })
				e.Field("billing_address", func(e *jx.Encoder) {
					e.Obj(func(e *jx.Encoder) {
						e.Field("first_name", func(e *jx.Encoder) { e.Str(name) })
						e.Field("email", func(e *jx.Encoder) { e.Str(email) })
						e.Field("phone", func(e *jx.Encoder) { e.Str(phone) })
						e.Field("address", func(e *jx.Encoder) { e.Str(address) })
						e.Field("city", func(e *jx.Encoder) { e.Str(city) })
						e.Field("postal_code", func(e *jx.Encoder) { e.Str(postal) })
						e.Field("country_code", func(e *jx.Encoder) { e.Str(countryCode) })
					})
				})
			})
		})
		e.Field("item_details", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("price", func(e *jx.Encoder) { e.Int64(it.Price) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("name", func(e *jx.Encoder) {
							e.Str(orDefault(truncate(strings.TrimSpace(it.Name), maxItemNameLength), defaultItemName))
						})
					})
				}
			})
		})
		e.Field("callbacks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("finish", func(e *jx.Encoder) { e.Str(c.appURL + confirmationPrefix + o.ID) })
			})
		})
	})
	return e.Bytes()
}

func decodeSnapResponse(body []byte) (token, redirectURL string, _ error) {
	d := jx.DecodeBytes(body)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "token":
			token, err = d.Str()
		case "redirect_url":
			redirectURL, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	}); err != nil {
		return "", "", errors.Wrap(err, "decode response")
	}
	if token == "" || redirectURL == "" {
		return "", "", errors.New("response misses token or redirect_url")
	}
	return token, redirectURL, nil
}

// SanitizePhone keeps only digits, capped at 15, falling back to a
// placeholder number when nothing is left.
func SanitizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if b.Len() == maxPhoneDigits {
			break
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return defaultPhone
	}
	return b.String()
}

// truncate cuts s to at most n runes and trims trailing spaces left by the
// cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimRightFunc(string(runes[:n]), unicode.IsSpace)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
