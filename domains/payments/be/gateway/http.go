package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	platformlogging "github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
)

const tracerName = "github.com/zenGate-Global/palmyra-commerce/domains/payments/be/gateway"

// HTTPConfig configures an HTTPGateway.
type HTTPConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration

	// RequestsPerSecond <= 0 disables client-side rate limiting.
	RequestsPerSecond float64
	Burst             int

	// The breaker opens after MaxFailures consecutive transport or 5xx failures and
	// probes again after OpenTimeout.
	MaxFailures   int
	OpenTimeout   time.Duration
	HalfOpenLimit int

	MaxAttempts int
	Backoff     time.Duration
}

// HTTPGateway talks to a card provider's REST API behind a circuit breaker and a rate
// limiter. Declines never trip the breaker.
type HTTPGateway struct {
	cfg     HTTPConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	limiter *rate.Limiter
	tracer  trace.Tracer
	logger  *zap.Logger
}

var _ Gateway = (*HTTPGateway)(nil)

type authorizeBody struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type authorizeReply struct {
	TransactionID string `json:"transactionId"`
}

type refundBody struct {
	Amount int64 `json:"amount"`
}

type errorReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewHTTPGateway builds a gateway for cfg.Provider.
func NewHTTPGateway(cfg HTTPConfig, logger *zap.Logger) (*HTTPGateway, error) {
	if strings.TrimSpace(cfg.Provider) == "" {
		return nil, errors.New("payment provider name is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("payment gateway base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenLimit <= 0 {
		cfg.HalfOpenLimit = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	g := &HTTPGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		tracer: otel.GetTracerProvider().Tracer(tracerName),
		logger: logger,
	}
	if cfg.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}
	g.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "payments-" + cfg.Provider,
		MaxRequests: uint32(cfg.HalfOpenLimit),
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrDeclined) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return g, nil
}

// Authorize places a hold. The order id doubles as the idempotency key, so retries
// after a lost response do not double-charge.
func (g *HTTPGateway) Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error) {
	body, err := json.Marshal(authorizeBody{OrderID: req.OrderID.String(), Amount: req.Amount, Currency: req.Currency})
	if err != nil {
		return Authorization{}, err
	}

	raw, err := g.call(ctx, "authorize", "/v1/authorizations", "authorize-"+req.OrderID.String(), body)
	if err != nil {
		return Authorization{}, err
	}

	var reply authorizeReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return Authorization{}, fmt.Errorf("%w: decode authorization: %v", ErrUnavailable, err)
	}
	if reply.TransactionID == "" {
		return Authorization{}, fmt.Errorf("%w: authorization without transaction id", ErrUnavailable)
	}
	return Authorization{TransactionID: g.cfg.Provider + "-" + reply.TransactionID, Provider: g.cfg.Provider}, nil
}

// Refund releases or refunds a previous authorization.
func (g *HTTPGateway) Refund(ctx context.Context, transactionID string, amount int64) error {
	remote := strings.TrimPrefix(transactionID, g.cfg.Provider+"-")
	body, err := json.Marshal(refundBody{Amount: amount})
	if err != nil {
		return err
	}
	_, err = g.call(ctx, "refund", "/v1/authorizations/"+remote+"/refunds", "refund-"+remote, body)
	return err
}

// HealthCheck reports the breaker state without calling the provider.
func (g *HTTPGateway) HealthCheck(context.Context) error {
	switch state := g.breaker.State(); state {
	case gobreaker.StateClosed:
		return nil
	case gobreaker.StateHalfOpen:
		return fmt.Errorf("%s: degraded (circuit breaker half-open)", g.cfg.Provider)
	default:
		return fmt.Errorf("%s: %w (circuit breaker %s)", g.cfg.Provider, ErrUnavailable, state)
	}
}

func (g *HTTPGateway) call(ctx context.Context, op, path, idempotencyKey string, body []byte) ([]byte, error) {
	ctx, span := g.tracer.Start(ctx, "payments "+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("payments.provider", g.cfg.Provider),
			attribute.String("http.url", g.cfg.BaseURL+path),
		),
	)
	defer span.End()

	raw, err := g.breaker.Execute(func() ([]byte, error) {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return g.doWithRetry(ctx, path, idempotencyKey, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return raw, err
}

func (g *HTTPGateway) doWithRetry(ctx context.Context, path, idempotencyKey string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := range g.cfg.MaxAttempts {
		if attempt > 0 {
			delay := g.cfg.Backoff << (attempt - 1)
			platformlogging.FromContextOr(ctx, g.logger).Warn("retrying payment provider request",
				zap.String("provider", g.cfg.Provider),
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		raw, retry, err := g.do(ctx, path, idempotencyKey, body)
		if err == nil || !retry {
			return raw, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (g *HTTPGateway) do(ctx context.Context, path, idempotencyKey string, body []byte) (raw []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode < http.StatusBadRequest:
		return raw, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, true, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	default:
		var reply errorReply
		_ = json.Unmarshal(raw, &reply)
		reason := reply.Message
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return nil, false, fmt.Errorf("%w: %s", ErrDeclined, reason)
	}
}
