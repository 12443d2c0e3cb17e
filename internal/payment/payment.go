// Package payment wraps hosted-checkout payment processors behind a single
// Gateway interface: opening a checkout session and turning a signed webhook
// delivery into a payment outcome.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/avast/retry-go"
	"github.com/shopspring/decimal"

	"github.com/coursemart/marketplace/internal/config"
	"github.com/coursemart/marketplace/internal/models"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
	ErrUnavailable      = errors.New("payment gateway unavailable")
)

// MetadataPurchaseID is the metadata key that correlates a checkout session
// with its purchase.
const MetadataPurchaseID = "purchaseId"

type Gateway interface {
	Name() string
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// SignatureHeader names the request header carrying the webhook
	// signature, or "" when the signature travels in the body.
	SignatureHeader() string
	VerifyAndParseWebhook(payload []byte, signature string) (*Event, error)
}

type CheckoutRequest struct {
	Amount        decimal.Decimal
	Currency      string
	Description   string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
	Metadata      map[string]string
}

func (r CheckoutRequest) purchaseID() string {
	return r.Metadata[MetadataPurchaseID]
}

type CheckoutSession struct {
	ID          string
	RedirectURL string
}

// Event is a verified payment notification. An empty Outcome means the event
// carries nothing to act on and should only be acknowledged.
type Event struct {
	ID         string
	Type       string
	PurchaseID string
	Outcome    models.PurchaseStatus
}

func (e *Event) Actionable() bool {
	return e.Outcome != ""
}

type Options struct {
	Attempts uint
	Delay    time.Duration
	Timeout  time.Duration
}

func optionsFrom(cfg config.PaymentConfig) Options {
	return Options{
		Attempts: cfg.RetryAttempts,
		Delay:    cfg.RetryDelay,
		Timeout:  cfg.RequestTimeout,
	}
}

// New builds the gateway selected by cfg.Provider.
func New(cfg config.PaymentConfig) (Gateway, error) {
	switch cfg.Provider {
	case config.ProviderStripe:
		return NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret, optionsFrom(cfg)), nil
	case config.ProviderMidtrans:
		return NewMidtrans(cfg.MidtransServerKey, cfg.MidtransProduction, optionsFrom(cfg)), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

// callWithRetry retries fn while transient reports the failure as temporary.
// A failure that is still temporary after the last attempt is reported as
// ErrUnavailable.
func callWithRetry(ctx context.Context, opts Options, transient func(error) bool, fn func() error) error {
	attempts := opts.Attempts
	if attempts == 0 {
		attempts = 1
	}

	err := retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(opts.Delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(transient),
	)
	if err == nil {
		return nil
	}

	if transient(err) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
