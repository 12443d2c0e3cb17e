package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/coursemart/marketplace/internal/models"
	"github.com/coursemart/marketplace/internal/pricing"
)

const (
	stripeSessionCompleted      = "checkout.session.completed"
	stripeAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	stripeAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	stripeSessionExpired        = "checkout.session.expired"
)

// Stripe opens hosted Checkout Sessions and verifies Stripe-Signature
// webhook deliveries.
type Stripe struct {
	webhookSecret string
	opts          Options
	newSession    func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func NewStripe(secretKey, webhookSecret string, opts Options) *Stripe {
	sc := client.New(secretKey, nil)
	return &Stripe{
		webhookSecret: webhookSecret,
		opts:          opts,
		newSession:    sc.CheckoutSessions.New,
	}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) SignatureHeader() string { return "Stripe-Signature" }

func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	purchaseID := req.purchaseID()
	if purchaseID == "" {
		return nil, errors.New("checkout request has no purchase id")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(purchaseID),
		Metadata:          req.Metadata,
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(req.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(pricing.MinorUnits(req.Amount, req.Currency)),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	var session *stripe.CheckoutSession
	err := callWithRetry(ctx, s.opts, stripeTransient, func() error {
		attemptCtx, cancel := s.attemptContext(ctx)
		defer cancel()

		params.Context = attemptCtx
		var err error
		session, err = s.newSession(params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}

	return &CheckoutSession{ID: session.ID, RedirectURL: session.URL}, nil
}

func (s *Stripe) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.Timeout)
}

func (s *Stripe) VerifyAndParseWebhook(payload []byte, signature string) (*Event, error) {
	if err := webhook.ValidatePayload(payload, signature, s.webhookSecret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if evt.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}

	event := &Event{ID: evt.ID, Type: string(evt.Type)}

	var outcome models.PurchaseStatus
	switch event.Type {
	case stripeSessionCompleted, stripeAsyncPaymentSucceeded:
		outcome = models.PurchaseStatusCompleted
	case stripeAsyncPaymentFailed, stripeSessionExpired:
		outcome = models.PurchaseStatusFailed
	default:
		return event, nil
	}

	if evt.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", ErrMalformedEvent, evt.ID)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: decode checkout session: %v", ErrMalformedEvent, err)
	}

	// Delayed payment methods complete the session before funds arrive; the
	// async_payment_succeeded event follows.
	if event.Type == stripeSessionCompleted && session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		return event, nil
	}

	event.PurchaseID = session.Metadata[MetadataPurchaseID]
	if event.PurchaseID == "" {
		event.PurchaseID = session.ClientReferenceID
	}
	if event.PurchaseID == "" {
		return nil, fmt.Errorf("%w: session %s has no purchase id", ErrMalformedEvent, session.ID)
	}

	event.Outcome = outcome
	return event, nil
}

func stripeTransient(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return isNetworkError(err)
}
