// Package purchase runs the checkout handshake: a pending purchase and a
// hosted checkout session on the way out, and webhook-driven confirmation
// with enrollment on the way back.
package purchase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coursemart/marketplace/internal/database"
	"github.com/coursemart/marketplace/internal/metrics"
	"github.com/coursemart/marketplace/internal/models"
	"github.com/coursemart/marketplace/internal/payment"
	"github.com/coursemart/marketplace/internal/store"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyEnrolled    = errors.New("already enrolled")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrUnknownPurchase    = errors.New("unknown purchase")
	ErrConflict           = errors.New("purchase already finalized with a different outcome")
)

const (
	successPath = "/loading/my-enrollments"
	cancelPath  = "/"
)

type Service struct {
	db       *sql.DB
	gateway  payment.Gateway
	currency string
	log      *slog.Logger
}

func NewService(db *sql.DB, gateway payment.Gateway, currency string, log *slog.Logger) *Service {
	return &Service{
		db:       db,
		gateway:  gateway,
		currency: currency,
		log:      log.With(slog.String("component", "purchase"), slog.String("provider", gateway.Name())),
	}
}

func (s *Service) Gateway() payment.Gateway {
	return s.gateway
}

// InitiatePurchase creates a pending purchase and a hosted checkout session
// for it, returning the URL the buyer should be redirected to. If the
// gateway cannot open the session the pending purchase is deleted again.
func (s *Service) InitiatePurchase(ctx context.Context, userID, courseID, origin string) (string, error) {
	pending, err := store.CreatePendingPurchase(ctx, s.db, userID, courseID, s.currency)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrUserNotFound):
			return "", fmt.Errorf("user %s: %w", userID, ErrNotFound)
		case errors.Is(err, database.ErrCourseNotFound):
			return "", fmt.Errorf("course %s: %w", courseID, ErrNotFound)
		case errors.Is(err, database.ErrAlreadyEnrolled):
			return "", fmt.Errorf("course %s: %w", courseID, ErrAlreadyEnrolled)
		}
		return "", fmt.Errorf("create pending purchase: %w", err)
	}

	p := pending.Purchase
	log := s.log.With(slog.String("purchase_id", p.ID), slog.String("course_id", courseID), slog.String("user_id", userID))

	origin = strings.TrimRight(origin, "/")
	req := payment.CheckoutRequest{
		Amount:        p.Amount,
		Currency:      p.Currency,
		Description:   pending.Course.Title,
		SuccessURL:    origin + successPath,
		CancelURL:     origin + cancelPath,
		CustomerEmail: pending.User.Email,
		Metadata:      map[string]string{payment.MetadataPurchaseID: p.ID},
	}

	start := time.Now()
	session, err := s.gateway.CreateCheckoutSession(ctx, req)
	if err != nil {
		metrics.GatewayDuration.WithLabelValues(s.gateway.Name(), "error").Observe(time.Since(start).Seconds())
		log.Error("checkout session failed, rolling back purchase", slog.Any("error", err))

		// The request context may already be done; the rollback must still run.
		if delErr := store.DeletePendingPurchase(context.WithoutCancel(ctx), s.db, p.ID); delErr != nil {
			log.Error("rollback of pending purchase failed", slog.Any("error", delErr))
		}
		return "", fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	metrics.GatewayDuration.WithLabelValues(s.gateway.Name(), "ok").Observe(time.Since(start).Seconds())

	if err := store.AttachCheckoutSession(ctx, s.db, p.ID, session.ID); err != nil {
		// The webhook correlates through metadata, so the session still works.
		log.Warn("failed to record checkout session id", slog.Any("error", err))
	}

	metrics.PurchasesInitiated.Inc()
	log.Info("checkout session created",
		slog.String("session_id", session.ID),
		slog.String("amount", p.Amount.StringFixed(2)),
		slog.String("currency", p.Currency))

	return session.RedirectURL, nil
}

// HandleWebhook verifies a gateway delivery and applies it. Only signature,
// payload and store failures are returned; callers answer those with a
// non-2xx status so the gateway redelivers.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.gateway.VerifyAndParseWebhook(payload, signature)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, payment.ErrInvalidSignature) {
			reason = "signature"
		}
		metrics.WebhookRejections.WithLabelValues(s.gateway.Name(), reason).Inc()
		s.log.Warn("webhook rejected", slog.String("reason", reason), slog.Any("error", err))
		return err
	}

	if !event.Actionable() {
		metrics.PurchaseConfirmations.WithLabelValues(metrics.ResultIgnored).Inc()
		s.log.Debug("webhook event ignored", slog.String("event_id", event.ID), slog.String("event_type", event.Type))
		return nil
	}

	return s.confirm(ctx, event)
}

// ConfirmPurchase applies a payment outcome outside of a webhook delivery.
func (s *Service) ConfirmPurchase(ctx context.Context, purchaseID string, outcome models.PurchaseStatus, eventID string) error {
	return s.confirm(ctx, &payment.Event{
		ID:         eventID,
		PurchaseID: purchaseID,
		Outcome:    outcome,
	})
}

// confirm swallows unknown purchases and conflicting outcomes: redelivering
// them could never succeed.
func (s *Service) confirm(ctx context.Context, event *payment.Event) error {
	log := s.log.With(
		slog.String("purchase_id", event.PurchaseID),
		slog.String("event_id", event.ID),
		slog.String("outcome", string(event.Outcome)))

	result, err := s.apply(ctx, event)
	switch {
	case errors.Is(err, ErrUnknownPurchase):
		metrics.PurchaseConfirmations.WithLabelValues(metrics.ResultUnknown).Inc()
		if event.Outcome == models.PurchaseStatusCompleted {
			// A checkout rolled back after a timeout may still have been paid.
			log.Error("payment completed for an unknown purchase, refund or reconcile required",
				slog.String("provider", s.gateway.Name()))
			return nil
		}
		log.Warn("confirmation for unknown purchase")
		return nil
	case errors.Is(err, ErrConflict):
		metrics.PurchaseConfirmations.WithLabelValues(metrics.ResultConflict).Inc()
		log.Warn("conflicting confirmation ignored, first outcome kept")
		return nil
	case err != nil:
		log.Error("confirmation failed", slog.Any("error", err))
		return err
	}

	switch {
	case result.Replay:
		metrics.PurchaseConfirmations.WithLabelValues(metrics.ResultReplay).Inc()
		log.Info("confirmation replayed, nothing to do")
	case result.Duplicate:
		metrics.PurchaseConfirmations.WithLabelValues(metrics.ResultDuplicate).Inc()
		log.Error("payment completed for a course the user already owns, refund required",
			slog.String("user_id", result.Purchase.UserID),
			slog.String("course_id", result.Purchase.CourseID),
			slog.String("amount", result.Purchase.Amount.StringFixed(2)))
	default:
		metrics.PurchaseConfirmations.WithLabelValues(string(result.Purchase.Status)).Inc()
		log.Info("purchase confirmed",
			slog.String("user_id", result.Purchase.UserID),
			slog.String("course_id", result.Purchase.CourseID))
	}

	return nil
}

func (s *Service) apply(ctx context.Context, event *payment.Event) (*store.ConfirmResult, error) {
	result, err := store.ConfirmPurchase(ctx, s.db, store.ConfirmRequest{
		PurchaseID: event.PurchaseID,
		Outcome:    event.Outcome,
		Provider:   s.gateway.Name(),
		EventID:    event.ID,
		EventType:  event.Type,
	})
	if err != nil {
		switch {
		case errors.Is(err, database.ErrPurchaseNotFound):
			return nil, fmt.Errorf("purchase %s: %w", event.PurchaseID, ErrUnknownPurchase)
		case errors.Is(err, database.ErrPurchaseConflict):
			return nil, fmt.Errorf("purchase %s: %w", event.PurchaseID, ErrConflict)
		}
		return nil, fmt.Errorf("confirm purchase %s: %w", event.PurchaseID, err)
	}
	return result, nil
}
