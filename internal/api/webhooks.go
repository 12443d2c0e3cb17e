package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coursemart/marketplace/internal/auth"
	"github.com/coursemart/marketplace/internal/database"
	"github.com/coursemart/marketplace/internal/payment"
	"github.com/coursemart/marketplace/internal/store"
)

const maxWebhookBytes = 1 << 20

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		respondError(c, http.StatusBadRequest, "Unreadable request body")
		return nil, false
	}
	return body, true
}

// paymentWebhook must see the raw body: the gateway signs the exact bytes.
// A non-2xx answer makes the gateway redeliver, so only failures that a
// retry could fix get a 500.
func (s *Server) paymentWebhook(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	gateway := s.purchases.Gateway()
	var signature string
	if h := gateway.SignatureHeader(); h != "" {
		signature = c.GetHeader(h)
	}

	err := s.purchases.HandleWebhook(c.Request.Context(), body, signature)
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		respondError(c, http.StatusBadRequest, "Webhook signature verification failed")
		return
	case errors.Is(err, payment.ErrMalformedEvent):
		respondError(c, http.StatusBadRequest, "Malformed webhook event")
		return
	case err != nil:
		s.log.Error("payment webhook failed", slog.String("provider", gateway.Name()), slog.Any("error", err))
		respondError(c, http.StatusInternalServerError, "Webhook processing failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// userWebhook mirrors identity-provider users into the users table.
func (s *Server) userWebhook(c *gin.Context) {
	if s.userSync == nil {
		respondError(c, http.StatusServiceUnavailable, "User sync is not configured")
		return
	}
	body, ok := readBody(c)
	if !ok {
		return
	}

	event, err := s.userSync.Verify(body, c.Request.Header)
	if err != nil {
		s.log.Warn("user webhook rejected", slog.Any("error", err))
		respondError(c, http.StatusBadRequest, "Invalid user webhook")
		return
	}

	ctx := c.Request.Context()
	log := s.log.With(slog.String("user_id", event.UserID), slog.String("event_type", event.Type))

	switch event.Type {
	case auth.UserCreated, auth.UserUpdated:
		_, err = store.UpsertUser(ctx, s.db, event.UserID, event.Name, event.Email, event.ImageURL)
	case auth.UserDeleted:
		err = store.DeleteUser(ctx, s.db, event.UserID)
		if errors.Is(err, database.ErrUserNotFound) {
			err = nil
		}
	default:
		log.Debug("user webhook event ignored")
	}
	if err != nil {
		log.Error("user sync failed", slog.Any("error", err))
		respondError(c, http.StatusInternalServerError, "User sync failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
