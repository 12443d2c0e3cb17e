package payment

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/shopspring/decimal"

	"github.com/coursemart/marketplace/internal/models"
	"github.com/coursemart/marketplace/internal/pricing"
)

const midtransCurrency = "IDR"

// Midtrans opens Snap transactions. Notifications carry their signature in
// the body as signature_key.
type Midtrans struct {
	serverKey         string
	opts              Options
	createTransaction func(*snap.Request) (*snap.Response, *midtrans.Error)
}

func NewMidtrans(serverKey string, production bool, opts Options) *Midtrans {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}

	var sc snap.Client
	sc.New(serverKey, env)

	return &Midtrans{
		serverKey:         serverKey,
		opts:              opts,
		createTransaction: sc.CreateTransaction,
	}
}

func (m *Midtrans) Name() string { return "midtrans" }

func (m *Midtrans) SignatureHeader() string { return "" }

func (m *Midtrans) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	purchaseID := req.purchaseID()
	if purchaseID == "" {
		return nil, errors.New("checkout request has no purchase id")
	}

	if !strings.EqualFold(req.Currency, midtransCurrency) {
		return nil, fmt.Errorf("midtrans charges %s only, got %q", midtransCurrency, req.Currency)
	}
	amount := pricing.MinorUnits(req.Amount, midtransCurrency)
	if !decimal.NewFromInt(amount).Equal(req.Amount) {
		return nil, fmt.Errorf("amount %s has a fraction %s cannot charge", req.Amount, midtransCurrency)
	}

	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  purchaseID,
			GrossAmt: amount,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    purchaseID,
				Name:  truncate(req.Description, 50),
				Price: amount,
				Qty:   1,
			},
		},
		Callbacks: &snap.Callbacks{
			Finish: req.SuccessURL,
		},
	}
	if req.CustomerEmail != "" {
		snapReq.CustomerDetail = &midtrans.CustomerDetails{Email: req.CustomerEmail}
	}

	var resp *snap.Response
	err := callWithRetry(ctx, m.opts, midtransTransient, func() error {
		var merr *midtrans.Error
		resp, merr = m.createTransaction(snapReq)
		if merr != nil {
			return merr
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create midtrans transaction: %w", err)
	}

	return &CheckoutSession{ID: resp.Token, RedirectURL: resp.RedirectURL}, nil
}

// VerifyAndParseWebhook ignores signature; the notification body is
// self-signed.
func (m *Midtrans) VerifyAndParseWebhook(payload []byte, _ string) (*Event, error) {
	var n coreapi.TransactionStatusResponse
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	expected := m.signature(n.OrderID, n.StatusCode, n.GrossAmount)
	if n.SignatureKey == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(n.SignatureKey)) != 1 {
		return nil, ErrInvalidSignature
	}

	if n.OrderID == "" || n.TransactionStatus == "" {
		return nil, fmt.Errorf("%w: missing order_id or transaction_status", ErrMalformedEvent)
	}

	event := &Event{
		// A transaction id is reused across status changes, so the status is
		// part of the event identity.
		ID:         n.TransactionID + ":" + n.TransactionStatus,
		Type:       n.TransactionStatus,
		PurchaseID: n.OrderID,
		Outcome:    midtransOutcome(n.TransactionStatus, n.FraudStatus),
	}
	return event, nil
}

func (m *Midtrans) signature(orderID, statusCode, grossAmount string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + m.serverKey))
	return hex.EncodeToString(sum[:])
}

func midtransOutcome(status, fraud string) models.PurchaseStatus {
	switch status {
	case "capture":
		switch fraud {
		case "", "accept":
			return models.PurchaseStatusCompleted
		case "deny":
			return models.PurchaseStatusFailed
		}
		// challenge: wait for the merchant's decision
		return ""
	case "settlement":
		return models.PurchaseStatusCompleted
	case "deny", "cancel", "expire", "failure":
		return models.PurchaseStatusFailed
	}
	return ""
}

func midtransTransient(err error) bool {
	var merr *midtrans.Error
	if errors.As(err, &merr) {
		if merr.StatusCode == 0 {
			return true
		}
		return merr.StatusCode >= http.StatusInternalServerError ||
			merr.StatusCode == http.StatusTooManyRequests
	}
	return isNetworkError(err)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	end := 0
	for end < len(s) {
		_, size := utf8.DecodeRuneInString(s[end:])
		if end+size > n {
			break
		}
		end += size
	}
	return s[:end]
}
