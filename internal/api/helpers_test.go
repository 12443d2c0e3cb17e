package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/coursemart/marketplace/internal/auth"
	"github.com/coursemart/marketplace/internal/config"
	"github.com/coursemart/marketplace/internal/curriculum"
	"github.com/coursemart/marketplace/internal/models"
	"github.com/coursemart/marketplace/internal/payment"
	"github.com/coursemart/marketplace/internal/purchase"
	"github.com/coursemart/marketplace/internal/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

const (
	userToken      = "user-token"
	otherUserToken = "other-user-token"
	educatorToken  = "educator-token"
	rivalToken     = "rival-educator-token"
	appOrigin      = "https://app.test"
)

type fakeVerifier map[string]*auth.Claims

func (f fakeVerifier) Verify(token string) (*auth.Claims, error) {
	if claims, ok := f[token]; ok {
		return claims, nil
	}
	return nil, auth.ErrInvalidToken
}

func testVerifier() fakeVerifier {
	claims := func(sub, role string) *auth.Claims {
		return &auth.Claims{Role: role, RegisteredClaims: jwt.RegisteredClaims{Subject: sub}}
	}
	return fakeVerifier{
		userToken:      claims("user_1", ""),
		otherUserToken: claims("user_2", ""),
		educatorToken:  claims("edu_1", auth.RoleEducator),
		rivalToken:     claims("edu_2", auth.RoleEducator),
	}
}

// fakeGateway accepts webhook bodies that are JSON-encoded payment.Event
// values signed with "valid".
type fakeGateway struct {
	requests []payment.CheckoutRequest
	failWith error
}

func (f *fakeGateway) Name() string { return "fake" }

func (f *fakeGateway) SignatureHeader() string { return "X-Fake-Signature" }

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	f.requests = append(f.requests, req)
	if f.failWith != nil {
		return nil, f.failWith
	}
	id := req.Metadata[payment.MetadataPurchaseID]
	return &payment.CheckoutSession{ID: "sess_" + id, RedirectURL: "https://pay.test/" + id}, nil
}

func (f *fakeGateway) VerifyAndParseWebhook(payload []byte, signature string) (*payment.Event, error) {
	if signature != "valid" {
		return nil, payment.ErrInvalidSignature
	}
	var e payment.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, payment.ErrMalformedEvent
	}
	return &e, nil
}

type fakeUploader struct {
	keys  []string
	types []string
}

func (f *fakeUploader) Upload(_ context.Context, key string, body io.Reader, contentType string) (string, error) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	f.keys = append(f.keys, key)
	f.types = append(f.types, contentType)
	return "https://cdn.test/" + key, nil
}

type fakeUserSync struct {
	event *auth.UserEvent
}

func (f *fakeUserSync) Verify(_ []byte, headers http.Header) (*auth.UserEvent, error) {
	if headers.Get("Svix-Signature") != "valid" || f.event == nil {
		return nil, errors.New("bad signature")
	}
	return f.event, nil
}

type testEnv struct {
	db       *sql.DB
	gateway  *fakeGateway
	uploader *fakeUploader
	userSync *fakeUserSync
	router   *gin.Engine
}

type envOption func(*Deps)

func withoutUploader() envOption {
	return func(d *Deps) { d.Uploader = nil }
}

func newEnv(t *testing.T, db *sql.DB, opts ...envOption) *testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		db:       db,
		gateway:  &fakeGateway{},
		uploader: &fakeUploader{},
		userSync: &fakeUserSync{},
	}

	deps := Deps{
		DB:        db,
		Purchases: purchase.NewService(db, env.gateway, "usd", log),
		Verifier:  testVerifier(),
		UserSync:  env.userSync,
		Uploader:  env.uploader,
		Gatherer:  prometheus.NewRegistry(),
		Config: &config.Config{
			Server:  config.ServerConfig{AllowedOrigin: appOrigin, DefaultOrigin: "https://default.test"},
			Payment: config.PaymentConfig{WebhookPath: "/stripe"},
			Media:   config.MediaConfig{ThumbnailWidth: 64, ThumbnailHeight: 64},
		},
		Log: log,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	env.router = NewRouter(deps)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Encode request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) webhook(t *testing.T, event payment.Event, signature string) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Encode event: %v", err)
	}
	return e.do(t, http.MethodPost, "/stripe", "", payload, map[string]string{"X-Fake-Signature": signature})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()

	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("Decode response %q: %v", rec.Body.String(), err)
	}
}

func seedUser(t *testing.T, db *sql.DB, id string) {
	t.Helper()

	if _, err := store.UpsertUser(context.Background(), db, id, "User "+id, id+"@example.com", ""); err != nil {
		t.Fatalf("Upsert user %s: %v", id, err)
	}
}

func seedCourse(t *testing.T, db *sql.DB, educatorID string, published bool) *models.Course {
	t.Helper()

	course, err := store.CreateCourse(context.Background(), db, store.CreateCourseRequest{
		EducatorID:  educatorID,
		Title:       "Go in Practice",
		Description: "Test course",
		Price:       decimal.NewFromInt(50),
		IsPublished: published,
		Content: curriculum.Normalize([]models.Chapter{
			{
				Title: "Basics",
				Lectures: []models.Lecture{
					{Title: "Welcome", DurationMinutes: 10, URL: "https://youtu.be/welcome", IsPreviewFree: true},
					{Title: "Types", DurationMinutes: 20, URL: "https://youtu.be/types"},
				},
			},
		}),
	})
	if err != nil {
		t.Fatalf("Create course: %v", err)
	}
	return course
}

// enroll completes a purchase directly in the store.
func enroll(t *testing.T, db *sql.DB, userID, courseID string) {
	t.Helper()
	ctx := context.Background()

	pending, err := store.CreatePendingPurchase(ctx, db, userID, courseID, "usd")
	if err != nil {
		t.Fatalf("Create purchase: %v", err)
	}
	if _, err := store.ConfirmPurchase(ctx, db, store.ConfirmRequest{
		PurchaseID: pending.Purchase.ID,
		Outcome:    models.PurchaseStatusCompleted,
	}); err != nil {
		t.Fatalf("Confirm purchase: %v", err)
	}
}
