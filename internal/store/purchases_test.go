package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coursemart/marketplace/internal/database"
	"github.com/coursemart/marketplace/internal/database/dbtest"
	"github.com/coursemart/marketplace/internal/models"
)

func TestCreatePendingPurchase(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()

	seedUser(t, db, "user_1")
	course := seedCourse(t, db, "edu_1", 100, 20)

	pending, err := CreatePendingPurchase(ctx, db, "user_1", course.ID, "usd")
	if err != nil {
		t.Fatalf("Create purchase: %v", err)
	}

	p := pending.Purchase
	if p.Status != models.PurchaseStatusPending {
		t.Errorf("Expected pending status, got %s", p.Status)
	}
	if !p.Amount.Equal(decimal.RequireFromString("80.00")) {
		t.Errorf("Expected amount 80.00, got %s", p.Amount)
	}
	if pending.Course.ID != course.ID || pending.User.ID != "user_1" {
		t.Error("Pending purchase should carry its course and user")
	}

	stored, err := GetPurchase(ctx, db, p.ID)
	if err != nil {
		t.Fatalf("Get purchase: %v", err)
	}
	if stored.Currency != "usd" {
		t.Errorf("Expected currency usd, got %s", stored.Currency)
	}
}

func TestCreatePendingPurchaseRoundsToWholeRupiah(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()

	seedUser(t, db, "user_1")
	course := seedCourse(t, db, "edu_1", 187499, 20)

	pending, err := CreatePendingPurchase(ctx, db, "user_1", course.ID, "IDR")
	if err != nil {
		t.Fatalf("Create purchase: %v", err)
	}

	stored, err := GetPurchase(ctx, db, pending.Purchase.ID)
	if err != nil {
		t.Fatalf("Get purchase: %v", err)
	}
	if !stored.Amount.Equal(decimal.NewFromInt(149999)) {
		t.Errorf("Expected amount 149999, got %s", stored.Amount)
	}
}

func TestCreatePendingPurchaseValidation(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()

	seedUser(t, db, "user_1")
	course := seedCourse(t, db, "edu_1", 50, 0)

	if _, err := CreatePendingPurchase(ctx, db, "ghost", course.ID, "usd"); err != database.ErrUserNotFound {
		t.Errorf("Expected user not found, got: %v", err)
	}
	if _, err := CreatePendingPurchase(ctx, db, "user_1", "missing", "usd"); err != database.ErrCourseNotFound {
		t.Errorf("Expected course not found, got: %v", err)
	}

	pending, err := CreatePendingPurchase(ctx, db, "user_1", course.ID, "usd")
	if err != nil {
		t.Fatalf("Create purchase: %v", err)
	}
	if _, err := ConfirmPurchase(ctx, db, ConfirmRequest{PurchaseID: pending.Purchase.ID, Outcome: models.PurchaseStatusCompleted}); err != nil {
		t.Fatalf("Confirm purchase: %v", err)
	}

	if _, err := CreatePendingPurchase(ctx, db, "user_1", course.ID, "usd"); err != database.ErrAlreadyEnrolled {
		t.Fatalf("Expected already enrolled, got: %v", err)
	}

	n, err := CountPurchases(ctx, db, "user_1", course.ID)
	if err != nil {
		t.Fatalf("Count purchases: %v", err)
	}
	if n != 1 {
		t.Errorf("Already-enrolled purchase should not create a row, found %d", n)
	}
}

func TestConfirmPurchaseEnrollsAtomically(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()

	seedUser(t, db, "user_1")
	course := seedCourse(t, db, "edu_1", 50, 0)

	pending, err := CreatePendingPurchase(ctx, db, "user_1", course.ID, "usd")
	if err != nil {
		t.Fatalf("Create purchase: %v", err)
	}

	result, err := ConfirmPurchase(ctx, db, ConfirmRequest{
		PurchaseID: pending.Purchase.ID,
		Outcome:    models.PurchaseStatusCompleted,
		Provider:   "stripe",
		EventID:    "evt_1",
		EventType:  "checkout.session.completed",
	})
	if err != nil {
		t.Fatalf("Confirm purchase: %v", err)
	}
	if result.Replay || result.Duplicate {
		t.Errorf("First confirmation should not be a replay or duplicate: %+v", result)
	}
	if result.Purchase.Status != models.PurchaseStatusCompleted {
		t.Errorf("Expected completed, got %s", result.Purchase.Status)
	}

	user, err := GetUser(ctx, db, "user_1")
	if err != nil {
		t.Fatalf("Get user: %v", err)
	}
	storedCourse, err := GetCourse(ctx, db, course.ID)
	if err != nil {
		t.Fatalf("Get course: %v", err)
	}

	if !contains(user.EnrolledCourses, course.ID) {
		t.Error("User should be enrolled in course")
	}
	if !contains(storedCourse.EnrolledStudents, "user_1") {
		t.Error("Course should list the user as a student")
	}

	event, err := GetWebhookEvent(ctx, db, "stripe", "evt_1")
	if err != nil {
		t.Fatalf("Get webhook event: %v", err)
	}
	if event.PurchaseID != pending.Purchase.ID {
		t.Errorf("Event recorded for wrong purchase %s", event.PurchaseID)
	}
}

func TestConfirmPurchaseIdempotent(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()

	seedUser(t, db, "user_1")
	course := seedCourse(t, db, "edu_1", 50, 0)

	pending, err := CreatePendingPurchase(ctx, db, "user_1", course.ID, "usd")
	if err != nil {
		t.Fatalf("Create purchase: %v", err)
	}

	req := ConfirmRequest{
		PurchaseID: pending.Purchase.ID,
		Outcome:    models.PurchaseStatusCompleted,
		Provider:   "stripe",
		EventID:    "evt_1",
	}
	if _, err := ConfirmPurchase(ctx, db, req); err != nil {
		t.Fatalf("First confirm: %v", err)
	}

	// Same event delivered again.
	result, err := ConfirmPurchase(ctx, db, req)
	if err != nil {
		t.Fatalf("Replayed event: %v", err)
	}
	if !result.Replay {
		t.Error("Redelivered event should be a replay")
	}

	// Different event, same outcome.
	req.EventID = "evt_2"
	result, err = ConfirmPurchase(ctx, db, req)
	if err != nil {
		t.Fatalf("Second event: %v", err)
	}
	if !result.Replay {
		t.Error("Terminal purchase with the same outcome should be a replay")
	}

	user, err := GetUser(ctx, db, "user_1")
	if err != nil {
		t.Fatalf("Get user: %v", err)
	}
	storedCourse, err := GetCourse(ctx, db, course.ID)
	if err != nil {
		t.Fatalf("Get course: %v", err)
	}

	if len(user.EnrolledCourses) != 1 {
		t.Errorf("Expected one enrollment, got %v", user.EnrolledCourses)
	}
	if len(storedCourse.EnrolledStudents) != 1 {
		t.Errorf("Expected one student, got %v", storedCourse.EnrolledStudents)
	}
}

func TestConfirmPurchaseConflict(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()

	seedUser(t, db, "user_1")
	course := seedCourse(t, db, "edu_1", 50, 0)

	pending, err := CreatePendingPurchase(ctx, db, "user_1", course.ID, "usd")
	if err != nil {
		t.Fatalf("Create purchase: %v", err)
	}

	if _, err := ConfirmPurchase(ctx, db, ConfirmRequest{PurchaseID: pending.Purchase.ID, Outcome: models.PurchaseStatusFailed}); err != nil {
		t.Fatalf("Fail purchase: %v", err)
	}

	_, err = ConfirmPurchase(ctx, db, ConfirmRequest{PurchaseID: pending.Purchase.ID, Outcome: models.PurchaseStatusCompleted})
	if err != database.ErrPurchaseConflict {
		t.Fatalf("Expected purchase conflict, got: %v", err)
	}

	stored, err := GetPurchase(ctx, db, pending.Purchase.ID)
	if err != nil {
		t.Fatalf("Get purchase: %v", err)
	}
	if stored.Status != models.PurchaseStatusFailed {
		t.Errorf("First outcome should win, got %s", stored.Status)
	}

	user, err := GetUser(ctx, db, "user_1")
	if err != nil {
		t.Fatalf("Get user: %v", err)
	}
	if len(user.EnrolledCourses) != 0 {
		t.Error("Failed purchase must not enroll the user")
	}
}

func TestConfirmPurchaseUnknown(t *testing.T) {
	db := dbtest.Setup(t)

	_, err := ConfirmPurchase(context.Background(), db, ConfirmRequest{
		PurchaseID: "00000000-0000-0000-0000-000000000000",
		Outcome:    models.PurchaseStatusCompleted,
		Provider:   "stripe",
		EventID:    "evt_1",
	})
	if err != database.ErrPurchaseNotFound {
		t.Fatalf("Expected purchase not found, got: %v", err)
	}

	_, err = GetWebhookEvent(context.Background(), db, "stripe", "evt_1")
	if err == nil {
		t.Error("Event for an unknown purchase should not be recorded")
	}
}

func TestConfirmPurchaseRejectsPendingOutcome(t *testing.T) {
	db := dbtest.Setup(t)

	_, err := ConfirmPurchase(context.Background(), db, ConfirmRequest{PurchaseID: "x", Outcome: models.PurchaseStatusPending})
	if err == nil {
		t.Fatal("Pending is not a valid confirmation outcome")
	}
}

func TestConfirmPurchaseDuplicatePayment(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()

	seedUser(t, db, "user_1")
	course := seedCourse(t, db, "edu_1", 50, 0)

	// Two checkouts opened before either was paid.
	first, err := CreatePendingPurchase(ctx, db, "user_1", course.ID, "usd")
	if err != nil {
		t.Fatalf("Create first purchase: %v", err)
	}
	second, err := CreatePendingPurchase(ctx, db, "user_1", course.ID, "usd")
	if err != nil {
		t.Fatalf("Create second purchase: %v", err)
	}

	if _, err := ConfirmPurchase(ctx, db, ConfirmRequest{PurchaseID: first.Purchase.ID, Outcome: models.PurchaseStatusCompleted}); err != nil {
		t.Fatalf("Confirm first: %v", err)
	}

	result, err := ConfirmPurchase(ctx, db, ConfirmRequest{PurchaseID: second.Purchase.ID, Outcome: models.PurchaseStatusCompleted})
	if err != nil {
		t.Fatalf("Confirm second: %v", err)
	}
	if !result.Duplicate {
		t.Error("Second payment should be flagged as duplicate")
	}
	if result.Purchase.Status != models.PurchaseStatusFailed {
		t.Errorf("Duplicate payment should be recorded failed, got %s", result.Purchase.Status)
	}

	storedCourse, err := GetCourse(ctx, db, course.ID)
	if err != nil {
		t.Fatalf("Get course: %v", err)
	}
	if len(storedCourse.EnrolledStudents) != 1 {
		t.Errorf("Expected a single enrollment, got %v", storedCourse.EnrolledStudents)
	}
}

func TestConcurrentConfirmationsSameUser(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()

	seedUser(t, db, "user_1")

	const numCourses = 8
	purchaseIDs := make([]string, numCourses)
	courseIDs := make([]string, numCourses)
	for i := 0; i < numCourses; i++ {
		course := seedCourse(t, db, "edu_1", 10, 0)
		pending, err := CreatePendingPurchase(ctx, db, "user_1", course.ID, "usd")
		if err != nil {
			t.Fatalf("Create purchase %d: %v", i, err)
		}
		purchaseIDs[i] = pending.Purchase.ID
		courseIDs[i] = course.ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, numCourses)

	for _, id := range purchaseIDs {
		wg.Add(1)
		go func(purchaseID string) {
			defer wg.Done()
			_, err := ConfirmPurchase(ctx, db, ConfirmRequest{PurchaseID: purchaseID, Outcome: models.PurchaseStatusCompleted})
			if err != nil {
				errs <- err
			}
		}(id)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent confirmation failed: %v", err)
	}

	user, err := GetUser(ctx, db, "user_1")
	if err != nil {
		t.Fatalf("Get user: %v", err)
	}
	if len(user.EnrolledCourses) != numCourses {
		t.Errorf("Expected %d enrollments, got %d: lost update", numCourses, len(user.EnrolledCourses))
	}
	for _, id := range courseIDs {
		if !contains(user.EnrolledCourses, id) {
			t.Errorf("Missing enrollment for course %s", id)
		}
	}
}

func TestConcurrentRedeliverySamePurchase(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()

	seedUser(t, db, "user_1")
	course := seedCourse(t, db, "edu_1", 10, 0)

	pending, err := CreatePendingPurchase(ctx, db, "user_1", course.ID, "usd")
	if err != nil {
		t.Fatalf("Create purchase: %v", err)
	}

	const deliveries = 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0

	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := ConfirmPurchase(ctx, db, ConfirmRequest{
				PurchaseID: pending.Purchase.ID,
				Outcome:    models.PurchaseStatusCompleted,
				Provider:   "stripe",
				EventID:    "evt_same",
			})
			if err != nil {
				t.Errorf("Delivery failed: %v", err)
				return
			}
			if !result.Replay {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if applied != 1 {
		t.Errorf("Expected exactly one applied delivery, got %d", applied)
	}

	storedCourse, err := GetCourse(ctx, db, course.ID)
	if err != nil {
		t.Fatalf("Get course: %v", err)
	}
	if len(storedCourse.EnrolledStudents) != 1 {
		t.Errorf("Expected one student, got %v", storedCourse.EnrolledStudents)
	}
}

func TestDeletePendingPurchase(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()

	seedUser(t, db, "user_1")
	course := seedCourse(t, db, "edu_1", 10, 0)

	pending, err := CreatePendingPurchase(ctx, db, "user_1", course.ID, "usd")
	if err != nil {
		t.Fatalf("Create purchase: %v", err)
	}

	if err := AttachCheckoutSession(ctx, db, pending.Purchase.ID, "cs_test_1"); err != nil {
		t.Fatalf("Attach session: %v", err)
	}
	stored, err := GetPurchase(ctx, db, pending.Purchase.ID)
	if err != nil {
		t.Fatalf("Get purchase: %v", err)
	}
	if stored.CheckoutSessionID != "cs_test_1" {
		t.Errorf("Expected session cs_test_1, got %q", stored.CheckoutSessionID)
	}

	if err := DeletePendingPurchase(ctx, db, pending.Purchase.ID); err != nil {
		t.Fatalf("Delete pending purchase: %v", err)
	}
	if _, err := GetPurchase(ctx, db, pending.Purchase.ID); err != database.ErrPurchaseNotFound {
		t.Errorf("Expected purchase not found, got: %v", err)
	}

	done, err := CreatePendingPurchase(ctx, db, "user_1", course.ID, "usd")
	if err != nil {
		t.Fatalf("Create purchase: %v", err)
	}
	if _, err := ConfirmPurchase(ctx, db, ConfirmRequest{PurchaseID: done.Purchase.ID, Outcome: models.PurchaseStatusCompleted}); err != nil {
		t.Fatalf("Confirm purchase: %v", err)
	}
	if err := DeletePendingPurchase(ctx, db, done.Purchase.ID); !errors.Is(err, database.ErrPurchaseNotFound) {
		t.Errorf("Completed purchase must not be deleted, got: %v", err)
	}
}

func TestListPurchasesCursor(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()

	seedUser(t, db, "user_1")
	seedUser(t, db, "user_2")

	for i := 0; i < 5; i++ {
		course := seedCourse(t, db, "edu_1", 10, 0)
		if _, err := CreatePendingPurchase(ctx, db, "user_1", course.ID, "usd"); err != nil {
			t.Fatalf("Create purchase: %v", err)
		}
	}
	other := seedCourse(t, db, "edu_1", 10, 0)
	if _, err := CreatePendingPurchase(ctx, db, "user_2", other.ID, "usd"); err != nil {
		t.Fatalf("Create purchase: %v", err)
	}

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := ListPurchasesCursor(ctx, db, "user_1", cursor, 2)
		if err != nil {
			t.Fatalf("List purchases: %v", err)
		}
		pages++

		for _, p := range page.Items.([]models.Purchase) {
			if p.UserID != "user_1" {
				t.Errorf("Listed another user's purchase %s", p.ID)
			}
			if seen[p.ID] {
				t.Errorf("Purchase %s listed twice", p.ID)
			}
			seen[p.ID] = true
		}

		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	if len(seen) != 5 {
		t.Errorf("Expected 5 purchases, got %d", len(seen))
	}
	if pages != 3 {
		t.Errorf("Expected 3 pages, got %d", pages)
	}
}

func TestListStalePendingPurchases(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()

	seedUser(t, db, "user_1")
	course := seedCourse(t, db, "edu_1", 10, 0)

	pending, err := CreatePendingPurchase(ctx, db, "user_1", course.ID, "usd")
	if err != nil {
		t.Fatalf("Create purchase: %v", err)
	}

	if _, err := db.ExecContext(ctx,
		`UPDATE purchases SET created_at = NOW() - INTERVAL '2 hours' WHERE id = $1`,
		pending.Purchase.ID); err != nil {
		t.Fatalf("Age purchase: %v", err)
	}
	if _, err := CreatePendingPurchase(ctx, db, "user_1", course.ID, "usd"); err != nil {
		t.Fatalf("Create fresh purchase: %v", err)
	}

	stale, err := ListStalePendingPurchases(ctx, db, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("List stale purchases: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != pending.Purchase.ID {
		t.Errorf("Expected only the aged purchase, got %+v", stale)
	}
}

func TestEducatorDashboardQueries(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()

	seedUser(t, db, "user_1")
	seedUser(t, db, "user_2")
	courseA := seedCourse(t, db, "edu_1", 100, 20)
	courseB := seedCourse(t, db, "edu_1", 50, 0)
	foreign := seedCourse(t, db, "edu_2", 70, 0)

	buy := func(userID, courseID string, outcome models.PurchaseStatus) {
		t.Helper()
		pending, err := CreatePendingPurchase(ctx, db, userID, courseID, "usd")
		if err != nil {
			t.Fatalf("Create purchase: %v", err)
		}
		if _, err := ConfirmPurchase(ctx, db, ConfirmRequest{PurchaseID: pending.Purchase.ID, Outcome: outcome}); err != nil {
			t.Fatalf("Confirm purchase: %v", err)
		}
	}

	buy("user_1", courseA.ID, models.PurchaseStatusCompleted)
	buy("user_2", courseB.ID, models.PurchaseStatusCompleted)
	buy("user_1", courseB.ID, models.PurchaseStatusFailed)
	buy("user_1", foreign.ID, models.PurchaseStatusCompleted)

	earnings, err := EducatorEarnings(ctx, db, "edu_1")
	if err != nil {
		t.Fatalf("Educator earnings: %v", err)
	}
	if !earnings.Equal(decimal.NewFromInt(130)) {
		t.Errorf("Expected earnings 130, got %s", earnings)
	}

	students, err := ListEnrolledStudents(ctx, db, "edu_1")
	if err != nil {
		t.Fatalf("List enrolled students: %v", err)
	}
	if len(students) != 2 {
		t.Fatalf("Expected 2 enrolled students, got %d", len(students))
	}
	for _, s := range students {
		if s.CourseID == foreign.ID {
			t.Error("Listed a student of another educator's course")
		}
	}
}
