package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/coursemart/marketplace/internal/database"
	"github.com/coursemart/marketplace/internal/models"
	"github.com/coursemart/marketplace/internal/pricing"
)

const purchaseColumns = `id, course_id, user_id, amount, currency, status, checkout_session_id, created_at, updated_at`

const completedEnrollmentIndex = "ux_purchases_completed_enrollment"

func scanPurchase(row rowScanner) (*models.Purchase, error) {
	p := &models.Purchase{}
	err := row.Scan(
		&p.ID,
		&p.CourseID,
		&p.UserID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.CheckoutSessionID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

// PendingPurchase is a freshly created purchase together with the course it
// is for, so callers can describe the checkout without a second lookup.
type PendingPurchase struct {
	Purchase *models.Purchase
	Course   *models.Course
	User     *models.User
}

// CreatePendingPurchase validates the buyer and course and inserts a pending
// purchase priced from the course's current price and discount. Nothing is
// written when validation fails.
func CreatePendingPurchase(ctx context.Context, db *sql.DB, userID, courseID, currency string) (*PendingPurchase, error) {
	var result *PendingPurchase

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		user, err := GetUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		course, err := GetCourse(ctx, tx, courseID)
		if err != nil {
			return err
		}

		if user.IsEnrolled(course.ID) {
			return database.ErrAlreadyEnrolled
		}

		amount := pricing.ChargedAmount(course.Price, course.Discount, currency)

		purchase, err := scanPurchase(tx.QueryRowContext(ctx,
			`INSERT INTO purchases (id, course_id, user_id, amount, currency, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			 RETURNING `+purchaseColumns,
			uuid.NewString(), course.ID, user.ID, amount, currency, models.PurchaseStatusPending))
		if err != nil {
			return fmt.Errorf("create purchase: %w", err)
		}

		result = &PendingPurchase{Purchase: purchase, Course: course, User: user}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func AttachCheckoutSession(ctx context.Context, db DBTX, purchaseID, sessionID string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE purchases
		 SET checkout_session_id = $1, updated_at = NOW()
		 WHERE id = $2`,
		sessionID, purchaseID)
	if err != nil {
		return fmt.Errorf("attach checkout session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrPurchaseNotFound
	}

	return nil
}

// DeletePendingPurchase removes a purchase whose checkout could not be
// created. Purchases that already reached a terminal state are kept.
func DeletePendingPurchase(ctx context.Context, db DBTX, purchaseID string) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM purchases WHERE id = $1 AND status = $2`,
		purchaseID, models.PurchaseStatusPending)
	if err != nil {
		return fmt.Errorf("delete pending purchase: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrPurchaseNotFound
	}

	return nil
}

func GetPurchase(ctx context.Context, db DBTX, id string) (*models.Purchase, error) {
	purchase, err := scanPurchase(db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("get purchase: %w", err)
	}

	return purchase, nil
}

// CountPurchases counts a user's purchases of a course in any state.
func CountPurchases(ctx context.Context, db DBTX, userID, courseID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM purchases WHERE user_id = $1 AND course_id = $2`,
		userID, courseID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count purchases: %w", err)
	}
	return n, nil
}

func ListPurchasesCursor(ctx context.Context, db DBTX, userID string, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	purchases := []models.Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		purchases = append(purchases, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(purchases) > limit
	if hasMore {
		purchases = purchases[:limit]
	}

	var nextCursor string
	if hasMore && len(purchases) > 0 {
		last := purchases[len(purchases)-1]
		nextCursor = EncodeCursor(PurchaseCursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	return &CursorPage{
		Items:      purchases,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListStalePendingPurchases returns pending purchases created before the
// cutoff, oldest first, for manual reconciliation.
func ListStalePendingPurchases(ctx context.Context, db DBTX, before time.Time, limit int) ([]models.Purchase, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+purchaseColumns+`
		 FROM purchases
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at
		 LIMIT $3`,
		models.PurchaseStatusPending, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale purchases: %w", err)
	}
	defer rows.Close()

	purchases := []models.Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		purchases = append(purchases, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return purchases, nil
}

type ConfirmRequest struct {
	PurchaseID string
	Outcome    models.PurchaseStatus
	Provider   string
	EventID    string
	EventType  string
}

type ConfirmResult struct {
	Purchase *models.Purchase
	// Replay is set when the event or purchase had already been processed
	// with the same outcome; nothing was written.
	Replay bool
	// Duplicate is set when a payment completed for a course the user was
	// already enrolled in through another purchase. The purchase is recorded
	// as failed and needs a refund.
	Duplicate bool
}

// ConfirmPurchase applies a payment outcome. The status transition, the
// webhook event record and both enrollment set updates commit together.
func ConfirmPurchase(ctx context.Context, db *sql.DB, req ConfirmRequest) (*ConfirmResult, error) {
	if !req.Outcome.IsTerminal() {
		return nil, fmt.Errorf("confirm purchase: outcome %q is not terminal", req.Outcome)
	}

	var result *ConfirmResult

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		result = &ConfirmResult{}

		purchase, err := scanPurchase(tx.QueryRowContext(ctx,
			`SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`,
			req.PurchaseID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrPurchaseNotFound
			}
			return fmt.Errorf("lock purchase: %w", err)
		}
		result.Purchase = purchase

		if req.EventID != "" {
			recorded, err := recordWebhookEvent(ctx, tx, req)
			if err != nil {
				return err
			}
			if !recorded {
				result.Replay = true
				return nil
			}
		}

		if purchase.Status.IsTerminal() {
			if purchase.Status != req.Outcome {
				return database.ErrPurchaseConflict
			}
			result.Replay = true
			return nil
		}

		outcome := req.Outcome
		if outcome == models.PurchaseStatusCompleted {
			var alreadyCompleted bool
			err := tx.QueryRowContext(ctx,
				`SELECT EXISTS(
				   SELECT 1 FROM purchases
				   WHERE user_id = $1 AND course_id = $2 AND status = $3 AND id <> $4)`,
				purchase.UserID, purchase.CourseID, models.PurchaseStatusCompleted, purchase.ID).Scan(&alreadyCompleted)
			if err != nil {
				return fmt.Errorf("check existing enrollment: %w", err)
			}
			if alreadyCompleted {
				outcome = models.PurchaseStatusFailed
				result.Duplicate = true
			}
		}

		err = tx.QueryRowContext(ctx,
			`UPDATE purchases
			 SET status = $1, updated_at = NOW()
			 WHERE id = $2
			 RETURNING updated_at`,
			outcome, purchase.ID).Scan(&purchase.UpdatedAt)
		if err != nil {
			if database.IsUniqueViolation(err, completedEnrollmentIndex) {
				return fmt.Errorf("update purchase status: %w", database.ErrAlreadyEnrolled)
			}
			return fmt.Errorf("update purchase status: %w", err)
		}
		purchase.Status = outcome

		if outcome != models.PurchaseStatusCompleted {
			return nil
		}

		return enroll(ctx, tx, purchase.UserID, purchase.CourseID)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// enroll adds the course to the user's set and the user to the course's set
// with single-statement guarded appends, so concurrent enrollments of the
// same user never lose an element.
func enroll(ctx context.Context, tx *sql.Tx, userID, courseID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE users
		 SET enrolled_courses = array_append(enrolled_courses, $1::text), updated_at = NOW()
		 WHERE id = $2 AND NOT ($1::text = ANY(enrolled_courses))`,
		courseID, userID)
	if err != nil {
		return fmt.Errorf("enroll user: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE courses
		 SET enrolled_students = array_append(enrolled_students, $1::text), updated_at = NOW()
		 WHERE id = $2 AND NOT ($1::text = ANY(enrolled_students))`,
		userID, courseID)
	if err != nil {
		return fmt.Errorf("enroll student: %w", err)
	}

	return nil
}

func recordWebhookEvent(ctx context.Context, tx *sql.Tx, req ConfirmRequest) (bool, error) {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO payment_webhook_events (provider, event_id, event_type, purchase_id, received_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (provider, event_id) DO NOTHING`,
		req.Provider, req.EventID, req.EventType, req.PurchaseID)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

func GetWebhookEvent(ctx context.Context, db DBTX, provider, eventID string) (*models.WebhookEvent, error) {
	e := &models.WebhookEvent{}
	err := db.QueryRowContext(ctx,
		`SELECT provider, event_id, event_type, purchase_id, received_at
		 FROM payment_webhook_events
		 WHERE provider = $1 AND event_id = $2`,
		provider, eventID).Scan(&e.Provider, &e.EventID, &e.EventType, &e.PurchaseID, &e.ReceivedAt)
	if err != nil {
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	return e, nil
}

// EducatorEarnings sums completed purchases across an educator's courses.
func EducatorEarnings(ctx context.Context, db DBTX, educatorID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(p.amount), 0)
		 FROM purchases p
		 JOIN courses c ON c.id = p.course_id
		 WHERE c.educator_id = $1 AND p.status = $2`,
		educatorID, models.PurchaseStatusCompleted).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum educator earnings: %w", err)
	}
	return total, nil
}

// ListEnrolledStudents reports every completed purchase of the educator's
// courses, newest first.
func ListEnrolledStudents(ctx context.Context, db DBTX, educatorID string) ([]models.EnrolledStudent, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT u.id, u.name, u.email, u.image_url, u.enrolled_courses, u.created_at, u.updated_at,
		        c.id, c.title, p.created_at
		 FROM purchases p
		 JOIN courses c ON c.id = p.course_id
		 JOIN users u ON u.id = p.user_id
		 WHERE c.educator_id = $1 AND p.status = $2
		 ORDER BY p.created_at DESC, p.id DESC`,
		educatorID, models.PurchaseStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("list enrolled students: %w", err)
	}
	defer rows.Close()

	students := []models.EnrolledStudent{}
	for rows.Next() {
		var row models.EnrolledStudent
		var enrolled pq.StringArray
		err := rows.Scan(
			&row.Student.ID,
			&row.Student.Name,
			&row.Student.Email,
			&row.Student.ImageURL,
			&enrolled,
			&row.Student.CreatedAt,
			&row.Student.UpdatedAt,
			&row.CourseID,
			&row.CourseTitle,
			&row.PurchasedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan enrolled student: %w", err)
		}
		row.Student.EnrolledCourses = []string(enrolled)
		students = append(students, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return students, nil
}
