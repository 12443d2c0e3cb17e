package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/coursemart/marketplace/internal/database"
	"github.com/coursemart/marketplace/internal/models"
)

const userColumns = `id, name, email, image_url, enrolled_courses, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var enrolled pq.StringArray

	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.ImageURL,
		&enrolled,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.EnrolledCourses = []string(enrolled)
	if user.EnrolledCourses == nil {
		user.EnrolledCourses = []string{}
	}
	return user, nil
}

// UpsertUser mirrors an auth-provider profile locally. Enrollment is never
// touched here; it only changes on confirmed purchases.
func UpsertUser(ctx context.Context, db DBTX, id, name, email, imageURL string) (*models.User, error) {
	query := `
		INSERT INTO users (id, name, email, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    email = EXCLUDED.email,
		    image_url = EXCLUDED.image_url,
		    updated_at = NOW()
		RETURNING ` + userColumns

	user, err := scanUser(db.QueryRowContext(ctx, query, id, name, email, imageURL))
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, db DBTX, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

func DeleteUser(ctx context.Context, db DBTX, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrUserNotFound
	}

	return nil
}

// ListEnrolledCourses returns the full courses, content included, that the
// user is enrolled in.
func ListEnrolledCourses(ctx context.Context, db DBTX, userID string) ([]models.Course, error) {
	user, err := GetUser(ctx, db, userID)
	if err != nil {
		return nil, err
	}

	if len(user.EnrolledCourses) == 0 {
		return []models.Course{}, nil
	}

	query := `
		SELECT ` + courseColumns + `
		FROM courses
		WHERE id = ANY($1)
		ORDER BY title`

	rows, err := db.QueryContext(ctx, query, pq.Array(user.EnrolledCourses))
	if err != nil {
		return nil, fmt.Errorf("list enrolled courses: %w", err)
	}
	defer rows.Close()

	return collectCourses(rows)
}
