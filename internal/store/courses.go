package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/coursemart/marketplace/internal/database"
	"github.com/coursemart/marketplace/internal/models"
)

const courseColumns = `id, educator_id, title, description, thumbnail_url, price, discount, is_published,
	content, ratings, enrolled_students, created_at, updated_at, version`

type CreateCourseRequest struct {
	EducatorID   string
	Title        string
	Description  string
	ThumbnailURL string
	Price        decimal.Decimal
	Discount     int
	IsPublished  bool
	Content      []models.Chapter
}

func scanCourse(row rowScanner) (*models.Course, error) {
	course := &models.Course{}
	var content, ratings []byte
	var students pq.StringArray

	err := row.Scan(
		&course.ID,
		&course.EducatorID,
		&course.Title,
		&course.Description,
		&course.ThumbnailURL,
		&course.Price,
		&course.Discount,
		&course.IsPublished,
		&content,
		&ratings,
		&students,
		&course.CreatedAt,
		&course.UpdatedAt,
		&course.Version,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(content, &course.Content); err != nil {
		return nil, fmt.Errorf("decode course content: %w", err)
	}
	if err := json.Unmarshal(ratings, &course.Ratings); err != nil {
		return nil, fmt.Errorf("decode course ratings: %w", err)
	}
	if course.Ratings == nil {
		course.Ratings = []models.Rating{}
	}

	course.EnrolledStudents = []string(students)
	if course.EnrolledStudents == nil {
		course.EnrolledStudents = []string{}
	}
	return course, nil
}

func collectCourses(rows *sql.Rows) ([]models.Course, error) {
	courses := []models.Course{}
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, *course)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return courses, nil
}

func CreateCourse(ctx context.Context, db DBTX, req CreateCourseRequest) (*models.Course, error) {
	content := req.Content
	if content == nil {
		content = []models.Chapter{}
	}

	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encode course content: %w", err)
	}

	query := `
		INSERT INTO courses (id, educator_id, title, description, thumbnail_url, price, discount, is_published,
		                     content, ratings, enrolled_students, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '[]', '{}', NOW(), NOW(), 1)
		RETURNING ` + courseColumns

	course, err := scanCourse(db.QueryRowContext(ctx, query,
		uuid.NewString(),
		req.EducatorID,
		req.Title,
		req.Description,
		req.ThumbnailURL,
		req.Price,
		req.Discount,
		req.IsPublished,
		string(contentJSON),
	))
	if err != nil {
		return nil, fmt.Errorf("create course: %w", err)
	}

	return course, nil
}

func GetCourse(ctx context.Context, db DBTX, id string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1`

	course, err := scanCourse(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCourseNotFound
		}
		return nil, fmt.Errorf("get course: %w", err)
	}

	return course, nil
}

// ListPublishedCourses returns the public catalog without curriculum or
// enrollment lists.
func ListPublishedCourses(ctx context.Context, db DBTX, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM courses WHERE is_published`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count courses: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + courseColumns + `
		FROM courses
		WHERE is_published
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	courses, err := collectCourses(rows)
	if err != nil {
		return nil, err
	}

	for i := range courses {
		courses[i].Content = nil
		courses[i].EnrolledStudents = nil
	}

	return NewOffsetPage(courses, total, page, pageSize), nil
}

func ListCoursesByEducator(ctx context.Context, db DBTX, educatorID string) ([]models.Course, error) {
	query := `
		SELECT ` + courseColumns + `
		FROM courses
		WHERE educator_id = $1
		ORDER BY created_at DESC, id`

	rows, err := db.QueryContext(ctx, query, educatorID)
	if err != nil {
		return nil, fmt.Errorf("list educator courses: %w", err)
	}
	defer rows.Close()

	return collectCourses(rows)
}

// UpdateCourseContentOptimistic replaces the curriculum only if the stored
// version still matches; the new version is returned.
func UpdateCourseContentOptimistic(ctx context.Context, db DBTX, courseID string, content []models.Chapter, version int) (int, error) {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return 0, fmt.Errorf("encode course content: %w", err)
	}

	var newVersion int
	err = db.QueryRowContext(ctx,
		`UPDATE courses
		 SET content = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3
		 RETURNING version`,
		string(contentJSON), courseID, version).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := db.QueryRowContext(ctx,
				"SELECT EXISTS(SELECT 1 FROM courses WHERE id = $1)", courseID).Scan(&exists); err != nil {
				return 0, fmt.Errorf("check course exists: %w", err)
			}
			if !exists {
				return 0, database.ErrCourseNotFound
			}
			return 0, database.ErrOptimisticLockFailed
		}
		return 0, fmt.Errorf("update course content: %w", err)
	}

	return newVersion, nil
}

// AddRating records a rating from an enrolled user, replacing any earlier
// rating by the same user.
func AddRating(ctx context.Context, db *sql.DB, courseID, userID string, rating int) error {
	return database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var ratingsJSON []byte
		var students pq.StringArray
		err := tx.QueryRowContext(ctx,
			`SELECT ratings, enrolled_students FROM courses WHERE id = $1 FOR UPDATE`,
			courseID).Scan(&ratingsJSON, &students)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrCourseNotFound
			}
			return fmt.Errorf("lock course: %w", err)
		}

		enrolled := false
		for _, id := range students {
			if id == userID {
				enrolled = true
				break
			}
		}
		if !enrolled {
			return database.ErrNotEnrolled
		}

		var ratings []models.Rating
		if err := json.Unmarshal(ratingsJSON, &ratings); err != nil {
			return fmt.Errorf("decode course ratings: %w", err)
		}

		replaced := false
		for i := range ratings {
			if ratings[i].UserID == userID {
				ratings[i].Rating = rating
				replaced = true
			}
		}
		if !replaced {
			ratings = append(ratings, models.Rating{UserID: userID, Rating: rating})
		}

		updated, err := json.Marshal(ratings)
		if err != nil {
			return fmt.Errorf("encode course ratings: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE courses SET ratings = $1, updated_at = NOW() WHERE id = $2`,
			string(updated), courseID)
		if err != nil {
			return fmt.Errorf("update course ratings: %w", err)
		}

		return nil
	})
}
