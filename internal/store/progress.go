package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/coursemart/marketplace/internal/models"
)

// MarkLectureCompleted adds a lecture to the user's completed set for the
// course. Marking the same lecture twice is a no-op.
func MarkLectureCompleted(ctx context.Context, db DBTX, userID, courseID, lectureID string) (*models.CourseProgress, error) {
	p := &models.CourseProgress{}
	var completed pq.StringArray

	err := db.QueryRowContext(ctx,
		`INSERT INTO course_progress (user_id, course_id, lecture_completed, completed, updated_at)
		 VALUES ($1, $2, ARRAY[$3::text], FALSE, NOW())
		 ON CONFLICT (user_id, course_id) DO UPDATE
		 SET lecture_completed = CASE
		         WHEN $3::text = ANY(course_progress.lecture_completed) THEN course_progress.lecture_completed
		         ELSE array_append(course_progress.lecture_completed, $3::text)
		     END,
		     updated_at = NOW()
		 RETURNING user_id, course_id, lecture_completed, completed, updated_at`,
		userID, courseID, lectureID).Scan(&p.UserID, &p.CourseID, &completed, &p.Completed, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("mark lecture completed: %w", err)
	}

	p.LectureCompleted = []string(completed)
	return p, nil
}

// SetCourseCompleted flags the whole course as finished for the user.
func SetCourseCompleted(ctx context.Context, db DBTX, userID, courseID string, completed bool) error {
	_, err := db.ExecContext(ctx,
		`UPDATE course_progress SET completed = $1, updated_at = NOW()
		 WHERE user_id = $2 AND course_id = $3`,
		completed, userID, courseID)
	if err != nil {
		return fmt.Errorf("set course completed: %w", err)
	}
	return nil
}

// GetProgress returns nil without error when the user has not started the
// course.
func GetProgress(ctx context.Context, db DBTX, userID, courseID string) (*models.CourseProgress, error) {
	p := &models.CourseProgress{}
	var completed pq.StringArray

	err := db.QueryRowContext(ctx,
		`SELECT user_id, course_id, lecture_completed, completed, updated_at
		 FROM course_progress
		 WHERE user_id = $1 AND course_id = $2`,
		userID, courseID).Scan(&p.UserID, &p.CourseID, &completed, &p.Completed, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get progress: %w", err)
	}

	p.LectureCompleted = []string(completed)
	return p, nil
}
