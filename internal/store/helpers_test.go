package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/coursemart/marketplace/internal/curriculum"
	"github.com/coursemart/marketplace/internal/models"
)

func seedUser(t *testing.T, db *sql.DB, id string) *models.User {
	t.Helper()

	user, err := UpsertUser(context.Background(), db, id, "User "+id, id+"@example.com", "")
	if err != nil {
		t.Fatalf("Upsert user %s: %v", id, err)
	}
	return user
}

func seedCourse(t *testing.T, db *sql.DB, educatorID string, price int64, discount int) *models.Course {
	t.Helper()

	course, err := CreateCourse(context.Background(), db, CreateCourseRequest{
		EducatorID:  educatorID,
		Title:       "Course by " + educatorID,
		Description: "Test course",
		Price:       decimal.NewFromInt(price),
		Discount:    discount,
		IsPublished: true,
		Content: curriculum.Normalize([]models.Chapter{
			{
				Title: "Chapter 1",
				Lectures: []models.Lecture{
					{Title: "Lecture 1", DurationMinutes: 10, URL: "https://youtu.be/x1", IsPreviewFree: true},
					{Title: "Lecture 2", DurationMinutes: 20, URL: "https://youtu.be/x2"},
				},
			},
		}),
	})
	if err != nil {
		t.Fatalf("Create course: %v", err)
	}
	return course
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
