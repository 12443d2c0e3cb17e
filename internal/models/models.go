package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	ImageURL        string    `json:"imageUrl"`
	EnrolledCourses []string  `json:"enrolledCourses"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (u *User) IsEnrolled(courseID string) bool {
	for _, id := range u.EnrolledCourses {
		if id == courseID {
			return true
		}
	}
	return false
}

type Course struct {
	ID               string          `json:"id"`
	EducatorID       string          `json:"educatorId"`
	Title            string          `json:"courseTitle"`
	Description      string          `json:"courseDescription"`
	ThumbnailURL     string          `json:"courseThumbnail"`
	Price            decimal.Decimal `json:"coursePrice"`
	Discount         int             `json:"discount"`
	IsPublished      bool            `json:"isPublished"`
	Content          []Chapter       `json:"courseContent,omitempty"`
	Ratings          []Rating        `json:"courseRatings"`
	EnrolledStudents []string        `json:"enrolledStudents,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	Version          int             `json:"version"`
}

// Chapter and Lecture are value records: edits replace the element at an
// index rather than mutating shared references.
type Chapter struct {
	ID       string    `json:"chapterId"`
	Order    int       `json:"chapterOrder"`
	Title    string    `json:"chapterTitle" validate:"required,max=200"`
	Lectures []Lecture `json:"chapterContent" validate:"dive"`
}

type Lecture struct {
	ID              string `json:"lectureId"`
	Order           int    `json:"lectureOrder"`
	Title           string `json:"lectureTitle" validate:"required,max=200"`
	DurationMinutes int    `json:"lectureDuration" validate:"gt=0"`
	URL             string `json:"lectureUrl" validate:"required,url"`
	IsPreviewFree   bool   `json:"isPreviewFree"`
}

type Rating struct {
	UserID string `json:"userId"`
	Rating int    `json:"rating"`
}

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
)

func (s PurchaseStatus) IsTerminal() bool {
	return s == PurchaseStatusCompleted || s == PurchaseStatusFailed
}

type Purchase struct {
	ID                string          `json:"id"`
	CourseID          string          `json:"courseId"`
	UserID            string          `json:"userId"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            PurchaseStatus  `json:"status"`
	CheckoutSessionID string          `json:"checkoutSessionId,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

type CourseProgress struct {
	UserID           string    `json:"userId"`
	CourseID         string    `json:"courseId"`
	LectureCompleted []string  `json:"lectureCompleted"`
	Completed        bool      `json:"completed"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type WebhookEvent struct {
	Provider   string    `json:"provider"`
	EventID    string    `json:"eventId"`
	EventType  string    `json:"eventType"`
	PurchaseID string    `json:"purchaseId"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// EnrolledStudent is one row of an educator's enrollment report.
type EnrolledStudent struct {
	Student     User      `json:"student"`
	CourseID    string    `json:"courseId"`
	CourseTitle string    `json:"courseTitle"`
	PurchasedAt time.Time `json:"purchaseDate"`
}
