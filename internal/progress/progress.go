// Package progress derives a learner's completion state from the lectures
// they have marked done.
package progress

import (
	"github.com/coursemart/marketplace/internal/curriculum"
	"github.com/coursemart/marketplace/internal/models"
)

type Status string

const (
	StatusNotStarted Status = "Not Started"
	StatusInProgress Status = "In Progress"
	StatusAlmostDone Status = "Almost Done"
	StatusCompleted  Status = "Completed"
)

// Percent counts only completed ids that still exist in the course, so
// removed lectures do not inflate progress.
func Percent(course *models.Course, p *models.CourseProgress) int {
	total := curriculum.LectureCount(course.Content)
	if total == 0 || p == nil {
		return 0
	}

	done := make(map[string]struct{}, len(p.LectureCompleted))
	for _, id := range p.LectureCompleted {
		done[id] = struct{}{}
	}

	completed := 0
	for _, id := range curriculum.LectureIDs(course.Content) {
		if _, ok := done[id]; ok {
			completed++
		}
	}

	return completed * 100 / total
}

func StatusFor(percent int) Status {
	switch {
	case percent <= 0:
		return StatusNotStarted
	case percent < 50:
		return StatusInProgress
	case percent < 100:
		return StatusAlmostDone
	default:
		return StatusCompleted
	}
}

type Report struct {
	CourseID         string   `json:"courseId"`
	LectureCompleted []string `json:"lectureCompleted"`
	TotalLectures    int      `json:"totalLectures"`
	Percent          int      `json:"progress"`
	Status           Status   `json:"status"`
}

func BuildReport(course *models.Course, p *models.CourseProgress) Report {
	percent := Percent(course, p)
	completed := []string{}
	if p != nil && p.LectureCompleted != nil {
		completed = p.LectureCompleted
	}
	return Report{
		CourseID:         course.ID,
		LectureCompleted: completed,
		TotalLectures:    curriculum.LectureCount(course.Content),
		Percent:          percent,
		Status:           StatusFor(percent),
	}
}
