package curriculum

import (
	"fmt"
	"strings"

	"github.com/coursemart/marketplace/internal/models"
)

func ChapterDuration(ch models.Chapter) int {
	total := 0
	for _, l := range ch.Lectures {
		total += l.DurationMinutes
	}
	return total
}

func CourseDuration(content []models.Chapter) int {
	total := 0
	for _, ch := range content {
		total += ChapterDuration(ch)
	}
	return total
}

func LectureCount(content []models.Chapter) int {
	n := 0
	for _, ch := range content {
		n += len(ch.Lectures)
	}
	return n
}

// HumanizeMinutes renders a duration in hours and minutes, e.g.
// "1 hour, 5 minutes".
func HumanizeMinutes(minutes int) string {
	if minutes <= 0 {
		return "0 minutes"
	}

	var parts []string
	if h := minutes / 60; h > 0 {
		parts = append(parts, plural(h, "hour"))
	}
	if m := minutes % 60; m > 0 {
		parts = append(parts, plural(m, "minute"))
	}
	return strings.Join(parts, ", ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func AverageRating(ratings []models.Rating) float64 {
	if len(ratings) == 0 {
		return 0
	}
	total := 0
	for _, r := range ratings {
		total += r.Rating
	}
	return float64(total) / float64(len(ratings))
}

// Summary is the catalog view of a course's structure.
type Summary struct {
	Chapters      int     `json:"chapters"`
	Lectures      int     `json:"lectures"`
	TotalMinutes  int     `json:"totalMinutes"`
	Duration      string  `json:"duration"`
	AverageRating float64 `json:"averageRating"`
	RatingCount   int     `json:"ratingCount"`
}

func Summarize(course *models.Course) Summary {
	minutes := CourseDuration(course.Content)
	return Summary{
		Chapters:      len(course.Content),
		Lectures:      LectureCount(course.Content),
		TotalMinutes:  minutes,
		Duration:      HumanizeMinutes(minutes),
		AverageRating: AverageRating(course.Ratings),
		RatingCount:   len(course.Ratings),
	}
}
