// Package curriculum edits and summarizes the ordered chapter/lecture tree
// of a course. Every edit returns a fresh slice; inputs are never mutated.
package curriculum

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/coursemart/marketplace/internal/models"
)

var ErrIndexOutOfRange = errors.New("index out of range")

var validate = validator.New()

func clone(content []models.Chapter) []models.Chapter {
	out := make([]models.Chapter, len(content))
	for i, ch := range content {
		out[i] = ch
		out[i].Lectures = append([]models.Lecture(nil), ch.Lectures...)
	}
	return out
}

func renumber(content []models.Chapter) {
	for i := range content {
		content[i].Order = i + 1
		for j := range content[i].Lectures {
			content[i].Lectures[j].Order = j + 1
		}
	}
}

func checkChapter(content []models.Chapter, index int) error {
	if index < 0 || index >= len(content) {
		return fmt.Errorf("chapter %d: %w", index, ErrIndexOutOfRange)
	}
	return nil
}

func checkLecture(ch models.Chapter, index int) error {
	if index < 0 || index >= len(ch.Lectures) {
		return fmt.Errorf("lecture %d: %w", index, ErrIndexOutOfRange)
	}
	return nil
}

// Normalize assigns ids to chapters and lectures that lack one and
// renumbers their order fields.
func Normalize(content []models.Chapter) []models.Chapter {
	out := clone(content)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
		for j := range out[i].Lectures {
			if out[i].Lectures[j].ID == "" {
				out[i].Lectures[j].ID = uuid.NewString()
			}
		}
	}
	renumber(out)
	return out
}

func AddChapter(content []models.Chapter, title string) []models.Chapter {
	out := clone(content)
	out = append(out, models.Chapter{
		ID:       uuid.NewString(),
		Title:    strings.TrimSpace(title),
		Lectures: []models.Lecture{},
	})
	renumber(out)
	return out
}

// ReplaceChapter swaps the chapter at index, keeping its id. Lectures of the
// replacement that lack ids are given new ones.
func ReplaceChapter(content []models.Chapter, index int, chapter models.Chapter) ([]models.Chapter, error) {
	if err := checkChapter(content, index); err != nil {
		return nil, err
	}

	out := clone(content)
	chapter.ID = out[index].ID
	chapter.Lectures = append([]models.Lecture(nil), chapter.Lectures...)
	for j := range chapter.Lectures {
		if chapter.Lectures[j].ID == "" {
			chapter.Lectures[j].ID = uuid.NewString()
		}
	}
	out[index] = chapter
	renumber(out)
	return out, nil
}

func RemoveChapter(content []models.Chapter, index int) ([]models.Chapter, error) {
	if err := checkChapter(content, index); err != nil {
		return nil, err
	}

	out := clone(content)
	out = append(out[:index], out[index+1:]...)
	renumber(out)
	return out, nil
}

func AddLecture(content []models.Chapter, chapterIndex int, lecture models.Lecture) ([]models.Chapter, error) {
	if err := checkChapter(content, chapterIndex); err != nil {
		return nil, err
	}

	out := clone(content)
	lecture.ID = uuid.NewString()
	out[chapterIndex].Lectures = append(out[chapterIndex].Lectures, lecture)
	renumber(out)
	return out, nil
}

func ReplaceLecture(content []models.Chapter, chapterIndex, lectureIndex int, lecture models.Lecture) ([]models.Chapter, error) {
	if err := checkChapter(content, chapterIndex); err != nil {
		return nil, err
	}
	if err := checkLecture(content[chapterIndex], lectureIndex); err != nil {
		return nil, err
	}

	out := clone(content)
	lecture.ID = out[chapterIndex].Lectures[lectureIndex].ID
	out[chapterIndex].Lectures[lectureIndex] = lecture
	renumber(out)
	return out, nil
}

func RemoveLecture(content []models.Chapter, chapterIndex, lectureIndex int) ([]models.Chapter, error) {
	if err := checkChapter(content, chapterIndex); err != nil {
		return nil, err
	}
	if err := checkLecture(content[chapterIndex], lectureIndex); err != nil {
		return nil, err
	}

	out := clone(content)
	lectures := out[chapterIndex].Lectures
	out[chapterIndex].Lectures = append(lectures[:lectureIndex], lectures[lectureIndex+1:]...)
	renumber(out)
	return out, nil
}

// Validate checks every chapter and lecture field.
func Validate(content []models.Chapter) error {
	for i, ch := range content {
		if err := validate.Struct(ch); err != nil {
			return fmt.Errorf("chapter %d: %w", i+1, err)
		}
	}
	return nil
}

func ValidateLecture(lecture models.Lecture) error {
	return validate.Struct(lecture)
}

// LectureIDs returns the ids of every lecture in course order.
func LectureIDs(content []models.Chapter) []string {
	var ids []string
	for _, ch := range content {
		for _, l := range ch.Lectures {
			ids = append(ids, l.ID)
		}
	}
	return ids
}

// RedactForPublic hides the media URL of every lecture that is not a free
// preview.
func RedactForPublic(content []models.Chapter) []models.Chapter {
	out := clone(content)
	for i := range out {
		for j := range out[i].Lectures {
			if !out[i].Lectures[j].IsPreviewFree {
				out[i].Lectures[j].URL = ""
			}
		}
	}
	return out
}
