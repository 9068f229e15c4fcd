// Package module implements multi-lesson learning modules: immutable
// definitions, per-user progress, lesson gating, and type-specific
// completion validation.
package module

import "fmt"

// LessonType determines how a lesson's completion is validated.
type LessonType string

const (
	LessonVideo     LessonType = "video"
	LessonQuiz      LessonType = "quiz"
	LessonArticle   LessonType = "article"
	LessonProject   LessonType = "project"
	LessonChallenge LessonType = "challenge"
)

// Lesson is one step of a module.
type Lesson struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Type        LessonType `json:"type"`
	XP          int        `json:"xp"`
	DurationMin int        `json:"durationMin,omitempty"`
}

// Definition is an immutable module description: an ordered lesson list
// plus prerequisites and a flat completion bonus.
type Definition struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Track           string   `json:"track"`
	Lessons         []Lesson `json:"lessons"`
	Prerequisites   []string `json:"prerequisites,omitempty"`
	CompletionBonus int      `json:"completionBonus"`
}

// Lesson returns the lesson with the given id.
func (d Definition) Lesson(lessonID string) (Lesson, bool) {
	for _, l := range d.Lessons {
		if l.ID == lessonID {
			return l, true
		}
	}
	return Lesson{}, false
}

// Validate checks a definition at registration time.
func (d Definition) Validate(known map[string]bool) error {
	if d.ID == "" {
		return fmt.Errorf("module definition missing id")
	}
	if d.Name == "" {
		return fmt.Errorf("module %q: missing name", d.ID)
	}
	if len(d.Lessons) == 0 {
		return fmt.Errorf("module %q: no lessons", d.ID)
	}
	if d.CompletionBonus < 0 {
		return fmt.Errorf("module %q: negative completion bonus", d.ID)
	}
	seen := make(map[string]bool, len(d.Lessons))
	for _, l := range d.Lessons {
		if l.ID == "" {
			return fmt.Errorf("module %q: lesson missing id", d.ID)
		}
		if seen[l.ID] {
			return fmt.Errorf("module %q: duplicate lesson id %q", d.ID, l.ID)
		}
		seen[l.ID] = true
		switch l.Type {
		case LessonVideo, LessonQuiz, LessonArticle, LessonProject, LessonChallenge:
		default:
			return fmt.Errorf("module %q: lesson %q has unknown type %q", d.ID, l.ID, l.Type)
		}
		if l.XP < 0 {
			return fmt.Errorf("module %q: lesson %q has negative xp", d.ID, l.ID)
		}
	}
	for _, p := range d.Prerequisites {
		if p == d.ID {
			return fmt.Errorf("module %q: self-referential prerequisite", d.ID)
		}
		if !known[p] {
			return fmt.Errorf("module %q: unknown prerequisite %q", d.ID, p)
		}
	}
	return nil
}
