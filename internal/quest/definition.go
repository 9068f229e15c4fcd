// Package quest implements the quest lifecycle: immutable definitions,
// a per-quest finite state machine, and the manager that orchestrates
// prerequisites, unlock cascades, scoring, and persistence.
package quest

import (
	"encoding/json"
	"fmt"
)

// Type categorizes the submission a quest expects.
type Type string

const (
	TypeVideo     Type = "video"
	TypeQuiz      Type = "quiz"
	TypeProject   Type = "project"
	TypeChallenge Type = "challenge"
)

// Definition is an immutable quest description, loaded once at
// registration and keyed by ID.
type Definition struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Track         string          `json:"track"`
	ModuleID      string          `json:"moduleId,omitempty"`
	Type          Type            `json:"type"`
	XP            int             `json:"xp"`
	Prerequisites []string        `json:"prerequisites,omitempty"`
	Content       json.RawMessage `json:"content,omitempty"`
	EstimatedMin  int             `json:"estimatedMin,omitempty"`
}

// Validate checks a definition at registration time. known maps every
// registered quest ID, for prerequisite reference checks.
func (d Definition) Validate(known map[string]bool) error {
	if d.ID == "" {
		return fmt.Errorf("quest definition missing id")
	}
	if d.Name == "" {
		return fmt.Errorf("quest %q: missing name", d.ID)
	}
	if d.XP < 0 {
		return fmt.Errorf("quest %q: negative xp %d", d.ID, d.XP)
	}
	switch d.Type {
	case TypeVideo, TypeQuiz, TypeProject, TypeChallenge:
	default:
		return fmt.Errorf("quest %q: unknown type %q", d.ID, d.Type)
	}
	for _, p := range d.Prerequisites {
		if p == d.ID {
			return fmt.Errorf("quest %q: self-referential prerequisite", d.ID)
		}
		if !known[p] {
			return fmt.Errorf("quest %q: unknown prerequisite %q", d.ID, p)
		}
	}
	return nil
}
