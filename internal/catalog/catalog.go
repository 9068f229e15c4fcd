// Package catalog loads quest and module definitions from JSON,
// validating the document against an embedded schema before anything is
// registered. A built-in seed catalog ships with the binary.
package catalog

import (
	"encoding/json"
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/asdfhub/learnbuild/internal/module"
	"github.com/asdfhub/learnbuild/internal/quest"
)

//go:embed seed.json
var seedJSON []byte

// Track names a learning track.
type Track struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Catalog is the full set of definitions the system runs on.
type Catalog struct {
	Tracks  []Track             `json:"tracks,omitempty"`
	Quests  []quest.Definition  `json:"quests"`
	Modules []module.Definition `json:"modules"`
}

// Load parses and validates a catalog document.
func Load(r io.Reader) (Catalog, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return parse(raw)
}

// LoadFile loads a catalog from a JSON file on disk.
func LoadFile(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Seed returns the built-in catalog.
func Seed() (Catalog, error) {
	return parse(seedJSON)
}

func parse(raw []byte) (Catalog, error) {
	if err := validateDocument(raw); err != nil {
		return Catalog{}, err
	}
	var c Catalog
	if err := json.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.crossCheck(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// crossCheck verifies references the schema can't: definition-level
// validation plus track references.
func (c Catalog) crossCheck() error {
	tracks := make(map[string]bool, len(c.Tracks))
	for _, t := range c.Tracks {
		if tracks[t.ID] {
			return fmt.Errorf("duplicate track id %q", t.ID)
		}
		tracks[t.ID] = true
	}

	questIDs := make(map[string]bool, len(c.Quests))
	for _, q := range c.Quests {
		if questIDs[q.ID] {
			return fmt.Errorf("duplicate quest id %q", q.ID)
		}
		questIDs[q.ID] = true
	}
	moduleIDs := make(map[string]bool, len(c.Modules))
	for _, m := range c.Modules {
		if moduleIDs[m.ID] {
			return fmt.Errorf("duplicate module id %q", m.ID)
		}
		moduleIDs[m.ID] = true
	}

	for _, q := range c.Quests {
		if err := q.Validate(questIDs); err != nil {
			return err
		}
		if len(tracks) > 0 && q.Track != "" && !tracks[q.Track] {
			return fmt.Errorf("quest %q: unknown track %q", q.ID, q.Track)
		}
		if q.ModuleID != "" && !moduleIDs[q.ModuleID] {
			return fmt.Errorf("quest %q: unknown module %q", q.ID, q.ModuleID)
		}
	}
	for _, m := range c.Modules {
		if err := m.Validate(moduleIDs); err != nil {
			return err
		}
		if len(tracks) > 0 && m.Track != "" && !tracks[m.Track] {
			return fmt.Errorf("module %q: unknown track %q", m.ID, m.Track)
		}
	}
	return nil
}
