// Package script implements the four narration stages: research,
// structuring, per-section generation with iterative length expansion, and
// stitching with chunked smoothing.
package script

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Section is one planned unit of the narration. The ID is synthetic and
// assigned at proposal time; titles are display and file naming only, so
// duplicate titles cannot collide in the script map.
type Section struct {
	ID               uuid.UUID `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	EstimatedMinutes int       `json:"estimated_minutes"`
}

func (s Section) Validate() error {
	if s.ID == uuid.Nil {
		return fmt.Errorf("section %q missing id", s.Title)
	}
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("section %s has empty title", s.ID)
	}
	if s.EstimatedMinutes < 1 {
		return fmt.Errorf("section %q estimated minutes %d below 1", s.Title, s.EstimatedMinutes)
	}
	return nil
}

// TotalEstimatedMinutes sums the per-section targets.
func TotalEstimatedMinutes(sections []Section) int {
	total := 0
	for _, s := range sections {
		total += s.EstimatedMinutes
	}
	return total
}
