package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kirikou/kirikou/internal/models"
)

// ErrNoIntermediateSteps is returned when a run finished without calling any tool
var ErrNoIntermediateSteps = errors.New("agent run has no intermediate steps")

// ExtractSources returns the url of every passage in the first tool observation
// of outcome. Later steps are ignored.
func ExtractSources(outcome *models.Outcome) ([]string, error) {
	if outcome == nil || len(outcome.IntermediateSteps) == 0 {
		return nil, ErrNoIntermediateSteps
	}

	observation := strings.ReplaceAll(outcome.IntermediateSteps[0].Observation, "}\n\n{", "},{")

	var records []struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte("["+observation+"]"), &records); err != nil {
		return nil, fmt.Errorf("failed to parse tool observation: %w", err)
	}

	urls := make([]string, len(records))
	for i, r := range records {
		urls[i] = r.URL
	}
	return urls, nil
}
