package insight

import (
	"fmt"
	"sort"

	"github.com/serenomind/sereno/internal/extract"
)

// Schema is the structural contract for one generation call site:
// required top-level keys plus, for list-shaped payloads, the keys
// every list item must carry.
type Schema struct {
	Kind      string
	Required  []string
	ListField string
	ItemKeys  []string
}

var (
	// SessionAnalysisSchema validates a full session/document analysis.
	SessionAnalysisSchema = Schema{
		Kind: KindSessionAnalysis,
		Required: []string{
			"executiveSummary",
			"origins",
			"behavioralPatterns",
			"psychologicalConnections",
			"deepeningQuestions",
			"graphData",
			"confidence",
		},
	}

	// QuestionSetSchema validates generated deepening questions.
	QuestionSetSchema = Schema{
		Kind:      KindQuestionSet,
		Required:  []string{"questions"},
		ListField: "questions",
		ItemKeys:  []string{"id", "text", "type", "category"},
	}

	// ScenarioSetSchema validates generated therapeutic scenarios.
	ScenarioSetSchema = Schema{
		Kind:      KindScenarioSet,
		Required:  []string{"scenarios"},
		ListField: "scenarios",
		ItemKeys:  []string{"id", "title", "description", "outcomes"},
	}
)

// ValidateItems checks the list-shaped payload, naming each missing
// item key as an incomplete-output failure.
func (s Schema) ValidateItems(fields map[string]any) error {
	if s.ListField == "" {
		return nil
	}
	items, ok := fields[s.ListField].([]any)
	if !ok {
		return &extract.IncompleteOutputError{Missing: []string{s.ListField}}
	}

	var missing []string
	for i, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			missing = append(missing, fmt.Sprintf("%s[%d]", s.ListField, i))
			continue
		}
		for _, key := range s.ItemKeys {
			if _, ok := item[key]; !ok {
				missing = append(missing, fmt.Sprintf("%s[%d].%s", s.ListField, i, key))
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &extract.IncompleteOutputError{Missing: missing}
	}
	return nil
}
