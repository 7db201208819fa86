package insight

import (
	"encoding/json"
	"sort"
)

// Aggregation categories. Categorical ones tally occurrences; emotional
// states carry a running average intensity as well.
const (
	CategoryThemes                = "themes"
	CategoryEmotionalStates       = "emotionalStates"
	CategoryCopingStrategies      = "copingStrategies"
	CategoryRiskFactors           = "riskFactors"
	CategoryProtectiveFactors     = "protectiveFactors"
	CategoryBehavioralPatterns    = "behavioralPatterns"
	CategoryCognitivePatterns     = "cognitivePatterns"
	CategoryInterpersonalDynamics = "interpersonalDynamics"
)

var categoricalFields = []string{
	CategoryThemes,
	CategoryCopingStrategies,
	CategoryRiskFactors,
	CategoryProtectiveFactors,
	CategoryBehavioralPatterns,
	CategoryCognitivePatterns,
	CategoryInterpersonalDynamics,
}

// maxPatterns bounds every ranked list.
const maxPatterns = 10

// Tally is one recurring pattern: how often it appeared and, for
// numeric fields, its running average value.
type Tally struct {
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	Average float64 `json:"average,omitempty"`
}

// Aggregate scans a patient's historical structured records and ranks
// recurring patterns per category. A record with malformed or missing
// fields contributes what it can and never aborts the rest.
func Aggregate(records []AnalysisRecord) map[string][]Tally {
	counts := make(map[string]map[string]*Tally, len(categoricalFields)+1)
	for _, cat := range categoricalFields {
		counts[cat] = make(map[string]*Tally)
	}
	counts[CategoryEmotionalStates] = make(map[string]*Tally)

	for _, rec := range records {
		var fields map[string]any
		if err := json.Unmarshal([]byte(rec.Content), &fields); err != nil {
			continue
		}

		for _, cat := range categoricalFields {
			for _, name := range stringList(fields[cat]) {
				t, ok := counts[cat][name]
				if !ok {
					t = &Tally{Name: name}
					counts[cat][name] = t
				}
				t.Count++
			}
		}

		for name, value := range numberMap(fields[CategoryEmotionalStates]) {
			t, ok := counts[CategoryEmotionalStates][name]
			if !ok {
				t = &Tally{Name: name}
				counts[CategoryEmotionalStates][name] = t
			}
			t.Count++
			// incremental running average
			t.Average = (t.Average*float64(t.Count-1) + value) / float64(t.Count)
		}
	}

	out := make(map[string][]Tally, len(counts))
	for cat, tallies := range counts {
		ranked := make([]Tally, 0, len(tallies))
		for _, t := range tallies {
			ranked = append(ranked, *t)
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].Count != ranked[j].Count {
				return ranked[i].Count > ranked[j].Count
			}
			return ranked[i].Name < ranked[j].Name
		})
		if len(ranked) > maxPatterns {
			ranked = ranked[:maxPatterns]
		}
		out[cat] = ranked
	}
	return out
}

// stringList coerces a decoded JSON value into a list of strings,
// dropping non-string members.
func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// numberMap coerces a decoded JSON value into name -> numeric score,
// dropping non-numeric members.
func numberMap(v any) map[string]float64 {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(m))
	for name, value := range m {
		if f, ok := value.(float64); ok {
			out[name] = f
		}
	}
	return out
}
