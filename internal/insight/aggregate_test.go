package insight

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
)

func recordWith(t *testing.T, fields map[string]any) AnalysisRecord {
	t.Helper()
	b, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal fields: %v", err)
	}
	return AnalysisRecord{Kind: KindSessionAnalysis, Content: string(b)}
}

func TestAggregate_CountsAcrossRecords(t *testing.T) {
	var records []AnalysisRecord
	for i := 0; i < 4; i++ {
		records = append(records, recordWith(t, map[string]any{
			"themes": []string{"anxiety", "work stress"},
		}))
	}
	records = append(records, recordWith(t, map[string]any{
		"themes": []string{"anxiety"},
	}))

	agg := Aggregate(records)
	themes := agg[CategoryThemes]
	if len(themes) != 2 {
		t.Fatalf("expected 2 themes, got %d", len(themes))
	}
	if themes[0].Name != "anxiety" || themes[0].Count != 5 {
		t.Fatalf("unexpected top theme: %+v", themes[0])
	}
	if themes[1].Name != "work stress" || themes[1].Count != 4 {
		t.Fatalf("unexpected second theme: %+v", themes[1])
	}
}

func TestAggregate_EmotionalStateRunningAverage(t *testing.T) {
	records := []AnalysisRecord{
		recordWith(t, map[string]any{"emotionalStates": map[string]float64{"anxiety": 8}}),
		recordWith(t, map[string]any{"emotionalStates": map[string]float64{"anxiety": 6}}),
		recordWith(t, map[string]any{"emotionalStates": map[string]float64{"anxiety": 4}}),
	}

	agg := Aggregate(records)
	states := agg[CategoryEmotionalStates]
	if len(states) != 1 {
		t.Fatalf("expected one state, got %d", len(states))
	}
	if states[0].Count != 3 {
		t.Fatalf("expected count 3, got %d", states[0].Count)
	}
	if math.Abs(states[0].Average-6.0) > 1e-9 {
		t.Fatalf("expected average 6.0, got %v", states[0].Average)
	}
}

func TestAggregate_TiesBreakAlphabetically(t *testing.T) {
	records := []AnalysisRecord{
		recordWith(t, map[string]any{"riskFactors": []string{"isolation", "alcohol"}}),
	}
	agg := Aggregate(records)
	risks := agg[CategoryRiskFactors]
	if risks[0].Name != "alcohol" || risks[1].Name != "isolation" {
		t.Fatalf("tie not broken alphabetically: %+v", risks)
	}
}

func TestAggregate_TopTenOnly(t *testing.T) {
	var records []AnalysisRecord
	for i := 0; i < 15; i++ {
		themes := []string{fmt.Sprintf("theme-%02d", i)}
		// earlier themes appear in more records
		for j := 0; j < 15-i; j++ {
			records = append(records, recordWith(t, map[string]any{"themes": themes}))
		}
	}

	agg := Aggregate(records)
	themes := agg[CategoryThemes]
	if len(themes) != maxPatterns {
		t.Fatalf("expected %d themes, got %d", maxPatterns, len(themes))
	}
	if themes[0].Name != "theme-00" || themes[0].Count != 15 {
		t.Fatalf("unexpected top theme: %+v", themes[0])
	}
}

func TestAggregate_MalformedRecordIsSkipped(t *testing.T) {
	records := []AnalysisRecord{
		{Kind: KindSessionAnalysis, Content: "{not json"},
		recordWith(t, map[string]any{"themes": []string{"anxiety"}}),
		recordWith(t, map[string]any{"themes": "not-a-list", "riskFactors": []any{1, 2}}),
	}

	agg := Aggregate(records)
	if got := agg[CategoryThemes]; len(got) != 1 || got[0].Count != 1 {
		t.Fatalf("malformed records contaminated the tally: %+v", got)
	}
	if len(agg[CategoryRiskFactors]) != 0 {
		t.Fatalf("non-string members should be dropped: %+v", agg[CategoryRiskFactors])
	}
}
