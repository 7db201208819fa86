package insight

import (
	"context"
	"fmt"
	"strings"

	"github.com/serenomind/sereno/internal/logger"
)

// contextItemLimit bounds how many entries of each category are written
// into the compressed block fed back into prompts.
const contextItemLimit = 5

// UnavailableContext is the placeholder block used when historical
// records cannot be loaded. Analysis proceeds without history rather
// than failing.
const UnavailableContext = "Patient history: unavailable (no prior records could be loaded)."

// CompressContext turns aggregated patterns plus demographic and
// clinical fields into a bounded natural-language block for the next
// generation prompt.
func CompressContext(p *Patient, agg map[string][]Tally, analysisCount int, sessionCount int64) string {
	var b strings.Builder

	b.WriteString("Patient context:\n")

	demo := fmt.Sprintf("- Demographics: %d-year-old", p.Age)
	if p.Gender != "" {
		demo += " " + p.Gender
	}
	if p.Occupation != "" {
		demo += ", occupation: " + p.Occupation
	}
	b.WriteString(demo + "\n")

	if p.PresentingConcerns != "" {
		b.WriteString("- Primary concerns: " + p.PresentingConcerns + "\n")
	}
	if p.ClinicalBackground != "" {
		b.WriteString("- Clinical background: " + p.ClinicalBackground + "\n")
	}

	writeNames(&b, "Recurring themes", agg[CategoryThemes])
	writeEmotions(&b, agg[CategoryEmotionalStates])
	writeNames(&b, "Coping strategies", agg[CategoryCopingStrategies])
	writeNames(&b, "Risk factors", agg[CategoryRiskFactors])
	writeNames(&b, "Strengths", agg[CategoryProtectiveFactors])
	writeNames(&b, "Behavioral patterns", agg[CategoryBehavioralPatterns])

	b.WriteString(fmt.Sprintf("- History: %d prior analyses across %d sessions\n", analysisCount, sessionCount))

	return strings.TrimRight(b.String(), "\n")
}

func writeNames(b *strings.Builder, label string, tallies []Tally) {
	if len(tallies) == 0 {
		return
	}
	if len(tallies) > contextItemLimit {
		tallies = tallies[:contextItemLimit]
	}
	names := make([]string, 0, len(tallies))
	for _, t := range tallies {
		names = append(names, t.Name)
	}
	b.WriteString("- " + label + ": " + strings.Join(names, ", ") + "\n")
}

func writeEmotions(b *strings.Builder, tallies []Tally) {
	if len(tallies) == 0 {
		return
	}
	if len(tallies) > contextItemLimit {
		tallies = tallies[:contextItemLimit]
	}
	parts := make([]string, 0, len(tallies))
	for _, t := range tallies {
		parts = append(parts, fmt.Sprintf("%s (avg %.1f)", t.Name, t.Average))
	}
	b.WriteString("- Emotional states: " + strings.Join(parts, ", ") + "\n")
}

// PatientContext loads a patient's history and compresses it. Any
// persistence failure degrades to the unavailable placeholder; building
// context must never fail the generation call it feeds.
func (s *Service) PatientContext(ctx context.Context, patientID string) string {
	p, err := s.repo.GetPatientByPatientID(ctx, patientID)
	if err != nil {
		logger.Warnw("patient context unavailable", "patient", patientID, "err", err)
		return UnavailableContext
	}

	records, err := s.repo.ListRecordsForAggregation(ctx, patientID)
	if err != nil {
		logger.Warnw("patient history unavailable", "patient", patientID, "err", err)
		return UnavailableContext
	}

	sessionCount, err := s.repo.CountSessions(ctx, patientID)
	if err != nil {
		sessionCount = 0
	}

	return CompressContext(p, Aggregate(records), len(records), sessionCount)
}
