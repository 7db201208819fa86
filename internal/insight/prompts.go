package insight

import (
	"fmt"
	"strings"

	"github.com/serenomind/sereno/internal/ai"
)

const clinicalSystemPrompt = "You are a clinical analysis assistant supporting a licensed therapist. " +
	"Ground every observation strictly in the supplied session material and patient context. " +
	"Respond with a single JSON object and nothing else."

var defaultParams = ai.GenerationParams{
	Temperature:     0.7,
	TopK:            40,
	TopP:            0.95,
	MaxOutputTokens: 8192,
}

func sessionAnalysisPrompt(contextBlock, notes string) string {
	return fmt.Sprintf(`%s

Analyze the following therapy session notes. Return a JSON object with the keys:
"executiveSummary" (string), "origins" (array of strings), "behavioralPatterns" (array of strings),
"psychologicalConnections" (array of strings), "deepeningQuestions" (array of strings),
"graphData" (object with "nodes" and "edges"), "confidence" (number between 0 and 1).
Where relevant also include "themes", "emotionalStates" (object of emotion to intensity 0-10),
"copingStrategies", "riskFactors", "protectiveFactors", "cognitivePatterns" and
"interpersonalDynamics" so the analysis feeds the patient's longitudinal history.

Session notes:
%s`, contextBlock, notes)
}

func questionSetPrompt(contextBlock, topic string, count int) string {
	return fmt.Sprintf(`%s

Generate %d deepening questions for the next session, focused on: %s.
Return a JSON object with a single key "questions": an array of objects,
each with "id" (string), "text" (string), "type" (string) and "category" (string).`,
		contextBlock, count, topic)
}

func scenarioSetPrompt(contextBlock, focus string, count int) string {
	return fmt.Sprintf(`%s

Generate %d therapeutic scenarios the patient could work through, focused on: %s.
Return a JSON object with a single key "scenarios": an array of objects,
each with "id" (string), "title" (string), "description" (string) and "outcomes" (array of strings).`,
		contextBlock, count, focus)
}

// strictJSONReminder is appended for the single corrective re-issue
// after a malformed or incomplete response.
func strictJSONReminder(schema Schema) string {
	return fmt.Sprintf("\n\nIMPORTANT: your previous answer was not valid. "+
		"Respond with ONLY a strict, complete JSON object containing the keys: %s. "+
		"No markdown fences, no commentary.", strings.Join(schema.Required, ", "))
}
