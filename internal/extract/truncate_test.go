package extract

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRepairTruncated_CompleteDocumentWithTrailingJunk(t *testing.T) {
	out, err := RepairTruncated(`{"a": 1} and that concludes the`)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if out != `{"a": 1}` {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRepairTruncated_MidString(t *testing.T) {
	out, err := RepairTruncated(`{"summary": "the patient repo`)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if !json.Valid([]byte(out)) {
		t.Fatalf("output not valid JSON: %q", out)
	}
}

func TestRepairTruncated_MixedNesting(t *testing.T) {
	out, err := RepairTruncated(`{"a": {"b": [1, 2, {"c": [3, 4`)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if !json.Valid([]byte(out)) {
		t.Fatalf("output not valid JSON: %q", out)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := doc["a"]; !ok {
		t.Fatalf("outer key lost: %q", out)
	}
}

func TestRepairTruncated_DanglingKey(t *testing.T) {
	out, err := RepairTruncated(`{"a": 1, "b":`)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if doc["a"] != float64(1) {
		t.Fatalf("preserved prefix lost: %q", out)
	}
}

func TestRepairTruncated_SeveredEscape(t *testing.T) {
	out, err := RepairTruncated(`{"a": "line one\`)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if !json.Valid([]byte(out)) {
		t.Fatalf("output not valid JSON: %q", out)
	}
}

func TestRepairTruncated_NoObjectStart(t *testing.T) {
	_, err := RepairTruncated("the model said nothing useful")
	var trunc *TruncationError
	if !errors.As(err, &trunc) {
		t.Fatalf("expected TruncationError, got %v", err)
	}
}

// Every way the token limit can sever a document should still yield
// valid JSON whose keys are a subset of the original's.
func TestRepairTruncated_ArbitraryCutPoints(t *testing.T) {
	full := `{"executiveSummary": "stable week, fewer episodes", ` +
		`"origins": ["family history", "workplace"], ` +
		`"emotionalStates": {"anxiety": 6.5, "hope": 4}, ` +
		`"graphData": {"nodes": [{"id": "n1"}], "edges": []}, ` +
		`"confidence": 0.82}`

	for cut := 2; cut < len(full); cut++ {
		partial := full[:cut]
		out, err := RepairTruncated(partial)
		if err != nil {
			// acceptable only when almost nothing survived the cut
			if cut > 10 {
				t.Fatalf("cut=%d unrepairable: %v", cut, err)
			}
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(out), &doc); err != nil {
			t.Fatalf("cut=%d produced invalid JSON %q: %v", cut, out, err)
		}
	}
}
