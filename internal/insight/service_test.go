package insight

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/serenomind/sereno/internal/ai"
	"github.com/serenomind/sereno/internal/cache"
	"github.com/serenomind/sereno/internal/extract"
)

const validAnalysisJSON = `{
	"executiveSummary": "stable week",
	"origins": ["family history"],
	"behavioralPatterns": ["avoidance"],
	"psychologicalConnections": ["stress at work"],
	"deepeningQuestions": ["what changed?"],
	"graphData": {"nodes": [], "edges": []},
	"confidence": 0.8,
	"themes": ["anxiety"],
	"emotionalStates": {"anxiety": 6}
}`

// queueProvider returns canned completions in order and counts calls.
type queueProvider struct {
	replies []string
	calls   int
}

func (p *queueProvider) Generate(ctx context.Context, req ai.GenerationRequest, model string) (*ai.Generation, error) {
	_ = ctx
	_ = req
	p.calls++
	if len(p.replies) == 0 {
		return nil, &ai.UpstreamError{Status: 500, Model: model, Message: "no scripted reply"}
	}
	text := p.replies[0]
	p.replies = p.replies[1:]
	return &ai.Generation{Text: text, FinishReason: "STOP", Model: model}, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Patient{}, &Session{}, &AnalysisRecord{}, &AnalysisJob{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, prov ai.Provider) *Service {
	t.Helper()
	repo := NewRepo(openTestDB(t))
	orch := ai.NewOrchestrator(prov, "primary", "backup")
	orch.SetBackoffBase(time.Millisecond)
	return NewService(repo, orch, cache.NewMemory(time.Hour), false)
}

func seedPatient(t *testing.T, svc *Service, userID uint64) *Patient {
	t.Helper()
	id, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	p := &Patient{
		PatientID:          id,
		UserID:             userID,
		Name:               "Test Patient",
		Age:                30,
		PresentingConcerns: "anxiety",
	}
	if err := svc.Repo().CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return p
}

func TestAnalyzeSession_StoresValidatedRecord(t *testing.T) {
	prov := &queueProvider{replies: []string{validAnalysisJSON}}
	svc := newTestService(t, prov)
	p := seedPatient(t, svc, 1)

	rec, err := svc.AnalyzeSession(context.Background(), 1, p.PatientID, "patient reported better sleep", nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if prov.calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", prov.calls)
	}
	if rec.Kind != KindSessionAnalysis || rec.PatientID != p.PatientID {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Repaired || rec.CacheHit {
		t.Fatalf("clean flow must not set repair or cache flags: %+v", rec)
	}
	if rec.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", rec.Attempts)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(rec.Content), &fields); err != nil {
		t.Fatalf("stored content not json: %v", err)
	}
	if fields["executiveSummary"] != "stable week" {
		t.Fatalf("content lost: %v", fields["executiveSummary"])
	}
}

func TestAnalyzeSession_RepromptsOnceOnMalformedOutput(t *testing.T) {
	prov := &queueProvider{replies: []string{
		"I'm sorry, I can only respond in prose today.",
		validAnalysisJSON,
	}}
	svc := newTestService(t, prov)
	p := seedPatient(t, svc, 1)

	rec, err := svc.AnalyzeSession(context.Background(), 1, p.PatientID, "notes", nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if prov.calls != 2 {
		t.Fatalf("expected exactly one corrective re-issue, got %d calls", prov.calls)
	}
	if rec.Attempts != 2 {
		t.Fatalf("attempts should sum both issues, got %d", rec.Attempts)
	}
}

func TestAnalyzeSession_SecondMalformedIsTerminal(t *testing.T) {
	prov := &queueProvider{replies: []string{"prose", "still prose"}}
	svc := newTestService(t, prov)
	p := seedPatient(t, svc, 1)

	_, err := svc.AnalyzeSession(context.Background(), 1, p.PatientID, "notes", nil)
	var malformed *extract.MalformedOutputError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedOutputError, got %v", err)
	}
	if prov.calls != 2 {
		t.Fatalf("re-prompt must happen exactly once, got %d calls", prov.calls)
	}

	recs, lerr := svc.Repo().ListRecords(context.Background(), 1, p.PatientID, 10, 0)
	if lerr != nil {
		t.Fatalf("list records: %v", lerr)
	}
	if len(recs) != 0 {
		t.Fatalf("failed analysis must not be persisted")
	}
}

func TestGenerateQuestions_ValidatesItemKeys(t *testing.T) {
	missingType := `{"questions": [{"id": "q1", "text": "why?", "category": "origins"}]}`
	complete := `{"questions": [{"id": "q1", "text": "why?", "type": "open", "category": "origins"}]}`
	prov := &queueProvider{replies: []string{missingType, complete}}
	svc := newTestService(t, prov)
	p := seedPatient(t, svc, 1)

	rec, err := svc.GenerateQuestions(context.Background(), 1, p.PatientID, "sleep", 1)
	if err != nil {
		t.Fatalf("generate questions: %v", err)
	}
	if prov.calls != 2 {
		t.Fatalf("incomplete items should trigger one re-issue, got %d calls", prov.calls)
	}
	if rec.Kind != KindQuestionSet {
		t.Fatalf("unexpected kind: %q", rec.Kind)
	}
}

func TestGenerate_CacheHitSkipsUpstream(t *testing.T) {
	prov := &queueProvider{replies: []string{validAnalysisJSON}}
	svc := newTestService(t, prov)

	req := ai.GenerationRequest{Prompt: "fixed prompt"}
	defining := []byte(req.Prompt)

	first, err := svc.generate(context.Background(), req, SessionAnalysisSchema, "pat-1", defining)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	if first.CacheHit {
		t.Fatalf("first call cannot be a cache hit")
	}

	second, err := svc.generate(context.Background(), req, SessionAnalysisSchema, "pat-1", defining)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if !second.CacheHit {
		t.Fatalf("identical request should hit the cache")
	}
	if prov.calls != 1 {
		t.Fatalf("cache hit must not call upstream, got %d calls", prov.calls)
	}

	svc.InvalidatePatient(context.Background(), "pat-1")
	_, err = svc.generate(context.Background(), req, SessionAnalysisSchema, "pat-1", defining)
	var ue *ai.UpstreamError
	if !errors.As(err, &ue) {
		// script is exhausted, so reaching upstream proves the entry is gone
		t.Fatalf("expected upstream call after invalidation, got %v", err)
	}
}

func TestProcessJob_SuccessAndFailurePaths(t *testing.T) {
	prov := &queueProvider{replies: []string{validAnalysisJSON, "prose", "prose"}}
	svc := newTestService(t, prov)
	p := seedPatient(t, svc, 1)

	jobID, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	job := &AnalysisJob{
		ID:           jobID,
		UserID:       1,
		PatientID:    p.PatientID,
		SessionNotes: "notes",
		Status:       JobQueued,
	}
	if err := svc.Repo().CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := svc.ProcessJob(context.Background(), jobID); err != nil {
		t.Fatalf("process job: %v", err)
	}
	done, err := svc.Repo().GetJobByID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if done.Status != JobSucceeded || done.ResultRecordID == nil {
		t.Fatalf("expected succeeded job with record id: %+v", done)
	}

	// second job fails: remaining scripted replies never become JSON
	jobID2, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	job2 := &AnalysisJob{
		ID:           jobID2,
		UserID:       1,
		PatientID:    p.PatientID,
		SessionNotes: "different notes",
		Status:       JobQueued,
	}
	if err := svc.Repo().CreateJob(context.Background(), job2); err != nil {
		t.Fatalf("create job2: %v", err)
	}
	if err := svc.ProcessJob(context.Background(), jobID2); err == nil {
		t.Fatalf("expected failure")
	}
	failed, err := svc.Repo().GetJobByID(context.Background(), jobID2)
	if err != nil {
		t.Fatalf("get job2: %v", err)
	}
	if failed.Status != JobFailed || failed.Error == nil {
		t.Fatalf("expected failed job with error: %+v", failed)
	}
}
