package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/serenomind/sereno/internal/ai"
	"github.com/serenomind/sereno/internal/cache"
	"github.com/serenomind/sereno/internal/extract"
	"github.com/serenomind/sereno/internal/logger"
)

// Service ties the reliability layer together: it builds prompts from
// compressed patient context, issues them through the orchestrator,
// extracts and validates structured output, and persists the result.
type Service struct {
	repo  *Repo
	orch  *ai.Orchestrator
	cache cache.Store
	debug bool
}

func NewService(repo *Repo, orch *ai.Orchestrator, store cache.Store, debug bool) *Service {
	return &Service{repo: repo, orch: orch, cache: store, debug: debug}
}

func (s *Service) Repo() *Repo { return s.repo }

// AnalyzeSession runs the full session analysis for one patient:
// compressed history plus the new notes (and optional attachment) in,
// a validated AnalysisRecord out.
func (s *Service) AnalyzeSession(ctx context.Context, userID uint64, patientID, notes string, att *ai.Attachment) (*AnalysisRecord, error) {
	contextBlock := s.PatientContext(ctx, patientID)
	prompt := sessionAnalysisPrompt(contextBlock, notes)

	defining := []byte(prompt)
	if att != nil {
		defining = append(defining, 0)
		defining = append(defining, att.Data...)
	}

	req := ai.GenerationRequest{
		Prompt:     prompt,
		System:     clinicalSystemPrompt,
		Params:     defaultParams,
		Attachment: att,
		Debug:      s.debug,
	}
	res, err := s.generate(ctx, req, SessionAnalysisSchema, patientID, defining)
	if err != nil {
		return nil, err
	}
	return s.store(ctx, userID, patientID, SessionAnalysisSchema.Kind, res)
}

// GenerateQuestions produces a set of deepening questions for the next
// session with the patient.
func (s *Service) GenerateQuestions(ctx context.Context, userID uint64, patientID, topic string, count int) (*AnalysisRecord, error) {
	if count <= 0 || count > 20 {
		count = 5
	}
	contextBlock := s.PatientContext(ctx, patientID)
	prompt := questionSetPrompt(contextBlock, topic, count)

	req := ai.GenerationRequest{
		Prompt: prompt,
		System: clinicalSystemPrompt,
		Params: defaultParams,
		Debug:  s.debug,
	}
	res, err := s.generate(ctx, req, QuestionSetSchema, patientID, []byte(prompt))
	if err != nil {
		return nil, err
	}
	return s.store(ctx, userID, patientID, QuestionSetSchema.Kind, res)
}

// GenerateScenarios produces therapeutic scenarios for the patient.
func (s *Service) GenerateScenarios(ctx context.Context, userID uint64, patientID, focus string, count int) (*AnalysisRecord, error) {
	if count <= 0 || count > 10 {
		count = 3
	}
	contextBlock := s.PatientContext(ctx, patientID)
	prompt := scenarioSetPrompt(contextBlock, focus, count)

	req := ai.GenerationRequest{
		Prompt: prompt,
		System: clinicalSystemPrompt,
		Params: defaultParams,
		Debug:  s.debug,
	}
	res, err := s.generate(ctx, req, ScenarioSetSchema, patientID, []byte(prompt))
	if err != nil {
		return nil, err
	}
	return s.store(ctx, userID, patientID, ScenarioSetSchema.Kind, res)
}

// InvalidatePatient drops every cached result scoped to the patient,
// e.g. after their clinical background is edited.
func (s *Service) InvalidatePatient(ctx context.Context, patientID string) {
	s.cache.Invalidate(ctx, patientID)
}

// generate is the shared reliability pipeline: cache lookup, issue,
// extract, at most one corrective re-issue on malformed or incomplete
// output, then cache fill.
func (s *Service) generate(ctx context.Context, req ai.GenerationRequest, schema Schema, scopeID string, defining []byte) (*extract.Result, error) {
	key := cache.Key(defining, scopeID)
	if hit, ok := s.cache.Get(ctx, key); ok {
		out := *hit
		out.CacheHit = true
		return &out, nil
	}

	raw, err := s.orch.Issue(ctx, req)
	if err != nil {
		return nil, err
	}
	attempts := raw.Attempts
	truncRepaired := raw.Repaired

	res, err := s.extractValidated(raw.Text, schema)
	if err != nil {
		if !correctable(err) {
			return nil, err
		}
		logger.Warnw("structured output invalid, re-issuing once",
			"kind", schema.Kind, "err", err)

		retry := req
		retry.Prompt = req.Prompt + strictJSONReminder(schema)
		raw, rerr := s.orch.Issue(ctx, retry)
		if rerr != nil {
			return nil, rerr
		}
		attempts += raw.Attempts
		truncRepaired = truncRepaired || raw.Repaired

		res, err = s.extractValidated(raw.Text, schema)
		if err != nil {
			return nil, err
		}
	}

	res.Attempts = attempts
	res.Repaired = res.Repaired || truncRepaired
	s.cache.Put(ctx, key, scopeID, res)
	return res, nil
}

func (s *Service) extractValidated(text string, schema Schema) (*extract.Result, error) {
	res, err := extract.Extract(text, schema.Required)
	if err != nil {
		return nil, err
	}
	if err := schema.ValidateItems(res.Fields); err != nil {
		return nil, err
	}
	return res, nil
}

// correctable reports whether a second, stricter prompt has any chance
// of fixing the failure. Upstream and truncation errors do not qualify.
func correctable(err error) bool {
	var malformed *extract.MalformedOutputError
	var incomplete *extract.IncompleteOutputError
	return errors.As(err, &malformed) || errors.As(err, &incomplete)
}

func (s *Service) store(ctx context.Context, userID uint64, patientID, kind string, res *extract.Result) (*AnalysisRecord, error) {
	content, err := json.Marshal(res.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode analysis content: %w", err)
	}
	id, err := NewID()
	if err != nil {
		return nil, fmt.Errorf("generate record id: %w", err)
	}

	rec := &AnalysisRecord{
		RecordID:  id,
		PatientID: patientID,
		UserID:    userID,
		Kind:      kind,
		Content:   string(content),
		Repaired:  res.Repaired,
		CacheHit:  res.CacheHit,
		Attempts:  res.Attempts,
	}
	if err := s.repo.InsertRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist analysis record: %w", err)
	}
	return rec, nil
}

// ProcessJob executes one queued analysis job. It is invoked by the
// worker after the job message is consumed.
func (s *Service) ProcessJob(ctx context.Context, jobID string) error {
	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != JobQueued {
		logger.Infow("skipping job in terminal or running state",
			"job", jobID, "status", job.Status)
		return nil
	}
	if err := s.repo.UpdateJobStatusRunning(ctx, jobID); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}

	rec, err := s.AnalyzeSession(ctx, job.UserID, job.PatientID, job.SessionNotes, nil)
	if err != nil {
		msg := err.Error()
		if mErr := s.repo.MarkJobFailed(ctx, jobID, msg); mErr != nil {
			logger.Errorw("mark job failed", "job", jobID, "err", mErr)
		}
		return fmt.Errorf("job %s: %w", jobID, err)
	}
	return s.repo.MarkJobSucceeded(ctx, jobID, rec.RecordID)
}
