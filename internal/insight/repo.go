package insight

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreatePatient(ctx context.Context, p *Patient) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *Repo) GetPatientByPatientID(ctx context.Context, patientID string) (*Patient, error) {
	var p Patient
	if err := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) ListPatients(ctx context.Context, userID uint64) ([]Patient, error) {
	var ps []Patient
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&ps).Error; err != nil {
		return nil, err
	}
	return ps, nil
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) CountSessions(ctx context.Context, patientID string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Session{}).
		Where("patient_id = ?", patientID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Repo) InsertRecord(ctx context.Context, rec *AnalysisRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// ListRecords returns records in DESC id order (newest -> oldest).
func (r *Repo) ListRecords(ctx context.Context, userID uint64, patientID string, limit int, beforeID uint64) ([]AnalysisRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND patient_id = ?", userID, patientID).
		Order("id DESC").
		Limit(limit)

	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var recs []AnalysisRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// ListRecordsForAggregation returns every stored analysis for a patient
// in ASC id order, the input order the aggregator expects.
func (r *Repo) ListRecordsForAggregation(ctx context.Context, patientID string) ([]AnalysisRecord, error) {
	var recs []AnalysisRecord
	if err := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("id ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// Job CRUD
func (r *Repo) CreateJob(ctx context.Context, job *AnalysisJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*AnalysisJob, error) {
	var j AnalysisJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&AnalysisJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, recordID string) error {
	return r.db.WithContext(ctx).Model(&AnalysisJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           JobSucceeded,
			"result_record_id": recordID,
			"error":            nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&AnalysisJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           JobFailed,
			"error":            errMsg,
			"result_record_id": nil,
		}).Error
}

func (r *Repo) GetJobByUserAndIdempotencyKey(ctx context.Context, userID uint64, key string) (*AnalysisJob, error) {
	var job AnalysisJob
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJobOrGetExisting tries to create a job, but if (user_id,
// idempotency_key) already exists, it returns the existing job instead.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *AnalysisJob) (*AnalysisJob, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.GetJobByUserAndIdempotencyKey(ctx, job.UserID, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}

	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}
