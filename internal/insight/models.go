package insight

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Record kinds produced by the analysis service.
const (
	KindSessionAnalysis = "session_analysis"
	KindQuestionSet     = "question_set"
	KindScenarioSet     = "scenario_set"
)

type Patient struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	PatientID string `gorm:"type:varchar(26);uniqueIndex;not null" json:"patient_id"`
	UserID    uint64 `gorm:"index;not null" json:"-"`

	Name       string `gorm:"type:varchar(128);not null" json:"name"`
	Age        int    `gorm:"not null" json:"age"`
	Gender     string `gorm:"type:varchar(32)" json:"gender"`
	Occupation string `gorm:"type:varchar(128)" json:"occupation"`

	PresentingConcerns string `gorm:"type:text" json:"presenting_concerns"`
	ClinicalBackground string `gorm:"type:text" json:"clinical_background"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Patient) TableName() string { return "patients" }

type Session struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	PatientID string    `gorm:"type:varchar(26);index;not null" json:"patient_id"`
	UserID    uint64    `gorm:"index;not null" json:"-"`
	HeldAt    time.Time `json:"held_at"`
	Notes     string    `gorm:"type:text" json:"notes"`
	CreatedAt time.Time `json:"created_at"`
}

func (Session) TableName() string { return "sessions" }

// AnalysisRecord is one structured generative result for a patient. The
// structured fields live in Content as JSON; provenance columns record
// how the result was obtained.
type AnalysisRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	RecordID  string `gorm:"type:varchar(26);uniqueIndex;not null" json:"record_id"`
	PatientID string `gorm:"type:varchar(26);index;not null" json:"patient_id"`
	UserID    uint64 `gorm:"index;not null" json:"-"`

	Kind    string `gorm:"type:varchar(32);index;not null" json:"kind"`
	Content string `gorm:"type:text;not null" json:"content"`

	Repaired bool `gorm:"not null" json:"repaired"`
	CacheHit bool `gorm:"not null" json:"cache_hit"`
	Attempts int  `gorm:"not null" json:"attempts"`

	CreatedAt time.Time `json:"created_at"`
}

func (AnalysisRecord) TableName() string { return "analysis_records" }

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// AnalysisJob is an asynchronous session-analysis request processed by
// the worker.
type AnalysisJob struct {
	ID string `gorm:"primaryKey;size:26" json:"job_id"` // ULID length

	UserID    uint64 `gorm:"index;not null" json:"-"`
	PatientID string `gorm:"size:26;index;not null" json:"patient_id"`

	SessionNotes string `gorm:"type:text;not null" json:"-"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_job_user_idempo,unique" json:"-"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when succeeded
	ResultRecordID *string `gorm:"size:26;index" json:"result_record_id,omitempty"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AnalysisJob) TableName() string { return "analysis_jobs" }

// NewID returns a new ULID for patient, session, record and job ids.
func NewID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
