package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/serenomind/sereno/internal/common"
	"github.com/serenomind/sereno/internal/insight"
)

type createPatientReq struct {
	Name               string `json:"name" binding:"required"`
	Age                int    `json:"age" binding:"required"`
	Gender             string `json:"gender"`
	Occupation         string `json:"occupation"`
	PresentingConcerns string `json:"presenting_concerns"`
	ClinicalBackground string `json:"clinical_background"`
}

func (h *Handler) CreatePatient(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}

	var req createPatientReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	id, err := insight.NewID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	p := &insight.Patient{
		PatientID:          id,
		UserID:             uid,
		Name:               req.Name,
		Age:                req.Age,
		Gender:             req.Gender,
		Occupation:         req.Occupation,
		PresentingConcerns: req.PresentingConcerns,
		ClinicalBackground: req.ClinicalBackground,
	}
	if err := h.Svc.Repo().CreatePatient(c.Request.Context(), p); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create patient")
		return
	}
	common.Ok(c, p)
}

func (h *Handler) ListPatients(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	ps, err := h.Svc.Repo().ListPatients(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to list patients")
		return
	}
	common.Ok(c, gin.H{"patients": ps})
}

// loadOwnedPatient fetches a patient and enforces ownership, hiding the
// record's existence from other users.
func (h *Handler) loadOwnedPatient(c *gin.Context, uid uint64) (*insight.Patient, bool) {
	p, err := h.Svc.Repo().GetPatientByPatientID(c.Request.Context(), c.Param("patient_id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "patient not found")
			return nil, false
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return nil, false
	}
	if p.UserID != uid {
		common.Fail(c, http.StatusNotFound, 40402, "patient not found")
		return nil, false
	}
	return p, true
}

func (h *Handler) GetPatient(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	p, ok := h.loadOwnedPatient(c, uid)
	if !ok {
		return
	}
	common.Ok(c, p)
}

type updatePatientReq struct {
	Name               *string `json:"name"`
	Age                *int    `json:"age"`
	Gender             *string `json:"gender"`
	Occupation         *string `json:"occupation"`
	PresentingConcerns *string `json:"presenting_concerns"`
	ClinicalBackground *string `json:"clinical_background"`
}

// UpdatePatient edits the clinical profile. Cached analyses for the
// patient are invalidated because their context inputs changed.
func (h *Handler) UpdatePatient(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	p, ok := h.loadOwnedPatient(c, uid)
	if !ok {
		return
	}

	var req updatePatientReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Age != nil {
		p.Age = *req.Age
	}
	if req.Gender != nil {
		p.Gender = *req.Gender
	}
	if req.Occupation != nil {
		p.Occupation = *req.Occupation
	}
	if req.PresentingConcerns != nil {
		p.PresentingConcerns = *req.PresentingConcerns
	}
	if req.ClinicalBackground != nil {
		p.ClinicalBackground = *req.ClinicalBackground
	}

	if err := h.DB.WithContext(c.Request.Context()).Save(p).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to update patient")
		return
	}

	h.Svc.InvalidatePatient(c.Request.Context(), p.PatientID)
	common.Ok(c, p)
}

type createSessionReq struct {
	HeldAt *time.Time `json:"held_at"`
	Notes  string     `json:"notes" binding:"required"`
}

func (h *Handler) CreateSession(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	p, ok := h.loadOwnedPatient(c, uid)
	if !ok {
		return
	}

	var req createSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	id, err := insight.NewID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	heldAt := time.Now()
	if req.HeldAt != nil {
		heldAt = *req.HeldAt
	}
	s := &insight.Session{
		SessionID: id,
		PatientID: p.PatientID,
		UserID:    uid,
		HeldAt:    heldAt,
		Notes:     req.Notes,
	}
	if err := h.Svc.Repo().CreateSession(c.Request.Context(), s); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create session")
		return
	}
	common.Ok(c, gin.H{"session_id": s.SessionID})
}
