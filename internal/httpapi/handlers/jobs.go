package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/serenomind/sereno/internal/common"
	"github.com/serenomind/sereno/internal/insight"
	"github.com/serenomind/sereno/internal/logger"
)

type analyzeAsyncReq struct {
	Notes string `json:"notes" binding:"required"`
}

// AnalyzeSessionAsync enqueues the analysis instead of blocking the
// request on the generative call. An Idempotency-Key header makes the
// enqueue safe to retry.
func (h *Handler) AnalyzeSessionAsync(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	p, ok := h.loadOwnedPatient(c, uid)
	if !ok {
		return
	}

	var req analyzeAsyncReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	jobID, err := insight.NewID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	j := &insight.AnalysisJob{
		ID:             jobID,
		UserID:         uid,
		PatientID:      p.PatientID,
		SessionNotes:   req.Notes,
		IdempotencyKey: idempoKeyPtr,
		Status:         insight.JobQueued,
	}

	created := true
	if idempoKeyPtr == nil {
		if err := h.Svc.Repo().CreateJob(c.Request.Context(), j); err != nil {
			logger.Errorw("create analysis job", "user", uid, "patient", p.PatientID, "err", err)
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
			return
		}
	} else {
		j, created, err = h.Svc.Repo().CreateJobOrGetExisting(c.Request.Context(), j)
		if err != nil {
			logger.Errorw("create analysis job", "user", uid, "patient", p.PatientID, "key", idempoKey, "err", err)
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
			return
		}
	}

	if created {
		if err := h.Rabbit.PublishJob(c.Request.Context(), j.ID); err != nil {
			logger.Errorw("enqueue analysis job", "job", j.ID, "err", err)
			common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
			return
		}
	}

	common.Ok(c, gin.H{"job_id": j.ID})
}

func (h *Handler) GetAnalysisJob(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	j, err := h.Svc.Repo().GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		common.Fail(c, http.StatusNotFound, 40403, "job not found")
		return
	}
	if j.UserID != uid {
		// hide existence
		common.Fail(c, http.StatusNotFound, 40403, "job not found")
		return
	}

	common.Ok(c, gin.H{"job": j})
}
