package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/serenomind/sereno/internal/ai"
	"github.com/serenomind/sereno/internal/common"
	"github.com/serenomind/sereno/internal/extract"
)

// failForAnalysis maps reliability-layer failures onto the error
// envelope: upstream trouble is a 502, output that never became valid
// JSON is a 422.
func failForAnalysis(c *gin.Context, err error) {
	var exhausted *ai.RetriesExhaustedError
	var upstream *ai.UpstreamError
	var malformed *extract.MalformedOutputError
	var incomplete *extract.IncompleteOutputError
	var truncated *extract.TruncationError

	switch {
	case errors.As(err, &exhausted), errors.As(err, &upstream):
		common.Fail(c, http.StatusBadGateway, 50210, "generative service unavailable")
	case errors.As(err, &malformed), errors.As(err, &incomplete), errors.As(err, &truncated):
		common.Fail(c, http.StatusUnprocessableEntity, 42210, "analysis output could not be validated")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		common.Fail(c, http.StatusGatewayTimeout, 50410, "analysis timed out")
	default:
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

type analyzeReq struct {
	Notes              string `json:"notes" binding:"required"`
	AttachmentMIMEType string `json:"attachment_mime_type"`
	AttachmentBase64   string `json:"attachment_base64"`
}

func (h *Handler) AnalyzeSession(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	p, ok := h.loadOwnedPatient(c, uid)
	if !ok {
		return
	}

	var req analyzeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	var att *ai.Attachment
	if req.AttachmentBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.AttachmentBase64)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10005, "invalid attachment encoding")
			return
		}
		mime := req.AttachmentMIMEType
		if mime == "" {
			mime = "application/pdf"
		}
		att = &ai.Attachment{MIMEType: mime, Data: data}
	}

	rec, err := h.Svc.AnalyzeSession(c.Request.Context(), uid, p.PatientID, req.Notes, att)
	if err != nil {
		failForAnalysis(c, err)
		return
	}
	common.Ok(c, rec)
}

type questionsReq struct {
	Topic string `json:"topic" binding:"required"`
	Count int    `json:"count"`
}

func (h *Handler) GenerateQuestions(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	p, ok := h.loadOwnedPatient(c, uid)
	if !ok {
		return
	}

	var req questionsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	rec, err := h.Svc.GenerateQuestions(c.Request.Context(), uid, p.PatientID, req.Topic, req.Count)
	if err != nil {
		failForAnalysis(c, err)
		return
	}
	common.Ok(c, rec)
}

type scenariosReq struct {
	Focus string `json:"focus" binding:"required"`
	Count int    `json:"count"`
}

func (h *Handler) GenerateScenarios(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	p, ok := h.loadOwnedPatient(c, uid)
	if !ok {
		return
	}

	var req scenariosReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	rec, err := h.Svc.GenerateScenarios(c.Request.Context(), uid, p.PatientID, req.Focus, req.Count)
	if err != nil {
		failForAnalysis(c, err)
		return
	}
	common.Ok(c, rec)
}

func (h *Handler) ListAnalyses(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	p, ok := h.loadOwnedPatient(c, uid)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if v := c.Query("before_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			beforeID = n
		}
	}

	recs, err := h.Svc.Repo().ListRecords(c.Request.Context(), uid, p.PatientID, limit, beforeID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list analyses")
		return
	}

	var nextBeforeID uint64
	if len(recs) > 0 {
		nextBeforeID = recs[len(recs)-1].ID
	}
	common.Ok(c, gin.H{
		"records":        recs,
		"next_before_id": nextBeforeID,
	})
}

// InvalidateCache drops every cached analysis for the patient, forcing
// the next requests to regenerate.
func (h *Handler) InvalidateCache(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	p, ok := h.loadOwnedPatient(c, uid)
	if !ok {
		return
	}
	h.Svc.InvalidatePatient(c.Request.Context(), p.PatientID)
	common.Ok(c, gin.H{"invalidated": p.PatientID})
}

// PatientContext exposes the compressed history block, mainly for
// debugging what the generation calls actually see.
func (h *Handler) PatientContext(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	p, ok := h.loadOwnedPatient(c, uid)
	if !ok {
		return
	}
	common.Ok(c, gin.H{"context": h.Svc.PatientContext(c.Request.Context(), p.PatientID)})
}
