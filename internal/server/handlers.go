package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Skufu/veincheck/internal/auth"
	"github.com/Skufu/veincheck/internal/report"
	"github.com/Skufu/veincheck/internal/screening"
	"github.com/Skufu/veincheck/internal/session"
	"github.com/Skufu/veincheck/internal/triage"
)

func (h *handler) questions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"questions": h.svc.Questions()})
}

func (h *handler) assess(c *gin.Context) {
	var req screening.AssessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, err := h.svc.Assess(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// sessionID resolves the :id parameter. Malformed ids are reported the same
// way as unknown ones.
func (h *handler) sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.respondError(c, session.ErrSessionNotFound)
		return uuid.Nil, false
	}
	return id, true
}

func (h *handler) reply(c *gin.Context, sess session.Session, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *handler) createSession(c *gin.Context) {
	c.JSON(http.StatusCreated, h.svc.StartSession())
}

func (h *handler) getSession(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	sess, err := h.svc.Session(id)
	h.reply(c, sess, err)
}

func (h *handler) submitPatient(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	var p triage.PatientRecord
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	sess, err := h.svc.SubmitPatient(id, p)
	h.reply(c, sess, err)
}

func (h *handler) submitAnswers(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	var body struct {
		Answers map[string]string `json:"answers"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	sess, err := h.svc.SubmitAnswers(id, body.Answers)
	h.reply(c, sess, err)
}

func (h *handler) submitPhoto(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(c, err)
			return
		}
		h.respondError(c, &triage.ValidationError{Fields: []triage.FieldError{{Field: "image", Message: "Please choose a photo to upload"}}})
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.respondError(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		h.respondError(c, fmt.Errorf("read upload: %w", err))
		return
	}
	sess, err := h.svc.SubmitPhoto(c.Request.Context(), id, data, fh.Filename)
	h.reply(c, sess, err)
}

func (h *handler) skipPhoto(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	sess, err := h.svc.SkipPhoto(c.Request.Context(), id)
	h.reply(c, sess, err)
}

func (h *handler) back(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	sess, err := h.svc.Back(id)
	h.reply(c, sess, err)
}

func (h *handler) restart(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	sess, err := h.svc.Restart(id)
	h.reply(c, sess, err)
}

func (h *handler) results(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	sess, err := h.svc.Results(id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":     sess.ID,
		"outcome":        sess.Outcome,
		"record":         sess.Record,
		"analysis":       sess.Analysis,
		"analysis_error": sess.AnalysisError,
		"saved":          sess.Saved,
	})
}

func (h *handler) reportPDF(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	sess, err := h.svc.Results(id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := report.Render(&buf, *sess.Record); err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(*sess.Record)))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

func (h *handler) enterAdmin(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	sess, err := h.svc.EnterAdmin(id)
	h.reply(c, sess, err)
}

func (h *handler) exitAdmin(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	sess, err := h.svc.ExitAdmin(id)
	h.reply(c, sess, err)
}

func (h *handler) login(c *gin.Context) {
	if h.auth == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin_disabled"})
		return
	}
	var body struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	token, expiresAt, err := h.auth.Login(body.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.log.WithField("client_ip", c.ClientIP()).Warn("admin login failed")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expiresAt.UTC()})
}

func (h *handler) listAssessments(c *gin.Context) {
	records, stats, err := h.svc.Assessments(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessments": records, "stats": stats})
}

func (h *handler) exportAssessments(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.svc.ExportCSV(c.Request.Context(), &buf); err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.svc.ExportFilename()))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
