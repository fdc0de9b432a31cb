package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/tokenrisk/internal/assess"
	"github.com/mbd888/tokenrisk/internal/logging"
	"github.com/mbd888/tokenrisk/internal/pagination"
	"github.com/mbd888/tokenrisk/internal/profile"
	"github.com/mbd888/tokenrisk/internal/signal"
	"github.com/mbd888/tokenrisk/internal/validation"
)

// MaxListLimit caps the page size of history listings.
const MaxListLimit = 200

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status    string      `json:"status"`
	Version   string      `json:"version"`
	Checks    interface{} `json:"checks"`
	Timestamp string      `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.deps.Health.CheckAll(c.Request.Context())

	status, code := "healthy", http.StatusOK
	if !healthy || !s.healthy.Load() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// CreateAssessmentRequest is the body of POST /v1/assessments. Signals and
// envelopes may be combined; with neither, the server collects signals from
// its configured providers.
type CreateAssessmentRequest struct {
	Token     string             `json:"token"`
	Chain     string             `json:"chain"`
	Profile   string             `json:"profile"`
	Signals   []signal.RawSignal `json:"signals"`
	Envelopes []signal.Envelope  `json:"envelopes"`
}

func (s *Server) createAssessment(c *gin.Context) {
	var body CreateAssessmentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	signals := body.Signals
	for i, env := range body.Envelopes {
		extracted, err := signal.Extract(env)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_envelope",
				"message": "envelope " + strconv.Itoa(i) + ": " + err.Error(),
			})
			return
		}
		signals = append(signals, extracted...)
	}

	req := assess.NewRequest(body.Token, body.Chain, body.Profile)
	ctx := c.Request.Context()

	var out *assess.Outcome
	switch {
	case len(body.Signals) > 0 || len(body.Envelopes) > 0:
		out = s.deps.Orchestrator.SubmitOutcome(ctx, req, signals)
	case s.deps.Orchestrator.CanCollect():
		out = s.deps.Orchestrator.AssessOutcome(ctx, req)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "no_signals",
			"message": "signals or envelopes are required when no providers are configured",
		})
		return
	}

	if out.Failure != nil {
		code := failureStatus(out.Failure.Reason)
		if code >= http.StatusInternalServerError {
			logging.L(ctx).Error("assessment failed",
				"assessment_id", req.ID,
				"reason", out.Failure.Reason,
				"error", out.Failure.Message,
			)
		}
		c.JSON(code, gin.H{
			"error":   string(out.Failure.Reason),
			"message": out.Failure.Message,
			"id":      req.ID,
		})
		return
	}
	c.JSON(http.StatusCreated, out)
}

// failureStatus maps a failure reason to an HTTP status.
func failureStatus(r assess.Reason) int {
	switch r {
	case assess.ReasonInvalidRequest:
		return http.StatusBadRequest
	case assess.ReasonUnknownProfile:
		return http.StatusUnprocessableEntity
	case assess.ReasonCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) getAssessment(c *gin.Context) {
	out, err := s.deps.Store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, assess.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Assessment not found",
		})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to get assessment", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load assessment",
		})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listTokenAssessments(c *gin.Context) {
	limit := assess.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be between 1 and " + strconv.Itoa(MaxListLimit),
			})
			return
		}
		limit = n
	}

	cursor := c.Query("cursor")
	if _, err := pagination.Decode(cursor); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": err.Error(),
		})
		return
	}

	// One extra row tells us whether another page exists.
	items, err := s.deps.Store.ListByToken(c.Request.Context(),
		c.Param("chain"), c.Param("token"), limit+1, assess.WithCursor(cursor))
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list assessments", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list assessments",
		})
		return
	}

	page, next, hasMore := pagination.ComputePage(items, limit, assess.PageKey)
	if page == nil {
		page = []*assess.Outcome{}
	}
	c.JSON(http.StatusOK, gin.H{
		"assessments": page,
		"next_cursor": next,
		"has_more":    hasMore,
	})
}

func (s *Server) listProfiles(c *gin.Context) {
	names := s.deps.Profiles.Names()
	profiles := make([]*profile.Profile, 0, len(names))
	for _, name := range names {
		p, err := s.deps.Profiles.Get(name)
		if err != nil {
			// Reloaded between Names and Get.
			continue
		}
		profiles = append(profiles, p)
	}
	c.JSON(http.StatusOK, gin.H{
		"profiles": profiles,
		"count":    len(profiles),
	})
}

func (s *Server) getProfile(c *gin.Context) {
	p, err := s.deps.Profiles.Get(c.Param("name"))
	if errors.Is(err, profile.ErrProfileNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Profile not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load profile",
		})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) listChains(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"chains": validation.Chains()})
}
