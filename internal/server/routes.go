package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/pipeline"
	"github.com/zulandar/switchboard/internal/review"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// envelope is the response shape of every JSON endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, envelope{Success: false, Error: msg})
}

func abort(c *gin.Context, status int, msg string) {
	respondError(c, status, msg)
	c.Abort()
}

// registerRoutes sets up all routes on the gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealth(opts))

	internal := router.Group("/api/internal", InternalAuth(opts.InternalSecret))
	internal.POST("/call-completed", handleCallCompleted(opts.Pipeline))

	api := router.Group("/api", OperatorAuth(opts.OperatorSigningKey))
	api.POST("/reviews/batch", handleBatch(opts.Pipeline))
	api.POST("/reviews/retry", handleRetry(opts.Pipeline))
	api.GET("/reviews", handleListReviews(opts.DB))
	api.GET("/reviews/:callId", handleGetReview(opts.DB))
	api.GET("/events", handleEvents(opts.Hub, opts.Keepalive, opts.SinkBuffer))
}

func handleHealth(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		data := gin.H{"status": "ok"}
		if sqlDB, err := opts.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			data["status"] = "degraded"
			data["database"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, envelope{Success: false, Data: data, Error: "database unreachable"})
			return
		}
		if opts.Health != nil {
			for k, v := range opts.Health() {
				data[k] = v
			}
		}
		respond(c, http.StatusOK, data)
	}
}

type callCompletedRequest struct {
	CallLogID string `json:"call_log_id" binding:"required"`
	AgentID   string `json:"agent_id" binding:"required"`
}

type callCompletedResponse struct {
	ReviewID  string `json:"review_id"`
	CallLogID string `json:"call_log_id"`
	Status    string `json:"status"`
	Created   bool   `json:"created"`
}

func handleCallCompleted(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req callCompletedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "call_log_id and agent_id are required")
			return
		}

		res, err := p.Trigger(c.Request.Context(), req.CallLogID, req.AgentID)
		switch {
		case errors.Is(err, pipeline.ErrCallNotFound):
			respondError(c, http.StatusNotFound, "call log not found")
			return
		case errors.Is(err, pipeline.ErrBusy):
			respondError(c, http.StatusServiceUnavailable, "review queue is full, try again later")
			return
		case err != nil:
			respondError(c, http.StatusInternalServerError, err.Error())
			return
		}

		respond(c, http.StatusAccepted, callCompletedResponse{
			ReviewID:  res.Record.ID,
			CallLogID: res.Record.CallID,
			Status:    res.Record.Status,
			Created:   res.Created,
		})
	}
}

type batchRequest struct {
	AgentID string `json:"agentId" binding:"required"`
	Limit   int    `json:"limit"`
}

func handleBatch(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req batchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "agentId is required")
			return
		}
		if req.Limit < 0 {
			respondError(c, http.StatusBadRequest, "limit must be positive")
			return
		}
		summary, err := p.EnqueueBatch(c.Request.Context(), req.AgentID, req.Limit)
		if err != nil {
			respondError(c, http.StatusInternalServerError, err.Error())
			return
		}
		respond(c, http.StatusOK, summary)
	}
}

type retryRequest struct {
	CallLogIDs []string `json:"call_log_ids" binding:"required,min=1"`
}

func handleRetry(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req retryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "call_log_ids must be a non-empty list")
			return
		}
		if len(req.CallLogIDs) > pipeline.MaxBatchLimit {
			respondError(c, http.StatusBadRequest, "too many call_log_ids")
			return
		}
		respond(c, http.StatusOK, p.EnqueueCalls(c.Request.Context(), req.CallLogIDs))
	}
}

// reviewView is a record with its decoded result.
type reviewView struct {
	models.ReviewRecord
	Result *models.ReviewResult `json:"result"`
}

func toView(rec models.ReviewRecord) reviewView {
	v := reviewView{ReviewRecord: rec}
	if res, err := rec.DecodeResult(); err == nil {
		v.Result = res
	}
	return v
}

func handleGetReview(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := review.Get(db.WithContext(c.Request.Context()), c.Param("callId"))
		if errors.Is(err, review.ErrNotFound) {
			respondError(c, http.StatusNotFound, "review not found")
			return
		}
		if err != nil {
			respondError(c, http.StatusInternalServerError, err.Error())
			return
		}
		respond(c, http.StatusOK, toView(*rec))
	}
}

var validStatuses = map[string]bool{
	review.StatusPending:    true,
	review.StatusProcessing: true,
	review.StatusCompleted:  true,
	review.StatusFailed:     true,
}

func handleListReviews(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		filters := review.ListFilters{
			AgentID: c.Query("agentId"),
			Status:  c.Query("status"),
			Limit:   defaultListLimit,
		}
		if filters.Status != "" && !validStatuses[filters.Status] {
			respondError(c, http.StatusBadRequest, "unknown status "+strconv.Quote(filters.Status))
			return
		}
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				respondError(c, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			if n > maxListLimit {
				n = maxListLimit
			}
			filters.Limit = n
		}

		recs, err := review.List(db.WithContext(c.Request.Context()), filters)
		if err != nil {
			respondError(c, http.StatusInternalServerError, err.Error())
			return
		}
		views := make([]reviewView, 0, len(recs))
		for _, rec := range recs {
			views = append(views, toView(rec))
		}
		respond(c, http.StatusOK, views)
	}
}
