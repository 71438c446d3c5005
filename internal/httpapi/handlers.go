package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/homelab/ha-ingestor/internal/breaker"
	"github.com/homelab/ha-ingestor/internal/model"
)

type handlers struct {
	deps Deps
	log  *slog.Logger
}

func (h *handlers) listDevices(c *gin.Context) {
	if h.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog store not wired"})
		return
	}
	devices, err := h.deps.Store.ListDevices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (h *handlers) listEntities(c *gin.Context) {
	if h.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog store not wired"})
		return
	}
	entities, err := h.deps.Store.ListEntities(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entities": entities})
}

func (h *handlers) listAreas(c *gin.Context) {
	if h.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog store not wired"})
		return
	}
	areas, err := h.deps.Store.ListAreas(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"areas": areas})
}

func (h *handlers) listWebhooks(c *gin.Context) {
	if h.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog store not wired"})
		return
	}
	subs, err := h.deps.Store.ListWebhookSubscriptions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": subs})
}

type createWebhookRequest struct {
	Name       string `json:"name" binding:"required"`
	URL        string `json:"url" binding:"required"`
	Secret     string `json:"secret" binding:"required"`
	Conditions []byte `json:"conditions"`
	Enabled    *bool  `json:"enabled"`
}

func (h *handlers) createWebhook(c *gin.Context) {
	if h.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog store not wired"})
		return
	}
	var req createWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	sub := &model.WebhookSubscription{
		Name:       req.Name,
		URL:        req.URL,
		Secret:     req.Secret,
		Conditions: req.Conditions,
		Enabled:    enabled,
		CreatedAt:  time.Now().UTC(),
	}
	id, err := h.deps.Store.CreateWebhookSubscription(c.Request.Context(), sub)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sub.ID = id
	if h.deps.Dispatcher != nil {
		if err := h.deps.Dispatcher.LoadSubscriptions(c.Request.Context()); err != nil {
			h.log.Warn("reloading webhook subscriptions after create", "error", err)
		}
	}
	c.JSON(http.StatusCreated, sub)
}

type componentStatus struct {
	State string `json:"state"`
}

func (h *handlers) status(c *gin.Context) {
	resp := gin.H{}

	connections := gin.H{}
	if h.deps.ConnMgr != nil {
		for endpoint, snap := range h.deps.ConnMgr.Status() {
			connections[endpoint] = gin.H{
				"state":                 breakerStateLabel(snap.State),
				"consecutive_failures":  snap.ConsecutiveFailures,
				"consecutive_successes": snap.ConsecutiveSuccesses,
				"last_failure_at":       snap.LastFailureAt,
			}
		}
	} else {
		connections["unknown"] = componentStatus{State: "unknown"}
	}
	resp["connections"] = connections

	if h.deps.Pipeline != nil {
		stats := h.deps.Pipeline.Stats()
		resp["pipeline"] = gin.H{
			"enqueued":  stats.Enqueued,
			"dropped":   stats.Dropped,
			"in_flight": stats.InFlight,
		}
	} else {
		resp["pipeline"] = componentStatus{State: "unknown"}
	}

	jobs := gin.H{}
	if h.deps.Store != nil {
		for _, name := range []string{"daily", "weekly", "monthly", "retention_sweep"} {
			run, err := h.deps.Store.GetJobRun(c.Request.Context(), name)
			if err != nil || run == nil {
				jobs[name] = componentStatus{State: "unknown"}
				continue
			}
			jobs[name] = gin.H{
				"status":      run.Status,
				"started_at":  run.StartedAt,
				"finished_at": run.FinishedAt,
				"reason":      run.Reason,
			}
		}
	}
	resp["jobs"] = jobs

	c.JSON(http.StatusOK, resp)
}

func breakerStateLabel(s breaker.State) string {
	switch s {
	case breaker.Open:
		return "degraded"
	case breaker.HalfOpen:
		return "degraded"
	case breaker.Closed:
		return "healthy"
	default:
		return "unknown"
	}
}
