package handler

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/syncd/syncd/internal/core/activity"
	"github.com/syncd/syncd/internal/core/facade"
	"github.com/syncd/syncd/internal/core/model"
	"github.com/syncd/syncd/internal/delivery/http/middleware"
	"github.com/syncd/syncd/internal/delivery/http/response"
)

// Publisher fans a data-change notification out to other daemon instances.
// Implemented by redisbus.Bus; a nil Publisher (or one backed by a nil
// Redis client) makes NotifyDataChanged purely local.
type Publisher interface {
	Publish(ctx context.Context, uri string) error
}

// SyncHandler exposes the facade's scheduling operations as JSON endpoints
// for adapter packages and operator tooling.
type SyncHandler struct {
	facade    *facade.Facade
	feed      *activity.Feed
	publisher Publisher
}

// NewSyncHandler creates a SyncHandler. publisher may be nil to skip
// cross-instance fanout entirely.
func NewSyncHandler(f *facade.Facade, feed *activity.Feed, publisher Publisher) *SyncHandler {
	return &SyncHandler{facade: f, feed: feed, publisher: publisher}
}

type registerAdapterRequest struct {
	PackageID     string `json:"package_id" binding:"required"`
	ServiceURL    string `json:"service_url" binding:"required"`
	AllowParallel bool   `json:"allow_parallel"`
}

// RegisterAdapter handles POST /adapters.
func (h *SyncHandler) RegisterAdapter(c *gin.Context) {
	var req registerAdapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithBadRequest(c, err.Error())
		return
	}
	h.facade.RegisterSyncAdapter(req.PackageID, req.ServiceURL, req.AllowParallel)
	response.Created(c, gin.H{"package_id": req.PackageID})
}

type onDemandJobRequest struct {
	Capability model.Capability `json:"capability" binding:"required"`
	Extras     model.Extras     `json:"extras"`
	Expedited  bool             `json:"expedited"`
}

// AddOnDemandJob handles POST /jobs/on-demand.
func (h *SyncHandler) AddOnDemandJob(c *gin.Context) {
	var req onDemandJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithBadRequest(c, err.Error())
		return
	}
	key := h.facade.AddOnDemandSyncJob(req.Capability, req.Extras, req.Expedited)
	response.Created(c, key)
}

type periodicJobRequest struct {
	Capability   model.Capability `json:"capability" binding:"required"`
	Extras       model.Extras     `json:"extras"`
	PeriodMillis int64            `json:"period_millis" binding:"required"`
	FlexMillis   int64            `json:"flex_millis"`
}

// AddPeriodicJob handles POST /jobs/periodic.
func (h *SyncHandler) AddPeriodicJob(c *gin.Context) {
	var req periodicJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithBadRequest(c, err.Error())
		return
	}
	id := h.facade.AddPeriodicSyncJob(
		req.Capability,
		req.Extras,
		time.Duration(req.PeriodMillis)*time.Millisecond,
		time.Duration(req.FlexMillis)*time.Millisecond,
	)
	response.Created(c, gin.H{"id": id})
}

type dataChangeJobRequest struct {
	Capability model.Capability `json:"capability" binding:"required"`
	Extras     model.Extras     `json:"extras"`
	URI        string           `json:"uri" binding:"required"`
}

// AddDataChangeJob handles POST /jobs/data-change.
func (h *SyncHandler) AddDataChangeJob(c *gin.Context) {
	var req dataChangeJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithBadRequest(c, err.Error())
		return
	}
	id := h.facade.AddDataChangeSyncJob(req.Capability, req.Extras, req.URI)
	response.Created(c, gin.H{"id": id})
}

// RemoveJob handles DELETE /jobs, keyed by the full JobKey in the body.
func (h *SyncHandler) RemoveJob(c *gin.Context) {
	var key model.JobKey
	if err := c.ShouldBindJSON(&key); err != nil {
		middleware.RespondWithBadRequest(c, err.Error())
		return
	}
	h.facade.RemoveSyncJob(key)
	response.NoContent(c)
}

// GetJobs handles GET /jobs?account=&authority=&package_id=.
func (h *SyncHandler) GetJobs(c *gin.Context) {
	cap := model.Capability{
		Account:   model.Account{Name: c.Query("account"), Authority: c.Query("authority")},
		PackageID: c.Query("package_id"),
	}
	snapshot := h.facade.GetAllSyncJobs(cap)
	response.Success(c, snapshot)
}

type syncStatusRequest struct {
	Capability model.Capability `json:"capability" binding:"required"`
	Enabled    bool             `json:"enabled"`
}

// SetSyncStatus handles POST /sync-status.
func (h *SyncHandler) SetSyncStatus(c *gin.Context) {
	var req syncStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithBadRequest(c, err.Error())
		return
	}
	h.facade.SetSyncStatus(req.Capability, req.Enabled)
	response.NoContent(c)
}

type dataChangedRequest struct {
	URI string `json:"uri" binding:"required"`
}

// NotifyDataChanged handles POST /data-changed.
func (h *SyncHandler) NotifyDataChanged(c *gin.Context) {
	var req dataChangedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithBadRequest(c, err.Error())
		return
	}
	h.facade.NotifyDataChanged(req.URI)
	if h.publisher != nil {
		if err := h.publisher.Publish(c.Request.Context(), req.URI); err != nil {
			middleware.RespondWithError(c, err)
			return
		}
	}
	response.NoContent(c)
}

// NotifyPackageUninstalled handles POST /packages/:packageID/uninstalled.
func (h *SyncHandler) NotifyPackageUninstalled(c *gin.Context) {
	packageID := c.Param("packageID")
	if packageID == "" {
		middleware.RespondWithBadRequest(c, "packageID is required")
		return
	}
	h.facade.NotifyPackageUninstalled(packageID)
	response.NoContent(c)
}

type reportResultRequest struct {
	Key       model.JobKey `json:"key" binding:"required"`
	Succeeded bool         `json:"succeeded"`
	Reason    string       `json:"reason"`
}

// ReportResult handles POST /results — an adapter's asynchronous callback
// reporting how a previously dispatched job turned out.
func (h *SyncHandler) ReportResult(c *gin.Context) {
	var req reportResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithBadRequest(c, err.Error())
		return
	}
	h.facade.ReportResult(model.SyncResult{
		Key:        req.Key,
		Succeeded:  req.Succeeded,
		Reason:     req.Reason,
		FinishedAt: time.Now().UTC(),
	})
	response.NoContent(c)
}

// RecentActivity handles GET /activity/recent.
func (h *SyncHandler) RecentActivity(c *gin.Context) {
	response.Success(c, h.feed.Recent())
}

// StreamActivity handles GET /activity/stream, a server-sent-events feed of
// scheduling decisions as the dispatcher makes them.
func (h *SyncHandler) StreamActivity(c *gin.Context) {
	id, ch := h.feed.Subscribe()
	defer h.feed.Unsubscribe(id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case data, ok := <-ch:
			if !ok {
				return false
			}
			w.Write(data)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
