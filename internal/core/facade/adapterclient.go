// Package facade exposes the daemon's external interface: the operations
// an adapter package or an operator tool calls, translated into messages
// sent to the dispatcher's event loop and, where a reply is expected,
// blocked on a one-shot result channel.
package facade

import (
	"context"
	"fmt"

	"github.com/syncd/syncd/internal/core/model"
	"github.com/syncd/syncd/pkg/httpclient"
)

// HTTPAdapterClient delivers start/cancel requests to adapters over HTTP,
// addressing each adapter by the base URL recorded in its
// ServiceAppID field (adapters register themselves with the URL their
// sync endpoint listens on).
type HTTPAdapterClient struct {
	client *httpclient.Client
}

// NewHTTPAdapterClient wraps an httpclient.Client for adapter delivery.
func NewHTTPAdapterClient(client *httpclient.Client) *HTTPAdapterClient {
	return &HTTPAdapterClient{client: client}
}

type startSyncRequest struct {
	JobKey     string            `json:"job_key"`
	Capability string            `json:"capability"`
	PackageID  string            `json:"package_id"`
	Source     string            `json:"source"`
	Expedited  bool              `json:"expedited"`
	Extras     map[string]string `json:"extras"`
}

// Dispatch POSTs a start-sync request to the adapter's registered
// endpoint. A non-nil error only means the adapter could not be reached or
// rejected the request outright; a successfully accepted job still
// reports its real outcome later through the facade's result endpoint.
func (c *HTTPAdapterClient) Dispatch(ctx context.Context, reg model.AdapterRegistration, job model.SyncJob) error {
	body := startSyncRequest{
		JobKey:     job.Key.String(),
		Capability: job.Key.Capability.Key(),
		PackageID:  reg.PackageID,
		Source:     string(job.Source),
		Expedited:  job.Expedited,
		Extras:     job.Extras,
	}
	resp, err := c.client.Post(ctx, reg.ServiceAppID+"/sync/start", nil, body)
	if err != nil {
		return fmt.Errorf("dispatch to adapter %s: %w", reg.PackageID, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("adapter %s rejected start-sync with status %d", reg.PackageID, resp.StatusCode)
	}
	return nil
}

// Cancel POSTs a cancel-sync request to the adapter's registered endpoint.
func (c *HTTPAdapterClient) Cancel(ctx context.Context, reg model.AdapterRegistration, key model.JobKey) error {
	body := map[string]string{"job_key": key.String()}
	resp, err := c.client.Post(ctx, reg.ServiceAppID+"/sync/cancel", nil, body)
	if err != nil {
		return fmt.Errorf("cancel on adapter %s: %w", reg.PackageID, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("adapter %s rejected cancel-sync with status %d", reg.PackageID, resp.StatusCode)
	}
	return nil
}
