package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
)

// BuildingSyncer performs the external sync of one building.
type BuildingSyncer interface {
	SyncBuilding(ctx context.Context, buildingID int64) (model.SyncResult, error)
}

// SyncJobResult is stored as the result of a completed sync-building job.
type SyncJobResult struct {
	Success bool `json:"success"`
	// Duration is in seconds.
	Duration float64 `json:"duration"`
	Count    int     `json:"count"`
}

// SyncProcessor handles sync-building jobs.
type SyncProcessor struct {
	syncer BuildingSyncer
	logger *slog.Logger
}

// NewSyncProcessor creates a new SyncProcessor.
func NewSyncProcessor(syncer BuildingSyncer, logger *slog.Logger) *SyncProcessor {
	return &SyncProcessor{syncer: syncer, logger: logger.With("component", "processor")}
}

// Handle syncs the building named in the job payload and times the call.
// Errors are returned unchanged so the queue applies its retry policy.
func (p *SyncProcessor) Handle(ctx context.Context, job model.Job) (any, error) {
	var payload model.SyncBuildingPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode sync-building payload: %w", err)
	}
	if payload.BuildingID == 0 {
		return nil, fmt.Errorf("sync-building payload has no building id")
	}

	label := payload.BuildingName
	if label == "" {
		label = fmt.Sprintf("building %d", payload.BuildingID)
	}
	p.logger.Info("sync started", "building", label, "job_id", job.ID)

	start := time.Now()
	result, err := p.syncer.SyncBuilding(ctx, payload.BuildingID)
	elapsed := time.Since(start)
	if err != nil {
		p.logger.Error("sync failed", "building", label, "job_id", job.ID, "error", err)
		return nil, err
	}

	p.logger.Info("sync completed", "building", label, "count", result.Count, "duration", elapsed.Round(time.Millisecond))

	return SyncJobResult{Success: true, Duration: elapsed.Seconds(), Count: result.Count}, nil
}
