// Package audit records security-relevant outcomes. Events are persisted and
// logged synchronously, before any response is produced, so that logging
// cannot be skipped by a later failure.
package audit

import (
	"context"
	"time"

	"amphoraxe.ca/internal/auth"
	"amphoraxe.ca/internal/ids"
	"amphoraxe.ca/internal/obs"
)

// Recorder appends audit events to the store and mirrors each one as a
// structured JSON log line.
type Recorder struct {
	store auth.AuditStore
	now   func() time.Time
}

// NewRecorder constructs a Recorder. A nil store degrades to log-only, which
// keeps the emission contract alive in tests and partial deployments.
func NewRecorder(store auth.AuditStore) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Event writes one audit event. The store append happens first; a failed
// append is still logged so no security outcome disappears silently.
func (r *Recorder) Event(ctx context.Context, e auth.AuditEvent) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}

	var appendErr error
	if r.store != nil {
		appendErr = r.store.Append(ctx, &e)
	}

	entry := map[string]any{
		"ts":     e.OccurredAt.Format(time.RFC3339Nano),
		"type":   "audit",
		"action": e.Action,
		"ip":     e.IPAddress,
	}
	if e.ActorID != "" {
		entry["actor_id"] = e.ActorID
	}
	if e.ResourceType != "" {
		entry["resource_type"] = e.ResourceType
		entry["resource_id"] = e.ResourceID
	}
	if e.Detail != "" {
		entry["detail"] = e.Detail
	}
	if appendErr != nil {
		entry["append_error"] = appendErr.Error()
	}
	obs.LogRequest(entry)

	return appendErr
}
