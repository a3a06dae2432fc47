package rollback

import (
	"context"

	"netball/server/logging"
)

const (
	// EventPerformed is emitted after a rollback and replay completes.
	EventPerformed logging.EventType = "rollback.performed"
	// EventFrameNotFound is emitted when a correction targets a frame that is no longer retained.
	EventFrameNotFound logging.EventType = "rollback.frame_not_found"
	// EventResyncScheduled is emitted when repeated failures call for a full-state transfer.
	EventResyncScheduled logging.EventType = "rollback.resync_scheduled"
	// EventInputRejected is emitted when an input fails validation.
	EventInputRejected logging.EventType = "rollback.input_rejected"
)

// PerformedPayload describes one rollback.
type PerformedPayload struct {
	From       int64  `json:"from"`
	To         int64  `json:"to"`
	Depth      int64  `json:"depth"`
	Trigger    string `json:"trigger"`
	Checksum   uint64 `json:"checksum"`
	Mismatched bool   `json:"mismatched,omitempty"`
}

// FrameNotFoundPayload describes a correction that could not be applied.
type FrameNotFoundPayload struct {
	Target  int64 `json:"target"`
	Current int64 `json:"current"`
	Horizon int   `json:"horizon"`
}

// ResyncPayload summarises the failures behind a resync.
type ResyncPayload struct {
	Failures uint64 `json:"failures"`
	Attempts uint64 `json:"attempts"`
	Summary  string `json:"summary"`
}

// InputRejectedPayload describes a refused input.
type InputRejectedPayload struct {
	Player int    `json:"player"`
	Target int64  `json:"target"`
	Reason string `json:"reason"`
}

// Performed publishes a debug event for a completed rollback.
func Performed(ctx context.Context, pub logging.Publisher, frame int64, actor logging.EntityRef, payload PerformedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	severity := logging.SeverityDebug
	if payload.Mismatched {
		severity = logging.SeverityError
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPerformed,
		Frame:    frame,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryRollback,
		Payload:  payload,
		Extra:    extra,
	})
}

// FrameNotFound publishes a warning when a correction falls outside the horizon.
func FrameNotFound(ctx context.Context, pub logging.Publisher, frame int64, actor logging.EntityRef, payload FrameNotFoundPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventFrameNotFound,
		Frame:    frame,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryRollback,
		Payload:  payload,
		Extra:    extra,
	})
}

// ResyncScheduled publishes an error when the session gives up on incremental correction.
func ResyncScheduled(ctx context.Context, pub logging.Publisher, frame int64, actor logging.EntityRef, payload ResyncPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventResyncScheduled,
		Frame:    frame,
		Actor:    actor,
		Severity: logging.SeverityError,
		Category: logging.CategoryRollback,
		Payload:  payload,
		Extra:    extra,
	})
}

// InputRejected publishes a warning for an input that was not recorded.
func InputRejected(ctx context.Context, pub logging.Publisher, frame int64, actor logging.EntityRef, payload InputRejectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventInputRejected,
		Frame:    frame,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryRollback,
		Payload:  payload,
		Extra:    extra,
	})
}
