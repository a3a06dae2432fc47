package network

import (
	"context"

	"netball/server/logging"
)

const (
	// EventPeerConnected is emitted when a peer link opens.
	EventPeerConnected logging.EventType = "network.peer_connected"
	// EventPeerDisconnected is emitted when a peer link closes.
	EventPeerDisconnected logging.EventType = "network.peer_disconnected"
	// EventInputDropped is emitted when an inbound input is discarded before reaching the session.
	EventInputDropped logging.EventType = "network.input_dropped"
)

type PeerPayload struct {
	Remote string `json:"remote"`
	Reason string `json:"reason,omitempty"`
}

type InputDroppedPayload struct {
	Player int    `json:"player"`
	Reason string `json:"reason"`
	Count  uint64 `json:"count"`
}

func PeerConnected(ctx context.Context, pub logging.Publisher, frame int64, actor logging.EntityRef, payload PeerPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerConnected,
		Frame:    frame,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

func PeerDisconnected(ctx context.Context, pub logging.Publisher, frame int64, actor logging.EntityRef, payload PeerPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerDisconnected,
		Frame:    frame,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// InputDropped publishes a warning; callers usually throttle it to powers of two.
func InputDropped(ctx context.Context, pub logging.Publisher, frame int64, actor logging.EntityRef, payload InputDroppedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventInputDropped,
		Frame:    frame,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}
