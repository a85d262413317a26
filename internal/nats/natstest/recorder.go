// Package natstest provides an in-memory event publisher for tests.
package natstest

import (
	"context"
	"sync"

	inats "github.com/versatiles/printops/internal/nats"
)

// Recorder captures published events. Safe for concurrent use.
type Recorder struct {
	mu            sync.Mutex
	audits        []inats.AuditEvent
	notifications []inats.NotificationEvent
	Err           error
}

func (r *Recorder) PublishAuditEvent(_ context.Context, event inats.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.audits = append(r.audits, event)
	return nil
}

func (r *Recorder) PublishNotificationEvent(_ context.Context, event inats.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.notifications = append(r.notifications, event)
	return nil
}

// Audits returns the audit events with the given action, or all when action is empty.
func (r *Recorder) Audits(action string) []inats.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []inats.AuditEvent
	for _, e := range r.audits {
		if action == "" || e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// Notifications returns the notifications with the given category, or all when category is empty.
func (r *Recorder) Notifications(category string) []inats.NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []inats.NotificationEvent
	for _, e := range r.notifications {
		if category == "" || e.Category == category {
			out = append(out, e)
		}
	}
	return out
}
