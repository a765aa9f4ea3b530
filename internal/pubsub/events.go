// Package pubsub carries notifications between sheetbind components.
//
// Broker fans typed events out to channel subscribers without blocking the
// publisher; the task pane and the log strip consume it. Bus is the
// synchronous named-event bus controllers publish and subscribe on.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// TaskPaneChangeRequested asks the presentation layer to render a view.
	TaskPaneChangeRequested EventType = "taskPaneChangeRequested"
	// LogWritten carries one formatted log line.
	LogWritten EventType = "logWritten"
	// DocumentReloaded reports that the workbook store changed underneath
	// the running process.
	DocumentReloaded EventType = "documentReloaded"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T) int
}
