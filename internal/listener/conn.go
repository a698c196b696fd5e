package listener

import (
	"context"
	"fmt"
	"time"
)

// Notification is a single event delivered on the subscribed channel.
type Notification struct {
	Channel    string
	Payload    string
	PID        uint32
	ReceivedAt time.Time
}

// Conn is a database connection able to subscribe to a notification channel.
// Implementations are not required to be safe for concurrent use; the Manager
// only ever uses a Conn from its run goroutine.
type Conn interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (*Notification, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Dialer opens a new Conn. Every call must return a fresh connection.
type Dialer func(ctx context.Context) (Conn, error)

// Handler processes a notification. It runs on the Manager's goroutine, so
// notifications are handled one at a time in delivery order.
type Handler func(ctx context.Context, n Notification)

// ConnectHook runs after every successful subscription.
type ConnectHook func(ctx context.Context, c Conn)

// ConnectError wraps a failure with the kind that determines the retry delay.
type ConnectError struct {
	Kind FailureKind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
