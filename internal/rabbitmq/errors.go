package rabbitmq

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	// Pool errors
	ErrNoConnection = errors.New("nervous: no connection available")
	ErrPoolClosed   = errors.New("nervous: connection pool is closed")

	// Manager errors
	ErrManagerClosed = errors.New("nervous: channel manager is closed")
	ErrNotReady      = errors.New("nervous: topology not declared")
)

// ConnectionError represents a failure to establish or keep a broker
// connection.
type ConnectionError struct {
	Op        string    // Operation that failed
	URL       string    // Broker URL, sanitized before logging
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("nervous connection error: %s to %s failed: %v", e.Op, SanitizeURL(e.URL), e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TopologyError represents a failed exchange, queue or binding
// declaration. The broker's reason passes through unchanged via Unwrap.
type TopologyError struct {
	Component string    // Component type (exchange, queue, binding)
	Name      string    // Component name
	Op        string    // Operation that failed
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("nervous topology error: failed to %s %s '%s': %v",
		e.Op, e.Component, e.Name, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// PublishError represents a failed publish. The substrate never retries
// publishes, so the error always reaches the caller that holds the
// message.
type PublishError struct {
	Exchange   string
	RoutingKey string
	Err        error
	Timestamp  time.Time
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("nervous publish error: failed to publish to %s/%s: %v",
		e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether waiting and trying again can plausibly
// clear err. Publish failures are excluded: retrying a publish is the
// caller's policy decision, not the substrate's.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrPoolClosed):
		return false
	case errors.Is(err, ErrManagerClosed):
		return false
	}

	var pubErr *PublishError
	if errors.As(err, &pubErr) {
		return false
	}

	// Connection and topology failures clear once the broker is back.
	return true
}

// SanitizeURL strips the password from a broker URL for logging.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "amqp://***"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}
