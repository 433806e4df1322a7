package mqtt

import (
	"errors"
	"fmt"
)

// Domain-specific errors for MQTT session operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidConfig is returned by Builder.Build when a required field is
	// missing or a value is out of range.
	ErrInvalidConfig = errors.New("mqtt: invalid configuration")

	// ErrIllegalState is the parent of every error caused by calling an
	// operation in a state that forbids it.
	ErrIllegalState = errors.New("mqtt: illegal session state")

	// ErrNotConnected is returned when publishing or subscribing while the
	// session is not connected.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrIllegalState)

	// ErrSessionClosed is returned by every operation after Close.
	ErrSessionClosed = fmt.Errorf("%w: session closed", ErrIllegalState)

	// ErrTransport is the parent of every error reported by paho.
	ErrTransport = errors.New("mqtt: transport rejected operation")

	// ErrConnectionFailed is passed to ConnectFailed when a connect attempt fails.
	ErrConnectionFailed = fmt.Errorf("%w: connection failed", ErrTransport)

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = fmt.Errorf("%w: publish failed", ErrTransport)

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = fmt.Errorf("%w: subscribe failed", ErrTransport)

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = fmt.Errorf("%w: unsubscribe failed", ErrTransport)

	// ErrConnectionLost is passed to ConnectionLost when the network link drops.
	ErrConnectionLost = errors.New("mqtt: connection lost")

	// ErrDisconnectRequested is passed to ConnectionLost after an explicit
	// Disconnect. It does not match ErrConnectionLost.
	ErrDisconnectRequested = errors.New("mqtt: disconnect requested")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when a topic name or filter is malformed.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
