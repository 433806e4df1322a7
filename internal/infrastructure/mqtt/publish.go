package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize is the largest payload an MQTT packet can carry
// (remaining length limit, 256 MiB - 1).
const maxPayloadSize = 268435455

// Publish hands a message to the transport.
//
// Parameters:
//   - payload: The message payload
//   - topic: The topic to publish to (no wildcards)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
//
// The call never waits for the network. When paho reports the message sent
// (QoS 0) or acknowledged (QoS 1/2) the sink receives DeliveryComplete and
// the Ack completes with nil. A transport failure is logged and recorded on
// the Ack; it is not returned here.
//
// Returns:
//   - *Ack: Outcome of the asynchronous publish
//   - error: ErrNotConnected, ErrSessionClosed, ErrInvalidTopic,
//     ErrInvalidQoS or ErrPublishFailed (oversized payload); nothing is sent.
//     State errors take precedence over input errors.
//
// Example:
//
//	ack, err := session.Publish([]byte(`{"on":true}`), "lights/living", 1, false)
func (s *Session) Publish(payload []byte, topic string, qos byte, retained bool) (*Ack, error) {
	if s.state.isClosed() {
		return nil, ErrSessionClosed
	}
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}

	// Validate inputs
	if err := ValidateTopicName(topic); err != nil {
		return nil, err
	}
	if qos > maxQoS {
		return nil, ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	token := s.client.Publish(topic, qos, retained, payload)

	ack := newAck()
	go s.awaitPublish(token, ack, DeliveryToken{Topic: topic, QoS: qos, Retained: retained})
	return ack, nil
}

// PublishString publishes a text message.
//
// This is equivalent to calling Publish with []byte(message).
func (s *Session) PublishString(message, topic string, qos byte, retained bool) (*Ack, error) {
	return s.Publish([]byte(message), topic, qos, retained)
}

// PublishDefault publishes with the configured default retained flag.
func (s *Session) PublishDefault(payload []byte, topic string, qos byte) (*Ack, error) {
	return s.Publish(payload, topic, qos, s.cfg.defaultRetained)
}

// awaitPublish waits for the publish token and reports the outcome.
func (s *Session) awaitPublish(token pahomqtt.Token, ack *Ack, delivery DeliveryToken) {
	select {
	case <-token.Done():
	case <-s.done:
		ack.complete(ErrSessionClosed)
		return
	}

	if err := token.Error(); err != nil {
		s.log().Warn("MQTT publish failed",
			"topic", delivery.Topic,
			"qos", delivery.QoS,
			"error", err,
		)
		ack.complete(fmt.Errorf("%w: %w", ErrPublishFailed, err))
		return
	}

	if pubToken, ok := token.(*pahomqtt.PublishToken); ok {
		delivery.MessageID = pubToken.MessageID()
	}

	ack.complete(nil)
	s.dispatch(Event{Kind: EventDeliveryComplete, Delivery: delivery})
}
