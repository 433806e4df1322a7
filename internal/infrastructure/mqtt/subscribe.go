package mqtt

import (
	"fmt"
	"sort"
	"strings"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subackFailure is the SUBACK return code for a refused filter.
const subackFailure = 0x80

// Subscribe issues one subscribe request covering every topic filter.
//
// topics and qos are parallel slices: qos[i] is the maximum QoS for topics[i].
// Filters can include MQTT wildcards:
//   - + (single-level): "sensors/+/temp"
//   - # (multi-level): "sensors/#"
//
// Messages for these filters are delivered through EventSink.MessageArrived.
// The session does not track subscriptions after issuing the request; with
// CleanSession(false) the broker keeps them across reconnects.
//
// Parameters:
//   - topics: Topic filters (non-empty, no duplicates)
//   - qos: QoS levels (0, 1, or 2), same length as topics
//
// Returns:
//   - *Ack: Outcome of the asynchronous subscribe; filters refused by the
//     broker are reported as ErrSubscribeFailed
//   - error: ErrNotConnected, ErrSessionClosed, ErrInvalidTopic or
//     ErrInvalidQoS; nothing is sent
func (s *Session) Subscribe(topics []string, qos []byte) (*Ack, error) {
	if s.state.isClosed() {
		return nil, ErrSessionClosed
	}
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}

	// Validate inputs
	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: no topics given", ErrInvalidTopic)
	}
	if len(topics) != len(qos) {
		return nil, fmt.Errorf("%w: %d QoS levels for %d topics", ErrInvalidQoS, len(qos), len(topics))
	}

	filters := make(map[string]byte, len(topics))
	for i, topic := range topics {
		if err := ValidateTopicFilter(topic); err != nil {
			return nil, err
		}
		if qos[i] > maxQoS {
			return nil, fmt.Errorf("%w: topic %q", ErrInvalidQoS, topic)
		}
		if _, dup := filters[topic]; dup {
			return nil, fmt.Errorf("%w: duplicate topic filter %q", ErrInvalidTopic, topic)
		}
		filters[topic] = qos[i]
	}

	s.log().Info("MQTT subscribing", "topics", topics, "qos", qos)

	// A nil callback routes messages to the default publish handler.
	token := s.client.SubscribeMultiple(filters, nil)

	ack := newAck()
	go s.awaitSubscribe(token, ack, topics)
	return ack, nil
}

// awaitSubscribe waits for the SUBACK and reports refused filters.
func (s *Session) awaitSubscribe(token pahomqtt.Token, ack *Ack, topics []string) {
	select {
	case <-token.Done():
	case <-s.done:
		ack.complete(ErrSessionClosed)
		return
	}

	if err := token.Error(); err != nil {
		s.log().Warn("MQTT subscribe failed", "topics", topics, "error", err)
		ack.complete(fmt.Errorf("%w: %w", ErrSubscribeFailed, err))
		return
	}

	if subToken, ok := token.(*pahomqtt.SubscribeToken); ok {
		if refused := refusedFilters(subToken.Result()); len(refused) > 0 {
			s.log().Warn("MQTT broker refused subscription", "topics", refused)
			ack.complete(fmt.Errorf("%w: broker refused %s", ErrSubscribeFailed, strings.Join(refused, ", ")))
			return
		}
	}

	s.log().Debug("MQTT subscribed", "topics", topics)
	ack.complete(nil)
}

// refusedFilters returns, sorted, the filters whose SUBACK code is a failure.
func refusedFilters(result map[string]byte) []string {
	var refused []string
	for topic, code := range result {
		if code >= subackFailure {
			refused = append(refused, topic)
		}
	}
	sort.Strings(refused)
	return refused
}

// Unsubscribe removes topic filters.
//
// Messages already in flight may still be delivered after the Ack completes.
//
// Returns:
//   - *Ack: Outcome of the asynchronous unsubscribe
//   - error: ErrNotConnected, ErrSessionClosed or ErrInvalidTopic; nothing is sent
func (s *Session) Unsubscribe(topics ...string) (*Ack, error) {
	if s.state.isClosed() {
		return nil, ErrSessionClosed
	}
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}

	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: no topics given", ErrInvalidTopic)
	}
	for _, topic := range topics {
		if err := ValidateTopicFilter(topic); err != nil {
			return nil, err
		}
	}

	token := s.client.Unsubscribe(topics...)

	ack := newAck()
	go func() {
		select {
		case <-token.Done():
		case <-s.done:
			ack.complete(ErrSessionClosed)
			return
		}
		if err := token.Error(); err != nil {
			s.log().Warn("MQTT unsubscribe failed", "topics", topics, "error", err)
			ack.complete(fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err))
			return
		}
		ack.complete(nil)
	}()
	return ack, nil
}
