package mqtt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxTopicLength is the MQTT limit on a topic's UTF-8 encoded length.
const maxTopicLength = 65535

// Wildcard characters for topic filters.
const (
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
)

// ValidateTopicName checks a topic used for publishing.
//
// A topic name must be non-empty valid UTF-8, at most 65535 bytes, contain
// no NUL character and no wildcards.
//
// Example:
//
//	mqtt.ValidateTopicName("sensors/kitchen/temp") // nil
//	mqtt.ValidateTopicName("sensors/+/temp")       // ErrInvalidTopic
func ValidateTopicName(topic string) error {
	if err := validateTopicCommon(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, singleLevelWildcard+multiLevelWildcard) {
		return fmt.Errorf("%w: wildcards not allowed in topic name %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateTopicFilter checks a topic filter used for subscribing.
//
// Wildcard rules:
//   - + (single-level) must occupy an entire level: "a/+/c"
//   - # (multi-level) must occupy an entire level and be the last one: "a/#"
func ValidateTopicFilter(filter string) error {
	if err := validateTopicCommon(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if level == singleLevelWildcard || level == multiLevelWildcard {
			if level == multiLevelWildcard && i != len(levels)-1 {
				return fmt.Errorf("%w: %q must be the last level in %q", ErrInvalidTopic, multiLevelWildcard, filter)
			}
			continue
		}
		if strings.ContainsAny(level, singleLevelWildcard+multiLevelWildcard) {
			return fmt.Errorf("%w: wildcard must occupy an entire level in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}

func validateTopicCommon(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: topic length %d exceeds %d bytes", ErrInvalidTopic, len(topic), maxTopicLength)
	}
	if !utf8.ValidString(topic) {
		return fmt.Errorf("%w: topic is not valid UTF-8", ErrInvalidTopic)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains NUL character", ErrInvalidTopic)
	}
	return nil
}
