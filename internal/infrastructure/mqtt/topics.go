package mqtt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxTopicLength is the MQTT limit on UTF-8 encoded topic names.
const maxTopicLength = 65535

// ValidateTopic checks a topic name used for publishing. Wildcards are not
// allowed in topic names.
func ValidateTopic(topic string) error {
	if err := validateCommon(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in topic name %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateFilter checks a subscription filter. "+" must occupy a whole
// level and "#" must be the whole last level.
func ValidateFilter(filter string) error {
	if err := validateCommon(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: %q: '+' must occupy a whole level", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: %q: '#' must be the last level", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// IsWildcard reports whether filter contains a wildcard.
func IsWildcard(filter string) bool {
	return strings.ContainsAny(filter, "+#")
}

func validateCommon(topic string) error {
	switch {
	case topic == "":
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	case len(topic) > maxTopicLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidTopic, maxTopicLength)
	case !utf8.ValidString(topic):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidTopic)
	case strings.ContainsRune(topic, 0):
		return fmt.Errorf("%w: contains NUL", ErrInvalidTopic)
	}
	return nil
}
