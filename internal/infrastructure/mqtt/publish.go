package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends payload to topic using the configured QoS.
//
// Retained Messages:
//   - When true, broker stores the last message for each topic
//   - New subscribers immediately receive the retained message
//   - Pin state is retained by default; mappings may opt out
//
// Returns:
//   - error: ErrNotConnected while offline, or a wrapped ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, retain bool) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	qos := c.qos()
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

func (c *Client) qos() byte {
	if c.cfg.QoS < 0 {
		return 0
	}
	return byte(c.cfg.QoS)
}
