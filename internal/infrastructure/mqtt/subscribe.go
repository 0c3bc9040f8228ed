package mqtt

import (
	"fmt"
)

// Subscribe subscribes to every filter in topics with a single SUBSCRIBE
// packet at the configured QoS. Messages are delivered to the callback set
// with SetOnMessage.
//
// Subscriptions do not survive a reconnect (clean session). Call Subscribe
// again from the connection callback.
func (c *Client) Subscribe(topics []string) error {
	if len(topics) == 0 {
		return nil
	}

	qos := c.qos()
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		if err := ValidateFilter(topic); err != nil {
			return err
		}
		filters[topic] = qos
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.SubscribeMultiple(filters, c.handleMessage)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}
