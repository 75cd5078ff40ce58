package mqtt

import "fmt"

// maxPayloadSize caps outbound messages at 1 MiB, matching the event data limit.
const maxPayloadSize = 1 << 20

func validatePublish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return nil
}

// Publish sends a message to the specified MQTT topic and waits for the
// broker to acknowledge it.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "gridhost/fanout/gridUpdated")
//   - payload: The message payload (typically JSON, max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
//
// Retained Messages:
//   - Use for state topics (system status)
//   - Don't use for events
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishAsync queues a non-retained message without waiting for the
// acknowledgement.
//
// Use it on paths that must not block, such as mirroring broadcast events.
// Validation and connection errors are returned immediately; delivery
// failures are only logged.
//
// Parameters:
//   - topic: The topic to publish to
//   - payload: The message payload (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//
// Returns:
//   - error: nil if the message was queued
func (c *Client) PublishAsync(topic string, payload []byte, qos byte) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, false, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("mqtt async publish failed", "topic", topic, "error", err)
			}
		}
	}()
	return nil
}
