package api

import (
	"errors"
	"unicode/utf8"

	"github.com/nerrad567/gridhost/internal/infrastructure/mqtt"
)

// subscribeEvents relays {prefix}/event/{name} messages from the bus to
// listeners. The message payload becomes the event data unchanged.
func (s *Server) subscribeEvents() error {
	if s.mqtt == nil {
		return nil // MQTT not configured; relay disabled
	}
	topic := s.mqtt.Topics().AllEvents()
	s.logger.Info("relaying external events to listeners", "topic", topic)
	return s.mqtt.Subscribe(topic, s.mqtt.QoS(), s.relayHandler(s.mqtt.Topics()))
}

func (s *Server) unsubscribeEvents() {
	if s.mqtt == nil || !s.mqtt.IsConnected() {
		return
	}
	if err := s.mqtt.Unsubscribe(s.mqtt.Topics().AllEvents()); err != nil {
		s.logger.Debug("failed to unsubscribe event relay", "error", err)
	}
}

// errNotUTF8 rejects binary payloads, which cannot travel in a text frame.
var errNotUTF8 = errors.New("api: event payload is not valid UTF-8")

// relayHandler publishes each bus message under the name taken from its topic.
func (s *Server) relayHandler(topics mqtt.Topics) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		name, ok := topics.EventName(topic)
		if !ok {
			s.logger.Debug("ignoring message outside the event namespace", "topic", topic)
			return nil
		}
		if !utf8.Valid(payload) {
			return errNotUTF8
		}
		return s.broadcaster.Publish(name, string(payload))
	}
}
