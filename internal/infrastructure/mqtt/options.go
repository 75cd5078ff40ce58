package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	json "github.com/goccy/go-json"

	"github.com/nerrad567/gridhost/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is in milliseconds, as paho expects.
	defaultDisconnectQuiesce = 1000

	defaultKeepAlive = 60 * time.Second
	maxQoS           = 2
)

// Status values published on the system status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	reasonUnexpected = "unexpected_disconnect"
	reasonShutdown   = "graceful_shutdown"
)

// statusMessage is the retained payload on {prefix}/system/status.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(status, clientID, reason string, at time.Time) []byte {
	b, _ := json.Marshal(statusMessage{ //nolint:errcheck // string fields only
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
	return b
}

// brokerURL returns tcp:// or ssl:// for the configured broker.
func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// buildClientOptions maps gridhost configuration onto paho options:
// clean session, auto-reconnect with backoff, and TLS 1.2+ when enabled.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return opts
}

// configureLWT makes the broker publish a retained offline status if the
// connection drops without a clean disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	payload := statusPayload(StatusOffline, clientID, reasonUnexpected, time.Now())
	opts.SetBinaryWill(topics.SystemStatus(), payload, 1, true)
}
