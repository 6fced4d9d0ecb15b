package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout bounds publish, subscribe and unsubscribe acknowledgement.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Will is a Last Will and Testament registered with the broker. The broker
// publishes it if the client disconnects without a clean shutdown.
type Will struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

// Option customises a client at Connect time.
type Option func(*connectOptions)

type connectOptions struct {
	will        *Will
	onlineWill  string
	connTimeout time.Duration
}

// WithWill replaces the default system status will with w. When the client
// connects it publishes online to the same topic, retained, so consumers
// such as Home Assistant see the bridge come back.
//
// Parameters:
//   - w: will message (typically payload "offline" on an availability topic)
//   - online: payload published to w.Topic after every (re)connect
func WithWill(w Will, online string) Option {
	return func(o *connectOptions) {
		o.will = &w
		o.onlineWill = online
	}
}

// WithConnectTimeout overrides how long Connect waits for the broker.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *connectOptions) {
		if d > 0 {
			o.connTimeout = d
		}
	}
}

// buildClientOptions creates paho MQTT options from the bridge config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and optional credentials
//   - Auto-reconnect with backoff between the configured delays
//   - Clean session mode
func buildClientOptions(cfg config.MQTTConfig, timeout time.Duration) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	// Initial connect is not retried: Connect reports the failure and the
	// caller decides. Lost connections reconnect automatically.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(timeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// defaultWill is the system status will used when no WithWill option is given.
//
// Topic: graylogic/system/status, QoS 1, retained.
func defaultWill(clientID string) Will {
	return Will{
		Topic: Topics{}.SystemStatus(),
		Payload: fmt.Sprintf(
			`{"status":"offline","client_id":"%s","reason":"unexpected_disconnect","timestamp":"%s"}`,
			clientID,
			time.Now().UTC().Format(time.RFC3339),
		),
		QoS:      1,
		Retained: true,
	}
}

// buildOnlinePayload creates the JSON payload for online status messages.
func buildOnlinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"online","client_id":"%s","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// buildOfflinePayload creates the JSON payload for graceful offline status.
func buildOfflinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"graceful_shutdown","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}
