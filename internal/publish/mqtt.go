package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/lexiqai/sentiment-gateway/internal/fusion"
)

const defaultPublishTimeout = 5 * time.Second

// MQTTConfig holds MQTT sink configuration
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string // results go to {TopicPrefix}/{session_id}
	PublishTimeout time.Duration
}

// MQTTPublisher writes each result as JSON to a per-session topic at QoS 0.
type MQTTPublisher struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewMQTTPublisher connects to the broker and returns a publisher.
func NewMQTTPublisher(cfg MQTTConfig, logger zerolog.Logger) (*MQTTPublisher, error) {
	logger = logger.With().Str("sink", "mqtt").Logger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info().Str("broker", cfg.Broker).Msg("MQTT connection established")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return newMQTTPublisher(client, cfg.TopicPrefix, cfg.PublishTimeout, logger), nil
}

func newMQTTPublisher(client mqtt.Client, prefix string, timeout time.Duration, logger zerolog.Logger) *MQTTPublisher {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &MQTTPublisher{
		client:  client,
		prefix:  strings.TrimRight(prefix, "/"),
		timeout: timeout,
		logger:  logger,
	}
}

func (p *MQTTPublisher) Name() string {
	return "mqtt"
}

// Topic returns the topic results for sessionID are published to.
func (p *MQTTPublisher) Topic(sessionID string) string {
	return p.prefix + "/" + sessionID
}

func (p *MQTTPublisher) Publish(ctx context.Context, sessionID string, r fusion.Result) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return &SinkError{Sink: p.Name(), Err: err}
	}

	topic := p.Topic(sessionID)
	token := p.client.Publish(topic, 0, false, payload)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return &SinkError{Sink: p.Name(), Err: err}
		}
	case <-ctx.Done():
		return &SinkError{Sink: p.Name(), Err: ctx.Err()}
	case <-timer.C:
		return &SinkError{Sink: p.Name(), Err: fmt.Errorf("publish to %s timed out after %s", topic, p.timeout)}
	}

	p.logger.Debug().Str("topic", topic).Msg("Result published")
	return nil
}

// Check reports whether the broker connection is up.
func (p *MQTTPublisher) Check(context.Context) (bool, error) {
	if !p.client.IsConnectionOpen() {
		return false, fmt.Errorf("not connected to MQTT broker")
	}
	return true, nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	p.logger.Info().Msg("MQTT disconnected")
	return nil
}
