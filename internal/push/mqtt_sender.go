package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	mqttQoS               = 1
	defaultConnectTimeout = 5 * time.Second
	defaultPublishTimeout = 3 * time.Second
)

var errPublishTimeout = errors.New("push: mqtt publish timed out")

// MQTTConfig describes the broker connection used by MQTTSender.
type MQTTConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	Logger         *zap.Logger
}

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSender publishes each invite to <prefix>/<token> with QoS 1.
// Device apps subscribe to their own token topic.
type MQTTSender struct {
	client         mqttPublisher
	topicPrefix    string
	publishTimeout time.Duration
	logger         *zap.Logger

	mu sync.Mutex
}

// NewMQTTSender connects to the broker and returns a ready sender.
func NewMQTTSender(cfg MQTTConfig) (*MQTTSender, error) {
	if strings.TrimSpace(cfg.BrokerURL) == "" {
		return nil, errors.New("push: mqtt broker url is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(fmt.Sprintf("%s-%d", cfg.ClientID, time.Now().UnixNano()))
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.BrokerURL))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("push: mqtt connect to %s timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("push: mqtt connect: %w", err)
	}

	sender := newMQTTSender(client, cfg.TopicPrefix, cfg.PublishTimeout, logger)
	return sender, nil
}

func newMQTTSender(client mqttPublisher, topicPrefix string, publishTimeout time.Duration, logger *zap.Logger) *MQTTSender {
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTSender{
		client:         client,
		topicPrefix:    strings.TrimRight(topicPrefix, "/"),
		publishTimeout: publishTimeout,
		logger:         logger,
	}
}

// SendMulticast publishes message once per token and reports per-token outcomes.
func (s *MQTTSender) SendMulticast(ctx context.Context, tokens []string, message Message) (BatchResponse, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return BatchResponse{}, fmt.Errorf("push: encode message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	response := BatchResponse{Responses: make([]SendResult, 0, len(tokens))}
	for _, token := range tokens {
		if err := ctx.Err(); err != nil {
			return response, err
		}
		result := SendResult{Token: token, Err: s.publish(s.topicFor(token), payload)}
		if result.Err != nil {
			response.FailureCount++
		} else {
			response.SuccessCount++
		}
		response.Responses = append(response.Responses, result)
	}
	return response, nil
}

// Close disconnects from the broker when the sender owns a real client.
func (s *MQTTSender) Close() {
	if client, ok := s.client.(mqtt.Client); ok {
		client.Disconnect(250)
	}
}

func (s *MQTTSender) publish(topic string, payload []byte) error {
	token := s.client.Publish(topic, mqttQoS, false, payload)
	if !token.WaitTimeout(s.publishTimeout) {
		return errPublishTimeout
	}
	return token.Error()
}

func (s *MQTTSender) topicFor(token string) string {
	return s.topicPrefix + "/" + url.PathEscape(token)
}
