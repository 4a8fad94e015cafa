// Package ingest receives uplinks from the TTN MQTT integration.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/niktheblak/tidegauge-uplink-api/internal/ttn"
)

type Config struct {
	// Broker is the broker URL, e.g. ssl://eu1.cloud.thethings.network:8883
	Broker   string
	Username string
	Password string
	ClientID string
	Topic    string
	Logger   *slog.Logger
}

// Handler processes one parsed uplink
type Handler func(ctx context.Context, up ttn.Uplink) error

type Subscriber struct {
	client    mqtt.Client
	cfg       Config
	handler   Handler
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewSubscriber(cfg Config, handler Handler) (*Subscriber, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt topic is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("uplink handler is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Subscriber{
		cfg:     cfg,
		handler: handler,
		logger:  cfg.Logger,
		stopCh:  make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.setConnected(true)
		s.logger.LogAttrs(context.Background(), slog.LevelInfo, "MQTT connected", slog.String("broker", cfg.Broker))
		// subscriptions do not survive a clean session reconnect
		if err := s.subscribe(); err != nil {
			s.logger.LogAttrs(context.Background(), slog.LevelError, "Failed to subscribe", slog.String("topic", cfg.Topic), slog.Any("error", err))
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		s.logger.LogAttrs(context.Background(), slog.LevelWarn, "MQTT connection lost", slog.Any("error", err))
	})

	s.client = mqtt.NewClient(opts)
	return s, nil
}

// Connect connects to the broker and waits until the initial connection is up
func (s *Subscriber) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return fmt.Errorf("subscriber stopped")
	default:
	}
	if s.IsConnected() {
		return nil
	}
	token := s.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return fmt.Errorf("subscriber stopped")
		default:
		}
	}
}

func (s *Subscriber) subscribe() error {
	token := s.client.Subscribe(s.cfg.Topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(context.Background(), msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", s.cfg.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.cfg.Topic, err)
	}
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "Subscribed to uplinks", slog.String("topic", s.cfg.Topic))
	return nil
}

func (s *Subscriber) handleMessage(ctx context.Context, topic string, data []byte) {
	s.logger.LogAttrs(ctx, slog.LevelDebug, "Received MQTT message", slog.String("topic", topic), slog.Int("size", len(data)))
	up, err := ttn.Parse(data)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "Failed to parse uplink", slog.String("topic", topic), slog.Any("error", err))
		return
	}
	if err := s.handler(ctx, up); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "Failed to process uplink",
			slog.String("topic", topic),
			slog.String("device_id", up.EndDeviceIDs.DeviceID),
			slog.Any("error", err),
		)
	}
}

func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops the subscriber. It is safe to call multiple times.
func (s *Subscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.client != nil {
		s.client.Disconnect(250)
	}
	s.setConnected(false)
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "MQTT disconnected")
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
