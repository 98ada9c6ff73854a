package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/think-ai-agent/internal/config"
)

// publishTimeout bounds a single head announcement so a slow broker
// cannot hold up the end of an agent run.
const publishTimeout = 5 * time.Second

// HeadUpdate is the payload published when a chat's head moves.
type HeadUpdate struct {
	ChatID     string    `json:"chat_id"`
	Head       int64     `json:"head"`
	InstanceID string    `json:"instance_id"`
	At         time.Time `json:"at"`
}

// Notifier manages the MQTT connection and publishes chat head updates.
type Notifier struct {
	cfg        config.MQTTConfig
	instanceID string
	logger     *slog.Logger
	now        func() time.Time

	mu sync.RWMutex
	cm *autopaho.ConnectionManager
}

// New creates a Notifier but does not connect. Call [Notifier.Start]
// to connect.
func New(cfg config.MQTTConfig, instanceID string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		cfg:        cfg,
		instanceID: instanceID,
		logger:     logger.With("component", "mqtt"),
		now:        time.Now,
	}
}

// Start connects to the broker and blocks until ctx is cancelled, then
// publishes "offline" and disconnects.
func (n *Notifier) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(n.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := n.availabilityTopic()
	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: n.cfg.Username,
		ConnectPassword: []byte(n.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			n.logger.Info("mqtt connected to broker", "broker", n.cfg.Broker)
			n.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			n.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: n.clientID(),
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	n.mu.Lock()
	n.cm = cm
	n.mu.Unlock()

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := cm.AwaitConnection(connCtx); err != nil {
		n.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	connCancel()

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer stopCancel()
	n.publishAvailability(stopCtx, cm, "offline")
	n.mu.Lock()
	n.cm = nil
	n.mu.Unlock()
	if err := cm.Disconnect(stopCtx); err != nil {
		n.logger.Debug("mqtt disconnect", "error", err)
	}
	return nil
}

// ChatUpdated publishes the new head of chatID as a retained message.
// Without a connection the update is dropped.
func (n *Notifier) ChatUpdated(ctx context.Context, chatID string, head int64) {
	n.mu.RLock()
	cm := n.cm
	n.mu.RUnlock()
	if cm == nil {
		n.logger.Debug("mqtt not connected, head update dropped", "chat_id", chatID, "head", head)
		return
	}

	payload, err := n.headPayload(chatID, head)
	if err != nil {
		n.logger.Error("mqtt marshal head update", "chat_id", chatID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	topic := n.headTopic(chatID)
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  true,
	}); err != nil {
		n.logger.Warn("mqtt head publish failed", "chat_id", chatID, "topic", topic, "error", err)
		return
	}
	n.logger.Debug("mqtt head published", "chat_id", chatID, "head", head, "topic", topic)
}

func (n *Notifier) headPayload(chatID string, head int64) ([]byte, error) {
	return json.Marshal(HeadUpdate{
		ChatID:     chatID,
		Head:       head,
		InstanceID: n.instanceID,
		At:         n.now().UTC(),
	})
}

func (n *Notifier) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   n.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		n.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	n.logger.Info("mqtt availability published", "status", status)
}

// --- Topic helpers ---

func (n *Notifier) baseTopic() string {
	return n.cfg.TopicPrefix + "/" + n.cfg.DeviceName
}

func (n *Notifier) availabilityTopic() string {
	return n.baseTopic() + "/availability"
}

func (n *Notifier) headTopic(chatID string) string {
	return n.baseTopic() + "/chats/" + chatID + "/head"
}

func (n *Notifier) clientID() string {
	id := n.instanceID
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	return n.cfg.DeviceName + "-" + id
}
