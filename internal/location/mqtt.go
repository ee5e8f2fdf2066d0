package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"clocktrack/internal/config"
	"clocktrack/internal/tracker"
)

const mqttWait = 10 * time.Second

// MQTTProvider receives OwnTracks location reports published by the
// device's location agent to an MQTT topic. A lost broker connection ends
// every live stream; the sampler's recovery re-subscribes, which reconnects.
type MQTTProvider struct {
	opts   *mqtt.ClientOptions
	topic  string
	logger tracker.Logger
	hub    *hub

	mu     sync.Mutex
	client mqtt.Client
}

// NewMQTTProvider prepares a client. The broker is contacted on the first
// Subscribe.
func NewMQTTProvider(cfg config.LocationConfig, logger tracker.Logger) (*MQTTProvider, error) {
	if cfg.MQTTBroker == "" || cfg.MQTTTopic == "" {
		return nil, fmt.Errorf("mqtt location requires mqtt_broker and mqtt_topic to be set")
	}
	p := &MQTTProvider{topic: cfg.MQTTTopic, logger: logger, hub: newHub()}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	clientID := cfg.MQTTClientID
	if clientID == "" {
		clientID = "clocktrack"
	}
	opts.SetClientID(clientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
	}
	if cfg.MQTTPassword != "" {
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(mqttWait)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.logger.Warn("mqtt connection lost", "error", err)
		p.hub.closeAll()
	})
	p.opts = opts
	return p, nil
}

func (p *MQTTProvider) connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.client.IsConnected() {
		return nil
	}

	client := mqtt.NewClient(p.opts)
	if token := client.Connect(); !token.WaitTimeout(mqttWait) || token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}
	token := client.Subscribe(p.topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		p.handle(msg.Payload())
	})
	if !token.WaitTimeout(mqttWait) || token.Error() != nil {
		client.Disconnect(250)
		return fmt.Errorf("failed to subscribe to topic %s: %v", p.topic, token.Error())
	}
	p.client = client
	return nil
}

func (p *MQTTProvider) handle(payload []byte) {
	f, ok, err := DecodeReport(payload)
	if err != nil {
		p.logger.Warn("dropping malformed location report", "error", err)
		return
	}
	if !ok {
		return
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}
	p.hub.publish(f)
}

// Subscribe connects if needed and attaches a new stream.
func (p *MQTTProvider) Subscribe(ctx context.Context, settings tracker.SubscriptionSettings) (tracker.Subscription, error) {
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p.hub.subscribe(nil), nil
}

// CurrentPosition waits for the next report.
func (p *MQTTProvider) CurrentPosition(ctx context.Context) (*tracker.Fix, error) {
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p.hub.next(ctx)
}

// LastKnownPosition returns the most recent report without waiting.
func (p *MQTTProvider) LastKnownPosition(ctx context.Context) (*tracker.Fix, error) {
	return p.hub.lastKnown(), nil
}

// Close disconnects from the broker.
func (p *MQTTProvider) Close() error {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
	p.hub.closeAll()
	return nil
}

var _ tracker.LocationProvider = (*MQTTProvider)(nil)
