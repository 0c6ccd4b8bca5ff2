package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	publishTimeout  = 2 * time.Second
	connectTimeout  = 5 * time.Second
	disconnectGrace = 250 // milliseconds
)

// publishClient is the part of mqtt.Client the Publisher uses.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher forwards display events to an MQTT broker so remote display
// surfaces and monitoring tools can follow the node. Notify only enqueues;
// Run does the network work.
type Publisher struct {
	client publishClient
	topic  string
	queue  *Queue
	log    *slog.Logger
}

// message is the JSON payload published for every event.
type message struct {
	Event string `json:"event"`
	Node  string `json:"node"`
	Data  Event  `json:"data,omitempty"`
}

// DialMQTT connects to broker (host:port) with auto-reconnect enabled.
func DialMQTT(broker, clientID string, log *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info("mqtt connection established", slog.String("broker", broker), slog.String("client_id", clientID))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost, will auto-reconnect", slog.String("broker", broker), slog.String("error", err.Error()))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}

// NewPublisher returns a Publisher writing to <topic>/<event name>.
func NewPublisher(client publishClient, topic string, queue *Queue, log *slog.Logger) *Publisher {
	return &Publisher{client: client, topic: topic, queue: queue, log: log}
}

// Notify implements Notifier.
func (p *Publisher) Notify(e Event) {
	p.queue.Notify(e)
}

// Run publishes queued events until ctx is done or a Closed event has been
// published, then disconnects.
func (p *Publisher) Run(ctx context.Context, node string) {
	defer p.client.Disconnect(disconnectGrace)

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-p.queue.Events():
			p.publish(node, e)
			if _, ok := e.(Closed); ok {
				return
			}
		}
	}
}

func (p *Publisher) publish(node string, e Event) {
	msg := message{Event: e.Name(), Node: node}
	if _, closed := e.(Closed); !closed {
		msg.Data = e
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		p.log.Error("unable to encode mqtt event", slog.String("event", e.Name()), slog.String("error", err.Error()))
		return
	}

	topic := p.topic + "/" + e.Name()
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.log.Warn("mqtt publish timeout", slog.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		p.log.Warn("mqtt publish failed", slog.String("topic", topic), slog.String("error", err.Error()))
		return
	}
	p.log.Debug("event published", slog.String("topic", topic), slog.Int("size", len(payload)))
}
