// ABOUTME: Eclipse Paho MQTT implementation of the Broker interface
// ABOUTME: Configures fixed-interval reconnects and forwards lifecycle events to Hooks

package transport

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const keepAlive = 30 * time.Second

// pahoBroker adapts a paho client to Broker.
type pahoBroker struct {
	client mqtt.Client
}

// PahoDialer builds an MQTT broker connection. Reconnects use a fixed
// interval: paho backs off exponentially up to MaxReconnectInterval, so
// pinning the maximum to the interval keeps it flat.
func PahoDialer(opts Options, hooks Hooks) Broker {
	o := mqtt.NewClientOptions()
	o.AddBroker(opts.URL)
	o.SetClientID(opts.ClientID)
	if opts.Username != "" {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}
	o.SetCleanSession(true)
	o.SetKeepAlive(keepAlive)
	o.SetConnectTimeout(opts.ConnectTimeout)
	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(opts.ReconnectInterval)
	o.SetMaxReconnectInterval(opts.ReconnectInterval)

	o.SetOnConnectHandler(func(mqtt.Client) {
		if hooks.OnConnect != nil {
			hooks.OnConnect()
		}
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if hooks.OnConnectionLost != nil {
			hooks.OnConnectionLost(err)
		}
	})
	o.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		if hooks.OnReconnecting != nil {
			hooks.OnReconnecting()
		}
	})

	return &pahoBroker{client: mqtt.NewClient(o)}
}

// Connect waits for the first successful connection. With connect-retry
// enabled paho keeps trying until it succeeds or Disconnect is called.
func (p *pahoBroker) Connect(ctx context.Context) error {
	return wait(ctx, p.client.Connect())
}

func (p *pahoBroker) Subscribe(ctx context.Context, topic string, qos byte, onMessage func(string, []byte)) error {
	tok := p.client.Subscribe(topic, qos, func(_ mqtt.Client, m mqtt.Message) {
		onMessage(m.Topic(), m.Payload())
	})
	return wait(ctx, tok)
}

func (p *pahoBroker) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	return wait(ctx, p.client.Publish(topic, qos, false, payload))
}

func (p *pahoBroker) Disconnect() {
	p.client.Disconnect(0)
}

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
