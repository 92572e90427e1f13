// ABOUTME: Broker connection lifecycle: connect, auto-reconnect, re-subscribe, publish, teardown
// ABOUTME: Inbound payloads must be JSON objects; anything else is dropped with a warning

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoTopic is returned when dialing without a subscription topic.
	ErrNoTopic = errors.New("subscription topic required")
	// ErrNotConnected is returned by Publish while the broker is unreachable.
	ErrNotConnected = errors.New("broker not connected")
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("transport closed")
)

// Handler receives every inbound payload that parsed as a JSON object.
type Handler func(topic string, payload json.RawMessage)

// Broker is the subset of an MQTT client the transport drives.
type Broker interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string, qos byte, onMessage func(topic string, payload []byte)) error
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	Disconnect()
}

// Hooks are the lifecycle callbacks a Dialer must wire into its broker.
// OnConnect fires on the initial connection and on every reconnection.
type Hooks struct {
	OnConnect        func()
	OnConnectionLost func(err error)
	OnReconnecting   func()
}

// Dialer builds a broker for the given options.
type Dialer func(opts Options, hooks Hooks) Broker

// Options configures a Client.
type Options struct {
	URL               string
	ClientID          string
	Username          string
	Password          string
	QoS               byte
	ReconnectInterval time.Duration
	ConnectTimeout    time.Duration
	SubscribeTimeout  time.Duration

	// Dialer defaults to the paho MQTT dialer.
	Dialer Dialer
	Logger *slog.Logger
}

// Client is a connection to the broker bound to one subscription topic.
// A client never changes topic: a new topic means a new client.
type Client struct {
	opts    Options
	topic   string
	handler Handler
	broker  Broker

	connected atomic.Bool
	closed    atomic.Bool
	// session counts broker connects and losses; a subscribe retry only
	// applies to the session it was started for.
	session atomic.Uint64

	mu        sync.Mutex
	observers []func(connected bool)
	waiters   []chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// Dial starts connecting to the broker and returns immediately. The client
// keeps retrying in the background at ReconnectInterval and subscribes to
// topic after every successful (re)connection. It reports connected only
// once the subscription is in place.
func Dial(opts Options, topic string, handler Handler) (*Client, error) {
	if topic == "" {
		return nil, ErrNoTopic
	}
	if handler == nil {
		return nil, fmt.Errorf("transport: nil handler")
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.SubscribeTimeout <= 0 {
		opts.SubscribeTimeout = 10 * time.Second
	}
	if opts.ClientID == "" {
		opts.ClientID = "eagence-chat-" + uuid.New().String()[:8]
	}
	if opts.Dialer == nil {
		opts.Dialer = PahoDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:    opts,
		topic:   topic,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With("component", "transport", "topic", topic),
	}
	c.broker = opts.Dialer(opts, Hooks{
		OnConnect:        c.onConnect,
		OnConnectionLost: c.onConnectionLost,
		OnReconnecting:   c.onReconnecting,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.broker.Connect(c.ctx); err != nil && c.ctx.Err() == nil {
			c.logger.Error("broker connect failed", "error", err)
		}
	}()

	return c, nil
}

// Topic returns the subscription topic.
func (c *Client) Topic() string {
	return c.topic
}

// Connected reports whether the broker connection is currently up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// OnStatus registers fn to be called on every connection status change.
func (c *Client) OnStatus(fn func(connected bool)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// WaitConnected blocks until the client is connected or ctx is done.
func (c *Client) WaitConnected(ctx context.Context) error {
	c.mu.Lock()
	if c.connected.Load() {
		c.mu.Unlock()
		return nil
	}
	if c.closed.Load() {
		c.mu.Unlock()
		return ErrClosed
	}
	ch := make(chan struct{})
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	select {
	case <-ch:
		if !c.connected.Load() {
			return ErrClosed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish sends payload on topic. It fails fast with ErrNotConnected when
// the broker is unreachable; nothing is queued.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.connected.Load() {
		return ErrNotConnected
	}
	if err := c.broker.Publish(ctx, topic, c.opts.QoS, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Close tears the connection down without waiting for in-flight work and
// stops all background goroutines. It is safe to call multiple times.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.cancel()
	c.broker.Disconnect()
	c.setConnected(false)

	// retrySubscribe checks closed under mu, so once this section is done
	// no new retry can join wg.
	c.mu.Lock()
	for _, ch := range c.waiters {
		close(ch)
	}
	c.waiters = nil
	c.mu.Unlock()
	c.wg.Wait()

	c.logger.Debug("transport closed")
}

func (c *Client) onConnect() {
	if c.closed.Load() {
		return
	}
	gen := c.session.Add(1)
	c.logger.Info("broker connected")

	if err := c.subscribe(); err != nil {
		// Without the subscription nothing arrives, so the client stays
		// offline and retries until it works or the connection drops.
		c.logger.Error("subscribe failed", "error", err)
		c.retrySubscribe(gen)
		return
	}
	c.setConnected(true)
}

func (c *Client) subscribe() error {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.SubscribeTimeout)
	defer cancel()
	if err := c.broker.Subscribe(ctx, c.topic, c.opts.QoS, c.receive); err != nil {
		return err
	}
	c.logger.Debug("subscribed")
	return nil
}

// retrySubscribe resubscribes every ReconnectInterval while the broker
// session gen is current.
func (c *Client) retrySubscribe(gen uint64) {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		t := time.NewTicker(c.opts.ReconnectInterval)
		defer t.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-t.C:
			}
			if c.session.Load() != gen {
				return
			}
			if err := c.subscribe(); err != nil {
				c.logger.Warn("subscribe retry failed", "error", err)
				continue
			}
			if c.session.Load() == gen {
				c.setConnected(true)
			}
			return
		}
	}()
}

func (c *Client) onConnectionLost(err error) {
	c.session.Add(1)
	c.logger.Warn("broker connection lost", "error", err)
	c.setConnected(false)
}

func (c *Client) onReconnecting() {
	c.logger.Debug("reconnecting to broker")
}

// receive is the broker message callback. It must not block.
func (c *Client) receive(topic string, payload []byte) {
	if c.closed.Load() {
		return
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil || probe == nil {
		c.logger.Warn("dropping undecodable message",
			"error", err,
			"bytes", len(payload))
		return
	}

	c.handler(topic, json.RawMessage(payload))
}

func (c *Client) setConnected(v bool) {
	if v && c.closed.Load() {
		return
	}
	if c.connected.Swap(v) == v {
		return
	}

	c.mu.Lock()
	observers := slices.Clone(c.observers)
	var waiters []chan struct{}
	if v {
		waiters = c.waiters
		c.waiters = nil
	}
	c.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	for _, fn := range observers {
		fn(v)
	}
}
