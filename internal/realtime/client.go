package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"backend-convoyhub/internal/shared/apperr"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	qosAtMostOnce         = 0
	defaultConnectTimeout = 10 * time.Second
)

type Options struct {
	BrokerURL      string
	MemberID       string
	ConnectTimeout time.Duration
	// AutoReconnect lets paho recover on its own. Client sessions leave it off
	// because the transport selector drives reconnection.
	AutoReconnect bool
	Logger        *slog.Logger
}

// Client is a trip-scoped MQTT publish/subscribe connection.
type Client struct {
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	client mqtt.Client
}

var newMQTTClient = mqtt.NewClient

func NewClient(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{opts: opts, log: log.With("component", "mqtt", "member", opts.MemberID)}
}

// Connect dials the broker. onLost fires from paho's goroutine when an
// established connection drops.
func (c *Client) Connect(ctx context.Context, onLost func(error)) error {
	o := mqtt.NewClientOptions().
		AddBroker(c.opts.BrokerURL).
		SetClientID(fmt.Sprintf("convoy_%s_%d", c.opts.MemberID, time.Now().UnixMilli())).
		SetCleanSession(true).
		SetConnectTimeout(c.opts.ConnectTimeout).
		SetAutoReconnect(c.opts.AutoReconnect).
		SetConnectRetry(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.log.Warn("connection lost", "error", err)
			if onLost != nil {
				onLost(err)
			}
		})

	cl := newMQTTClient(o)
	tok := cl.Connect()
	if err := wait(ctx, tok); err != nil {
		release(ctx, cl, tok)
		return fmt.Errorf("mqtt connect %s: %v: %w", c.opts.BrokerURL, err, apperr.ErrTransport)
	}

	c.mu.Lock()
	old := c.client
	c.client = cl
	c.mu.Unlock()
	if old != nil {
		old.Disconnect(0)
	}
	c.log.Info("connected", "broker", c.opts.BrokerURL)
	return nil
}

// release tears down a client whose connect did not complete. When the
// context gave up first the attempt may still succeed, so the disconnect
// waits for the token.
func release(ctx context.Context, cl mqtt.Client, tok mqtt.Token) {
	if ctx.Err() == nil {
		cl.Disconnect(0)
		return
	}
	go func() {
		<-tok.Done()
		cl.Disconnect(0)
	}()
}

// Subscribe delivers validated peer messages for tripCode to fn. Messages the
// member published itself are discarded.
func (c *Client) Subscribe(ctx context.Context, tripCode string, fn func(LocationMessage)) error {
	cl, err := c.connected()
	if err != nil {
		return err
	}
	topic := Topic(tripCode)
	if err := wait(ctx, cl.Subscribe(topic, qosAtMostOnce, newHandler(c.opts.MemberID, c.log, fn))); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %v: %w", topic, err, apperr.ErrTransport)
	}
	c.log.Info("subscribed", "topic", topic)
	return nil
}

func (c *Client) Unsubscribe(ctx context.Context, tripCode string) error {
	cl, err := c.connected()
	if err != nil {
		return err
	}
	if err := wait(ctx, cl.Unsubscribe(Topic(tripCode))); err != nil {
		return fmt.Errorf("mqtt unsubscribe: %v: %w", err, apperr.ErrTransport)
	}
	return nil
}

func (c *Client) Publish(ctx context.Context, tripCode string, msg LocationMessage) error {
	cl, err := c.connected()
	if err != nil {
		return err
	}
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	if err := wait(ctx, cl.Publish(Topic(tripCode), qosAtMostOnce, false, payload)); err != nil {
		return fmt.Errorf("mqtt publish: %v: %w", err, apperr.ErrTransport)
	}
	return nil
}

// Close releases the connection. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	cl := c.client
	c.client = nil
	c.mu.Unlock()
	if cl != nil {
		cl.Disconnect(250)
		c.log.Info("disconnected")
	}
}

func (c *Client) connected() (mqtt.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || !c.client.IsConnectionOpen() {
		return nil, fmt.Errorf("mqtt not connected: %w", apperr.ErrTransport)
	}
	return c.client, nil
}

func newHandler(selfID string, log *slog.Logger, fn func(LocationMessage)) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		msg, err := DecodeMessage(m.Payload())
		if err != nil {
			log.Warn("dropping malformed location message", "topic", m.Topic(), "error", err)
			return
		}
		if msg.MemberID == selfID {
			return
		}
		fn(msg)
	}
}

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
