// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package client adapts the external MQTT client library into the
// ingestion coordinator. Broker protocol handling stays entirely inside
// paho; this package only wires its callbacks to the history engine.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mqlens/mqlens/config"
	"github.com/mqlens/mqlens/ingest"
	"github.com/mqlens/mqlens/topics"
)

const opTimeout = 10 * time.Second

// Client maintains one broker connection and feeds every inbound publish
// to the coordinator exactly once.
type Client struct {
	cfg    config.BrokerConfig
	coord  *ingest.Coordinator
	logger *slog.Logger
	cli    mqtt.Client
}

// New creates a broker client bound to the coordinator.
func New(cfg config.BrokerConfig, coord *ingest.Coordinator, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		coord:  coord,
		logger: logger,
	}
}

// Connect establishes the broker connection. On every (re)connect the
// coordinator's session resets, so the tree starts empty for the new
// broker session, and the configured subscriptions are re-established.
func (c *Client) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.URL).
		SetClientID(c.cfg.ClientID).
		SetUsername(c.cfg.Username).
		SetPassword(c.cfg.Password).
		SetKeepAlive(c.cfg.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(c.cfg.ConnectRetry).
		SetOrderMatters(true).
		SetDefaultPublishHandler(c.onMessage).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.Warn("broker connection lost", "broker", c.cfg.URL, "error", err)
		})

	c.cli = mqtt.NewClient(opts)
	tok := c.cli.Connect()
	select {
	case <-ctx.Done():
		return fmt.Errorf("connect to %s: %w", c.cfg.URL, ctx.Err())
	case <-time.After(opTimeout):
		return fmt.Errorf("connect to %s: timeout", c.cfg.URL)
	case <-tok.Done():
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", c.cfg.URL, err)
	}
	return nil
}

func (c *Client) onConnect(cli mqtt.Client) {
	c.logger.Info("broker connected", "broker", c.cfg.URL, "client_id", c.cfg.ClientID)

	if err := c.coord.ResetSession(context.Background()); err != nil {
		c.logger.Warn("session reset failed", "error", err)
	}

	for _, filter := range c.cfg.Subscriptions {
		if err := c.Subscribe(filter, 0); err != nil {
			c.logger.Warn("initial subscribe failed", "filter", filter, "error", err)
		}
	}
}

// onMessage is the single ingress callback: every message the broker
// delivers passes through the coordinator once, on paho's delivery
// goroutine. Ingestion failures are logged and tolerated; one bad
// message must not halt the stream.
func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	_, err := c.coord.OnMessage(context.Background(),
		msg.Topic(), msg.Payload(), msg.Qos(), msg.Retained(), c.cfg.ClientID)
	if err != nil {
		c.logger.Warn("message ingestion degraded", "topic", msg.Topic(), "error", err)
	}
}

// Subscribe subscribes to a topic filter and reflects the subscription
// on the tree. Wildcard filters are tracked only at the broker; the tree
// flags concrete paths.
func (c *Client) Subscribe(filter string, qos byte) error {
	if err := topics.ValidateFilter(filter); err != nil {
		return err
	}
	tok := c.cli.Subscribe(filter, qos, nil)
	if !tok.WaitTimeout(opTimeout) {
		return fmt.Errorf("subscribe %s: timeout", filter)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	if !topics.HasWildcard(filter) {
		c.coord.MarkSubscribed(filter, true)
	}
	return nil
}

// Unsubscribe removes a subscription and clears the tree flag.
func (c *Client) Unsubscribe(filter string) error {
	tok := c.cli.Unsubscribe(filter)
	if !tok.WaitTimeout(opTimeout) {
		return fmt.Errorf("unsubscribe %s: timeout", filter)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", filter, err)
	}
	if !topics.HasWildcard(filter) {
		c.coord.MarkSubscribed(filter, false)
	}
	return nil
}

// Publish sends a message to the broker. Outbound messages come back
// through the subscription path, so they are not ingested here.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := topics.ValidateTopicName(topic); err != nil {
		return err
	}
	tok := c.cli.Publish(topic, qos, retained, payload)
	if !tok.WaitTimeout(opTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Disconnect closes the broker connection gracefully.
func (c *Client) Disconnect() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
}
