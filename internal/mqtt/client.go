package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"herdwatch/internal/logger"
	"herdwatch/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var log = logger.Tagged("mqtt")

type Client struct {
	client mqtt.Client
	config models.MQTTConfig
}

func NewClient(cfg models.MQTTConfig) *Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.User != "" {
		opts.SetUsername(cfg.User)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Infof("Connected to MQTT broker at %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Warnf("Lost connection to MQTT broker: %v", err)
	})

	return newWithClient(mqtt.NewClient(opts), cfg)
}

func newWithClient(c mqtt.Client, cfg models.MQTTConfig) *Client {
	return &Client{client: c, config: cfg}
}

func (c *Client) Connect() error {
	token := c.client.Connect()
	if token.WaitTimeout(30*time.Second) && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// SubscribeCommands delivers decoded camera commands to handler. Malformed
// payloads are logged and dropped.
func (c *Client) SubscribeCommands(handler func(models.CameraCommand)) error {
	topic := c.config.CommandTopic
	token := c.client.Subscribe(topic, 1, func(client mqtt.Client, msg mqtt.Message) {
		var cmd models.CameraCommand
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			log.Warnf("Failed to unmarshal camera command: %v", err)
			return
		}
		if cmd.Camera == "" {
			log.Warnf("Ignoring command without camera: %s", msg.Payload())
			return
		}
		handler(cmd)
	})

	if token.Wait() && token.Error() != nil {
		return token.Error()
	}

	log.Infof("Subscribed to topic: %s", topic)
	return nil
}

func (c *Client) Publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	token := c.client.Publish(topic, 0, false, data)
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// PublishStatus publishes a retained status message under
// <status_topic>/<camera>.
func (c *Client) PublishStatus(status models.CameraStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	token := c.client.Publish(c.config.StatusTopic+"/"+status.Camera, 0, true, data)
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (c *Client) EventsTopic() string { return c.config.EventsTopic }

func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}
