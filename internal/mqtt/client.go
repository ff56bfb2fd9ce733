package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"power2energy/internal/config"
	"power2energy/internal/homeassistant"
	"power2energy/internal/integrator"
	"power2energy/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

type Client struct {
	client      mqtt.Client
	config      *config.Config
	logger      *logrus.Logger
	accumulator *integrator.Accumulator

	readings map[string]*models.PowerReading

	onTotalUpdate func(entity string, totalKWh float64)
}

type PowerMessage struct {
	// pointer so a payload without a power value is distinguishable
	// from an explicit 0W reading
	Power     *float64  `json:"power"`
	Timestamp time.Time `json:"timestamp"`
}

func NewClient(cfg *config.Config, acc *integrator.Accumulator, logger *logrus.Logger) (*Client, error) {
	c := &Client{
		config:      cfg,
		logger:      logger,
		accumulator: acc,
		readings:    make(map[string]*models.PowerReading),
	}

	// readings map is fixed at construction, handlers only ever read it
	for _, entity := range cfg.Entities() {
		c.readings[entity] = models.NewPowerReading()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(cfg.MQTT.ClientID)
	opts.SetUsername(cfg.MQTT.Username)
	opts.SetPassword(cfg.MQTT.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(60 * time.Second)

	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetOnConnectHandler(c.onConnect)

	c.client = mqtt.NewClient(opts)

	return c, nil
}

func (c *Client) Connect() error {
	c.logger.Info("Connecting to MQTT broker...")

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.logger.Info("Connected to MQTT broker")
	return nil
}

func (c *Client) Disconnect() {
	c.logger.Info("Disconnecting from MQTT broker...")
	c.client.Disconnect(250)
}

func (c *Client) SetTotalUpdateCallback(callback func(entity string, totalKWh float64)) {
	c.onTotalUpdate = callback
}

func (c *Client) onConnect(client mqtt.Client) {
	c.logger.Info("MQTT connected, publishing discovery and subscribing...")

	if err := c.publishDiscovery(); err != nil {
		c.logger.Errorf("Failed to publish discovery config: %v", err)
	}

	// retained totals published on a previous run seed the accumulator
	for _, entity := range c.config.Entities() {
		topic := c.energyTopic(entity)
		if token := client.Subscribe(topic, 1, c.makeSeedHandler(entity)); token.Wait() && token.Error() != nil {
			c.logger.Errorf("Failed to subscribe to seed topic %s: %v", topic, token.Error())
		}
	}

	for _, source := range c.config.Sources.MQTT {
		if token := client.Subscribe(source.Topic, 1, c.makePowerHandler(source.Entity)); token.Wait() && token.Error() != nil {
			c.logger.Errorf("Failed to subscribe to power topic %s: %v", source.Topic, token.Error())
		} else {
			c.logger.Infof("Subscribed to power topic %s for entity %s", source.Topic, source.Entity)
		}
	}
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	c.logger.Errorf("MQTT connection lost: %v", err)
}

func (c *Client) publishDiscovery() error {
	device := homeassistant.Device{
		Identifiers: []string{c.config.Device.ID},
		Name:        c.config.Device.Name,
	}

	var items []homeassistant.ConfigurationItem
	for _, entity := range c.config.Entities() {
		items = append(items,
			homeassistant.EnergySensor(device, c.config.Device.ID, entity,
				c.energyTopic(entity), c.availabilityTopic(entity)),
			homeassistant.PowerSensor(device, c.config.Device.ID, entity,
				c.powerTopic(entity), c.availabilityTopic(entity)),
		)
	}

	return homeassistant.SendConfigurationToHa(c.client, c.config.MQTT.DiscoveryPrefix, items)
}

func (c *Client) makeSeedHandler(entity string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		total, err := strconv.ParseFloat(string(msg.Payload()), 64)
		if err != nil {
			c.logger.Warnf("Ignoring unparseable retained total for %s: %v", entity, err)
			return
		}

		c.accumulator.Seed(entity, total)

		// one retained value is all we need, drop the subscription
		topic := msg.Topic()
		go func() {
			if token := client.Unsubscribe(topic); token.Wait() && token.Error() != nil {
				c.logger.Errorf("Failed to unsubscribe from seed topic %s: %v", topic, token.Error())
			}
		}()
	}
}

func (c *Client) makePowerHandler(entity string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		c.logger.Debugf("Received power message for %s: %s", entity, string(msg.Payload()))

		power, ts, err := parsePower(msg.Payload())
		if err != nil {
			c.logger.Errorf("Failed to parse power value for %s: %v", entity, err)
			return
		}

		c.HandleReading(entity, power, ts)
	}
}

// parsePower accepts either a JSON object with power and optional
// timestamp fields, or a bare numeric payload stamped on arrival.
// A JSON object without a power value is an error, never a 0W reading.
func parsePower(payload []byte) (float64, time.Time, error) {
	if len(payload) > 0 && payload[0] == '{' && json.Valid(payload) {
		var powerMsg PowerMessage
		if err := json.Unmarshal(payload, &powerMsg); err != nil {
			return 0, time.Time{}, err
		}
		if powerMsg.Power == nil {
			return 0, time.Time{}, errors.New("payload has no power value")
		}
		ts := powerMsg.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		return *powerMsg.Power, ts, nil
	}

	power, err := strconv.ParseFloat(string(payload), 64)
	if err != nil {
		return 0, time.Time{}, err
	}
	return power, time.Now(), nil
}

// HandleReading is the single funnel for every source: it records the
// raw reading, runs the integrator and publishes the updated total.
func (c *Client) HandleReading(entity string, powerWatts float64, ts time.Time) {
	reading, ok := c.readings[entity]
	if !ok {
		c.logger.Warnf("Reading for unknown entity %s, ignoring", entity)
		return
	}
	reading.Update(powerWatts, ts)

	total := c.accumulator.Update(entity, ts, powerWatts)

	precision := c.config.Integrator.Precision
	c.publish(c.energyTopic(entity), strconv.FormatFloat(total, 'f', precision, 64), true)
	c.publish(c.powerTopic(entity), strconv.FormatFloat(powerWatts, 'f', 1, 64), false)

	c.logger.Debugf("Entity %s: %.1fW -> %.*fkWh", entity, powerWatts, precision, total)

	if c.onTotalUpdate != nil {
		c.onTotalUpdate(entity, total)
	}
}

// StartAvailabilityLoop marks entities online/offline from reading age.
func (c *Client) StartAvailabilityLoop(ctx context.Context) {
	timeout := time.Duration(c.config.Availability.TimeoutMinutes) * time.Minute
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	c.logger.Info("Starting availability loop")

	lastStatus := make(map[string]string)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Stopping availability loop")
			return
		case <-ticker.C:
			for entity, reading := range c.readings {
				status := availabilityStatus(reading.Age(), timeout)
				if lastStatus[entity] == status {
					continue
				}
				lastStatus[entity] = status
				c.publish(c.availabilityTopic(entity), status, true)
				c.logger.Infof("Entity %s is %s", entity, status)
			}
		}
	}
}

// availabilityStatus maps reading age to online/offline. A negative age
// means no reading has ever arrived. A timeout of zero disables the
// staleness check, entities stay online once their first reading lands.
func availabilityStatus(age, timeout time.Duration) string {
	if age < 0 {
		return "offline"
	}
	if timeout > 0 && age > timeout {
		return "offline"
	}
	return "online"
}

func (c *Client) publish(topic, payload string, retained bool) {
	token := c.client.Publish(topic, 0, retained, payload)
	token.Wait()
	if token.Error() != nil {
		c.logger.Errorf("Failed to publish to %s: %v", topic, token.Error())
	}
}

func (c *Client) energyTopic(entity string) string {
	return c.config.MQTT.BaseTopic + "/" + entity + "/energy"
}

func (c *Client) powerTopic(entity string) string {
	return c.config.MQTT.BaseTopic + "/" + entity + "/power"
}

func (c *Client) availabilityTopic(entity string) string {
	return c.config.MQTT.BaseTopic + "/" + entity + "/availability"
}
