package report

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mehtab-ctrl/ReliableUDP-assignment1/session"
)

// MQTTConfig selects the broker. MQTT is off when every field is empty.
type MQTTConfig struct {
	Host  string
	Port  int
	User  string
	Pass  string
	Topic string
	TLS   bool
}

// Enabled reports whether any MQTT option was given.
func (c MQTTConfig) Enabled() bool {
	return c.Host != "" || c.Port != 0 || c.User != "" || c.Pass != "" || c.Topic != ""
}

// Validate requires all options once MQTT is enabled.
func (c MQTTConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Host == "" || c.Port == 0 || c.User == "" || c.Pass == "" || c.Topic == "" {
		return errors.New("when using MQTT, all MQTT parameters are required")
	}
	return nil
}

// Broker returns the broker URL.
func (c MQTTConfig) Broker() string {
	if c.TLS {
		return fmt.Sprintf("ssl://%s:%d", c.Host, c.Port)
	}
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// publisher is the part of mqtt.Client the reporter uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTReporter publishes JSON events to one topic.
type MQTTReporter struct {
	client publisher
	topic  string
	wait   time.Duration
	log    logrus.FieldLogger
}

// Message is the JSON document published for every event.
type Message struct {
	Event string      `json:"event"`
	Time  time.Time   `json:"time"`
	Data  interface{} `json:"data"`
}

// DialMQTT connects to the broker described by cfg.
func DialMQTT(cfg MQTTConfig, clientID string, log logrus.FieldLogger) (*MQTTReporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	opts := mqtt.NewClientOptions()
	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.AddBroker(cfg.Broker())
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Pass)
	opts.SetClientID(clientID)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "connect to MQTT broker %s", cfg.Broker())
	}
	log.WithField("broker", cfg.Broker()).Info("connected to MQTT broker")
	return newMQTTReporter(client, cfg.Topic, log), nil
}

func newMQTTReporter(client publisher, topic string, log logrus.FieldLogger) *MQTTReporter {
	return &MQTTReporter{client: client, topic: topic, wait: 5 * time.Second, log: log}
}

// Publish sends v under the given event name.
func (m *MQTTReporter) Publish(event string, v interface{}) error {
	payload, err := json.Marshal(Message{Event: event, Time: time.Now().UTC(), Data: v})
	if err != nil {
		return errors.Wrapf(err, "encode %s", event)
	}
	token := m.client.Publish(m.topic, 0, false, payload)
	if !token.WaitTimeout(m.wait) {
		return errors.Errorf("publish %s to %s: timed out", event, m.topic)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "publish %s to %s", event, m.topic)
	}
	m.log.WithFields(logrus.Fields{"topic": m.topic, "event": event}).Debug("published")
	return nil
}

func (m *MQTTReporter) Report(res *session.Result) error {
	return m.Publish("result", res)
}

func (m *MQTTReporter) ReportReceipt(rc *session.Receipt) error {
	return m.Publish("receipt", rc)
}

// Close disconnects from the broker.
func (m *MQTTReporter) Close() {
	if c, ok := m.client.(mqtt.Client); ok {
		c.Disconnect(250)
	}
}
