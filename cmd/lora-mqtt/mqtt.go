package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// rxMessage is published on <prefix>/rx for every packet received.
type rxMessage struct {
	Payload []byte    `json:"payload"`
	RSSI    int       `json:"rssi"` // dBm
	SNR     float64   `json:"snr"`  // dB
	FEI     int64     `json:"fei"`  // Hz
	At      time.Time `json:"at"`
}

// txMessage is expected on <prefix>/tx.
type txMessage struct {
	Payload []byte `json:"payload"`
}

// mq is a handle onto a broker connection. The paho client reconnects by itself.
type mq struct {
	conn   mqtt.Client
	prefix string
	log    *log.Entry
}

func newMQ(conf mqttSettings, logger *log.Entry) (*mq, error) {
	hostname, _ := os.Hostname()
	id := "lora-mqtt-" + hostname
	logger.WithField("client", id).Debugf("configuring MQTT for %s:%d", conf.Host, conf.Port)

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", conf.Host, conf.Port))
	opts.ClientID = id
	opts.Username = conf.User
	opts.Password = conf.Password
	opts.AutoReconnect = true

	conn := mqtt.NewClient(opts)
	token := conn.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connecting to %s:%d timed out", conf.Host, conf.Port)
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	logger.Info("MQTT connected")
	return &mq{conn: conn, prefix: conf.Prefix, log: logger}, nil
}

func (m *mq) topic(suffix string) string {
	return m.prefix + "/" + suffix
}

// publish sends payload as JSON on <prefix>/<suffix>.
func (m *mq) publish(suffix string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		m.log.WithError(err).Error("encoding MQTT payload")
		return
	}
	m.conn.Publish(m.topic(suffix), 1, false, data)
}

// subscribe calls fn with the raw payload of every message on <prefix>/<suffix>.
func (m *mq) subscribe(suffix string, fn func([]byte)) error {
	topic := m.topic(suffix)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		fn(msg.Payload())
	}
	token := m.conn.Subscribe(topic, 1, handler)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("subscribing to %s timed out", topic)
	}
	return token.Error()
}

func (m *mq) close() {
	m.conn.Disconnect(250)
}
