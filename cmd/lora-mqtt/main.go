// Command lora-mqtt is a single radio LoRa to MQTT gateway. Received packets are published as
// JSON on <prefix>/rx and JSON messages on <prefix>/tx are transmitted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NV4RE/sx127x"
	log "github.com/sirupsen/logrus"
)

func main() {
	confPath := flag.String("config", "/etc/lora-mqtt.ini", "settings file, empty for defaults")
	mqttHost := flag.String("mqtt", "", "MQTT broker host, overrides the settings file")
	prefix := flag.String("prefix", "", "MQTT topic prefix, overrides the settings file")
	debug := flag.Bool("debug", false, "enable debug output")
	flag.Parse()

	if *debug {
		log.SetLevel(log.DebugLevel)
	}
	if err := run(*confPath, *mqttHost, *prefix); err != nil {
		fmt.Fprintf(os.Stderr, "Exiting due to error: %s\n", err)
		os.Exit(2)
	}
}

func run(confPath, mqttHost, prefix string) error {
	s, err := loadSettings(confPath)
	if err != nil {
		return err
	}
	if mqttHost != "" {
		s.MQTT.Host = mqttHost
	}
	if prefix != "" {
		s.MQTT.Prefix = prefix
	}
	logger := log.WithField("prefix", s.MQTT.Prefix)

	mq, err := newMQ(s.MQTT, logger)
	if err != nil {
		return fmt.Errorf("connecting to MQTT broker: %w", err)
	}
	defer mq.close()

	logger.Info("Opening radio")
	opts := s.Radio.opts()
	opts.Logger = logger
	dev, err := sx127x.Open(opts)
	if err != nil {
		return fmt.Errorf("opening radio: %w", err)
	}
	defer dev.Close()
	if err := dev.Begin(s.Radio.Config.Frequency); err != nil {
		return err
	}
	if err := dev.Configure(s.Radio.Config); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw := newGateway(dev, mq.publish, logger)
	if err := mq.subscribe("tx", gw.handleTx); err != nil {
		return err
	}
	logger.Info("Gateway is ready")
	if err := gw.run(ctx); err != context.Canceled {
		return err
	}
	return nil
}
