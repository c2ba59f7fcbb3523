package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/NV4RE/sx127x"
	log "github.com/sirupsen/logrus"
)

const (
	txQueueLen = 8
	txTimeout  = 5 * time.Second // longest SF12 packet is about 3s on air
)

// radio is the part of *sx127x.Device the gateway drives.
type radio interface {
	Packets(ctx context.Context, size int) (<-chan sx127x.Packet, error)
	OnTxDone(f func()) error
	BeginPacket(implicitHeader bool) error
	Write(p []byte) (int, error)
	EndPacket(async bool) error
	Receive(size int) error
}

// gateway forwards received packets to MQTT and transmits packets arriving from MQTT. The
// radio sits in continuous receive except while a packet is being sent.
type gateway struct {
	radio   radio
	publish func(suffix string, payload interface{})
	log     *log.Entry
	txq     chan []byte
	txDone  chan struct{}
}

func newGateway(r radio, publish func(string, interface{}), logger *log.Entry) *gateway {
	return &gateway{
		radio:   r,
		publish: publish,
		log:     logger,
		txq:     make(chan []byte, txQueueLen),
		txDone:  make(chan struct{}, 1),
	}
}

// run gateways until ctx is done.
func (g *gateway) run(ctx context.Context) error {
	err := g.radio.OnTxDone(func() {
		select {
		case g.txDone <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	rx, err := g.radio.Packets(ctx, 0)
	if err != nil {
		return err
	}
	go g.transmitter(ctx)

	for pkt := range rx {
		g.log.WithFields(log.Fields{
			"len":  len(pkt.Payload),
			"rssi": pkt.RSSI,
			"snr":  pkt.SNR,
		}).Debug("rx")
		g.publish("rx", rxMessage{
			Payload: pkt.Payload,
			RSSI:    pkt.RSSI,
			SNR:     pkt.SNR,
			FEI:     pkt.FrequencyError,
			At:      time.Now(),
		})
	}
	return ctx.Err()
}

// handleTx decodes a txMessage and queues it for sending.
func (g *gateway) handleTx(data []byte) {
	var m txMessage
	if err := json.Unmarshal(data, &m); err != nil {
		g.log.WithError(err).Warn("cannot decode tx message")
		return
	}
	if len(m.Payload) == 0 || len(m.Payload) > sx127x.MaxPktLength {
		g.log.WithField("len", len(m.Payload)).Warn("tx payload size out of range")
		return
	}
	select {
	case g.txq <- m.Payload:
	default:
		g.log.Warn("tx queue full, dropping packet")
	}
}

// transmitter sends queued packets one at a time, returning the radio to receive after each.
func (g *gateway) transmitter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-g.txq:
			if err := g.send(ctx, payload); err != nil {
				g.log.WithError(err).Error("tx")
			}
		}
	}
}

func (g *gateway) send(ctx context.Context, payload []byte) error {
	if err := g.radio.BeginPacket(false); err != nil {
		return err
	}
	if _, err := g.radio.Write(payload); err != nil {
		return err
	}
	t0 := time.Now()
	if err := g.radio.EndPacket(true); err != nil {
		return err
	}

	select {
	case <-g.txDone:
		g.log.WithField("len", len(payload)).Debugf("sent in %.1fms", time.Since(t0).Seconds()*1000)
	case <-time.After(txTimeout):
		g.log.Warn("tx done not signalled")
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.radio.Receive(0)
}
