package sx127x

import (
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// watchInterval bounds each WaitForEdge so the watcher notices Close.
const watchInterval = time.Second

type irqKind int

const (
	irqNone irqKind = iota
	irqCadDone
	irqRxDone
	irqTxDone
)

// irqEvent is what one DIO0 interrupt resolved to.
type irqEvent struct {
	kind     irqKind
	length   int
	detected bool
}

type watcher struct {
	quit chan struct{}
	done chan struct{}
	busy atomic.Bool // servicing an interrupt, callbacks included
}

func (w *watcher) stop() {
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
}

// OnReceive registers the function called with the packet length each time a packet is
// received while in continuous receive mode (see Receive). It runs on the interrupt goroutine
// and may use Read, ReadByte, PacketRssi and friends to consume the packet. A nil function
// removes the callback.
func (d *Device) OnReceive(f func(length int)) error {
	d.cbMu.Lock()
	d.onReceive = f
	d.cbMu.Unlock()
	return d.armIRQ()
}

// OnTxDone registers the function called when an asynchronous EndPacket completes.
func (d *Device) OnTxDone(f func()) error {
	d.cbMu.Lock()
	d.onTxDone = f
	d.cbMu.Unlock()
	return d.armIRQ()
}

// OnCadDone registers the function called when channel activity detection finishes, with
// true if a LoRa preamble was detected.
func (d *Device) OnCadDone(f func(detected bool)) error {
	d.cbMu.Lock()
	d.onCadDone = f
	d.cbMu.Unlock()
	return d.armIRQ()
}

func (d *Device) hasCallbacks() bool {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	return d.onReceive != nil || d.onTxDone != nil || d.onCadDone != nil
}

// armIRQ starts the DIO0 watcher the first time a callback is installed. The watcher stays up
// until Close; while no callback is installed it leaves the IRQ flags alone so that the
// polling API keeps working.
func (d *Device) armIRQ() error {
	if !d.hasCallbacks() {
		return nil
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if d.dio0 == nil {
		return ErrNoIRQPin
	}

	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	if d.cbClosed {
		return ErrClosed
	}
	if d.watch != nil {
		return nil
	}
	if err := d.dio0.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return err
	}
	w := &watcher{quit: make(chan struct{}), done: make(chan struct{})}
	d.watch = w
	go d.watchDIO0(w)
	return nil
}

// watchDIO0 turns DIO0 rising edges into handleDio0Rise calls.
func (d *Device) watchDIO0(w *watcher) {
	defer close(w.done)
	defer d.dio0.In(gpio.PullDown, gpio.NoEdge)
	for {
		select {
		case <-w.quit:
			d.log.Debug("dio0 watcher exiting")
			return
		default:
		}
		if d.dio0.WaitForEdge(watchInterval) {
			w.service(d)
		} else if d.dio0.Read() == gpio.High {
			d.log.Debug("dio0 edge was missed")
			w.service(d)
		}
	}
}

func (w *watcher) service(d *Device) {
	w.busy.Store(true)
	defer w.busy.Store(false)
	d.handleDio0Rise()
}

// handleDio0Rise services one interrupt: it acknowledges the IRQ flags once and fires at most
// one callback, after the register lock has been released.
func (d *Device) handleDio0Rise() {
	if !d.hasCallbacks() {
		return
	}
	ev, err := d.serviceIRQ()
	if err != nil {
		d.log.WithError(err).Error("servicing dio0 interrupt")
		return
	}

	d.cbMu.Lock()
	onReceive, onTxDone, onCadDone := d.onReceive, d.onTxDone, d.onCadDone
	d.cbMu.Unlock()

	switch ev.kind {
	case irqCadDone:
		if onCadDone != nil {
			onCadDone(ev.detected)
		}
	case irqRxDone:
		if onReceive != nil {
			onReceive(ev.length)
		}
	case irqTxDone:
		if onTxDone != nil {
			onTxDone()
		}
	}
}

func (d *Device) serviceIRQ() (irqEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	irq, err := d.snapshotIRQ()
	if err != nil {
		return irqEvent{}, err
	}
	d.log.WithField("irq", irq).Debug("dio0 interrupt")

	switch {
	case irq&IrqCadDoneMask != 0:
		return irqEvent{kind: irqCadDone, detected: irq&IrqCadDetectedMask != 0}, nil
	case irq&IrqPayloadCrcErrorMask != 0:
		return irqEvent{}, nil
	case irq&IrqRxDoneMask != 0:
		n, err := d.openRxPacket()
		if err != nil {
			return irqEvent{}, err
		}
		return irqEvent{kind: irqRxDone, length: n}, nil
	case irq&IrqTxDoneMask != 0:
		return irqEvent{kind: irqTxDone}, nil
	}
	return irqEvent{}, nil
}
