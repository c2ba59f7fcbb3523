// Package sx127x drives a Semtech SX1276/77/78/79 LoRa transceiver attached to an SPI bus.
//
// The Device talks to the chip one register at a time and keeps only the state the chip
// cannot report itself: the configured frequency, the header mode and the read cursor into the
// last received packet. Transmit and receive complete either by polling (EndPacket(false),
// ParsePacket) or through callbacks fired from the DIO0 interrupt line (OnReceive, OnTxDone,
// OnCadDone).
//
// All methods may be called from multiple goroutines; a per-Device mutex keeps register
// sequences from interleaving with the interrupt handler.
package sx127x

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

// OutPin is the part of gpio.PinOut used for the chip-select and reset lines.
type OutPin interface {
	Out(l gpio.Level) error
}

// IRQPin is the part of gpio.PinIn used for the DIO0 interrupt line.
type IRQPin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
}

// Pins groups the GPIO lines wired to the radio. CS may be nil when the SPI port drives chip
// select itself, Reset may be nil when the reset line is not connected and DIO0 may be nil
// when only the polling API is used.
type Pins struct {
	CS    OutPin
	Reset OutPin
	DIO0  IRQPin
}

// Device is a handle onto one SX127x radio.
type Device struct {
	conn  conn.Conn
	port  io.Closer // set by Open
	cs    OutPin
	reset OutPin
	dio0  IRQPin
	log   *logrus.Entry
	sleep func(time.Duration)

	mu                 sync.Mutex
	frequency          int64
	implicitHeaderMode bool
	packetIndex        int
	closed             bool

	cbMu      sync.Mutex
	onReceive func(int)
	onTxDone  func()
	onCadDone func(bool)
	watch     *watcher
	cbClosed  bool // set by Close, no new watcher may start
}

// New returns a Device using the given SPI connection and pins. Nothing is sent to the chip
// until Begin.
func New(c conn.Conn, pins Pins, logger *logrus.Entry) *Device {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Device{
		conn:  c,
		cs:    pins.CS,
		reset: pins.Reset,
		dio0:  pins.DIO0,
		log:   logger.WithField("dev", "sx127x"),
		sleep: time.Sleep,
	}
}

func (d *Device) String() string {
	return fmt.Sprintf("sx127x(%s)", d.conn)
}

// Begin resets the chip, checks its identity and programs the baseline configuration for the
// given frequency in Hz. The radio is left in standby. ErrVersionMismatch means no SX127x
// answered on the bus and the Device must not be used.
func (d *Device) Begin(frequency int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.resetChip(); err != nil {
		return err
	}

	v, err := d.readRegister(RegVersion)
	if err != nil {
		return err
	}
	if v != chipVersion {
		d.log.WithField("version", fmt.Sprintf("%#x", v)).Error("unexpected chip version")
		return fmt.Errorf("%w: expect %#x found %#x", ErrVersionMismatch, chipVersion, v)
	}
	d.log.WithField("version", fmt.Sprintf("%#x", v)).Debug("chip detected")

	steps := []func() error{
		func() error { return d.setMode(ModeSleep) },
		func() error { return d.setFrequency(frequency) },
		func() error { return d.writeRegister(RegFifoTxBaseAddr, 0) },
		func() error { return d.writeRegister(RegFifoRxBaseAddr, 0) },
		func() error { return d.setLnaBoost(true) },
		func() error { return d.writeRegister(RegModemConfig3, 0x04) },
		func() error { return d.setTxPower(17, false) },
		func() error { return d.setMode(ModeStandby) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) resetChip() error {
	if d.reset == nil {
		return nil
	}
	if err := d.reset.Out(gpio.Low); err != nil {
		return err
	}
	d.sleep(10 * time.Millisecond)
	err := d.reset.Out(gpio.High)
	d.sleep(10 * time.Millisecond)
	return err
}

func (d *Device) setMode(m Mode) error {
	d.log.WithField("mode", m).Debug("set mode")
	return d.writeRegister(RegOpMode, byte(ModeLongRange|m))
}

func (d *Device) readMode() (Mode, error) {
	v, err := d.readRegister(RegOpMode)
	return Mode(v), err
}

// Mode reads back the operating mode, including the long range bit.
func (d *Device) Mode() (Mode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readMode()
}

// Sleep puts the radio into its lowest power mode. The register contents are retained.
func (d *Device) Sleep() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setMode(ModeSleep)
}

// Idle puts the radio into standby.
func (d *Device) Idle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setMode(ModeStandby)
}

// Close stops interrupt processing and puts the radio to sleep. The Device cannot be used
// afterwards. Close waits up to a second for the DIO0 watcher to exit, except when called
// from a callback, in which case the watcher exits as soon as the callback returns.
func (d *Device) Close() error {
	d.cbMu.Lock()
	d.onReceive, d.onTxDone, d.onCadDone = nil, nil, nil
	d.cbClosed = true
	w := d.watch
	d.watch = nil
	d.cbMu.Unlock()
	if w != nil {
		w.stop()
		if !w.busy.Load() {
			<-w.done
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	err := d.setMode(ModeSleep)
	d.closed = true
	if d.port != nil {
		if cerr := d.port.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
