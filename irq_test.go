package sx127x

import (
	"context"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

type irqCalls struct {
	rx  []int
	tx  int
	cad []bool
}

func TestHandleDio0Rise(t *testing.T) {
	tests := map[string]struct {
		irq  byte
		want irqCalls
	}{
		"rx done":          {IrqRxDoneMask, irqCalls{rx: []int{42}}},
		"tx done":          {IrqTxDoneMask, irqCalls{tx: 1}},
		"cad idle":         {IrqCadDoneMask, irqCalls{cad: []bool{false}}},
		"cad detected":     {IrqCadDoneMask | IrqCadDetectedMask, irqCalls{cad: []bool{true}}},
		"crc error":        {IrqRxDoneMask | IrqPayloadCrcErrorMask, irqCalls{}},
		"crc error and tx": {IrqPayloadCrcErrorMask | IrqTxDoneMask, irqCalls{}},
		"rx wins over tx":  {IrqRxDoneMask | IrqTxDoneMask, irqCalls{rx: []int{42}}},
		"nothing":          {0, irqCalls{}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := qt.New(t)
			d, f := newTestDevice(t, Pins{})
			f.set(RegIrqFlags, tc.irq)
			f.set(RegRxNbBytes, 42)
			f.set(RegFifoRxCurrentAddr, 0x10)

			var got irqCalls
			d.onReceive = func(n int) { got.rx = append(got.rx, n) }
			d.onTxDone = func() { got.tx++ }
			d.onCadDone = func(detected bool) { got.cad = append(got.cad, detected) }
			d.handleDio0Rise()

			c.Assert(got.rx, qt.DeepEquals, tc.want.rx)
			c.Assert(got.tx, qt.Equals, tc.want.tx)
			c.Assert(got.cad, qt.DeepEquals, tc.want.cad)
			c.Assert(f.get(RegIrqFlags), qt.Equals, byte(0))
			if tc.want.rx != nil {
				c.Assert(f.get(RegFifoAddrPtr), qt.Equals, byte(0x10))
			}
		})
	}
}

func TestHandleDio0RiseWithoutCallbacks(t *testing.T) {
	c := qt.New(t)
	d, f := newTestDevice(t, Pins{})
	f.set(RegIrqFlags, IrqRxDoneMask)
	f.set(RegRxNbBytes, 9)

	d.handleDio0Rise()
	c.Assert(f.get(RegIrqFlags), qt.Equals, IrqRxDoneMask)

	// The packet is still there for polling.
	n, err := d.ParsePacket(0)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 9)
}

func TestCallbacksNeedIRQPin(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Pins{})

	c.Assert(d.OnReceive(func(int) {}), qt.ErrorIs, ErrNoIRQPin)
	c.Assert(d.OnReceive(nil), qt.IsNil)
	c.Assert(d.OnTxDone(nil), qt.IsNil)
	c.Assert(d.OnCadDone(nil), qt.IsNil)
}

func TestReceiveThroughDIO0(t *testing.T) {
	c := qt.New(t)
	pin := &gpiotest.Pin{N: "DIO0", EdgesChan: make(chan gpio.Level, 1)}
	d, f := newTestDevice(t, Pins{DIO0: pin})
	defer d.Close()

	got := make(chan int, 1)
	c.Assert(d.OnReceive(func(n int) {
		b, err := d.ReadByte()
		if err == nil && b == 'x' {
			got <- n
		}
	}), qt.IsNil)
	c.Assert(d.Receive(0), qt.IsNil)

	f.set(RegRxNbBytes, 7)
	f.set(RegFifoRxCurrentAddr, 0x30)
	f.loadFifo(0x30, []byte("xyz"))
	f.set(RegIrqFlags, IrqRxDoneMask)
	pin.EdgesChan <- gpio.High

	select {
	case n := <-got:
		c.Assert(n, qt.Equals, 7)
	case <-time.After(5 * time.Second):
		c.Fatal("receive callback not called")
	}
	c.Assert(f.get(RegIrqFlags), qt.Equals, byte(0))
	c.Assert(f.get(RegOpMode), qt.Equals, byte(0x85))
}

func TestTxDoneThroughDIO0(t *testing.T) {
	c := qt.New(t)
	pin := &gpiotest.Pin{N: "DIO0", EdgesChan: make(chan gpio.Level, 1)}
	d, f := newTestDevice(t, Pins{DIO0: pin})
	defer d.Close()
	f.holdTx = true

	done := make(chan struct{})
	c.Assert(d.OnTxDone(func() { close(done) }), qt.IsNil)
	c.Assert(d.BeginPacket(false), qt.IsNil)
	_, err := d.Write([]byte("ping"))
	c.Assert(err, qt.IsNil)
	c.Assert(d.EndPacket(true), qt.IsNil)
	c.Assert(f.get(RegDioMapping1), qt.Equals, dio0TxDone)

	f.set(RegIrqFlags, IrqTxDoneMask)
	f.set(RegOpMode, byte(ModeLongRange|ModeStandby))
	pin.EdgesChan <- gpio.High

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.Fatal("tx done callback not called")
	}
}

func TestPackets(t *testing.T) {
	c := qt.New(t)
	pin := &gpiotest.Pin{N: "DIO0", EdgesChan: make(chan gpio.Level, 1)}
	d, f := newTestDevice(t, Pins{DIO0: pin})
	defer d.Close()
	c.Assert(d.SetFrequency(433e6), qt.IsNil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := d.Packets(ctx, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(f.get(RegOpMode), qt.Equals, byte(0x85))

	f.set(RegRxNbBytes, 4)
	f.loadFifo(0, []byte("pong"))
	f.set(RegPktRssiValue, 64)
	f.set(RegIrqFlags, IrqRxDoneMask)
	pin.EdgesChan <- gpio.High

	select {
	case p := <-ch:
		c.Assert(string(p.Payload), qt.Equals, "pong")
		c.Assert(p.RSSI, qt.Equals, -100)
	case <-time.After(5 * time.Second):
		c.Fatal("no packet delivered")
	}

	cancel()
	select {
	case _, ok := <-ch:
		c.Assert(ok, qt.IsFalse)
	case <-time.After(5 * time.Second):
		c.Fatal("channel not closed")
	}
	c.Assert(f.get(RegOpMode), qt.Equals, byte(0x81))
}

// slowPin is a DIO0 line that never fires, with a slow WaitForEdge.
type slowPin struct {
	mu  sync.Mutex
	ins int
}

func (p *slowPin) In(gpio.Pull, gpio.Edge) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ins++
	return nil
}

func (p *slowPin) Read() gpio.Level { return gpio.Low }

func (p *slowPin) WaitForEdge(time.Duration) bool {
	time.Sleep(300 * time.Millisecond)
	return false
}

func (p *slowPin) inCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ins
}

func TestCloseWaitsForWatcher(t *testing.T) {
	c := qt.New(t)
	pin := &slowPin{}
	d, _ := newTestDevice(t, Pins{DIO0: pin})

	c.Assert(d.OnReceive(func(int) {}), qt.IsNil)
	c.Assert(d.Close(), qt.IsNil)
	// Armed once, disarmed once, both before Close returned.
	c.Assert(pin.inCalls(), qt.Equals, 2)
	time.Sleep(600 * time.Millisecond)
	c.Assert(pin.inCalls(), qt.Equals, 2)
}

func TestCloseFromCallback(t *testing.T) {
	c := qt.New(t)
	pin := &gpiotest.Pin{N: "DIO0", EdgesChan: make(chan gpio.Level, 1)}
	d, f := newTestDevice(t, Pins{DIO0: pin})

	closed := make(chan error, 1)
	c.Assert(d.OnReceive(func(int) { closed <- d.Close() }), qt.IsNil)
	f.set(RegIrqFlags, IrqRxDoneMask)
	pin.EdgesChan <- gpio.High

	select {
	case err := <-closed:
		c.Assert(err, qt.IsNil)
	case <-time.After(5 * time.Second):
		c.Fatal("Close from a callback did not return")
	}
	c.Assert(f.get(RegOpMode), qt.Equals, byte(0x80))
}

func TestNoWatcherAfterClose(t *testing.T) {
	c := qt.New(t)
	pin := &slowPin{}
	d, _ := newTestDevice(t, Pins{DIO0: pin})

	c.Assert(d.Close(), qt.IsNil)
	c.Assert(d.OnReceive(func(int) {}), qt.ErrorIs, ErrClosed)
	c.Assert(pin.inCalls(), qt.Equals, 0)

	// Close has cleared the callbacks but not yet marked the registers closed.
	d2, _ := newTestDevice(t, Pins{DIO0: pin})
	d2.cbClosed = true
	c.Assert(d2.OnTxDone(func() {}), qt.ErrorIs, ErrClosed)
	c.Assert(d2.watch, qt.IsNil)
	c.Assert(pin.inCalls(), qt.Equals, 0)
}
