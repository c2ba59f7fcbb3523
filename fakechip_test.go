package sx127x

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

type regWrite struct {
	reg   Register
	value byte
}

// fakeChip simulates the SX127x register file behind an SPI connection. Addresses
// auto-increment within a burst except for RegFifo, which moves the FIFO pointer instead.
// IRQ flags are write-one-to-clear. Entering transmit mode completes the packet at once
// unless holdTx is set.
type fakeChip struct {
	mu     sync.Mutex
	regs   [0x80]byte
	fifo   [256]byte
	writes []regWrite
	err    error
	holdTx bool

	failIn  int // transfers until failErr is returned once, 0 for never
	failErr error
}

func newFakeChip() *fakeChip {
	f := &fakeChip{}
	f.regs[RegVersion] = chipVersion
	f.regs[RegOpMode] = byte(ModeLongRange | ModeStandby)
	return f
}

func (f *fakeChip) String() string { return "fakechip" }

func (f *fakeChip) Duplex() conn.Duplex { return conn.Full }

func (f *fakeChip) Tx(w, r []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.failIn > 0 {
		f.failIn--
		if f.failIn == 0 {
			return f.failErr
		}
	}
	if len(w) == 0 {
		return nil
	}
	addr := Register(w[0] & 0x7f)
	write := w[0]&0x80 != 0
	for i := 1; i < len(w); i++ {
		if write {
			f.writeReg(addr, w[i])
		} else if r != nil {
			r[i] = f.readReg(addr)
		}
		if addr != RegFifo {
			addr++
		}
	}
	return nil
}

func (f *fakeChip) readReg(reg Register) byte {
	if reg == RegFifo {
		b := f.fifo[f.regs[RegFifoAddrPtr]]
		f.regs[RegFifoAddrPtr]++
		return b
	}
	return f.regs[reg]
}

func (f *fakeChip) writeReg(reg Register, v byte) {
	f.writes = append(f.writes, regWrite{reg, v})
	switch reg {
	case RegFifo:
		f.fifo[f.regs[RegFifoAddrPtr]] = v
		f.regs[RegFifoAddrPtr]++
	case RegIrqFlags:
		f.regs[reg] &^= v
	case RegOpMode:
		f.regs[reg] = v
		if Mode(v)&modeMask == ModeTx && !f.holdTx {
			f.regs[RegIrqFlags] |= IrqTxDoneMask
			f.regs[RegOpMode] = byte(ModeLongRange | ModeStandby)
		}
	default:
		f.regs[reg] = v
	}
}

func (f *fakeChip) get(reg Register) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[reg]
}

func (f *fakeChip) set(reg Register, v byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[reg] = v
}

func (f *fakeChip) loadFifo(addr byte, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(f.fifo[addr:], data)
}

func (f *fakeChip) fifoBytes(addr byte, n int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.fifo[int(addr):int(addr)+n]...)
}

// modeWrites returns every value written to RegOpMode.
func (f *fakeChip) modeWrites() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var m []byte
	for _, w := range f.writes {
		if w.reg == RegOpMode {
			m = append(m, w.value)
		}
	}
	return m
}

// failTransfer makes the n-th transfer from now fail with err. The others succeed.
func (f *fakeChip) failTransfer(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failIn, f.failErr = n, err
}

func (f *fakeChip) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// levelPin records every level driven onto it.
type levelPin struct {
	mu     sync.Mutex
	levels []gpio.Level
}

func (p *levelPin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels = append(p.levels, l)
	return nil
}

// testLogger returns a discarding logger whose entries are kept by the returned hook.
func testLogger() (*logrus.Entry, *test.Hook) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(l), hook
}

// newTestDevice returns a Device wired to a fresh fakeChip, with no delays.
func newTestDevice(t *testing.T, pins Pins) (*Device, *fakeChip) {
	t.Helper()
	f := newFakeChip()
	l, _ := testLogger()
	d := New(f, pins, l)
	d.sleep = func(time.Duration) {}
	return d, f
}
