package sx127x

import (
	"periph.io/x/conn/v3/gpio"
)

// transfer runs one chip-select framed transaction. The first byte of w carries the register
// address with bit 7 selecting write.
func (d *Device) transfer(op string, reg Register, w []byte) ([]byte, error) {
	if d.closed {
		return nil, ErrClosed
	}
	r := make([]byte, len(w))
	if d.cs != nil {
		if err := d.cs.Out(gpio.Low); err != nil {
			return nil, &BusError{Op: op, Reg: reg, Err: err}
		}
	}
	err := d.conn.Tx(w, r)
	if d.cs != nil {
		if csErr := d.cs.Out(gpio.High); err == nil {
			err = csErr
		}
	}
	if err != nil {
		return nil, &BusError{Op: op, Reg: reg, Err: err}
	}
	return r, nil
}

func (d *Device) readRegister(reg Register) (byte, error) {
	r, err := d.transfer("read", reg, []byte{byte(reg) & 0x7f, 0x00})
	if err != nil {
		return 0, err
	}
	return r[1], nil
}

func (d *Device) writeRegister(reg Register, value byte) error {
	_, err := d.transfer("write", reg, []byte{byte(reg) | 0x80, value})
	return err
}

// readRegisterBytes reads n consecutive registers starting at reg in one transaction. The chip
// auto-increments the address except for RegFifo, where it pops n FIFO bytes instead.
func (d *Device) readRegisterBytes(reg Register, n int) ([]byte, error) {
	w := make([]byte, n+1)
	w[0] = byte(reg) & 0x7f
	r, err := d.transfer("read", reg, w)
	if err != nil {
		return nil, err
	}
	return r[1:], nil
}

// update does a read-modify-write of the bits selected by mask.
func (d *Device) update(reg Register, mask, bits byte) error {
	v, err := d.readRegister(reg)
	if err != nil {
		return err
	}
	return d.writeRegister(reg, v&^mask|bits&mask)
}

// snapshotIRQ reads RegIrqFlags and writes the same value back, acknowledging exactly the
// flags it observed. Callers must hold d.mu.
func (d *Device) snapshotIRQ() (byte, error) {
	irq, err := d.readRegister(RegIrqFlags)
	if err != nil {
		return 0, err
	}
	return irq, d.writeRegister(RegIrqFlags, irq)
}

// ReadRegister returns the value of a single register.
func (d *Device) ReadRegister(reg Register) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readRegister(reg)
}

// WriteRegister sets a single register. It bypasses the driver's bookkeeping, so writing the
// op mode, header or FIFO registers this way can desynchronise the Device from the chip.
func (d *Device) WriteRegister(reg Register, value byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeRegister(reg, value)
}
