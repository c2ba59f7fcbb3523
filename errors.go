package sx127x

import (
	"errors"
	"fmt"
)

var (
	ErrVersionMismatch = errors.New("version not matched")
	ErrTransmitting    = errors.New("transmit in progress")
	ErrClosed          = errors.New("device closed")
	ErrNoIRQPin        = errors.New("dio0 pin not connected")
)

// BusError reports a failed transfer on the SPI bus or the chip-select line.
type BusError struct {
	Op  string // "read" or "write"
	Reg Register
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("sx127x: %s register 0x%02x: %v", e.Op, byte(e.Reg), e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }
