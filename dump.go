package sx127x

import (
	"fmt"
	"io"
)

// DumpRegisters prints registers 0x01 to 0x4f as a hex table. The FIFO register is shown as
// zero since reading it would consume packet data.
func (d *Device) DumpRegisters(w io.Writer) error {
	d.mu.Lock()
	regs, err := d.readRegisterBytes(RegOpMode, 0x4f)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	regs = append([]byte{0}, regs...)

	if _, err := fmt.Fprintln(w, "     0  1  2  3  4  5  6  7  8  9  A  B  C  D  E  F"); err != nil {
		return err
	}
	for i := 0; i < len(regs); i += 16 {
		line := fmt.Sprintf("%02x:", i)
		for j := 0; j < 16 && i+j < len(regs); j++ {
			line += fmt.Sprintf(" %02x", regs[i+j])
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
