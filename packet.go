package sx127x

import (
	"context"
	"io"
	"sync"
)

const rxChanCap = 4 // queue up to 4 received packets before dropping

// Packet is a received packet with its link statistics.
type Packet struct {
	Payload        []byte
	RSSI           int     // dBm
	SNR            float64 // dB
	FrequencyError int64   // Hz
}

// BeginPacket prepares the FIFO for a new outgoing packet. It fails with ErrTransmitting, and
// changes nothing, while a previous transmit is still on the air.
func (d *Device) BeginPacket(implicitHeader bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	busy, err := d.isTransmitting()
	if err != nil {
		return err
	}
	if busy {
		return ErrTransmitting
	}

	if err := d.setMode(ModeStandby); err != nil {
		return err
	}
	if err := d.setHeaderMode(implicitHeader); err != nil {
		return err
	}
	if err := d.writeRegister(RegFifoAddrPtr, 0); err != nil {
		return err
	}
	return d.writeRegister(RegPayloadLength, 0)
}

// Write appends p to the packet started by BeginPacket. A packet holds at most MaxPktLength
// bytes; the excess is dropped and the returned count, not an error, reports how much was
// accepted.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur, err := d.readRegister(RegPayloadLength)
	if err != nil {
		return 0, err
	}
	n := len(p)
	if int(cur)+n > MaxPktLength {
		n = MaxPktLength - int(cur)
	}
	for i := 0; i < n; i++ {
		if err := d.writeRegister(RegFifo, p[i]); err != nil {
			// Keep the length in step with the bytes already in the FIFO.
			d.writeRegister(RegPayloadLength, cur+byte(i))
			return i, err
		}
	}
	return n, d.writeRegister(RegPayloadLength, cur+byte(n))
}

// EndPacket starts transmitting the packet. With async set it returns immediately and, if an
// OnTxDone callback is installed, routes TX done to DIO0 so the callback fires on completion.
// Otherwise it busy-waits for TX done with no timeout: a radio that never completes hangs the
// caller. Use EndPacketContext to bound the wait.
func (d *Device) EndPacket(async bool) error {
	return d.EndPacketContext(context.Background(), async)
}

// EndPacketContext is EndPacket with a synchronous wait that also ends when ctx is done. The
// chip cannot abort a transmission, so after ctx.Err() is returned the radio stays in transmit
// until the packet is out.
func (d *Device) EndPacketContext(ctx context.Context, async bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if async {
		d.cbMu.Lock()
		armed := d.onTxDone != nil
		d.cbMu.Unlock()
		if armed {
			if err := d.writeRegister(RegDioMapping1, dio0TxDone); err != nil {
				return err
			}
		}
	}

	if err := d.setMode(ModeTx); err != nil {
		return err
	}
	if async {
		return nil
	}

	for {
		irq, err := d.readRegister(RegIrqFlags)
		if err != nil {
			return err
		}
		if irq&IrqTxDoneMask != 0 {
			return d.writeRegister(RegIrqFlags, IrqTxDoneMask)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Transmit sends payload as one explicit-header packet and waits until it is out or ctx is
// done. It returns the number of payload bytes sent.
func (d *Device) Transmit(ctx context.Context, payload []byte) (int, error) {
	if err := d.BeginPacket(false); err != nil {
		return 0, err
	}
	n, err := d.Write(payload)
	if err != nil {
		return n, err
	}
	return n, d.EndPacketContext(ctx, false)
}

// IsTransmitting reports whether the radio is in transmit mode. A TX done flag left over from
// an earlier transmit is acknowledged.
func (d *Device) IsTransmitting() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isTransmitting()
}

func (d *Device) isTransmitting() (bool, error) {
	m, err := d.readMode()
	if err != nil {
		return false, err
	}
	if m&modeMask == ModeTx {
		return true, nil
	}
	irq, err := d.readRegister(RegIrqFlags)
	if err != nil {
		return false, err
	}
	if irq&IrqTxDoneMask != 0 {
		return false, d.writeRegister(RegIrqFlags, IrqTxDoneMask)
	}
	return false, nil
}

// ParsePacket polls for a received packet and returns its length, or 0 if none is ready yet.
// A size above zero selects implicit header mode with that fixed payload length. When no packet
// is ready the radio is put into single receive mode if it is not there already, so callers
// simply poll again.
func (d *Device) ParsePacket(size int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	irq, err := d.snapshotIRQ()
	if err != nil {
		return 0, err
	}
	if err := d.setHeaderForSize(size); err != nil {
		return 0, err
	}

	if irq&IrqRxDoneMask != 0 && irq&IrqPayloadCrcErrorMask == 0 {
		n, err := d.openRxPacket()
		if err != nil {
			return 0, err
		}
		return n, d.setMode(ModeStandby)
	}

	m, err := d.readMode()
	if err != nil {
		return 0, err
	}
	if m != ModeLongRange|ModeRxSingle {
		if err := d.writeRegister(RegFifoAddrPtr, 0); err != nil {
			return 0, err
		}
		if err := d.setMode(ModeRxSingle); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

// Receive puts the radio into continuous receive mode. Each packet is delivered to the
// OnReceive callback; the radio stays in receive mode between packets.
func (d *Device) Receive(size int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writeRegister(RegDioMapping1, dio0RxDone); err != nil {
		return err
	}
	if err := d.setHeaderForSize(size); err != nil {
		return err
	}
	return d.setMode(ModeRxContinuous)
}

// ChannelActivityDetection starts a CAD scan. The result is delivered to the OnCadDone
// callback.
func (d *Device) ChannelActivityDetection() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writeRegister(RegDioMapping1, dio0CadDone); err != nil {
		return err
	}
	return d.setMode(ModeCAD)
}

func (d *Device) setHeaderForSize(size int) error {
	if size <= 0 {
		return d.setHeaderMode(false)
	}
	if err := d.setHeaderMode(true); err != nil {
		return err
	}
	return d.writeRegister(RegPayloadLength, byte(size))
}

// openRxPacket resets the read cursor and points the FIFO at the packet just received.
func (d *Device) openRxPacket() (int, error) {
	d.packetIndex = 0
	lenReg := RegRxNbBytes
	if d.implicitHeaderMode {
		lenReg = RegPayloadLength
	}
	n, err := d.readRegister(lenReg)
	if err != nil {
		return 0, err
	}
	addr, err := d.readRegister(RegFifoRxCurrentAddr)
	if err != nil {
		return 0, err
	}
	return int(n), d.writeRegister(RegFifoAddrPtr, addr)
}

// Available returns the number of unread bytes of the current packet.
func (d *Device) Available() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.available()
}

func (d *Device) available() (int, error) {
	n, err := d.readRegister(RegRxNbBytes)
	if err != nil {
		return 0, err
	}
	return int(n) - d.packetIndex, nil
}

// ReadByte returns the next byte of the current packet, or io.EOF when it has been consumed.
func (d *Device) ReadByte() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readByte()
}

func (d *Device) readByte() (byte, error) {
	n, err := d.available()
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, io.EOF
	}
	b, err := d.readRegister(RegFifo)
	if err != nil {
		return 0, err
	}
	d.packetIndex++
	return b, nil
}

// Read reads up to len(p) bytes of the current packet.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.read(p)
}

func (d *Device) read(p []byte) (int, error) {
	n, err := d.available()
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	if n > len(p) {
		n = len(p)
	}
	for i := 0; i < n; i++ {
		b, err := d.readRegister(RegFifo)
		if err != nil {
			return i, err
		}
		d.packetIndex++
		p[i] = b
	}
	return n, nil
}

// PeekByte returns the next byte of the current packet without consuming it.
func (d *Device) PeekByte() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.available()
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, io.EOF
	}
	ptr, err := d.readRegister(RegFifoAddrPtr)
	if err != nil {
		return 0, err
	}
	b, err := d.readRegister(RegFifo)
	if err != nil {
		return 0, err
	}
	return b, d.writeRegister(RegFifoAddrPtr, ptr)
}

func (d *Device) rssiOffset() int {
	if d.frequency < RfMidBandThreshold {
		return RssiOffsetLfPort
	}
	return RssiOffsetHfPort
}

// PacketRssi returns the RSSI of the last packet in dBm.
func (d *Device) PacketRssi() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.packetRssi()
}

func (d *Device) packetRssi() (int, error) {
	v, err := d.readRegister(RegPktRssiValue)
	if err != nil {
		return 0, err
	}
	return int(v) - d.rssiOffset(), nil
}

// PacketSnr returns the signal to noise ratio of the last packet in dB.
func (d *Device) PacketSnr() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.packetSnr()
}

func (d *Device) packetSnr() (float64, error) {
	v, err := d.readRegister(RegPktSnrValue)
	if err != nil {
		return 0, err
	}
	return float64(int8(v)) * 0.25, nil
}

// PacketFrequencyError returns the frequency offset in Hz between the transmitter of the last
// packet and this radio.
func (d *Device) PacketFrequencyError() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.packetFrequencyError()
}

func (d *Device) packetFrequencyError() (int64, error) {
	b, err := d.readRegisterBytes(RegFreqErrorMsb, 3)
	if err != nil {
		return 0, err
	}
	fe := int64(b[0]&0x07)<<16 | int64(b[1])<<8 | int64(b[2])
	if b[0]&0x08 != 0 {
		fe -= 1 << 19
	}
	bw, err := d.signalBandwidth()
	if err != nil {
		return 0, err
	}
	// Ferr = FreqError * 2^24 / Fxtal * BW / 500kHz
	return fe * (1 << 24) / fxosc * bw / 500e3, nil
}

// Rssi returns the current RSSI in dBm, sampled whatever the radio is doing.
func (d *Device) Rssi() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.readRegister(RegRssiValue)
	if err != nil {
		return 0, err
	}
	return int(v) - d.rssiOffset(), nil
}

// Random returns a byte sampled from the wideband RSSI, which is noisy enough to seed a
// random number generator while the radio is receiving.
func (d *Device) Random() (byte, error) {
	return d.ReadRegister(RegRssiWideBand)
}

// ReadPacket drains the rest of the current packet and returns it with its statistics.
func (d *Device) ReadPacket() (Packet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.available()
	if err != nil {
		return Packet{}, err
	}
	if n < 0 {
		n = 0
	}
	p := Packet{Payload: make([]byte, n)}
	if _, err := d.read(p.Payload); err != nil {
		return Packet{}, err
	}
	if p.RSSI, err = d.packetRssi(); err != nil {
		return Packet{}, err
	}
	if p.SNR, err = d.packetSnr(); err != nil {
		return Packet{}, err
	}
	if p.FrequencyError, err = d.packetFrequencyError(); err != nil {
		return Packet{}, err
	}
	return p, nil
}

// Packets switches the radio to continuous receive and delivers every packet on the returned
// channel until ctx is done, at which point the channel is closed and the radio returns to
// standby. Packets arriving while the channel is full are dropped. Packets replaces any
// OnReceive callback.
func (d *Device) Packets(ctx context.Context, size int) (<-chan Packet, error) {
	ch := make(chan Packet, rxChanCap)
	var mu sync.Mutex
	done := false

	err := d.OnReceive(func(int) {
		p, err := d.ReadPacket()
		if err != nil {
			d.log.WithError(err).Error("reading packet")
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		select {
		case ch <- p:
		default:
			d.log.Warn("rx channel full, dropping packet")
		}
	})
	if err != nil {
		return nil, err
	}
	if err := d.Receive(size); err != nil {
		d.OnReceive(nil)
		return nil, err
	}

	go func() {
		<-ctx.Done()
		d.OnReceive(nil)
		if err := d.Idle(); err != nil {
			d.log.WithError(err).Debug("idle after receive")
		}
		mu.Lock()
		done = true
		close(ch)
		mu.Unlock()
	}()
	return ch, nil
}
