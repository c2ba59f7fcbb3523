package sx127x

import (
	"time"
)

// SetFrequency sets the carrier frequency in Hz. The chip resolves it in steps of
// 32MHz/2^19 (about 61Hz); the value is rounded to the nearest step.
func (d *Device) SetFrequency(frequency int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setFrequency(frequency)
}

func (d *Device) setFrequency(frequency int64) error {
	d.frequency = frequency
	frf := (frequency<<19 + fxosc/2) / fxosc

	d.log.WithField("hz", frequency).Debugf("set frequency -> %#06x", frf)
	if err := d.writeRegister(RegFrfMsb, byte(frf>>16)); err != nil {
		return err
	}
	if err := d.writeRegister(RegFrfMid, byte(frf>>8)); err != nil {
		return err
	}
	return d.writeRegister(RegFrfLsb, byte(frf>>0))
}

// Frequency returns the carrier frequency last set, in Hz.
func (d *Device) Frequency() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frequency
}

// SetTxPower sets the output power in dBm on the PA_BOOST pin. Levels are clamped to 2..17
// dBm, or to 2..20 dBm when highPower is set; above 17 dBm the +20dBm PA mode is enabled
// together with a higher over-current limit.
func (d *Device) SetTxPower(level int, highPower bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setTxPower(level, highPower)
}

func (d *Device) setTxPower(level int, highPower bool) error {
	if level < 2 {
		level = 2
	}
	if highPower && level > 17 {
		if level > 20 {
			level = 20
		}
		// High Power +20 dBm Operation (Semtech SX1276/77/78/79 5.4.3.)
		if err := d.writeRegister(RegPaDac, 0x87); err != nil {
			return err
		}
		if err := d.setOCP(140); err != nil {
			return err
		}
		return d.writeRegister(RegPaConfig, byte(PABoost)|byte(level-5))
	}
	if level > 17 {
		level = 17
	}
	if err := d.writeRegister(RegPaDac, 0x84); err != nil {
		return err
	}
	if err := d.setOCP(100); err != nil {
		return err
	}
	return d.writeRegister(RegPaConfig, byte(PABoost)|byte(level-2))
}

// SetTxPowerRFO sets the output power in dBm on the RFO pin, clamped to 0..14 dBm. Only
// modules that wire RFO to the antenna can use it.
func (d *Device) SetTxPowerRFO(level int) error {
	switch {
	case level < 0:
		level = 0
	case level > 14:
		level = 14
	}
	return d.WriteRegister(RegPaConfig, byte(PARFO)|byte(level))
}

// SetOCP sets the PA over-current protection trip point in mA.
func (d *Device) SetOCP(mA int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setOCP(mA)
}

func (d *Device) setOCP(mA int) error {
	trim := 27
	switch {
	case mA < 45:
		trim = 0
	case mA <= 120:
		trim = (mA - 45) / 5
	case mA <= 240:
		trim = (mA + 30) / 10
	}
	return d.writeRegister(RegOcp, 0x20|byte(trim)&0x1f)
}

// SetSpreadingFactor sets the spreading factor, clamped to 6..12. SF6 only works in implicit
// header mode.
func (d *Device) SetSpreadingFactor(sf int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setSpreadingFactor(sf)
}

func (d *Device) setSpreadingFactor(sf int) error {
	switch {
	case sf < 6:
		sf = 6
	case sf > 12:
		sf = 12
	}

	var detectionOptimize, detectionThreshold byte = 0xc3, 0x0a
	if sf == 6 {
		detectionOptimize, detectionThreshold = 0xc5, 0x0c
	}
	if err := d.writeRegister(RegDetectionOptimize, detectionOptimize); err != nil {
		return err
	}
	if err := d.writeRegister(RegDetectionThreshold, detectionThreshold); err != nil {
		return err
	}
	if err := d.update(RegModemConfig2, 0xf0, byte(sf)<<4); err != nil {
		return err
	}
	return d.setLdoFlag()
}

// SpreadingFactor reads back the spreading factor.
func (d *Device) SpreadingFactor() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spreadingFactor()
}

func (d *Device) spreadingFactor() (int, error) {
	v, err := d.readRegister(RegModemConfig2)
	return int(v >> 4), err
}

// SetSignalBandwidth selects the largest supported bandwidth that does not exceed bw Hz, or
// 7.8kHz when bw is below every supported value.
func (d *Device) SetSignalBandwidth(bw int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setSignalBandwidth(bw)
}

func (d *Device) setSignalBandwidth(bw int64) error {
	idx := len(bandwidths) - 1
	for idx > 0 && bandwidths[idx] > bw {
		idx--
	}
	if err := d.update(RegModemConfig1, 0xf0, byte(idx)<<4); err != nil {
		return err
	}
	return d.setLdoFlag()
}

// SignalBandwidth reads back the signal bandwidth in Hz, or -1 if the register holds a
// reserved value.
func (d *Device) SignalBandwidth() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.signalBandwidth()
}

func (d *Device) signalBandwidth() (int64, error) {
	v, err := d.readRegister(RegModemConfig1)
	if err != nil {
		return 0, err
	}
	idx := int(v >> 4)
	if idx >= len(bandwidths) {
		return -1, nil
	}
	return bandwidths[idx], nil
}

// symbolDuration is the LoRa symbol time 2^SF / BW.
func symbolDuration(sf int, bw int64) time.Duration {
	return time.Duration(int64(1) << uint(sf) * int64(time.Second) / bw)
}

// ldoRequired reports whether low data rate optimization is mandated, which the datasheet
// does for symbols longer than 16ms.
func ldoRequired(sf int, bw int64) bool {
	return symbolDuration(sf, bw) > 16*time.Millisecond
}

// setLdoFlag derives the LowDataRateOptimize bit from the spreading factor and bandwidth
// currently programmed in the chip.
func (d *Device) setLdoFlag() error {
	sf, err := d.spreadingFactor()
	if err != nil {
		return err
	}
	bw, err := d.signalBandwidth()
	if err != nil {
		return err
	}
	var bit byte
	if bw > 0 && ldoRequired(sf, bw) {
		bit = 0x08
	}
	return d.update(RegModemConfig3, 0x08, bit)
}

// EnableLowDataRateOptimize forces the LowDataRateOptimize bit on. The next spreading factor
// or bandwidth change recomputes it.
func (d *Device) EnableLowDataRateOptimize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.update(RegModemConfig3, 0x08, 0x08)
}

// DisableLowDataRateOptimize forces the LowDataRateOptimize bit off.
func (d *Device) DisableLowDataRateOptimize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.update(RegModemConfig3, 0x08, 0)
}

// SetCodingRate4 sets the coding rate to 4/denominator, denominator clamped to 5..8.
func (d *Device) SetCodingRate4(denominator int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setCodingRate4(denominator)
}

func (d *Device) setCodingRate4(denominator int) error {
	switch {
	case denominator < 5:
		denominator = 5
	case denominator > 8:
		denominator = 8
	}
	return d.update(RegModemConfig1, 0x0e, byte(denominator-4)<<1)
}

func (d *Device) setHeaderMode(implicit bool) error {
	d.implicitHeaderMode = implicit
	if implicit {
		return d.update(RegModemConfig1, 0x01, 0x01)
	}
	return d.update(RegModemConfig1, 0x01, 0)
}

// ImplicitHeaderMode reports whether the last packet operation used implicit header mode.
func (d *Device) ImplicitHeaderMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.implicitHeaderMode
}

// EnableCRC turns on payload CRC generation and checking.
func (d *Device) EnableCRC() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setCRC(true)
}

// DisableCRC turns off payload CRC generation and checking.
func (d *Device) DisableCRC() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setCRC(false)
}

func (d *Device) setCRC(on bool) error {
	if on {
		return d.update(RegModemConfig2, 0x04, 0x04)
	}
	return d.update(RegModemConfig2, 0x04, 0)
}

// SetPreambleLength sets the number of preamble symbols, not counting the 4.25 symbols the
// chip always adds.
func (d *Device) SetPreambleLength(length uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setPreambleLength(length)
}

func (d *Device) setPreambleLength(length uint16) error {
	if err := d.writeRegister(RegPreambleMsb, byte(length>>8)); err != nil {
		return err
	}
	return d.writeRegister(RegPreambleLsb, byte(length>>0))
}

// SetSyncWord sets the sync word. 0x34 is reserved for LoRaWAN networks.
func (d *Device) SetSyncWord(sw byte) error {
	return d.WriteRegister(RegSyncWord, sw)
}

// EnableInvertIQ inverts the I and Q signals, as gateways do for downlinks.
func (d *Device) EnableInvertIQ() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setInvertIQ(true)
}

// DisableInvertIQ restores normal I/Q.
func (d *Device) DisableInvertIQ() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setInvertIQ(false)
}

func (d *Device) setInvertIQ(invert bool) error {
	iq, iq2 := byte(0x27), byte(0x1d)
	if invert {
		iq, iq2 = 0x66, 0x19
	}
	if err := d.writeRegister(RegInvertIQ, iq); err != nil {
		return err
	}
	return d.writeRegister(RegInvertIQ2, iq2)
}

// SetLnaBoost switches the LNA high frequency boost.
func (d *Device) SetLnaBoost(boost bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setLnaBoost(boost)
}

func (d *Device) setLnaBoost(boost bool) error {
	if boost {
		return d.update(RegLna, 0x03, 0x03)
	}
	return d.update(RegLna, 0x03, 0)
}

// SetGain fixes the LNA gain, 1 being the highest and 6 the lowest. Gain 0 hands control back
// to the automatic gain control.
func (d *Device) SetGain(gain int) error {
	switch {
	case gain < 0:
		gain = 0
	case gain > 6:
		gain = 6
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.setMode(ModeStandby); err != nil {
		return err
	}
	if gain == 0 {
		return d.update(RegModemConfig3, 0x04, 0x04)
	}
	if err := d.update(RegModemConfig3, 0x04, 0); err != nil {
		return err
	}
	return d.writeRegister(RegLna, byte(gain)<<5|0x03)
}
