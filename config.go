package sx127x

// Config holds a complete LoRa modem configuration.
type Config struct {
	Frequency       int64 // Hz
	SpreadingFactor int   // 6..12
	Bandwidth       int64 // Hz, one of 7.8k to 500k
	CodingRate      int   // denominator of 4/x, 5..8
	PreambleLength  uint16
	SyncWord        byte
	CRC             bool
	InvertIQ        bool
	TxPower         int  // dBm
	HighPower       bool // allow the +20dBm PA mode
}

// DefaultConfig returns the settings the chip powers up with, at 915MHz and 17dBm.
func DefaultConfig() Config {
	return Config{
		Frequency:       915e6,
		SpreadingFactor: 7,
		Bandwidth:       125e3,
		CodingRate:      5,
		PreambleLength:  8,
		SyncWord:        0x12,
		CRC:             false,
		TxPower:         17,
	}
}

// Configure programs every field of cfg. The radio is left in standby.
func (d *Device) Configure(cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.setMode(ModeStandby); err != nil {
		return err
	}

	steps := []func() error{
		func() error { return d.setFrequency(cfg.Frequency) },
		func() error { return d.setSignalBandwidth(cfg.Bandwidth) },
		func() error { return d.setSpreadingFactor(cfg.SpreadingFactor) },
		func() error { return d.setCodingRate4(cfg.CodingRate) },
		func() error { return d.setCRC(cfg.CRC) },
		func() error { return d.setPreambleLength(cfg.PreambleLength) },
		func() error { return d.writeRegister(RegSyncWord, cfg.SyncWord) },
		func() error { return d.setInvertIQ(cfg.InvertIQ) },
		func() error { return d.setTxPower(cfg.TxPower, cfg.HighPower) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	d.log.WithField("config", cfg).Debug("configured")
	return nil
}
