package sx127x

// Mode is the operating mode field of RegOpMode.
type Mode byte

// Register is an SX127x register address in LoRa mode.
type Register byte

// PAConfig selects the power amplifier output pin in RegPaConfig.
type PAConfig byte

const (
	RegFifo               Register = 0x00
	RegOpMode             Register = 0x01
	RegFrfMsb             Register = 0x06
	RegFrfMid             Register = 0x07
	RegFrfLsb             Register = 0x08
	RegPaConfig           Register = 0x09
	RegOcp                Register = 0x0b
	RegLna                Register = 0x0c
	RegFifoAddrPtr        Register = 0x0d
	RegFifoTxBaseAddr     Register = 0x0e
	RegFifoRxBaseAddr     Register = 0x0f
	RegFifoRxCurrentAddr  Register = 0x10
	RegIrqFlags           Register = 0x12
	RegRxNbBytes          Register = 0x13
	RegPktSnrValue        Register = 0x19
	RegPktRssiValue       Register = 0x1a
	RegRssiValue          Register = 0x1b
	RegModemConfig1       Register = 0x1d
	RegModemConfig2       Register = 0x1e
	RegPreambleMsb        Register = 0x20
	RegPreambleLsb        Register = 0x21
	RegPayloadLength      Register = 0x22
	RegModemConfig3       Register = 0x26
	RegFreqErrorMsb       Register = 0x28
	RegFreqErrorMid       Register = 0x29
	RegFreqErrorLsb       Register = 0x2a
	RegRssiWideBand       Register = 0x2c
	RegDetectionOptimize  Register = 0x31
	RegInvertIQ           Register = 0x33
	RegDetectionThreshold Register = 0x37
	RegSyncWord           Register = 0x39
	RegInvertIQ2          Register = 0x3b
	RegDioMapping1        Register = 0x40
	RegVersion            Register = 0x42
	RegPaDac              Register = 0x4d
)

const (
	ModeLongRange    Mode = 0x80
	ModeSleep        Mode = 0x00
	ModeStandby      Mode = 0x01
	ModeTx           Mode = 0x03
	ModeRxContinuous Mode = 0x05
	ModeRxSingle     Mode = 0x06
	ModeCAD          Mode = 0x07

	modeMask Mode = 0x07
)

const (
	PABoost PAConfig = 0x80
	PARFO   PAConfig = 0x70
)

// DIO0 mappings in RegDioMapping1.
const (
	dio0RxDone  byte = 0x00
	dio0TxDone  byte = 0x40
	dio0CadDone byte = 0x80
)

// Bits of RegIrqFlags.
const (
	IrqCadDetectedMask     byte = 0x01
	IrqCadDoneMask         byte = 0x04
	IrqTxDoneMask          byte = 0x08
	IrqPayloadCrcErrorMask byte = 0x20
	IrqRxDoneMask          byte = 0x40
)

// Packet RSSI is the register value less an offset that depends on the RF port in use,
// which is chosen by frequency.
const (
	RfMidBandThreshold int64 = 525e6
	RssiOffsetHfPort   int   = 157
	RssiOffsetLfPort   int   = 164
)

// MaxPktLength is the largest payload the FIFO holds.
const MaxPktLength = 255

const (
	chipVersion byte  = 0x12
	fxosc       int64 = 32e6 // crystal, Hz
)

// bandwidths lists the signal bandwidths in Hz selectable in RegModemConfig1, indexed by
// their encoded value.
var bandwidths = [10]int64{7.8e3, 10.4e3, 15.6e3, 20.8e3, 31.25e3, 41.7e3, 62.5e3, 125e3, 250e3, 500e3}

func (m Mode) String() string {
	switch m &^ ModeLongRange {
	case ModeSleep:
		return "sleep"
	case ModeStandby:
		return "standby"
	case ModeTx:
		return "tx"
	case ModeRxContinuous:
		return "rx-continuous"
	case ModeRxSingle:
		return "rx-single"
	case ModeCAD:
		return "cad"
	}
	return "unknown"
}
