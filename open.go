package sx127x

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Opts names the host resources used by Open.
type Opts struct {
	SPIPort  string           // spireg name, "" for the first port
	SPISpeed physic.Frequency // 0 for 8MHz
	CSPin    string           // gpioreg name of a software chip select, "" when the port drives CS
	ResetPin string           // "" when the reset line is not connected
	DIO0Pin  string           // "" to use the polling API only
	Logger   *logrus.Entry
}

// DefaultOpts matches the common RFM9x Raspberry Pi bonnets: hardware CS on the first SPI
// port, reset on GPIO25 and DIO0 on GPIO22.
func DefaultOpts() Opts {
	return Opts{
		SPISpeed: 8 * physic.MegaHertz,
		ResetPin: "GPIO25",
		DIO0Pin:  "GPIO22",
	}
}

// Open initializes the host drivers, opens the SPI port and pins named in opts and returns a
// Device ready for Begin.
func Open(opts Opts) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}

	p, err := spireg.Open(opts.SPIPort)
	if err != nil {
		return nil, err
	}
	speed := opts.SPISpeed
	if speed == 0 {
		speed = 8 * physic.MegaHertz
	}
	c, err := p.Connect(speed, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, err
	}

	var pins Pins
	if opts.CSPin != "" {
		cs, err := outPin("CS", opts.CSPin)
		if err != nil {
			p.Close()
			return nil, err
		}
		pins.CS = cs
	}
	if opts.ResetPin != "" {
		reset, err := outPin("RESET", opts.ResetPin)
		if err != nil {
			p.Close()
			return nil, err
		}
		pins.Reset = reset
	}
	if opts.DIO0Pin != "" {
		dio0 := gpioreg.ByName(opts.DIO0Pin)
		if dio0 == nil {
			p.Close()
			return nil, fmt.Errorf("failed to find DIO0 pin %q", opts.DIO0Pin)
		}
		if err := dio0.In(gpio.PullDown, gpio.NoEdge); err != nil {
			p.Close()
			return nil, err
		}
		pins.DIO0 = dio0
	}

	d := New(c, pins, opts.Logger)
	d.port = p
	return d, nil
}

// outPin looks up an output line and parks it high, which is the inactive level for both
// chip select and reset.
func outPin(role, name string) (gpio.PinOut, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("failed to find %s pin %q", role, name)
	}
	if err := pin.Out(gpio.High); err != nil {
		return nil, err
	}
	return pin, nil
}
