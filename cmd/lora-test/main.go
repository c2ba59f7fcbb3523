// Command lora-test sends or receives a few packets to check that a radio is wired up.
//
//	lora-test -freq 868100000 tx
//	lora-test -freq 868100000
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/NV4RE/sx127x"
	log "github.com/sirupsen/logrus"
)

func fatalIf(err error) {
	if err != nil {
		log.WithError(err).Fatal("lora-test")
	}
}

func main() {
	opts := sx127x.DefaultOpts()
	cfg := sx127x.DefaultConfig()

	flag.StringVar(&opts.SPIPort, "spi", opts.SPIPort, "SPI port name")
	flag.StringVar(&opts.CSPin, "cs", opts.CSPin, "software chip select pin")
	flag.StringVar(&opts.ResetPin, "reset", opts.ResetPin, "reset pin")
	flag.StringVar(&opts.DIO0Pin, "dio0", opts.DIO0Pin, "DIO0 pin, unused by this tool")
	flag.Int64Var(&cfg.Frequency, "freq", cfg.Frequency, "frequency in Hz")
	flag.IntVar(&cfg.SpreadingFactor, "sf", cfg.SpreadingFactor, "spreading factor")
	flag.Int64Var(&cfg.Bandwidth, "bw", cfg.Bandwidth, "bandwidth in Hz")
	flag.IntVar(&cfg.TxPower, "power", cfg.TxPower, "transmit power in dBm")
	flag.BoolVar(&cfg.CRC, "crc", true, "enable payload CRC")
	count := flag.Int("n", 5, "packets to send")
	dump := flag.Bool("dump", false, "print the register map after configuring")
	debug := flag.Bool("debug", false, "log driver debug output")
	flag.Parse()

	if *debug {
		log.SetLevel(log.DebugLevel)
	}
	opts.Logger = log.NewEntry(log.StandardLogger())

	log.Info("Initializing LoRa radio...")
	t0 := time.Now()
	radio, err := sx127x.Open(opts)
	fatalIf(err)
	defer radio.Close()
	fatalIf(radio.Begin(cfg.Frequency))
	cfg.HighPower = cfg.TxPower > 17
	fatalIf(radio.Configure(cfg))
	log.Infof("Ready (%.1fms)", time.Since(t0).Seconds()*1000)

	if *dump {
		fatalIf(radio.DumpRegisters(os.Stdout))
	}

	if flag.Arg(0) == "tx" {
		for i := 1; i <= *count; i++ {
			msg := fmt.Sprintf("Hello %03d", i)
			t0 = time.Now()
			fatalIf(radio.BeginPacket(false))
			_, err := radio.Write([]byte(msg))
			fatalIf(err)
			fatalIf(radio.EndPacket(false))
			log.WithField("msg", msg).Infof("Sent in %.1fms", time.Since(t0).Seconds()*1000)
			time.Sleep(time.Second)
		}
		log.Info("Bye...")
		return
	}

	log.Info("Receiving packets ...")
	for {
		n, err := radio.ParsePacket(0)
		fatalIf(err)
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		pkt, err := radio.ReadPacket()
		fatalIf(err)
		log.WithFields(log.Fields{
			"len":  len(pkt.Payload),
			"rssi": pkt.RSSI,
			"snr":  pkt.SNR,
			"fei":  pkt.FrequencyError,
		}).Infof("Got %q", pkt.Payload)
	}
}
