package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/NV4RE/sx127x"
	"gopkg.in/ini.v1"
)

// settings is the content of the gateway's INI file.
//
//	[radio]
//	spi = SPI0.0
//	reset = GPIO25
//	dio0 = GPIO22
//	frequency = 868100000
//	spreading_factor = 7
//	bandwidth = 125000
//	coding_rate = 5
//	sync_word = 0x12
//	power = 17
//	crc = true
//
//	[mqtt]
//	host = localhost
//	port = 1883
//	prefix = lora
type settings struct {
	Radio radioSettings
	MQTT  mqttSettings
}

type radioSettings struct {
	SPIPort  string
	CSPin    string
	ResetPin string
	DIO0Pin  string
	Config   sx127x.Config
}

type mqttSettings struct {
	Host     string
	Port     int
	User     string
	Password string
	Prefix   string
}

// loadSettings reads the INI file at path. An empty path yields the defaults.
func loadSettings(path string) (settings, error) {
	if path == "" {
		return parseSettings(ini.Empty())
	}
	f, err := ini.Load(path)
	if err != nil {
		return settings{}, fmt.Errorf("loading %s: %w", path, err)
	}
	return parseSettings(f)
}

func parseSettings(f *ini.File) (settings, error) {
	var s settings
	def := sx127x.DefaultConfig()
	opts := sx127x.DefaultOpts()

	radio := f.Section("radio")
	s.Radio.SPIPort = radio.Key("spi").MustString(opts.SPIPort)
	s.Radio.CSPin = radio.Key("cs").MustString(opts.CSPin)
	s.Radio.ResetPin = radio.Key("reset").MustString(opts.ResetPin)
	s.Radio.DIO0Pin = radio.Key("dio0").MustString(opts.DIO0Pin)

	cfg := &s.Radio.Config
	*cfg = def
	cfg.Frequency = radio.Key("frequency").MustInt64(def.Frequency)
	cfg.SpreadingFactor = radio.Key("spreading_factor").MustInt(def.SpreadingFactor)
	cfg.Bandwidth = radio.Key("bandwidth").MustInt64(def.Bandwidth)
	cfg.CodingRate = radio.Key("coding_rate").MustInt(def.CodingRate)
	cfg.PreambleLength = uint16(radio.Key("preamble").MustUint(uint(def.PreambleLength)))
	cfg.TxPower = radio.Key("power").MustInt(def.TxPower)
	cfg.HighPower = cfg.TxPower > 17
	cfg.CRC = radio.Key("crc").MustBool(true)
	cfg.InvertIQ = radio.Key("invert_iq").MustBool(false)

	var syncErr, freqErr, sfErr, dio0Err error
	if k := radio.Key("sync_word").String(); k != "" {
		sw, err := strconv.ParseUint(k, 0, 8)
		if err != nil {
			syncErr = fmt.Errorf("radio sync_word %q: %w", k, err)
		}
		cfg.SyncWord = byte(sw)
	}
	if cfg.Frequency < 137e6 || cfg.Frequency > 1020e6 {
		freqErr = fmt.Errorf("radio frequency %d is outside 137MHz..1020MHz", cfg.Frequency)
	}
	if cfg.SpreadingFactor < 6 || cfg.SpreadingFactor > 12 {
		sfErr = fmt.Errorf("radio spreading_factor %d, must be 6..12", cfg.SpreadingFactor)
	}
	if s.Radio.DIO0Pin == "" {
		dio0Err = errors.New("radio dio0 must have a value")
	}

	mq := f.Section("mqtt")
	s.MQTT.Host = mq.Key("host").MustString("localhost")
	s.MQTT.Port = mq.Key("port").MustInt(1883)
	s.MQTT.User = mq.Key("user").String()
	s.MQTT.Password = mq.Key("password").String()
	s.MQTT.Prefix = mq.Key("prefix").MustString("lora")

	if err := errors.Join(syncErr, freqErr, sfErr, dio0Err); err != nil {
		return settings{}, err
	}
	return s, nil
}

func (r radioSettings) opts() sx127x.Opts {
	opts := sx127x.DefaultOpts()
	opts.SPIPort = r.SPIPort
	opts.CSPin = r.CSPin
	opts.ResetPin = r.ResetPin
	opts.DIO0Pin = r.DIO0Pin
	return opts
}
