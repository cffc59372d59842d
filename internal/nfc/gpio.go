package nfc

import (
	"strconv"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/isic-edge/reader-core/internal/apperr"
)

// GPIO is the pin contract consumed by NfcReader (spec.md §6 "GPIO
// contract"): configure the IRQ line as input, read its level each tick,
// configure the reset line, and pulse it for a hardware reset.
type GPIO interface {
	ConfigureInput(pin int, pullUp bool) error
	Read(pin int) (low bool, err error)
	ConfigureResetLine(pin int) error
	PulseReset(pin int, lowFor, highFor time.Duration) error
}

// PeriphGPIO implements GPIO over periph.io, grounded on the pack's only
// GPIO-driving example (the joystick/button driver), which resolves pins
// through periph.io/x/conn/v3/gpio and periph.io/x/host/v3.
type PeriphGPIO struct {
	pins map[int]gpio.PinIO
}

// NewPeriphGPIO initializes the host drivers. Must be called once before
// any pin is resolved.
func NewPeriphGPIO() (*PeriphGPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, apperr.Wrap("nfc", apperr.TransportError, "periph host init", err)
	}
	return &PeriphGPIO{pins: make(map[int]gpio.PinIO)}, nil
}

func (p *PeriphGPIO) resolve(pin int) (gpio.PinIO, error) {
	if pio, ok := p.pins[pin]; ok {
		return pio, nil
	}
	name := gpioNameFor(pin)
	pio := gpioreg.ByName(name)
	if pio == nil {
		return nil, apperr.New("nfc", apperr.NotFound, "gpio pin not found: "+name)
	}
	p.pins[pin] = pio
	return pio, nil
}

func (p *PeriphGPIO) ConfigureInput(pin int, pullUp bool) error {
	pio, err := p.resolve(pin)
	if err != nil {
		return err
	}
	pull := gpio.PullNoChange
	if pullUp {
		pull = gpio.PullUp
	}
	if err := pio.In(pull, gpio.BothEdges); err != nil {
		return apperr.Wrap("nfc", apperr.TransportError, "configure input", err)
	}
	return nil
}

func (p *PeriphGPIO) Read(pin int) (bool, error) {
	pio, err := p.resolve(pin)
	if err != nil {
		return false, err
	}
	return pio.Read() == gpio.Low, nil
}

func (p *PeriphGPIO) ConfigureResetLine(pin int) error {
	pio, err := p.resolve(pin)
	if err != nil {
		return err
	}
	if err := pio.Out(gpio.High); err != nil {
		return apperr.Wrap("nfc", apperr.TransportError, "configure reset line", err)
	}
	return nil
}

func (p *PeriphGPIO) PulseReset(pin int, lowFor, highFor time.Duration) error {
	pio, err := p.resolve(pin)
	if err != nil {
		return err
	}
	if err := pio.Out(gpio.Low); err != nil {
		return apperr.Wrap("nfc", apperr.TransportError, "assert reset", err)
	}
	time.Sleep(lowFor)
	if err := pio.Out(gpio.High); err != nil {
		return apperr.Wrap("nfc", apperr.TransportError, "release reset", err)
	}
	time.Sleep(highFor)
	return nil
}

// gpioNameFor maps a logical pin number to the periph.io pin name. Real
// deployments configure this per board; the "GPIO<N>" naming matches how
// periph.io's bcm283x driver registers pins, used here as the portable
// default since board-specific pin maps are a platform-identification
// concern out of scope per spec.md §1.
func gpioNameFor(pin int) string {
	return "GPIO" + strconv.Itoa(pin)
}
