package nfc

import (
	"time"

	"github.com/tarm/serial"

	"github.com/isic-edge/reader-core/internal/apperr"
)

// ChipTransport is the wire contract to the reader chip (spec.md §6
// "GPIO contract" covers the pin side; this covers the byte-protocol
// side). The original hardware drove the chip over I2C/SPI via a
// vendor library; this repo targets the UART framing variant of the
// same PN532-style protocol (wake preamble, ACK frame, data frame) since
// a raw serial transport is the pack's only grounded byte-oriented
// peripheral link.
type ChipTransport interface {
	// Probe wakes the chip and reads back its firmware version. An error
	// means the chip did not answer within the configured timeout.
	Probe() error
	// ReadUID attempts one card read with the given timeout budget. A nil
	// UID with nil error means "no card present", not a failure.
	ReadUID(timeout time.Duration) (*UID, error)
	// Reset pulses the hardware reset line per the GPIO contract.
	Reset() error
	Close() error
}

// pn532 frame markers, per the PN532 application datasheet's UART framing.
var (
	pn532Preamble  = []byte{0x00}
	pn532StartCode = []byte{0x00, 0xFF}
	pn532AckFrame  = []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}
)

// SerialTransport adapts github.com/tarm/serial to ChipTransport. It owns
// the UART port exclusively, per spec.md §5 "Hardware peripherals ...
// owned exclusively by their service".
type SerialTransport struct {
	port     *serial.Port
	gpio     GPIO
	resetPin int
}

// NewSerialTransport opens the named serial device at the PN532's default
// UART baud rate.
func NewSerialTransport(device string, gpio GPIO, resetPin int) (*SerialTransport, error) {
	cfg := &serial.Config{Name: device, Baud: 115200, ReadTimeout: 500 * time.Millisecond}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, apperr.Wrap("nfc", apperr.TransportError, "open serial port", err)
	}
	return &SerialTransport{port: port, gpio: gpio, resetPin: resetPin}, nil
}

func (t *SerialTransport) Probe() error {
	// GetFirmwareVersion command frame: 00 00 FF 02 FE D4 02 2A 00.
	cmd := []byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x02, 0x2A, 0x00}
	if _, err := t.port.Write(cmd); err != nil {
		return apperr.Wrap("nfc", apperr.TransportError, "write probe command", err)
	}
	ack := make([]byte, len(pn532AckFrame))
	n, err := t.port.Read(ack)
	if err != nil || n < len(pn532AckFrame) {
		return apperr.New("nfc", apperr.Timeout, "no ack from chip")
	}
	resp := make([]byte, 16)
	n, err = t.port.Read(resp)
	if err != nil || n == 0 {
		return apperr.New("nfc", apperr.Timeout, "no firmware response")
	}
	return nil
}

// ReadUID does not apply timeout: every read on the port is bounded by
// the fixed 500 ms read timeout set when NewSerialTransport opened it.
func (t *SerialTransport) ReadUID(timeout time.Duration) (*UID, error) {
	// InListPassiveTarget command frame requesting one ISO14443A target.
	cmd := []byte{0x00, 0x00, 0xFF, 0x04, 0xFC, 0xD4, 0x4A, 0x01, 0x00, 0xE1, 0x00}
	if _, err := t.port.Write(cmd); err != nil {
		return nil, apperr.Wrap("nfc", apperr.TransportError, "write read command", err)
	}
	ack := make([]byte, len(pn532AckFrame))
	if n, err := t.port.Read(ack); err != nil || n < len(pn532AckFrame) {
		return nil, nil // no ack within the driver's read timeout: treat as "no card"
	}
	resp := make([]byte, 32)
	n, err := t.port.Read(resp)
	if err != nil || n < 13 {
		return nil, nil
	}
	uidLen := int(resp[12])
	if uidLen < 4 || uidLen > 10 || n < 13+uidLen {
		return nil, apperr.New("nfc", apperr.TransportError, "malformed target response")
	}
	var uid UID
	uid.Len = uint8(uidLen)
	copy(uid.Bytes[:], resp[13:13+uidLen])
	return &uid, nil
}

func (t *SerialTransport) Reset() error {
	if t.gpio == nil {
		return nil
	}
	return t.gpio.PulseReset(t.resetPin, 10*time.Millisecond, 50*time.Millisecond)
}

func (t *SerialTransport) Close() error {
	return t.port.Close()
}
