// Package trigger drives a DLP-IO8-G serial digital-I/O box so stimulus
// edges can be marked on an EEG amplifier's trigger input.
package trigger

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.bug.st/serial"
)

// unset command bytes per line, indexed by line digit '1'..'8'
var unsetCode = map[byte]byte{
	'1': 'Q', '2': 'W', '3': 'E', '4': 'R',
	'5': 'T', '6': 'Y', '7': 'U', '8': 'I',
}

// Output is a connected DLP-IO8-G device
type Output struct {
	log  *log.Logger
	port serial.Port
}

// Open connects to the device, verifies it with a ping and switches it to
// binary mode.
func Open(device string, baudrate int, logger *log.Logger) (*Output, error) {
	if logger == nil {
		logger = log.Default()
	}

	mode := &serial.Mode{
		BaudRate: baudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}

	out := &Output{log: logger, port: port}

	// Ping: device answers 'Q'
	if _, err := port.Write([]byte{0x27}); err != nil {
		port.Close()
		return nil, fmt.Errorf("ping write: %w", err)
	}
	buf := make([]byte, 1)
	n, err := port.Read(buf)
	if err != nil || n != 1 || buf[0] != 'Q' {
		port.Close()
		return nil, fmt.Errorf("device did not respond to ping")
	}

	// Binary mode
	if _, err := port.Write([]byte{0x5C}); err != nil {
		port.Close()
		return nil, fmt.Errorf("binary mode: %w", err)
	}

	return out, nil
}

// Set raises the given output lines ("1".."8")
func (o *Output) Set(lines string) {
	if _, err := o.port.Write([]byte(lines)); err != nil {
		o.log.Printf("trigger: set %s failed: %v", lines, err)
	}
}

// Unset lowers the given output lines ("1".."8")
func (o *Output) Unset(lines string) {
	cmd := []byte(lines)
	for i := range cmd {
		if code, ok := unsetCode[cmd[i]]; ok {
			cmd[i] = code
		}
	}
	if _, err := o.port.Write(cmd); err != nil {
		o.log.Printf("trigger: unset %s failed: %v", lines, err)
	}
}

// Ping checks the device is still responding
func (o *Output) Ping() bool {
	if _, err := o.port.Write([]byte{0x27}); err != nil {
		return false
	}
	buf := make([]byte, 1)
	n, err := o.port.Read(buf)
	return err == nil && n == 1 && buf[0] == 'Q'
}

// Watch pings the device at interval until ctx is cancelled, logging when
// it stops answering. Unplugged boxes otherwise fail silently: Set and
// Unset only log per write, long after markers went missing.
func (o *Output) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			up := o.Ping()
			if healthy && !up {
				o.log.Printf("trigger: device stopped responding")
			} else if !healthy && up {
				o.log.Printf("trigger: device responding again")
			}
			healthy = up
		}
	}
}

// Close releases the serial port
func (o *Output) Close() {
	if o.port != nil {
		o.port.Close()
	}
}
