package devlink

import (
	"time"

	"go.bug.st/serial"

	apperrors "github.com/framepilot/framepilot/internal/errors"
)

// Port is the byte-oriented device link: blocking-with-timeout read, plain
// write. The serial implementation satisfies it in production; tests supply
// scripted fakes.
type Port interface {
	Write(p []byte) (int, error)
	// ReadLine returns the next newline-terminated response, waiting at most
	// the given duration. Expired deadlines surface as LinkTimeout.
	ReadLine(timeout time.Duration) ([]byte, error)
	Close() error
}

// serialPort adapts go.bug.st/serial to the Port interface.
type serialPort struct {
	port serial.Port
}

func openSerialPort(name string, baud int) (Port, error) {
	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeLinkIO, "open serial port %s", name)
	}
	return &serialPort{port: p}, nil
}

func (s *serialPort) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *serialPort) ReadLine(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	var line []byte
	buf := make([]byte, 1)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, apperrors.New(apperrors.CodeLinkTimeout, "no acknowledgement before deadline")
		}
		if err := s.port.SetReadTimeout(remaining); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeLinkIO, "set read timeout")
		}

		n, err := s.port.Read(buf)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeLinkIO, "serial read")
		}
		if n == 0 {
			// go.bug.st/serial signals an expired read timeout with n==0, nil.
			return nil, apperrors.New(apperrors.CodeLinkTimeout, "no acknowledgement before deadline")
		}
		if buf[0] == '\n' {
			return line, nil
		}
		line = append(line, buf[0])
	}
}

func (s *serialPort) Close() error {
	return s.port.Close()
}
