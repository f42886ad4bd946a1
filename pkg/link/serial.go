package link

import (
	"bufio"
	"io"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// PortOptions are the serial line parameters.
type PortOptions struct {
	BaudRate int    `json:"baudRate"`
	DataBits int    `json:"dataBits"`
	StopBits int    `json:"stopBits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and fills in defaults for unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, pkgerrors.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, pkgerrors.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.ToUpper(strings.TrimSpace(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, pkgerrors.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options for serial.Open.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// Serial is a Channel over a byte stream, one token name per line. A reader
// goroutine parses incoming lines into the inbound slot.
type Serial struct {
	port io.ReadWriteCloser
	in   Slot

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

// OpenSerial opens the device at path.
func OpenSerial(path string, opts PortOptions) (*Serial, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open serial port %s", path)
	}
	logrus.WithFields(logrus.Fields{
		"path": path,
		"baud": mode.BaudRate,
	}).Info("serial link opened")
	return NewSerial(port), nil
}

// NewSerial starts reading tokens from port.
func NewSerial(port io.ReadWriteCloser) *Serial {
	s := &Serial{
		port: port,
		done: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *Serial) readLoop() {
	defer close(s.done)

	scan := bufio.NewScanner(s.port)
	for scan.Scan() {
		line := scan.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		t, err := ParseToken(line)
		if err != nil {
			logrus.WithError(err).Warn("dropping unreadable line from link")
			continue
		}
		logrus.WithField("token", t).Debug("received token")
		s.in.Store(t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := scan.Err(); err != nil && !s.closed {
		s.err = err
		logrus.WithError(err).Error("serial link read failed")
	}
}

// Send writes t followed by a newline.
func (s *Serial) Send(t Token) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	msg := t.String() + "\n"
	n, err := io.WriteString(s.port, msg)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to send %s", t)
	}
	if n != len(msg) {
		return pkgerrors.Errorf("short write sending %s", t)
	}
	return nil
}

func (s *Serial) Read() Token {
	return s.in.Load()
}

func (s *Serial) Take() (Token, bool) {
	return s.in.Take()
}

// Err returns the error that stopped the reader, if any.
func (s *Serial) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the port and waits for the reader to exit.
func (s *Serial) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.port.Close()
	<-s.done
	return err
}
