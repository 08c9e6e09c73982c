package daq

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/itohio/goald/pkg/bridge"
	"github.com/itohio/goald/pkg/config"
	"go.bug.st/serial"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaudRate is the baud rate used by the bridge firmware.
	DefaultBaudRate = 115200
)

// ErrTimeout is returned when the bridge does not answer within the read timeout.
var ErrTimeout = errors.New("daq: bridge read timeout")

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial talks to the DAQ bridge MCU over a serial port. Requests are
// serialized; every request waits for its reply before the next is sent.
type Serial struct {
	cfg  config.SerialConfig
	open func() (io.ReadWriteCloser, error)

	mu        sync.Mutex
	conn      io.ReadWriteCloser
	reader    *bufio.Reader
	limiter   *rate.Limiter
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
}

// New creates a new Serial device for the configured port.
func New(cfg config.SerialConfig) *Serial {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	d := newSerial(cfg)
	d.open = d.openPort
	return d
}

func newSerial(cfg config.SerialConfig) *Serial {
	if cfg.ConnectTimeout <= 0 {
		// Zero would make the backoff retry forever.
		cfg.ConnectTimeout = 3 * time.Second
	}
	limit := rate.Inf
	if cfg.CommandRate > 0 {
		limit = rate.Limit(cfg.CommandRate)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Serial{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{
			Name:        name,
			Description: name,
		})
	}

	return result, nil
}

// Connect opens the serial port and checks that the bridge answers.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	// The bridge resets when the port is opened, so the first attempts are
	// expected to fail until it finishes booting.
	var conn io.ReadWriteCloser
	op := func() error {
		c, err := d.open()
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	policy := backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         time.Second,
		MaxElapsedTime:      d.cfg.ConnectTimeout,
		Clock:               backoff.SystemClock,
	}, d.ctx)
	err := backoff.RetryNotify(op, policy, func(err error, next time.Duration) {
		log.Printf("Opening %s failed, retrying in %v: %v", d.cfg.Port, next, err)
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.cfg.Port, err)
	}

	d.conn = conn
	d.reader = bufio.NewReader(timeoutReader{conn})
	d.connected = true

	if _, err := d.roundTrip(bridge.Command{Op: 'P'}); err != nil {
		d.closeConn()
		return fmt.Errorf("bridge on %s did not answer: %w", d.cfg.Port, err)
	}

	return nil
}

func (d *Serial) openPort() (io.ReadWriteCloser, error) {
	port, err := serial.Open(d.cfg.Port, &serial.Mode{BaudRate: d.cfg.BaudRate})
	if err != nil {
		return nil, err
	}
	if d.cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(d.cfg.ReadTimeout); err != nil {
			port.Close()
			return nil, err
		}
	}
	return port, nil
}

// Close closes the connection. Pending requests fail with ErrNotConnected.
func (d *Serial) Close() error {
	d.cancel()

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}
	d.closeConn()
	return nil
}

func (d *Serial) closeConn() {
	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			log.Printf("Error closing serial port: %v", err)
		}
		d.conn = nil
	}
	d.reader = nil
	d.connected = false
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// AllLow asks the bridge to drive every digital line low.
func (d *Serial) AllLow() error {
	_, err := d.do(bridge.Command{Op: 'Z'})
	return err
}

// OpenDigitalOutput returns a handle to a bridge digital line.
func (d *Serial) OpenDigitalOutput(spec string) (DigitalOutput, error) {
	line, err := config.ParseLine(spec)
	if err != nil {
		return nil, err
	}
	return &serialOutput{task: task{name: spec}, dev: d, line: line}, nil
}

// OpenAnalogInput returns a handle to a bridge analog input.
func (d *Serial) OpenAnalogInput(spec string) (AnalogInput, error) {
	ain, err := config.ParseAnalog(spec)
	if err != nil {
		return nil, err
	}
	return &serialInput{task: task{name: spec}, dev: d, ain: ain}, nil
}

// do rate limits and performs one request.
func (d *Serial) do(cmd bridge.Command) (float64, error) {
	if err := d.limiter.Wait(d.ctx); err != nil {
		return 0, ErrNotConnected
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return 0, ErrNotConnected
	}
	return d.roundTrip(cmd)
}

// roundTrip sends a request and waits for its reply. Caller holds mu.
func (d *Serial) roundTrip(cmd bridge.Command) (float64, error) {
	// A reply that arrived after an earlier timeout must not be taken for
	// the answer to this request.
	d.flush()

	if _, err := d.conn.Write(bridge.Encode(cmd.String())); err != nil {
		return 0, fmt.Errorf("failed to send %q: %w", cmd, err)
	}

	for {
		line, err := d.reader.ReadBytes(bridge.Terminator)
		if err != nil {
			return 0, fmt.Errorf("failed to read reply to %q: %w", cmd, err)
		}

		payload, err := bridge.Decode(line)
		if err != nil {
			return 0, fmt.Errorf("reply to %q: %w", cmd, err)
		}
		payload = strings.TrimSpace(payload)
		if !bridge.Answers(cmd, payload) {
			log.Printf("Dropping stale reply %q while waiting for %q", payload, cmd)
			continue
		}

		v, err := bridge.ParseReply(payload)
		if err != nil {
			return 0, fmt.Errorf("%q: %w", cmd, err)
		}
		return v, nil
	}
}

// inputFlusher is implemented by serial ports that can discard received
// but unread bytes.
type inputFlusher interface {
	ResetInputBuffer() error
}

// flush drops everything received so far. Caller holds mu.
func (d *Serial) flush() {
	if f, ok := d.conn.(inputFlusher); ok {
		if err := f.ResetInputBuffer(); err != nil {
			log.Printf("Failed to flush %s input: %v", d.cfg.Port, err)
		}
	}
	d.reader.Reset(timeoutReader{d.conn})
}

// timeoutReader turns the (0, nil) read the serial driver reports on timeout
// into an error so bufio does not spin.
type timeoutReader struct {
	r io.Reader
}

func (t timeoutReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n == 0 && err == nil {
		return 0, ErrTimeout
	}
	return n, err
}

// task tracks the start/stop/close life cycle shared by all channel handles.
type task struct {
	name    string
	mu      sync.Mutex
	started bool
	closed  bool
}

func (t *task) Name() string { return t.name }

func (t *task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("%s: %w", t.name, ErrClosed)
	}
	t.started = true
	return nil
}

func (t *task) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("%s: %w", t.name, ErrClosed)
	}
	t.started = false
	return nil
}

// Close releases the handle. Closing twice is a no-op.
func (t *task) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.started = false
	return nil
}

func (t *task) usable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("%s: %w", t.name, ErrClosed)
	}
	return nil
}

type serialOutput struct {
	task
	dev  *Serial
	line int
}

func (o *serialOutput) Write(level bool) error {
	if err := o.usable(); err != nil {
		return err
	}
	if _, err := o.dev.do(bridge.Command{Op: 'W', Index: o.line, Level: level}); err != nil {
		return fmt.Errorf("%s: %w", o.name, err)
	}
	return nil
}

type serialInput struct {
	task
	dev *Serial
	ain int
}

func (i *serialInput) Read() (float64, error) {
	if err := i.usable(); err != nil {
		return 0, err
	}
	v, err := i.dev.do(bridge.Command{Op: 'R', Index: i.ain})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", i.name, err)
	}
	return v, nil
}
