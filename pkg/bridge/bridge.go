// Package bridge implements the line protocol spoken between the host and the
// DAQ bridge firmware.
//
// Every frame is a single ASCII line:
//
//	<payload>*<crc>\n
//
// where crc is the CRC-16/XMODEM of payload as four upper case hex digits.
// Requests:
//
//	P               ping, answered with OK
//	W <line> <0|1>  drive a digital line, answered with OK
//	R <ain>         read an analog input, answered with V <volts>
//	Z               drive every digital line low, answered with OK
//
// Failures are answered with "E <message>".
package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/snksoft/crc"
)

const (
	// Terminator ends every frame.
	Terminator = '\n'
	// separator splits payload from checksum.
	separator = '*'
)

var (
	// ErrCRC is returned when a frame checksum does not match its payload.
	ErrCRC = errors.New("bridge: crc mismatch")
	// ErrMalformed is returned for frames that cannot be split into payload and checksum.
	ErrMalformed = errors.New("bridge: malformed frame")

	crcTable = crc.NewTable(crc.XMODEM)
)

// Checksum computes the CRC-16/XMODEM of payload.
func Checksum(payload []byte) uint16 {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, payload)
	return crcTable.CRC16(c)
}

// Encode frames payload, appending checksum and terminator.
func Encode(payload string) []byte {
	out := make([]byte, 0, len(payload)+6)
	out = append(out, payload...)
	out = append(out, separator)
	out = append(out, fmt.Sprintf("%04X", Checksum([]byte(payload)))...)
	out = append(out, Terminator)
	return out
}

// Decode verifies a frame (with or without terminator) and returns its payload.
func Decode(frame []byte) (string, error) {
	frame = bytes.TrimRight(frame, "\r\n")
	idx := bytes.LastIndexByte(frame, separator)
	if idx < 0 || len(frame)-idx-1 != 4 {
		return "", fmt.Errorf("%w: %q", ErrMalformed, frame)
	}
	payload := frame[:idx]
	sum, err := strconv.ParseUint(string(frame[idx+1:]), 16, 16)
	if err != nil {
		return "", fmt.Errorf("%w: bad checksum %q", ErrMalformed, frame[idx+1:])
	}
	if uint16(sum) != Checksum(payload) {
		return "", fmt.Errorf("%w: %q", ErrCRC, frame)
	}
	return string(payload), nil
}

// Command is a decoded request.
type Command struct {
	Op    byte // 'P', 'W', 'R' or 'Z'
	Index int  // Line or analog input number
	Level bool // Requested level for 'W'
}

// String renders the command payload.
func (c Command) String() string {
	switch c.Op {
	case 'W':
		level := 0
		if c.Level {
			level = 1
		}
		return fmt.Sprintf("W %d %d", c.Index, level)
	case 'R':
		return fmt.Sprintf("R %d", c.Index)
	default:
		return string(c.Op)
	}
}

// ParseCommand parses a request payload.
func ParseCommand(payload string) (Command, error) {
	fields := strings.Fields(payload)
	if len(fields) == 0 || len(fields[0]) != 1 {
		return Command{}, fmt.Errorf("%w: command %q", ErrMalformed, payload)
	}
	cmd := Command{Op: fields[0][0]}
	switch cmd.Op {
	case 'P', 'Z':
		if len(fields) != 1 {
			return Command{}, fmt.Errorf("%w: %q takes no arguments", ErrMalformed, payload)
		}
	case 'R':
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("%w: %q expects an input number", ErrMalformed, payload)
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil || idx < 0 {
			return Command{}, fmt.Errorf("%w: invalid input %q", ErrMalformed, fields[1])
		}
		cmd.Index = idx
	case 'W':
		if len(fields) != 3 {
			return Command{}, fmt.Errorf("%w: %q expects line and level", ErrMalformed, payload)
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil || idx < 0 {
			return Command{}, fmt.Errorf("%w: invalid line %q", ErrMalformed, fields[1])
		}
		switch fields[2] {
		case "0":
		case "1":
			cmd.Level = true
		default:
			return Command{}, fmt.Errorf("%w: invalid level %q", ErrMalformed, fields[2])
		}
		cmd.Index = idx
	default:
		return Command{}, fmt.Errorf("%w: unknown command %q", ErrMalformed, fields[0])
	}
	return cmd, nil
}

// Answers reports whether reply has the shape of an answer to cmd. Error
// replies answer any command, "V" replies answer R and "OK" answers the rest.
func Answers(cmd Command, reply string) bool {
	switch {
	case strings.HasPrefix(reply, "E"):
		return true
	case cmd.Op == 'R':
		return strings.HasPrefix(reply, "V ")
	default:
		return reply == "OK"
	}
}

// ParseReply interprets a reply payload. For "V" replies the reading is
// returned; "E" replies are turned into errors.
func ParseReply(payload string) (float64, error) {
	switch {
	case payload == "OK":
		return 0, nil
	case strings.HasPrefix(payload, "V "):
		v, err := strconv.ParseFloat(strings.TrimSpace(payload[2:]), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid reading %q", ErrMalformed, payload)
		}
		return v, nil
	case strings.HasPrefix(payload, "E"):
		return 0, fmt.Errorf("bridge error: %s", strings.TrimSpace(payload[1:]))
	default:
		return 0, fmt.Errorf("%w: unexpected reply %q", ErrMalformed, payload)
	}
}
