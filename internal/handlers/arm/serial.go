package arm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"go.bug.st/serial"
)

// MyCobot frame layout: FE FE <len> <cmd> <payload...> FA, where len
// counts the command byte, the payload and the footer.
const (
	frameHeader = 0xFE
	frameFooter = 0xFA

	cmdSendAngles  = 0x22
	cmdSendCoord   = 0x24
	cmdSendCoords  = 0x25
	cmdSetGripper  = 0x67
	coordModeAngle = 0x00
)

// SerialArm drives a MyCobot-compatible arm over a serial link
type SerialArm struct {
	mu   sync.Mutex
	port io.ReadWriteCloser
}

// OpenSerial opens the port at path
func OpenSerial(path string, baud int) (*SerialArm, error) {
	if baud <= 0 {
		baud = 1000000
	}
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open arm port %s: %w", path, err)
	}
	return NewSerialArm(port), nil
}

// NewSerialArm wraps an already open port
func NewSerialArm(port io.ReadWriteCloser) *SerialArm {
	return &SerialArm{port: port}
}

func (a *SerialArm) SendAngles(angles []float64, speed int) error {
	if len(angles) != 6 {
		return fmt.Errorf("send angles: need 6 joints, got %d", len(angles))
	}
	payload := make([]byte, 0, 13)
	for _, deg := range angles {
		payload = appendInt16(payload, deg*100)
	}
	payload = append(payload, clampByte(speed))
	return a.write(cmdSendAngles, payload)
}

func (a *SerialArm) SendCoords(pose Pose, speed int) error {
	payload := make([]byte, 0, 14)
	for i, v := range pose {
		if i < 3 {
			payload = appendInt16(payload, v*10)
		} else {
			payload = appendInt16(payload, v*100)
		}
	}
	payload = append(payload, clampByte(speed), coordModeAngle)
	return a.write(cmdSendCoords, payload)
}

func (a *SerialArm) SendCoord(axis int, value float64, speed int) error {
	if axis < 1 || axis > 6 {
		return fmt.Errorf("send coord: axis %d out of range", axis)
	}
	scale := 10.0
	if axis > 3 {
		scale = 100
	}
	payload := []byte{byte(axis)}
	payload = appendInt16(payload, value*scale)
	payload = append(payload, clampByte(speed))
	return a.write(cmdSendCoord, payload)
}

func (a *SerialArm) SetGripper(value, speed int) error {
	return a.write(cmdSetGripper, []byte{clampByte(value), clampByte(speed)})
}

func (a *SerialArm) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.port.Close()
}

func (a *SerialArm) write(cmd byte, payload []byte) error {
	frame := EncodeFrame(cmd, payload)

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.port.Write(frame); err != nil {
		return fmt.Errorf("write command 0x%02x: %w", cmd, err)
	}
	return nil
}

// EncodeFrame wraps a command and its payload in MyCobot framing
func EncodeFrame(cmd byte, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(payload) + 5)
	buf.WriteByte(frameHeader)
	buf.WriteByte(frameHeader)
	buf.WriteByte(byte(len(payload) + 2))
	buf.WriteByte(cmd)
	buf.Write(payload)
	buf.WriteByte(frameFooter)
	return buf.Bytes()
}

func appendInt16(b []byte, v float64) []byte {
	v = math.Round(v)
	v = math.Max(math.MinInt16, math.Min(math.MaxInt16, v))
	return binary.BigEndian.AppendUint16(b, uint16(int16(v)))
}

func clampByte(v int) byte {
	return byte(max(0, min(255, v)))
}
