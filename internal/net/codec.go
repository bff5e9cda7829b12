package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/l1jgo/gamegate/internal/net/packet"
)

var (
	ErrFrameTooSmall = errors.New("frame length below header size")
	ErrFrameTooLarge = errors.New("frame length above limit")
)

// ProtocolError is a framing violation. It is fatal to the connection:
// the session closes without sending a response.
type ProtocolError struct {
	Length uint32
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %v (declared %d bytes)", e.Err, e.Length)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// checkLength validates a declared totalLength. It runs as soon as the
// 4-byte length field is available, before any payload is buffered.
func checkLength(totalLen uint32) error {
	switch {
	case totalLen < packet.HeaderSize:
		return &ProtocolError{Length: totalLen, Err: ErrFrameTooSmall}
	case totalLen > packet.MaxFrameSize:
		return &ProtocolError{Length: totalLen, Err: ErrFrameTooLarge}
	}
	return nil
}

// Decoder turns an arbitrarily chunked byte stream into packets.
// Wire format: [4B LE totalLength][2B LE type][4B LE sequence][payload].
// A Decoder is owned by one reader goroutine.
type Decoder struct {
	buf []byte
	err error
}

func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 4096)}
}

// Feed appends chunk to the internal buffer and returns every packet that
// became complete, in stream order. After a protocol error the decoder
// keeps returning that error and never parses again.
func (d *Decoder) Feed(chunk []byte) ([]packet.Packet, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buf = append(d.buf, chunk...)

	var out []packet.Packet
	off := 0
	for {
		rest := d.buf[off:]
		if len(rest) < 4 {
			break
		}
		totalLen := binary.LittleEndian.Uint32(rest)
		if err := checkLength(totalLen); err != nil {
			d.err = err
			d.buf = nil
			return out, err
		}
		if len(rest) < int(totalLen) {
			break
		}
		out = append(out, parseFrame(rest[:totalLen]))
		off += int(totalLen)
	}

	// Compact: keep only the partial frame at the front of the buffer.
	if off > 0 {
		n := copy(d.buf, d.buf[off:])
		d.buf = d.buf[:n]
	}
	return out, nil
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// parseFrame slices one complete, length-validated frame. The payload is
// copied so it stays valid after the decoder buffer is compacted.
func parseFrame(frame []byte) packet.Packet {
	payload := make([]byte, len(frame)-packet.HeaderSize)
	copy(payload, frame[packet.HeaderSize:])
	return packet.Packet{
		Type:     binary.LittleEndian.Uint16(frame[4:6]),
		Sequence: binary.LittleEndian.Uint32(frame[6:10]),
		Payload:  payload,
	}
}

// ReadPacket reads exactly one frame from r. The declared length is
// validated before the payload buffer is allocated.
func ReadPacket(r io.Reader) (packet.Packet, error) {
	var header [packet.HeaderSize]byte
	if _, err := io.ReadFull(r, header[:4]); err != nil {
		return packet.Packet{}, fmt.Errorf("read frame length: %w", err)
	}
	totalLen := binary.LittleEndian.Uint32(header[:4])
	if err := checkLength(totalLen); err != nil {
		return packet.Packet{}, err
	}
	if _, err := io.ReadFull(r, header[4:]); err != nil {
		return packet.Packet{}, fmt.Errorf("read frame header: %w", err)
	}

	payload := make([]byte, int(totalLen)-packet.HeaderSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return packet.Packet{}, fmt.Errorf("read frame payload (%d bytes): %w", len(payload), err)
	}
	return packet.Packet{
		Type:     binary.LittleEndian.Uint16(header[4:6]),
		Sequence: binary.LittleEndian.Uint32(header[6:10]),
		Payload:  payload,
	}, nil
}

// EncodeFrame builds one frame: totalLength = 10 + len(payload).
func EncodeFrame(msgType uint16, seq uint32, payload []byte) ([]byte, error) {
	if len(payload) > packet.MaxPayload {
		return nil, &ProtocolError{Length: uint32(packet.HeaderSize + len(payload)), Err: ErrFrameTooLarge}
	}
	totalLen := packet.HeaderSize + len(payload)
	frame := make([]byte, totalLen)
	binary.LittleEndian.PutUint32(frame[0:4], uint32(totalLen))
	binary.LittleEndian.PutUint16(frame[4:6], msgType)
	binary.LittleEndian.PutUint32(frame[6:10], seq)
	copy(frame[packet.HeaderSize:], payload)
	return frame, nil
}

// EncodeResponse builds a server-originated frame. Server frames always
// carry sequence 0; they do not take part in client replay protection.
func EncodeResponse(msgType uint16, payload []byte) ([]byte, error) {
	return EncodeFrame(msgType, 0, payload)
}

// WriteFrame encodes and writes one frame in a single Write call.
func WriteFrame(w io.Writer, msgType uint16, seq uint32, payload []byte) error {
	frame, err := EncodeFrame(msgType, seq, payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
