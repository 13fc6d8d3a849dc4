package peer

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ai4all/worker/internal/wkerrors"
)

// MaxFrameBytes bounds a single framed message.
const MaxFrameBytes = 64 * 1024 * 1024

// WriteFrame encodes msg as a 4-byte big-endian length prefix followed by
// its JSON body, and writes it to w.
func WriteFrame(w io.Writer, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode peer message: %w", err)
	}
	if len(body) > MaxFrameBytes {
		return wkerrors.New(wkerrors.CodeFrameTooLarge, wkerrors.FamilyProtocol, "peer frame exceeds maximum size")
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON message from r.
func ReadFrame(r io.Reader) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameBytes {
		return Message{}, wkerrors.New(wkerrors.CodeFrameTooLarge, wkerrors.FamilyProtocol, "incoming peer frame exceeds maximum size")
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("read frame body: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("decode peer message: %w", err)
	}
	return msg, nil
}
