package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// lengthHeaderSize is the fixed frame prefix: one native-endian uint32.
const lengthHeaderSize = 4

var (
	ErrPayloadTooLarge = errors.New("wire: payload exceeds size cap")
	ErrTruncated       = errors.New("wire: truncated frame")
)

// Limits constrains frame read/write memory use. A declared length above
// MaxReadBytes is rejected before any payload allocation happens.
type Limits struct {
	MaxReadBytes  uint32
	MaxWriteBytes uint32
}

// HostLimits returns the companion-side caps: responses to the extension are
// held to 1 MiB while inbound requests may carry up to 64 MiB.
func HostLimits() Limits {
	return Limits{
		MaxReadBytes:  64 * 1024 * 1024,
		MaxWriteBytes: 1 * 1024 * 1024,
	}
}

// ClientLimits mirrors HostLimits for the extension side of the stream.
func ClientLimits() Limits {
	return Limits{
		MaxReadBytes:  1 * 1024 * 1024,
		MaxWriteBytes: 64 * 1024 * 1024,
	}
}

// WriteFrame writes one length-prefixed frame. The cap is checked before any
// bytes reach the stream so an oversize payload never desynchronizes it.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	if uint64(len(payload)) > uint64(limits.MaxWriteBytes) {
		return fmt.Errorf("%w: %d bytes, cap %d", ErrPayloadTooLarge, len(payload), limits.MaxWriteBytes)
	}
	var head [lengthHeaderSize]byte
	binary.NativeEndian.PutUint32(head[:], uint32(len(payload)))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one complete frame from r, buffering across partial reads.
// End-of-stream before the first header byte is a clean shutdown and returns
// io.EOF unchanged; end-of-stream anywhere inside a frame is ErrTruncated.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var head [lengthHeaderSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}

	length := binary.NativeEndian.Uint32(head[:])
	if length > limits.MaxReadBytes {
		return nil, fmt.Errorf("%w: declared %d bytes, cap %d", ErrPayloadTooLarge, length, limits.MaxReadBytes)
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	return payload, nil
}
