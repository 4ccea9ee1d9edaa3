// Package protocol implements the wire codec: a single byte message kind
// followed by kind-specific, length-prefixed fields. One frame is one
// message; there is no inter-frame delimiter beyond the length prefixes
// themselves.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFieldLen bounds a single length-prefixed field so a corrupt or hostile
// peer cannot make the decoder allocate unbounded memory from a forged
// length prefix.
const maxFieldLen = 64 * 1024 * 1024

// Encoder writes frames to a writer. Callers must hold the transport's send
// lock for the duration of one Encode call: the encoder itself does no
// locking.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// EncodeOpen writes an OPEN frame.
func (e *Encoder) EncodeOpen(m OpenMsg) error {
	return e.encodeKind(KindOpen, func(w io.Writer) error {
		if err := writeString(w, m.Path); err != nil {
			return err
		}
		_, err := w.Write([]byte{byte(m.Mode)})
		return err
	})
}

// EncodeClose writes a CLOSE frame.
func (e *Encoder) EncodeClose(m CloseMsg) error {
	return e.encodeKind(KindClose, func(w io.Writer) error {
		if err := writeString(w, m.Path); err != nil {
			return err
		}
		_, err := w.Write([]byte{byte(m.Mode)})
		return err
	})
}

// EncodeData writes a WRITE or FLUSH frame (kind must be one of the two).
func (e *Encoder) EncodeData(kind Kind, m DataMsg) error {
	if kind != KindWrite && kind != KindFlush {
		return fmt.Errorf("protocol: EncodeData called with non-data kind %s", kind)
	}
	return e.encodeKind(kind, func(w io.Writer) error {
		if err := writeString(w, m.Path); err != nil {
			return err
		}
		return writeBytes(w, m.Data)
	})
}

// EncodeCredit writes a READ or READ-REQUEST frame (kind must be one of the two).
func (e *Encoder) EncodeCredit(kind Kind, m CreditMsg) error {
	if kind != KindRead && kind != KindReadRequest {
		return fmt.Errorf("protocol: EncodeCredit called with non-credit kind %s", kind)
	}
	return e.encodeKind(kind, func(w io.Writer) error {
		if err := writeString(w, m.Path); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, m.Len)
	})
}

// encodeKind buffers one frame's body, then writes [kind][frameLen][body] as
// a single logical unit so interleaving on the shared writer lock can never
// split a frame.
func (e *Encoder) encodeKind(kind Kind, writeBody func(io.Writer) error) error {
	var body frameBuffer
	if err := writeBody(&body); err != nil {
		return fmt.Errorf("protocol: encode %s body: %w", kind, err)
	}

	if _, err := e.w.Write([]byte{byte(kind)}); err != nil {
		return fmt.Errorf("protocol: write kind: %w", err)
	}
	if err := binary.Write(e.w, binary.BigEndian, uint32(len(body.b))); err != nil {
		return fmt.Errorf("protocol: write frame length: %w", err)
	}
	if _, err := e.w.Write(body.b); err != nil {
		return fmt.Errorf("protocol: write frame body: %w", err)
	}
	return nil
}

// frameBuffer is a minimal growable byte sink, avoiding a bytes.Buffer
// dependency for what is just an accumulate-then-write step.
type frameBuffer struct{ b []byte }

func (f *frameBuffer) Write(p []byte) (int, error) {
	f.b = append(f.b, p...)
	return len(p), nil
}

// Decoder reads frames from a reader. The receive side is single-threaded
// (owned by the dispatcher), so Decoder needs no internal locking.
type Decoder struct {
	r io.Reader
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// DecodeHeader reads the kind byte and frame length, returning a bounded
// io.Reader over the frame's body. Callers must fully consume bodyR (or
// discard it via io.Copy(io.Discard, bodyR)) before the next DecodeHeader
// call, since both share the same underlying stream.
func (d *Decoder) DecodeHeader() (Kind, io.Reader, error) {
	var kindByte [1]byte
	if _, err := io.ReadFull(d.r, kindByte[:]); err != nil {
		return 0, nil, err
	}

	var frameLen uint32
	if err := binary.Read(d.r, binary.BigEndian, &frameLen); err != nil {
		return 0, nil, fmt.Errorf("protocol: read frame length: %w", err)
	}
	if frameLen > maxFieldLen {
		return 0, nil, fmt.Errorf("protocol: frame length %d exceeds limit", frameLen)
	}

	return Kind(kindByte[0]), io.LimitReader(d.r, int64(frameLen)), nil
}

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	return string(b), err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n > maxFieldLen {
		return nil, fmt.Errorf("protocol: field length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// DecodeOpen decodes the body of an OPEN frame.
func DecodeOpen(body io.Reader) (OpenMsg, error) {
	path, err := readString(body)
	if err != nil {
		return OpenMsg{}, err
	}
	var mode [1]byte
	if _, err := io.ReadFull(body, mode[:]); err != nil {
		return OpenMsg{}, err
	}
	return OpenMsg{Path: path, Mode: Mode(mode[0])}, nil
}

// DecodeClose decodes the body of a CLOSE frame.
func DecodeClose(body io.Reader) (CloseMsg, error) {
	path, err := readString(body)
	if err != nil {
		return CloseMsg{}, err
	}
	var mode [1]byte
	if _, err := io.ReadFull(body, mode[:]); err != nil {
		return CloseMsg{}, err
	}
	return CloseMsg{Path: path, Mode: Mode(mode[0])}, nil
}

// DecodeData decodes the body of a WRITE or FLUSH frame in full. Prefer
// DecodeDataHeader on the dispatcher's hot path, which lets the caller stream
// the payload straight into a ring buffer or a parked reader's request buffer
// without an intermediate allocation.
func DecodeData(body io.Reader) (DataMsg, error) {
	path, n, err := DecodeDataHeader(body)
	if err != nil {
		return DataMsg{}, err
	}
	data := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(body, data); err != nil {
			return DataMsg{}, err
		}
	}
	return DataMsg{Path: path, Data: data}, nil
}

// DecodeDataHeader decodes the path and payload length of a WRITE or FLUSH
// frame, leaving body positioned at the start of the raw payload bytes (still
// bounded to the frame by the io.LimitReader DecodeHeader returned). The
// caller reads exactly n bytes from body itself.
func DecodeDataHeader(body io.Reader) (path string, n uint32, err error) {
	path, err = readString(body)
	if err != nil {
		return "", 0, err
	}
	if err := binary.Read(body, binary.BigEndian, &n); err != nil {
		return "", 0, err
	}
	if n > maxFieldLen {
		return "", 0, fmt.Errorf("protocol: payload length %d exceeds limit", n)
	}
	return path, n, nil
}

// DecodeCredit decodes the body of a READ or READ-REQUEST frame.
func DecodeCredit(body io.Reader) (CreditMsg, error) {
	path, err := readString(body)
	if err != nil {
		return CreditMsg{}, err
	}
	var n uint32
	if err := binary.Read(body, binary.BigEndian, &n); err != nil {
		return CreditMsg{}, err
	}
	return CreditMsg{Path: path, Len: n}, nil
}
