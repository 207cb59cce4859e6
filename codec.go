package afkak

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
)

// Codec enumerates the compression schemes a message set can be
// encoded with. Values are wire-compatible small integers; an
// unrecognized value is rejected by valid().
type Codec int8

const (
	CodecNone   Codec = 0
	CodecGZIP   Codec = 1
	CodecSnappy Codec = 2
)

func (c Codec) valid() bool {
	switch c {
	case CodecNone, CodecGZIP, CodecSnappy:
		return true
	default:
		return false
	}
}

// CreateMessageSet encodes msgs into the wire message-set format this
// package's dispatcher hands to Client.SendProduceRequest, applying
// codec. The producer's dispatch path encodes every request with it;
// the reference client decodes the same format with DecodeMessageSet.
func CreateMessageSet(msgs []Message, codec Codec) ([]byte, error) {
	if !codec.valid() {
		return nil, ErrUnsupportedCodec
	}

	var raw bytes.Buffer
	for _, m := range msgs {
		if err := writeRecord(&raw, m); err != nil {
			return nil, err
		}
	}

	switch codec {
	case CodecNone:
		return raw.Bytes(), nil
	case CodecGZIP:
		var out bytes.Buffer
		zw := gzip.NewWriter(&out)
		if _, err := zw.Write(raw.Bytes()); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	case CodecSnappy:
		return snappy.Encode(nil, raw.Bytes()), nil
	default:
		return nil, ErrUnsupportedCodec
	}
}

// DecodeMessageSet reverses CreateMessageSet; used by the reference
// client to recover individual records for test assertions.
func DecodeMessageSet(data []byte, codec Codec) ([]Message, error) {
	var raw []byte
	var err error
	switch codec {
	case CodecNone:
		raw = data
	case CodecGZIP:
		zr, zerr := gzip.NewReader(bytes.NewReader(data))
		if zerr != nil {
			return nil, zerr
		}
		defer zr.Close()
		raw, err = io.ReadAll(zr)
		if err != nil {
			return nil, err
		}
	case CodecSnappy:
		raw, err = snappy.Decode(nil, data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnsupportedCodec
	}

	var msgs []Message
	r := bytes.NewReader(raw)
	for r.Len() > 0 {
		m, err := readRecord(r)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func writeRecord(w io.Writer, m Message) error {
	if err := writeLP(w, m.Key); err != nil {
		return err
	}
	return writeLP(w, m.Value)
}

func readRecord(r *bytes.Reader) (Message, error) {
	key, err := readLP(r)
	if err != nil {
		return Message{}, err
	}
	value, err := readLP(r)
	if err != nil {
		return Message{}, err
	}
	return Message{Key: key, Value: value}, nil
}

func writeLP(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLP(r *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteFrame writes data as one length-prefixed frame, trivial TCP
// framing that sits outside the coordination core but is necessary
// for the reference client's loopback transport.
func WriteFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadFrame reads one length-prefixed frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > 64<<20 {
		return nil, fmt.Errorf("afkak: frame of %d bytes exceeds maximum", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
