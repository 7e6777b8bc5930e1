package protocol

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeBody serializes v (one of the typed request/response bodies)
// to its msgpack representation. Serialization failures are
// classified as client-side: the caller has constructed a value
// msgpack cannot represent.
func EncodeBody(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode body: %w", err)
	}
	return b, nil
}

// DecodeBody deserializes a msgpack body into v. Deserialization
// failures on the receive path are protocol errors: the frame the
// peer sent does not parse as the type we asked for.
func DecodeBody(data []byte, v interface{}) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("protocol: decode body: %w", err)
	}
	return nil
}

// SendMessage encodes v and writes it to w as one length-prefixed
// frame.
func SendMessage(w io.Writer, v interface{}) error {
	body, err := EncodeBody(v)
	if err != nil {
		return err
	}
	return WriteFrame(w, body)
}

// ReceiveMessage reads one length-prefixed frame from r and decodes
// it into v. maxBytes of 0 selects DefaultMaxFrameBytes.
func ReceiveMessage(r io.Reader, maxBytes uint32, v interface{}) error {
	body, err := ReadFrame(r, maxBytes)
	if err != nil {
		return err
	}
	return DecodeBody(body, v)
}
