// Package nativehost implements the browser native messaging protocol for
// the extension-facing side of the daemon. Messages travel over stdio as a
// 4-byte little-endian length prefix followed by a JSON payload.
package nativehost

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxMessageSize limits native messaging payloads. Chrome caps host-to-browser
// messages at 1MB; nothing we exchange comes near that.
const MaxMessageSize = 1024 * 1024

// Request is an incoming native messaging request from the extension. The ID
// correlates responses on the extension side.
type Request struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is sent back to the extension for every request.
type Response struct {
	ID     int    `json:"id"`
	Ok     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// ReadMessage reads one length-prefixed message from the reader.
func ReadMessage(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if length > uint32(MaxMessageSize) {
		return nil, fmt.Errorf("message too large: %d bytes (max %d)", length, MaxMessageSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteMessage writes one length-prefixed message to the writer.
func WriteMessage(w io.Writer, msg []byte) error {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", len(msg), MaxMessageSize)
	}
	length := uint32(len(msg))
	if err := binary.Write(w, binary.LittleEndian, length); err != nil {
		return err
	}
	_, err := w.Write(msg)
	return err
}

// ParseRequest decodes a JSON byte slice into a Request.
func ParseRequest(b []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// MakeSuccessResponse encodes a success response.
func MakeSuccessResponse(id int, result any) []byte {
	b, _ := json.Marshal(Response{
		ID:     id,
		Ok:     true,
		Result: result,
	})
	return b
}

// MakeErrorResponse encodes an error response.
func MakeErrorResponse(id int, err error) []byte {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	b, _ := json.Marshal(Response{
		ID:    id,
		Ok:    false,
		Error: msg,
	})
	return b
}
