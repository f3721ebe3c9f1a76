package nativehost

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteMessage_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"id":1,"method":"version"}`)

	require.NoError(t, WriteMessage(&buf, payload))

	// Length prefix is 4 bytes little-endian.
	require.Equal(t, 4+len(payload), buf.Len())
	assert.Equal(t, uint32(len(payload)), binary.LittleEndian.Uint32(buf.Bytes()[:4]))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadMessage_RejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(MaxMessageSize+1)))

	_, err := ReadMessage(&buf)
	assert.ErrorContains(t, err, "message too large")
}

func TestReadMessage_TruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(100)))
	buf.WriteString("short")

	_, err := ReadMessage(&buf)
	assert.Error(t, err)
}

func TestWriteMessage_RejectsOversized(t *testing.T) {
	err := WriteMessage(&bytes.Buffer{}, make([]byte, MaxMessageSize+1))
	assert.ErrorContains(t, err, "message too large")
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest([]byte(`{"id":7,"method":"site.add","params":{"pattern":"x.com"}}`))
	require.NoError(t, err)
	assert.Equal(t, 7, req.ID)
	assert.Equal(t, "site.add", req.Method)
	assert.JSONEq(t, `{"pattern":"x.com"}`, string(req.Params))

	_, err = ParseRequest([]byte(`{invalid`))
	assert.Error(t, err)
}

func TestMakeResponses(t *testing.T) {
	var resp Response

	require.NoError(t, json.Unmarshal(MakeSuccessResponse(3, map[string]string{"id": "abc"}), &resp))
	assert.True(t, resp.Ok)
	assert.Equal(t, 3, resp.ID)

	require.NoError(t, json.Unmarshal(MakeErrorResponse(4, assert.AnError), &resp))
	assert.False(t, resp.Ok)
	assert.Equal(t, 4, resp.ID)
	assert.Equal(t, assert.AnError.Error(), resp.Error)

	require.NoError(t, json.Unmarshal(MakeErrorResponse(5, nil), &resp))
	assert.Equal(t, "unknown error", resp.Error)
}
