package agent

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// sessionState is what a CLI agent needs to resume a conversation. The
// encoded form is opaque to callers; only the agent that produced a blob
// decodes it.
type sessionState struct {
	AgentType Type   `json:"agent_type"`
	SessionID string `json:"session_id"`
}

// EncodeBlob serializes session state as gzipped JSON wrapped in base64, so
// it stores and ships as a compact opaque string.
func EncodeBlob(state sessionState) ([]byte, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session state: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress session state: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress session state: %w", err)
	}

	encoded := make([]byte, base64.StdEncoding.EncodedLen(buf.Len()))
	base64.StdEncoding.Encode(encoded, buf.Bytes())
	return encoded, nil
}

// DecodeBlob reverses EncodeBlob.
func DecodeBlob(blob []byte) (sessionState, error) {
	var state sessionState

	compressed := make([]byte, base64.StdEncoding.DecodedLen(len(blob)))
	n, err := base64.StdEncoding.Decode(compressed, blob)
	if err != nil {
		return state, fmt.Errorf("failed to decode session blob: %w", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed[:n]))
	if err != nil {
		return state, fmt.Errorf("failed to decompress session blob: %w", err)
	}
	raw, err := io.ReadAll(zr)
	if cerr := zr.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return state, fmt.Errorf("failed to decompress session blob: %w", err)
	}

	if err := json.Unmarshal(raw, &state); err != nil {
		return state, fmt.Errorf("failed to unmarshal session state: %w", err)
	}
	return state, nil
}
