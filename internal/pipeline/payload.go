package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Payload is what a render job carries. The source and summary travel with
// the job so a render never races a concurrent edit of the stored document.
type Payload struct {
	Slug    string `json:"slug"`
	Source  string `json:"source"`
	Summary string `json:"summary,omitempty"`
}

func encodePayload(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating zstd writer: %w", err)
	}
	if err := json.NewEncoder(w).Encode(p); err != nil {
		w.Close()
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing zstd writer: %w", err)
	}
	return buf.Bytes(), nil
}

func decodePayload(data []byte) (Payload, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return Payload{}, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return Payload{}, fmt.Errorf("decompressing payload: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decoding payload: %w", err)
	}
	return p, nil
}
