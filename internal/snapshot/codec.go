package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// MaxPayloadSize caps the decompressed snapshot so a crafted backup cannot
// exhaust memory.
const MaxPayloadSize = 1 << 30

func Encode(s *Snapshot) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("encode snapshot: snapshot is nil")
	}
	s.normalize()

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: marshal: %w", err)
	}

	var out bytes.Buffer
	zw, err := gzip.NewWriterLevel(&out, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: gzip writer: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("encode snapshot: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("encode snapshot: close gzip writer: %w", err)
	}
	return out.Bytes(), nil
}

func Decode(payload []byte) (*Snapshot, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip reader: %v", ErrCorruptPayload, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, MaxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCorruptPayload, err)
	}
	if len(raw) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload exceeds %d MiB", ErrCorruptPayload, MaxPayloadSize>>20)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrCorruptPayload, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after snapshot", ErrCorruptPayload)
	}

	s.normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
