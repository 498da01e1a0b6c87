package gorc

import (
	"bytes"
	"compress/flate"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// EncodeLayer compresses raw per the requested variant. Delta is handled by
// EncodeDelta instead, since it needs the previous baseline rather than raw
// alone.
func EncodeLayer(raw []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return raw, nil
	case CompressionLz4:
		return compressLz4(raw)
	case CompressionHigh:
		return compressFlate(raw)
	default:
		return nil, fmt.Errorf("gorc: unsupported compression variant for EncodeLayer: %s", compression)
	}
}

// EncodeDelta xor-diffs cur against prev byte-wise. No ecosystem
// delta/patch-encoding library appears anywhere in the retrieved pack, so
// this encoder is hand-written on the stdlib alone, like compressFlate. A
// nil baseline or length mismatch falls back to a full frame
// so the receiver never has to guess which it got; the leading byte marks
// which case occurred.
func EncodeDelta(prev, cur []byte) []byte {
	if prev == nil || len(prev) != len(cur) {
		out := make([]byte, len(cur)+1)
		out[0] = 0 // full frame
		copy(out[1:], cur)
		return out
	}
	out := make([]byte, len(cur)+1)
	out[0] = 1 // delta frame
	for i := range cur {
		out[i+1] = cur[i] ^ prev[i]
	}
	return out
}

func compressLz4(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// compressFlate is the one stdlib exception in the compression variant set:
// no ecosystem high-ratio codec (zstd, brotli, etc.) is present anywhere in
// the retrieved pack, so the "High" variant reaches for compress/flate at
// its best-compression level rather than introducing an unwired dependency.
func compressFlate(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
