// Package codec encodes chunk rows, sheet records, and patch operations for
// the storage backends. Payloads are CBOR, optionally zstd-compressed; a one
// byte header records which, so data written with either setting stays
// readable after the setting changes.
package codec

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// Payload headers.
const (
	formatRaw  byte = 0x00
	formatZstd byte = 0x01
)

// Options configures a Codec.
type Options struct {
	// Compress zstd-compresses chunk payloads on write.
	Compress bool
}

// Codec converts engine values to and from their persisted bytes. A Codec is
// safe for concurrent use.
type Codec struct {
	enc      cbor.EncMode
	dec      cbor.DecMode
	zenc     *zstd.Encoder
	zdec     *zstd.Decoder
	compress bool
}

// New builds a Codec.
func New(opts Options) (*Codec, error) {
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	encOpts.ShortestFloat = cbor.ShortestFloatNone
	enc, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("creating cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("creating cbor decoder: %w", err)
	}
	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	zdec, err := zstd.NewReader(nil)
	if err != nil {
		zenc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec, zenc: zenc, zdec: zdec, compress: opts.Compress}, nil
}

// Close releases the compression state.
func (c *Codec) Close() {
	c.zenc.Close()
	c.zdec.Close()
}

// EncodeRows encodes a chunk's row slots. Only populated slots are written.
func (c *Codec) EncodeRows(rows []types.RowData) ([]byte, error) {
	sparse := make(map[int]types.RowData)
	for i, r := range rows {
		if len(r) > 0 {
			sparse[i] = r
		}
	}
	data, err := c.enc.Marshal(sparse)
	if err != nil {
		return nil, fmt.Errorf("encoding rows: %w", err)
	}
	return c.wrap(data, c.compress), nil
}

// DecodeRows decodes a chunk payload into exactly types.ChunkSize slots.
func (c *Codec) DecodeRows(data []byte) ([]types.RowData, error) {
	raw, err := c.unwrap(data)
	if err != nil {
		return nil, err
	}
	var sparse map[int]types.RowData
	if err := c.dec.Unmarshal(raw, &sparse); err != nil {
		return nil, fmt.Errorf("decoding rows: %w: %v", types.ErrCorruptRecord, err)
	}
	rows := make([]types.RowData, types.ChunkSize)
	for i, r := range sparse {
		if i < 0 || i >= types.ChunkSize {
			return nil, fmt.Errorf("decoding rows: slot %d: %w", i, types.ErrCorruptRecord)
		}
		if len(r) > 0 {
			rows[i] = normalizeRow(r)
		}
	}
	return rows, nil
}

// EncodeSheet encodes a sheet record.
func (c *Codec) EncodeSheet(s *types.Sheet) ([]byte, error) {
	data, err := c.enc.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding sheet: %w", err)
	}
	return c.wrap(data, false), nil
}

// DecodeSheet decodes a sheet record.
func (c *Codec) DecodeSheet(data []byte) (*types.Sheet, error) {
	raw, err := c.unwrap(data)
	if err != nil {
		return nil, err
	}
	var s types.Sheet
	if err := c.dec.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decoding sheet: %w: %v", types.ErrCorruptRecord, err)
	}
	return &s, nil
}

// EncodeColumns encodes a column list.
func (c *Codec) EncodeColumns(cols []types.Column) ([]byte, error) {
	return c.enc.Marshal(cols)
}

// DecodeColumns decodes a column list written by EncodeColumns.
func (c *Codec) DecodeColumns(data []byte) ([]types.Column, error) {
	var cols []types.Column
	if err := c.dec.Unmarshal(data, &cols); err != nil {
		return nil, fmt.Errorf("decoding columns: %w: %v", types.ErrCorruptRecord, err)
	}
	return cols, nil
}

func (c *Codec) wrap(data []byte, compress bool) []byte {
	if compress {
		out := []byte{formatZstd}
		return c.zenc.EncodeAll(data, out)
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, formatRaw)
	return append(out, data...)
}

func (c *Codec) unwrap(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload: %w", types.ErrCorruptRecord)
	}
	switch data[0] {
	case formatRaw:
		return data[1:], nil
	case formatZstd:
		raw, err := c.zdec.DecodeAll(data[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing payload: %w: %v", types.ErrCorruptRecord, err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("unknown payload format %#x: %w", data[0], types.ErrCorruptRecord)
}

// normalizeRow maps decoded numeric values back to float64 so decoded cells
// compare equal to the values that were encoded.
func normalizeRow(r types.RowData) types.RowData {
	for k, v := range r {
		v.V = normalizeScalar(v.V)
		r[k] = v
	}
	return r
}

func normalizeScalar(v any) any {
	switch x := v.(type) {
	case uint64:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	}
	return v
}

var errNilOperation = errors.New("nil operation")
