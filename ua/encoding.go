// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// EncodingContext carries the limits negotiated at Hello/Acknowledge time
// plus the recursion depth gauge shared by every decode call
// on a given stream.
type EncodingContext struct {
	MaxStringLength     int
	MaxByteStringLength int
	MaxArrayLength      int
	MaxMessageSize      int
	MaxChunkCount       int
	MaxDepth            int

	depth int
}

// DefaultEncodingContext returns permissive defaults suitable for tests and
// for the client before Hello/Acknowledge negotiation completes.
func DefaultEncodingContext() *EncodingContext {
	return &EncodingContext{
		MaxStringLength:     1 << 20,
		MaxByteStringLength: 1 << 20,
		MaxArrayLength:      1 << 16,
		MaxMessageSize:      1 << 22,
		MaxChunkCount:       512,
		MaxDepth:            100,
	}
}

// EnterDepth acquires one unit of the depth gauge. The caller MUST call the
// returned func on every exit path (success or failure) so the gauge
// returns to zero.
func (c *EncodingContext) EnterDepth() (func(), error) {
	if c.depth >= c.MaxDepth {
		return func() {}, StatusBadDecodingError
	}
	c.depth++
	return func() { c.depth-- }, nil
}

// EncodingError is the single error taxonomy for codec failures.
type EncodingError struct {
	StatusCode StatusCode
	RequestID  uint32
	HasRequest bool
	Offset     int64
	Cause      error
}

func (e *EncodingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s at offset %d: %v", e.StatusCode, e.Offset, e.Cause)
	}
	return fmt.Sprintf("%s at offset %d", e.StatusCode, e.Offset)
}

func (e *EncodingError) Unwrap() error { return e.StatusCode }

// Decoder reads primitive and built-in OPC UA values from a byte stream.
// It never allocates the full message twice: callers pass in an io.Reader
// positioned at the start of the reassembled chunk payload.
type Decoder struct {
	r      io.Reader
	ctx    *EncodingContext
	offset int64
}

// NewDecoder wraps r for decoding with ctx. If ctx is nil, defaults are used.
func NewDecoder(r io.Reader, ctx *EncodingContext) *Decoder {
	if ctx == nil {
		ctx = DefaultEncodingContext()
	}
	return &Decoder{r: r, ctx: ctx}
}

func (d *Decoder) Context() *EncodingContext { return d.ctx }

func (d *Decoder) err(status StatusCode, cause error) error {
	return &EncodingError{StatusCode: status, Offset: d.offset, Cause: cause}
}

func (d *Decoder) readFull(buf []byte) error {
	n, err := io.ReadFull(d.r, buf)
	d.offset += int64(n)
	if err != nil {
		return d.err(StatusBadDecodingError, err)
	}
	return nil
}

func (d *Decoder) Byte() (byte, error) {
	var b [1]byte
	if err := d.readFull(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) Bool() (bool, error) {
	b, err := d.Byte()
	return b != 0, err
}

func (d *Decoder) Uint16() (uint16, error) {
	var b [2]byte
	if err := d.readFull(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (d *Decoder) Uint32() (uint32, error) {
	var b [4]byte
	if err := d.readFull(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (d *Decoder) Uint64() (uint64, error) {
	var b [8]byte
	if err := d.readFull(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (d *Decoder) Int16() (int16, error) { v, err := d.Uint16(); return int16(v), err }
func (d *Decoder) Int32() (int32, error) { v, err := d.Uint32(); return int32(v), err }
func (d *Decoder) Int64() (int64, error) { v, err := d.Uint64(); return int64(v), err }

func (d *Decoder) Float32() (float32, error) {
	v, err := d.Uint32()
	return math.Float32frombits(v), err
}

func (d *Decoder) Float64() (float64, error) {
	v, err := d.Uint64()
	return math.Float64frombits(v), err
}

// ByteString decodes an i32-length-prefixed byte string; -1 means null,
// represented as a nil slice.
func (d *Decoder) ByteString() ([]byte, error) {
	n, err := d.Int32()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	if n < -1 || int(n) > d.ctx.MaxByteStringLength {
		return nil, d.err(StatusBadEncodingLimitsExceeded, fmt.Errorf("byte string length %d exceeds limit", n))
	}
	buf := make([]byte, n)
	if err := d.readFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// String decodes a length-prefixed UTF-8 string using the same null
// convention as ByteString.
func (d *Decoder) String() (string, error) {
	b, err := d.ByteString()
	if err != nil {
		return "", err
	}
	if b == nil {
		return "", nil
	}
	if len(b) > d.ctx.MaxStringLength {
		return "", d.err(StatusBadEncodingLimitsExceeded, fmt.Errorf("string length %d exceeds limit", len(b)))
	}
	return string(b), nil
}

// ArrayLength reads and validates an array length prefix; -1 (null array)
// is returned as -1 so callers can distinguish null from empty.
func (d *Decoder) ArrayLength() (int, error) {
	n, err := d.Int32()
	if err != nil {
		return 0, err
	}
	if n == -1 {
		return -1, nil
	}
	if n < -1 || int(n) > d.ctx.MaxArrayLength {
		return 0, d.err(StatusBadEncodingLimitsExceeded, fmt.Errorf("array length %d exceeds limit", n))
	}
	return int(n), nil
}

// Encoder writes primitive and built-in OPC UA values to a byte buffer.
type Encoder struct {
	buf bytes.Buffer
	ctx *EncodingContext
}

func NewEncoder(ctx *EncodingContext) *Encoder {
	if ctx == nil {
		ctx = DefaultEncodingContext()
	}
	return &Encoder{ctx: ctx}
}

func (e *Encoder) Bytes() []byte          { return e.buf.Bytes() }
func (e *Encoder) Len() int               { return e.buf.Len() }
func (e *Encoder) Context() *EncodingContext { return e.ctx }

func (e *Encoder) Byte(v byte)     { e.buf.WriteByte(v) }
func (e *Encoder) Bool(v bool) {
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

func (e *Encoder) Uint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) Uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) Uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) Int16(v int16) { e.Uint16(uint16(v)) }
func (e *Encoder) Int32(v int32) { e.Uint32(uint32(v)) }
func (e *Encoder) Int64(v int64) { e.Uint64(uint64(v)) }

func (e *Encoder) Float32(v float32) { e.Uint32(math.Float32bits(v)) }
func (e *Encoder) Float64(v float64) { e.Uint64(math.Float64bits(v)) }

// ByteString encodes a length-prefixed byte string; a nil slice encodes as
// the null marker -1.
func (e *Encoder) ByteString(b []byte) {
	if b == nil {
		e.Int32(-1)
		return
	}
	e.Int32(int32(len(b)))
	e.buf.Write(b)
}

func (e *Encoder) String(s string) {
	if s == "" {
		e.Int32(-1)
		return
	}
	e.ByteString([]byte(s))
}

// ArrayLength writes an array length prefix; pass -1 for a null array.
func (e *Encoder) ArrayLength(n int) { e.Int32(int32(n)) }
