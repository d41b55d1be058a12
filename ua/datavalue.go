// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import "time"

const (
	dvHasValue             = 0x01
	dvHasStatusCode        = 0x02
	dvHasSourceTimestamp   = 0x04
	dvHasServerTimestamp   = 0x08
	dvHasSourcePicoseconds = 0x10
	dvHasServerPicoseconds = 0x20
)

// DataValue wraps a Variant with quality and timestamp metadata, the unit
// a MonitoredItem samples and reports.
type DataValue struct {
	Value             *Variant
	Status            StatusCode
	SourceTimestamp    time.Time
	ServerTimestamp    time.Time
	SourcePicoseconds  uint16
	ServerPicoseconds  uint16
	HasValue           bool
	HasStatus          bool
	HasSourceTimestamp bool
	HasServerTimestamp bool
}

func epoch() time.Time { return time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC) }

func toFiletime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return (t.Unix()-epoch().Unix())*10000000 + int64(t.Nanosecond())/100
}

func fromFiletime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(epoch().Unix()+v/10000000, v%10000000*100).UTC()
}

func (dv *DataValue) Encode(e *Encoder, reg *TypeRegistry) error {
	var mask byte
	if dv.HasValue {
		mask |= dvHasValue
	}
	if dv.HasStatus {
		mask |= dvHasStatusCode
	}
	if dv.HasSourceTimestamp {
		mask |= dvHasSourceTimestamp
	}
	if dv.HasServerTimestamp {
		mask |= dvHasServerTimestamp
	}
	e.Byte(mask)
	if dv.HasValue {
		if err := dv.Value.Encode(e, reg); err != nil {
			return err
		}
	}
	if dv.HasStatus {
		e.Uint32(uint32(dv.Status))
	}
	if dv.HasSourceTimestamp {
		e.Int64(toFiletime(dv.SourceTimestamp))
	}
	if dv.HasServerTimestamp {
		e.Int64(toFiletime(dv.ServerTimestamp))
	}
	return nil
}

func DecodeDataValue(d *Decoder, reg *TypeRegistry) (*DataValue, error) {
	mask, err := d.Byte()
	if err != nil {
		return nil, err
	}
	dv := &DataValue{}
	if mask&dvHasValue != 0 {
		dv.HasValue = true
		if dv.Value, err = DecodeVariant(d, reg); err != nil {
			return nil, err
		}
	}
	if mask&dvHasStatusCode != 0 {
		dv.HasStatus = true
		v, err := d.Uint32()
		if err != nil {
			return nil, err
		}
		dv.Status = StatusCode(v)
	}
	if mask&dvHasSourceTimestamp != 0 {
		dv.HasSourceTimestamp = true
		v, err := d.Int64()
		if err != nil {
			return nil, err
		}
		dv.SourceTimestamp = fromFiletime(v)
	}
	if mask&dvHasServerTimestamp != 0 {
		dv.HasServerTimestamp = true
		v, err := d.Int64()
		if err != nil {
			return nil, err
		}
		dv.ServerTimestamp = fromFiletime(v)
	}
	return dv, nil
}

// DiagnosticInfo participates in the same recursive depth gauge as Variant
// and ExtensionObject because it can embed an InnerDiagnosticInfo.
type DiagnosticInfo struct {
	SymbolicID          int32
	NamespaceURI        int32
	Locale              int32
	LocalizedText        int32
	AdditionalInfo      string
	InnerStatusCode     *StatusCode
	InnerDiagnosticInfo *DiagnosticInfo
	HasInner            bool
}

func DecodeDiagnosticInfo(d *Decoder) (*DiagnosticInfo, error) {
	release, err := d.ctx.EnterDepth()
	if err != nil {
		return nil, err
	}
	defer release()

	mask, err := d.Byte()
	if err != nil {
		return nil, err
	}
	info := &DiagnosticInfo{}
	if mask&0x01 != 0 {
		if info.SymbolicID, err = d.Int32(); err != nil {
			return nil, err
		}
	}
	if mask&0x02 != 0 {
		if info.NamespaceURI, err = d.Int32(); err != nil {
			return nil, err
		}
	}
	if mask&0x08 != 0 {
		if info.Locale, err = d.Int32(); err != nil {
			return nil, err
		}
	}
	if mask&0x04 != 0 {
		if info.LocalizedText, err = d.Int32(); err != nil {
			return nil, err
		}
	}
	if mask&0x10 != 0 {
		if info.AdditionalInfo, err = d.String(); err != nil {
			return nil, err
		}
	}
	if mask&0x20 != 0 {
		v, err := d.Uint32()
		if err != nil {
			return nil, err
		}
		sc := StatusCode(v)
		info.InnerStatusCode = &sc
	}
	if mask&0x40 != 0 {
		info.HasInner = true
		if info.InnerDiagnosticInfo, err = DecodeDiagnosticInfo(d); err != nil {
			return nil, err
		}
	}
	return info, nil
}
