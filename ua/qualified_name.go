// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

// QualifiedName is (namespace index, name) with the null-when-empty
// invariant: an empty Name round-trips as an empty Name, never nil vs ""
// ambiguity, since the wire form always carries the u16 namespace.
type QualifiedName struct {
	NamespaceIndex uint16
	Name           string
}

func (q *QualifiedName) Encode(e *Encoder) {
	e.Uint16(q.NamespaceIndex)
	e.String(q.Name)
}

func DecodeQualifiedName(d *Decoder) (*QualifiedName, error) {
	ns, err := d.Uint16()
	if err != nil {
		return nil, err
	}
	name, err := d.String()
	if err != nil {
		return nil, err
	}
	return &QualifiedName{NamespaceIndex: ns, Name: name}, nil
}

// LocalizedText is (locale, text) encoded with a leading bitmask byte: bit
// 0 set means a Locale field follows, bit 1 set means a Text field follows
// (mask 0x02 = text-only), so empty fields stay null on the wire.
type LocalizedText struct {
	Locale string
	Text   string
}

const (
	localizedTextHasLocale = 0x01
	localizedTextHasText   = 0x02
)

func (l *LocalizedText) Encode(e *Encoder) {
	var mask byte
	if l.Locale != "" {
		mask |= localizedTextHasLocale
	}
	if l.Text != "" {
		mask |= localizedTextHasText
	}
	e.Byte(mask)
	if mask&localizedTextHasLocale != 0 {
		e.String(l.Locale)
	}
	if mask&localizedTextHasText != 0 {
		e.String(l.Text)
	}
}

func DecodeLocalizedText(d *Decoder) (*LocalizedText, error) {
	mask, err := d.Byte()
	if err != nil {
		return nil, err
	}
	l := &LocalizedText{}
	if mask&localizedTextHasLocale != 0 {
		if l.Locale, err = d.String(); err != nil {
			return nil, err
		}
	}
	if mask&localizedTextHasText != 0 {
		if l.Text, err = d.String(); err != nil {
			return nil, err
		}
	}
	return l, nil
}
