// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import "fmt"

// VariantType is the built-in scalar type discriminant (low 6 bits of the
// encoding mask byte). Values follow Part 6 Table 14.
type VariantType byte

const (
	VariantTypeNull VariantType = iota
	VariantTypeBoolean
	VariantTypeSByte
	VariantTypeByte
	VariantTypeInt16
	VariantTypeUInt16
	VariantTypeInt32
	VariantTypeUInt32
	VariantTypeInt64
	VariantTypeUInt64
	VariantTypeFloat
	VariantTypeDouble
	VariantTypeString
	VariantTypeDateTime
	VariantTypeGUID
	VariantTypeByteString
	VariantTypeXMLElement
	VariantTypeNodeID
	VariantTypeExpandedNodeID
	VariantTypeStatusCode
	VariantTypeQualifiedName
	VariantTypeLocalizedText
	VariantTypeExtensionObject
	VariantTypeDataValue
	VariantTypeVariant
	VariantTypeDiagnosticInfo
)

const (
	variantArrayFlag     = 0x80
	variantDimensionFlag = 0x40
	variantTypeMask      = 0x3F
)

// Variant is the sum type over the 25 built-in scalar types plus Array and
// nested Variant. Exactly one of Value (scalar) or Array is set, save
// for VariantTypeNull where neither is.
type Variant struct {
	Type       VariantType
	Value      interface{}   // scalar payload when !IsArray
	Array      []interface{} // element payload when IsArray
	IsArray    bool
	Dimensions []uint32 // optional; when present, product MUST equal len(Array)
}

// NewVariant wraps a Go scalar in a Variant, inferring its VariantType.
func NewVariant(v interface{}) (*Variant, error) {
	t, err := inferVariantType(v)
	if err != nil {
		return nil, err
	}
	return &Variant{Type: t, Value: v}, nil
}

func inferVariantType(v interface{}) (VariantType, error) {
	switch v.(type) {
	case nil:
		return VariantTypeNull, nil
	case bool:
		return VariantTypeBoolean, nil
	case int8:
		return VariantTypeSByte, nil
	case byte:
		return VariantTypeByte, nil
	case int16:
		return VariantTypeInt16, nil
	case uint16:
		return VariantTypeUInt16, nil
	case int32:
		return VariantTypeInt32, nil
	case uint32:
		return VariantTypeUInt32, nil
	case int64:
		return VariantTypeInt64, nil
	case uint64:
		return VariantTypeUInt64, nil
	case float32:
		return VariantTypeFloat, nil
	case float64:
		return VariantTypeDouble, nil
	case string:
		return VariantTypeString, nil
	case []byte:
		return VariantTypeByteString, nil
	case *NodeID:
		return VariantTypeNodeID, nil
	case *ExpandedNodeID:
		return VariantTypeExpandedNodeID, nil
	case StatusCode:
		return VariantTypeStatusCode, nil
	case *QualifiedName:
		return VariantTypeQualifiedName, nil
	case *LocalizedText:
		return VariantTypeLocalizedText, nil
	case *ExtensionObject:
		return VariantTypeExtensionObject, nil
	case *Variant:
		return VariantTypeVariant, nil
	default:
		return 0, fmt.Errorf("ua: unsupported Variant scalar type %T", v)
	}
}

// Encode writes the Variant per Part 6 5.2.2.16: one mask byte, then
// either a single scalar or an array-length-prefixed list of scalars,
// then optional ArrayDimensions.
func (v *Variant) Encode(e *Encoder, reg *TypeRegistry) error {
	mask := byte(v.Type)
	if v.IsArray {
		mask |= variantArrayFlag
		if len(v.Dimensions) > 0 {
			mask |= variantDimensionFlag
		}
	}
	e.Byte(mask)

	if v.Type == VariantTypeNull {
		return nil
	}

	if v.IsArray {
		e.ArrayLength(len(v.Array))
		for _, item := range v.Array {
			if err := encodeScalar(e, v.Type, item, reg); err != nil {
				return err
			}
		}
		if len(v.Dimensions) > 0 {
			e.ArrayLength(len(v.Dimensions))
			for _, d := range v.Dimensions {
				e.Uint32(d)
			}
		}
		return nil
	}
	return encodeScalar(e, v.Type, v.Value, reg)
}

func encodeScalar(e *Encoder, t VariantType, v interface{}, reg *TypeRegistry) error {
	switch t {
	case VariantTypeBoolean:
		e.Bool(v.(bool))
	case VariantTypeSByte:
		e.Byte(byte(v.(int8)))
	case VariantTypeByte:
		e.Byte(v.(byte))
	case VariantTypeInt16:
		e.Int16(v.(int16))
	case VariantTypeUInt16:
		e.Uint16(v.(uint16))
	case VariantTypeInt32:
		e.Int32(v.(int32))
	case VariantTypeUInt32:
		e.Uint32(v.(uint32))
	case VariantTypeInt64:
		e.Int64(v.(int64))
	case VariantTypeUInt64:
		e.Uint64(v.(uint64))
	case VariantTypeFloat:
		e.Float32(v.(float32))
	case VariantTypeDouble:
		e.Float64(v.(float64))
	case VariantTypeString:
		e.String(v.(string))
	case VariantTypeDateTime:
		e.Int64(v.(int64))
	case VariantTypeByteString, VariantTypeXMLElement:
		e.ByteString(v.([]byte))
	case VariantTypeNodeID:
		v.(*NodeID).Encode(e)
	case VariantTypeExpandedNodeID:
		v.(*ExpandedNodeID).Encode(e)
	case VariantTypeStatusCode:
		e.Uint32(uint32(v.(StatusCode)))
	case VariantTypeQualifiedName:
		v.(*QualifiedName).Encode(e)
	case VariantTypeLocalizedText:
		v.(*LocalizedText).Encode(e)
	case VariantTypeExtensionObject:
		return v.(*ExtensionObject).Encode(e, reg)
	case VariantTypeVariant:
		return v.(*Variant).Encode(e, reg)
	default:
		return fmt.Errorf("ua: unsupported Variant scalar type %d", t)
	}
	return nil
}

// DecodeVariant decodes a Variant, acquiring the shared depth gauge for
// the duration of the call. reg resolves ExtensionObject bodies.
func DecodeVariant(d *Decoder, reg *TypeRegistry) (*Variant, error) {
	release, err := d.ctx.EnterDepth()
	if err != nil {
		return nil, err
	}
	defer release()

	mask, err := d.Byte()
	if err != nil {
		return nil, err
	}
	t := VariantType(mask & variantTypeMask)
	isArray := mask&variantArrayFlag != 0
	hasDims := mask&variantDimensionFlag != 0

	v := &Variant{Type: t, IsArray: isArray}
	if t == VariantTypeNull {
		return v, nil
	}

	if isArray {
		n, err := d.ArrayLength()
		if err != nil {
			return nil, err
		}
		if n >= 0 {
			v.Array = make([]interface{}, n)
			for i := range v.Array {
				item, err := decodeScalar(d, t, reg)
				if err != nil {
					return nil, err
				}
				v.Array[i] = item
			}
		}
		if hasDims {
			dn, err := d.ArrayLength()
			if err != nil {
				return nil, err
			}
			dims := make([]uint32, dn)
			for i := range dims {
				if dims[i], err = d.Uint32(); err != nil {
					return nil, err
				}
			}
			product := uint64(1)
			for _, dd := range dims {
				product *= uint64(dd)
			}
			if product != uint64(len(v.Array)) {
				return nil, d.err(StatusBadDecodingError, fmt.Errorf("array dimensions product %d != value count %d", product, len(v.Array)))
			}
			v.Dimensions = dims
		}
		return v, nil
	}

	v.Value, err = decodeScalar(d, t, reg)
	return v, err
}

func decodeScalar(d *Decoder, t VariantType, reg *TypeRegistry) (interface{}, error) {
	switch t {
	case VariantTypeBoolean:
		return d.Bool()
	case VariantTypeSByte:
		b, err := d.Byte()
		return int8(b), err
	case VariantTypeByte:
		return d.Byte()
	case VariantTypeInt16:
		return d.Int16()
	case VariantTypeUInt16:
		return d.Uint16()
	case VariantTypeInt32:
		return d.Int32()
	case VariantTypeUInt32:
		return d.Uint32()
	case VariantTypeInt64:
		return d.Int64()
	case VariantTypeUInt64:
		return d.Uint64()
	case VariantTypeFloat:
		return d.Float32()
	case VariantTypeDouble:
		return d.Float64()
	case VariantTypeString:
		return d.String()
	case VariantTypeDateTime:
		return d.Int64()
	case VariantTypeByteString, VariantTypeXMLElement:
		return d.ByteString()
	case VariantTypeNodeID:
		return DecodeNodeID(d)
	case VariantTypeExpandedNodeID:
		return DecodeExpandedNodeID(d)
	case VariantTypeStatusCode:
		v, err := d.Uint32()
		return StatusCode(v), err
	case VariantTypeQualifiedName:
		return DecodeQualifiedName(d)
	case VariantTypeLocalizedText:
		return DecodeLocalizedText(d)
	case VariantTypeExtensionObject:
		return DecodeExtensionObject(d, reg)
	case VariantTypeVariant:
		return DecodeVariant(d, reg)
	default:
		return nil, d.err(StatusBadDecodingError, fmt.Errorf("unsupported Variant scalar type %d", t))
	}
}
