// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import "sync"

// RegistryPriority orders competing registrations for the same TypeId:
// 0=core, 1=generated, 2..=dynamic, Fallback=last resort.
type RegistryPriority uint32

const (
	PriorityCore      RegistryPriority = 0
	PriorityGenerated RegistryPriority = 1
	PriorityDynamicMin RegistryPriority = 2
	PriorityFallback  RegistryPriority = ^RegistryPriority(0)
)

// BinaryDecodeFunc decodes a boxed body from its binary wire form.
type BinaryDecodeFunc func(d *Decoder, reg *TypeRegistry) (Encodable, error)

type registryEntry struct {
	priority RegistryPriority
	decode   BinaryDecodeFunc
}

// TypeRegistry maps a numeric binary-encoding id to binary decode
// functions, one per registration priority; it holds no encoders. It
// is immutable after startup: callers build it once via Register and
// then only ever call the Lookup* methods concurrently.
type TypeRegistry struct {
	mu      sync.RWMutex
	entries map[uint32]map[RegistryPriority]BinaryDecodeFunc
	trees   map[uint32]*StructInfo
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		entries: make(map[uint32]map[RegistryPriority]BinaryDecodeFunc),
		trees:   make(map[uint32]*StructInfo),
	}
}

// Register adds a decoder for a numeric binary-encoding id at the given
// priority. A dynamic loader (priority >= PriorityDynamicMin) registering
// over an existing generated (priority 1) entry overrides it at lookup
// time without mutating the generated entry.
func (r *TypeRegistry) Register(binaryEncodingID uint32, priority RegistryPriority, fn BinaryDecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.entries[binaryEncodingID]
	if !ok {
		m = make(map[RegistryPriority]BinaryDecodeFunc)
		r.entries[binaryEncodingID] = m
	}
	m[priority] = fn
}

// LookupBinary scans registrations for nid's numeric id in priority order
// (lowest numeric priority value first, i.e. core before generated before
// dynamic before fallback) and returns the first match.
func (r *TypeRegistry) LookupBinary(nid *NodeID) (BinaryDecodeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.entries[nid.NumericID]
	if !ok {
		return nil, false
	}
	var best *BinaryDecodeFunc
	bestPrio := RegistryPriority(0)
	first := true
	for prio, fn := range m {
		if first || prio < bestPrio {
			f := fn
			best = &f
			bestPrio = prio
			first = false
		}
	}
	if best == nil {
		return nil, false
	}
	return *best, true
}

// RegisterReflect installs a decoder for a hand-written message type T
// (a pointer type implementing Encodable) that decodes field-by-field via
// ReflectDecode. This is the common case for every core service request/
// response: it exists so messages.go doesn't need one decoder closure
// written out per type.
func RegisterReflect[T Encodable](reg *TypeRegistry, binaryEncodingID uint32, priority RegistryPriority, newT func() T) {
	reg.Register(binaryEncodingID, priority, func(d *Decoder, r *TypeRegistry) (Encodable, error) {
		v := newT()
		if err := ReflectDecode(d, r, v); err != nil {
			return nil, err
		}
		return v, nil
	})
}

// StructInfo is the field-name/data-type/value-rank/optionality record
// the registry uses to decode a dynamically loaded structure into a
// generic {name, Variant} record while preserving round-trip equality
// with the on-wire form.
type StructInfo struct {
	Name           string
	Fields         []StructField
	IsUnion        bool
	HasOptionals   bool
	SwitchFieldIdx int // for unions: index of the discriminant field
}

type StructField struct {
	Name       string
	DataType   *NodeID
	ValueRank  int32 // -1 scalar, 0 one-dim array, >0 fixed-rank array
	IsOptional bool
}

// RegisterStructInfo records the type tree for a dynamic struct/union so
// the registry can build a DynamicStruct decoder for it.
func (r *TypeRegistry) RegisterStructInfo(binaryEncodingID uint32, info *StructInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trees[binaryEncodingID] = info
	m, ok := r.entries[binaryEncodingID]
	if !ok {
		m = make(map[RegistryPriority]BinaryDecodeFunc)
		r.entries[binaryEncodingID] = m
	}
	m[PriorityDynamicMin] = func(d *Decoder, reg *TypeRegistry) (Encodable, error) {
		return decodeDynamicStruct(d, info, reg)
	}
}

// DynamicStruct is a generic {name, Variant} record decoded from a
// StructInfo type tree, used for custom data types with no generated Go
// type.
type DynamicStruct struct {
	Info   *StructInfo
	typeID *ExpandedNodeID
	Fields map[string]*Variant
}

func (s *DynamicStruct) TypeID() *ExpandedNodeID { return s.typeID }
func (s *DynamicStruct) TypeName() string        { return s.Info.Name }

func (s *DynamicStruct) EncodeBinary(e *Encoder) error {
	var optionalsMask uint32
	if s.Info.HasOptionals {
		for i, f := range s.Info.Fields {
			if f.IsOptional {
				if v, ok := s.Fields[f.Name]; ok && v != nil && v.Type != VariantTypeNull {
					optionalsMask |= 1 << uint(i)
				}
			}
		}
		e.Uint32(optionalsMask)
	}
	for i, f := range s.Info.Fields {
		if f.IsOptional && optionalsMask&(1<<uint(i)) == 0 {
			continue
		}
		v := s.Fields[f.Name]
		if v == nil {
			v = &Variant{Type: VariantTypeNull}
		}
		if err := encodeScalar(e, v.Type, v.Value, nil); err != nil {
			return err
		}
	}
	return nil
}

// decodeDynamicStruct skips StructureWithSubtypedValues/UnionWithSubtyped-
// Values payloads rather than attempting to decode them; callers
// detect this by a nil Fields map.
func decodeDynamicStruct(d *Decoder, info *StructInfo, reg *TypeRegistry) (Encodable, error) {
	out := &DynamicStruct{Info: info, Fields: make(map[string]*Variant, len(info.Fields))}
	var optionalsMask uint32
	var err error
	if info.HasOptionals {
		if optionalsMask, err = d.Uint32(); err != nil {
			return nil, err
		}
	}
	for i, f := range info.Fields {
		if f.IsOptional && optionalsMask&(1<<uint(i)) == 0 {
			continue
		}
		vt, ok := dataTypeToVariantType(f.DataType)
		if !ok {
			// Subtyped-value field: its wire length is unknown, so decoding
			// stops here and the struct comes back with a nil Fields map.
			// The enclosing ExtensionObject body is length-prefixed, so the
			// outer stream stays intact.
			return &DynamicStruct{Info: info}, nil
		}
		val, err := decodeScalar(d, vt, reg)
		if err != nil {
			return nil, err
		}
		out.Fields[f.Name] = &Variant{Type: vt, Value: val}
	}
	return out, nil
}

var errUnsupportedSubtypedField = errStructureWithSubtypedValues{}

type errStructureWithSubtypedValues struct{}

func (errStructureWithSubtypedValues) Error() string {
	return "ua: StructureWithSubtypedValues/UnionWithSubtypedValues are not decoded"
}

// dataTypeToVariantType maps a handful of well-known built-in DataType
// node ids (namespace 0) to their Variant scalar type. Anything else is
// treated as a subtyped/custom field outside this mapping's reach.
func dataTypeToVariantType(dt *NodeID) (VariantType, bool) {
	if dt == nil || dt.Namespace != 0 {
		return 0, false
	}
	m := map[uint32]VariantType{
		1: VariantTypeBoolean, 2: VariantTypeSByte, 3: VariantTypeByte,
		4: VariantTypeInt16, 5: VariantTypeUInt16, 6: VariantTypeInt32,
		7: VariantTypeUInt32, 8: VariantTypeInt64, 9: VariantTypeUInt64,
		10: VariantTypeFloat, 11: VariantTypeDouble, 12: VariantTypeString,
		13: VariantTypeDateTime, 14: VariantTypeGUID, 15: VariantTypeByteString,
		16: VariantTypeXMLElement, 17: VariantTypeNodeID, 18: VariantTypeExpandedNodeID,
		19: VariantTypeStatusCode, 20: VariantTypeQualifiedName, 21: VariantTypeLocalizedText,
	}
	vt, ok := m[dt.NumericID]
	return vt, ok
}
