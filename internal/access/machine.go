package access

import "fmt"

// Representation is the machine-level storage form of a value.
type Representation int

const (
	RepNone Representation = iota
	RepBit
	RepWord8
	RepWord16
	RepWord32
	RepWord64
	RepFloat32
	RepFloat64
	RepTaggedSigned
	RepTaggedPointer
	RepTagged
)

var repNames = [...]string{
	RepNone:          "none",
	RepBit:           "bit",
	RepWord8:         "word8",
	RepWord16:        "word16",
	RepWord32:        "word32",
	RepWord64:        "word64",
	RepFloat32:       "float32",
	RepFloat64:       "float64",
	RepTaggedSigned:  "tagged-signed",
	RepTaggedPointer: "tagged-pointer",
	RepTagged:        "tagged",
}

func (r Representation) String() string {
	if r < 0 || int(r) >= len(repNames) {
		return fmt.Sprintf("rep(%d)", int(r))
	}
	return repNames[r]
}

// ParseRepresentation is the inverse of Representation.String.
func ParseRepresentation(s string) (Representation, error) {
	for r, name := range repNames {
		if name == s {
			return Representation(r), nil
		}
	}
	return RepNone, fmt.Errorf("unknown representation %q", s)
}

// IsTagged reports whether values of r are visible to the garbage collector.
func (r Representation) IsTagged() bool {
	return r == RepTaggedSigned || r == RepTaggedPointer || r == RepTagged
}

// Semantic says how the bits of a representation are interpreted.
type Semantic int

const (
	SemNone Semantic = iota
	SemBool
	SemInt32
	SemUint32
	SemInt64
	SemUint64
	SemNumber
	SemAny
)

var semNames = [...]string{
	SemNone:   "none",
	SemBool:   "bool",
	SemInt32:  "int32",
	SemUint32: "uint32",
	SemInt64:  "int64",
	SemUint64: "uint64",
	SemNumber: "number",
	SemAny:    "any",
}

func (s Semantic) String() string {
	if s < 0 || int(s) >= len(semNames) {
		return fmt.Sprintf("sem(%d)", int(s))
	}
	return semNames[s]
}

// MachineType pairs a representation with its interpretation.
type MachineType struct {
	Rep Representation
	Sem Semantic
}

// Common machine types.
var (
	MachineNone         = MachineType{RepNone, SemNone}
	MachineBool         = MachineType{RepBit, SemBool}
	MachineInt8         = MachineType{RepWord8, SemInt32}
	MachineUint8        = MachineType{RepWord8, SemUint32}
	MachineInt16        = MachineType{RepWord16, SemInt32}
	MachineUint16       = MachineType{RepWord16, SemUint32}
	MachineInt32        = MachineType{RepWord32, SemInt32}
	MachineUint32       = MachineType{RepWord32, SemUint32}
	MachineInt64        = MachineType{RepWord64, SemInt64}
	MachineUint64       = MachineType{RepWord64, SemUint64}
	MachinePointer      = MachineType{RepWord64, SemNone}
	MachineFloat32      = MachineType{RepFloat32, SemNumber}
	MachineFloat64      = MachineType{RepFloat64, SemNumber}
	MachineTaggedSigned = MachineType{RepTaggedSigned, SemInt32}
	MachineTaggedPtr    = MachineType{RepTaggedPointer, SemAny}
	MachineAnyTagged    = MachineType{RepTagged, SemAny}
)

func (m MachineType) String() string {
	return m.Rep.String() + ":" + m.Sem.String()
}

// ElementSizeLog2 is log2 of the width in bytes of one stored value.
func (m MachineType) ElementSizeLog2() int {
	switch m.Rep {
	case RepBit, RepWord8:
		return 0
	case RepWord16:
		return 1
	case RepWord32, RepFloat32:
		return 2
	case RepWord64, RepFloat64, RepTaggedSigned, RepTaggedPointer, RepTagged:
		return 3
	}
	panic(fmt.Sprintf("access: no size for %s", m))
}
