// Package attr implements the tagged attribute values exchanged with the
// renderer: scalars, fixed-shape geometry types, homogeneous lists
// (including nested value lists), image payloads, instancer tables and
// named map channels. A Value owns its variant storage and serialises to
// the exact wire layout the renderer speaks.
package attr

import "fmt"

// Kind identifies the variant held by a Value. The numeric codes are the
// on-wire codes, written as a single byte; they are shared with every peer
// and must never be reordered.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInt
	KindFloat
	KindDouble
	KindColor
	KindAColor
	KindVector
	KindVector2
	KindMatrix
	KindTransform
	KindString
	KindPlugin
	KindImageSet
	KindListInt
	KindListFloat
	KindListColor
	KindListVector
	KindListVector2
	KindListMatrix
	KindListTransform
	KindListString
	KindListPlugin
	KindListValue
	KindInstancer
	KindMapChannels

	kindCount
)

var kindNames = [...]string{
	KindUnknown:       "Unknown",
	KindInt:           "Int",
	KindFloat:         "Float",
	KindDouble:        "Double",
	KindColor:         "Color",
	KindAColor:        "AColor",
	KindVector:        "Vector",
	KindVector2:       "Vector2",
	KindMatrix:        "Matrix",
	KindTransform:     "Transform",
	KindString:        "String",
	KindPlugin:        "Plugin",
	KindImageSet:      "ImageSet",
	KindListInt:       "ListInt",
	KindListFloat:     "ListFloat",
	KindListColor:     "ListColor",
	KindListVector:    "ListVector",
	KindListVector2:   "ListVector2",
	KindListMatrix:    "ListMatrix",
	KindListTransform: "ListTransform",
	KindListString:    "ListString",
	KindListPlugin:    "ListPlugin",
	KindListValue:     "ListValue",
	KindInstancer:     "Instancer",
	KindMapChannels:   "MapChannels",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// valid reports whether k is a known wire code other than Unknown.
func (k Kind) valid() bool {
	return k > KindUnknown && k < kindCount
}
