package attr

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/wire"
)

var (
	// ErrNoValue is returned when marshalling a Value that holds nothing.
	ErrNoValue = errors.New("attr: cannot serialise a value of kind Unknown")
	// ErrTooDeep is returned when a nested value list exceeds the decode
	// depth limit. Legitimate scenes stay far below it; input that hits it
	// is treated as malformed.
	ErrTooDeep = errors.New("attr: value nesting exceeds decode depth limit")
)

// maxDecodeDepth bounds ListValue recursion while decoding untrusted
// frames. Encoding has no limit.
const maxDecodeDepth = 64

// KindError reports access or construction with a mismatched kind.
type KindError struct {
	Want Kind
	Got  Kind
}

func (e *KindError) Error() string {
	return fmt.Sprintf("attr: value holds %s, not %s", e.Got, e.Want)
}

// UnknownKindError reports a kind byte that no variant claims.
type UnknownKindError struct {
	Code uint8
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("attr: unknown value kind code %d", e.Code)
}

// Value is the tagged union over every attribute kind. The zero Value has
// kind Unknown and no storage. The active variant is fixed at
// construction; accessing it as another kind is rejected, never
// reinterpreted.
type Value struct {
	kind Kind
	data any
}

// Kind returns the active variant's kind.
func (v Value) Kind() Kind { return v.kind }

// Valid reports whether the value can be serialised and, for Plugin
// values, whether the reference names a plugin instance.
func (v Value) Valid() bool {
	switch v.kind {
	case KindUnknown:
		return false
	case KindPlugin:
		return v.data.(Plugin).Valid()
	}
	return true
}

func (v Value) String() string {
	if v.kind == KindUnknown {
		return "Unknown"
	}
	return fmt.Sprintf("%s(%v)", v.kind, v.data)
}

// Scalar constructors. Composite variants construct through their Value
// method instead.

func Int(v int32) Value { return Value{KindInt, v} }

func Float(v float32) Value { return Value{KindFloat, v} }

func Double(v float64) Value { return Value{KindDouble, v} }

func String(s string) Value { return Value{KindString, s} }

// Bool transports a boolean as Int 0/1; there is no Bool kind on the wire.
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

func (c Color) Value() Value { return Value{KindColor, c} }

func (c AColor) Value() Value { return Value{KindAColor, c} }

func (v Vector) Value() Value { return Value{KindVector, v} }

func (v Vector2) Value() Value { return Value{KindVector2, v} }

func (m Matrix) Value() Value { return Value{KindMatrix, m} }

func (t Transform) Value() Value { return Value{KindTransform, t} }

func (p Plugin) Value() Value { return Value{KindPlugin, p} }

func (s ImageSet) Value() Value { return Value{KindImageSet, s} }

func (i Instancer) Value() Value { return Value{KindInstancer, i} }

func (m MapChannels) Value() Value { return Value{KindMapChannels, m} }

func (l ListInt) Value() Value { return Value{KindListInt, l} }

func (l ListFloat) Value() Value { return Value{KindListFloat, l} }

func (l ListColor) Value() Value { return Value{KindListColor, l} }

func (l ListVector) Value() Value { return Value{KindListVector, l} }

func (l ListVector2) Value() Value { return Value{KindListVector2, l} }

func (l ListMatrix) Value() Value { return Value{KindListMatrix, l} }

func (l ListTransform) Value() Value { return Value{KindListTransform, l} }

func (l ListString) Value() Value { return Value{KindListString, l} }

func (l ListPlugin) Value() Value { return Value{KindListPlugin, l} }

func (l ListValue) Value() Value { return Value{KindListValue, l} }

func as[T any](v Value, k Kind) (T, error) {
	if v.kind != k {
		var zero T
		return zero, &KindError{Want: k, Got: v.kind}
	}
	return v.data.(T), nil
}

// Typed accessors. Each fails with a *KindError unless the value holds
// exactly that variant.

func (v Value) AsInt() (int32, error) { return as[int32](v, KindInt) }

func (v Value) AsFloat() (float32, error) { return as[float32](v, KindFloat) }

func (v Value) AsDouble() (float64, error) { return as[float64](v, KindDouble) }

func (v Value) AsString() (string, error) { return as[string](v, KindString) }

func (v Value) AsColor() (Color, error) { return as[Color](v, KindColor) }

func (v Value) AsAColor() (AColor, error) { return as[AColor](v, KindAColor) }

func (v Value) AsVector() (Vector, error) { return as[Vector](v, KindVector) }

func (v Value) AsVector2() (Vector2, error) { return as[Vector2](v, KindVector2) }

func (v Value) AsMatrix() (Matrix, error) { return as[Matrix](v, KindMatrix) }

func (v Value) AsTransform() (Transform, error) { return as[Transform](v, KindTransform) }

func (v Value) AsPlugin() (Plugin, error) { return as[Plugin](v, KindPlugin) }

func (v Value) AsImageSet() (ImageSet, error) { return as[ImageSet](v, KindImageSet) }

func (v Value) AsInstancer() (Instancer, error) { return as[Instancer](v, KindInstancer) }

func (v Value) AsMapChannels() (MapChannels, error) { return as[MapChannels](v, KindMapChannels) }

func (v Value) AsListInt() (ListInt, error) { return as[ListInt](v, KindListInt) }

func (v Value) AsListFloat() (ListFloat, error) { return as[ListFloat](v, KindListFloat) }

func (v Value) AsListColor() (ListColor, error) { return as[ListColor](v, KindListColor) }

func (v Value) AsListVector() (ListVector, error) { return as[ListVector](v, KindListVector) }

func (v Value) AsListVector2() (ListVector2, error) { return as[ListVector2](v, KindListVector2) }

func (v Value) AsListMatrix() (ListMatrix, error) { return as[ListMatrix](v, KindListMatrix) }

func (v Value) AsListTransform() (ListTransform, error) {
	return as[ListTransform](v, KindListTransform)
}

func (v Value) AsListString() (ListString, error) { return as[ListString](v, KindListString) }

func (v Value) AsListPlugin() (ListPlugin, error) { return as[ListPlugin](v, KindListPlugin) }

func (v Value) AsListValue() (ListValue, error) { return as[ListValue](v, KindListValue) }

// MarshalTo writes the kind byte and the variant payload.
func (v Value) MarshalTo(w *wire.Writer) error {
	if v.kind == KindUnknown {
		return ErrNoValue
	}
	w.PutUint8(uint8(v.kind))
	return v.marshalPayload(w)
}

// Marshal returns the serialised value as a fresh byte slice.
func (v Value) Marshal() ([]byte, error) {
	w := wire.NewWriter(64)
	if err := v.MarshalTo(w); err != nil {
		return nil, err
	}
	return append([]byte(nil), w.Bytes()...), nil
}

func putVector(w *wire.Writer, v Vector) {
	w.PutFloat32(v.X)
	w.PutFloat32(v.Y)
	w.PutFloat32(v.Z)
}

func putMatrix(w *wire.Writer, m Matrix) {
	putVector(w, m.V0)
	putVector(w, m.V1)
	putVector(w, m.V2)
}

func putTransform(w *wire.Writer, t Transform) {
	putMatrix(w, t.M)
	putVector(w, t.Offs)
}

func putPlugin(w *wire.Writer, p Plugin) {
	w.PutString(p.Name)
	w.PutString(p.Output)
}

func putImage(w *wire.Writer, img Image) {
	w.PutUint8(uint8(img.Type))
	w.PutUint32(uint32(len(img.Data)))
	w.PutInt32(img.Width)
	w.PutInt32(img.Height)
	w.PutInt32(img.X)
	w.PutInt32(img.Y)
	w.PutBytes(img.Data)
}

func (v Value) marshalPayload(w *wire.Writer) error {
	switch v.kind {
	case KindInt:
		w.PutInt32(v.data.(int32))
	case KindFloat:
		w.PutFloat32(v.data.(float32))
	case KindDouble:
		w.PutFloat64(v.data.(float64))
	case KindString:
		w.PutString(v.data.(string))
	case KindColor:
		c := v.data.(Color)
		w.PutFloat32(c.R)
		w.PutFloat32(c.G)
		w.PutFloat32(c.B)
	case KindAColor:
		ac := v.data.(AColor)
		w.PutFloat32(ac.Color.R)
		w.PutFloat32(ac.Color.G)
		w.PutFloat32(ac.Color.B)
		w.PutFloat32(ac.Alpha)
	case KindVector:
		putVector(w, v.data.(Vector))
	case KindVector2:
		v2 := v.data.(Vector2)
		w.PutFloat32(v2.X)
		w.PutFloat32(v2.Y)
	case KindMatrix:
		putMatrix(w, v.data.(Matrix))
	case KindTransform:
		putTransform(w, v.data.(Transform))
	case KindPlugin:
		putPlugin(w, v.data.(Plugin))
	case KindImageSet:
		marshalImageSet(w, v.data.(ImageSet))
	case KindListInt:
		l := v.data.(ListInt)
		w.PutInt32(int32(len(l)))
		for _, e := range l {
			w.PutInt32(e)
		}
	case KindListFloat:
		l := v.data.(ListFloat)
		w.PutInt32(int32(len(l)))
		for _, e := range l {
			w.PutFloat32(e)
		}
	case KindListColor:
		l := v.data.(ListColor)
		w.PutInt32(int32(len(l)))
		for _, e := range l {
			w.PutFloat32(e.R)
			w.PutFloat32(e.G)
			w.PutFloat32(e.B)
		}
	case KindListVector:
		l := v.data.(ListVector)
		w.PutInt32(int32(len(l)))
		for _, e := range l {
			putVector(w, e)
		}
	case KindListVector2:
		l := v.data.(ListVector2)
		w.PutInt32(int32(len(l)))
		for _, e := range l {
			w.PutFloat32(e.X)
			w.PutFloat32(e.Y)
		}
	case KindListMatrix:
		l := v.data.(ListMatrix)
		w.PutInt32(int32(len(l)))
		for _, e := range l {
			putMatrix(w, e)
		}
	case KindListTransform:
		l := v.data.(ListTransform)
		w.PutInt32(int32(len(l)))
		for _, e := range l {
			putTransform(w, e)
		}
	case KindListString:
		l := v.data.(ListString)
		w.PutInt32(int32(len(l)))
		for _, e := range l {
			w.PutString(e)
		}
	case KindListPlugin:
		l := v.data.(ListPlugin)
		w.PutInt32(int32(len(l)))
		for _, e := range l {
			putPlugin(w, e)
		}
	case KindListValue:
		l := v.data.(ListValue)
		w.PutInt32(int32(len(l)))
		for _, e := range l {
			if err := e.MarshalTo(w); err != nil {
				return err
			}
		}
	case KindInstancer:
		inst := v.data.(Instancer)
		w.PutFloat32(inst.Frame)
		w.PutInt32(int32(len(inst.Items)))
		for _, it := range inst.Items {
			w.PutInt32(it.Index)
			putTransform(w, it.Tm)
			putTransform(w, it.Vel)
			putPlugin(w, it.Node)
		}
	case KindMapChannels:
		mc := v.data.(MapChannels)
		w.PutInt32(int32(len(mc)))
		// Deterministic output: channels sorted by key.
		keys := make([]string, 0, len(mc))
		for k := range mc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ch := mc[k]
			w.PutString(k)
			w.PutInt32(int32(len(ch.Vertices)))
			for _, e := range ch.Vertices {
				putVector(w, e)
			}
			w.PutInt32(int32(len(ch.Faces)))
			for _, e := range ch.Faces {
				w.PutInt32(e)
			}
			w.PutString(ch.Name)
		}
	default:
		return ErrNoValue
	}
	return nil
}

func marshalImageSet(w *wire.Writer, s ImageSet) {
	w.PutUint8(uint8(s.Source))
	w.PutInt32(int32(len(s.Images)))
	channels := make([]RenderChannel, 0, len(s.Images))
	for ch := range s.Images {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	for _, ch := range channels {
		w.PutInt16(int16(ch))
		putImage(w, s.Images[ch])
	}
}

// Unmarshal decodes one value (kind byte plus payload) from r. An unknown
// kind byte or a truncated payload is a hard parse error.
func Unmarshal(r *wire.Reader) (Value, error) {
	return unmarshal(r, 0)
}

// UnmarshalBytes decodes a value from a standalone payload.
func UnmarshalBytes(data []byte) (Value, error) {
	return Unmarshal(wire.NewReader(data))
}

func unmarshal(r *wire.Reader, depth int) (Value, error) {
	if depth > maxDecodeDepth {
		return Value{}, ErrTooDeep
	}
	code := r.Uint8()
	if err := r.Err(); err != nil {
		return Value{}, err
	}
	k := Kind(code)
	if !k.valid() {
		return Value{}, &UnknownKindError{Code: code}
	}
	v, err := unmarshalPayload(r, k, depth)
	if err != nil {
		return Value{}, err
	}
	if err := r.Err(); err != nil {
		return Value{}, err
	}
	return v, nil
}

func readVector(r *wire.Reader) Vector {
	return Vector{X: r.Float32(), Y: r.Float32(), Z: r.Float32()}
}

func readMatrix(r *wire.Reader) Matrix {
	return Matrix{V0: readVector(r), V1: readVector(r), V2: readVector(r)}
}

func readTransform(r *wire.Reader) Transform {
	return Transform{M: readMatrix(r), Offs: readVector(r)}
}

func readPlugin(r *wire.Reader) Plugin {
	return Plugin{Name: r.String(), Output: r.String()}
}

func readImage(r *wire.Reader) Image {
	img := Image{Type: ImageType(r.Uint8())}
	size := int(r.Uint32())
	img.Width = r.Int32()
	img.Height = r.Int32()
	img.X = r.Int32()
	img.Y = r.Int32()
	img.Data = r.Bytes(size)
	return img
}

// listCount validates a list length prefix against the bytes that remain,
// so a hostile count cannot drive a huge allocation.
func listCount(r *wire.Reader, elemSize int) (int, bool) {
	n := int(r.Int32())
	if n < 0 || (elemSize > 0 && n*elemSize > r.Remaining()) {
		return 0, false
	}
	return n, true
}

func unmarshalPayload(r *wire.Reader, k Kind, depth int) (Value, error) {
	switch k {
	case KindInt:
		return Int(r.Int32()), nil
	case KindFloat:
		return Float(r.Float32()), nil
	case KindDouble:
		return Double(r.Float64()), nil
	case KindString:
		return String(r.String()), nil
	case KindColor:
		return Color{R: r.Float32(), G: r.Float32(), B: r.Float32()}.Value(), nil
	case KindAColor:
		c := Color{R: r.Float32(), G: r.Float32(), B: r.Float32()}
		return AColor{Color: c, Alpha: r.Float32()}.Value(), nil
	case KindVector:
		return readVector(r).Value(), nil
	case KindVector2:
		return Vector2{X: r.Float32(), Y: r.Float32()}.Value(), nil
	case KindMatrix:
		return readMatrix(r).Value(), nil
	case KindTransform:
		return readTransform(r).Value(), nil
	case KindPlugin:
		return readPlugin(r).Value(), nil
	case KindImageSet:
		return unmarshalImageSet(r)
	case KindListInt:
		n, ok := listCount(r, 4)
		if !ok {
			return Value{}, wire.ErrUnderrun
		}
		l := make(ListInt, n)
		for i := range l {
			l[i] = r.Int32()
		}
		return l.Value(), nil
	case KindListFloat:
		n, ok := listCount(r, 4)
		if !ok {
			return Value{}, wire.ErrUnderrun
		}
		l := make(ListFloat, n)
		for i := range l {
			l[i] = r.Float32()
		}
		return l.Value(), nil
	case KindListColor:
		n, ok := listCount(r, 12)
		if !ok {
			return Value{}, wire.ErrUnderrun
		}
		l := make(ListColor, n)
		for i := range l {
			l[i] = Color{R: r.Float32(), G: r.Float32(), B: r.Float32()}
		}
		return l.Value(), nil
	case KindListVector:
		n, ok := listCount(r, 12)
		if !ok {
			return Value{}, wire.ErrUnderrun
		}
		l := make(ListVector, n)
		for i := range l {
			l[i] = readVector(r)
		}
		return l.Value(), nil
	case KindListVector2:
		n, ok := listCount(r, 8)
		if !ok {
			return Value{}, wire.ErrUnderrun
		}
		l := make(ListVector2, n)
		for i := range l {
			l[i] = Vector2{X: r.Float32(), Y: r.Float32()}
		}
		return l.Value(), nil
	case KindListMatrix:
		n, ok := listCount(r, 36)
		if !ok {
			return Value{}, wire.ErrUnderrun
		}
		l := make(ListMatrix, n)
		for i := range l {
			l[i] = readMatrix(r)
		}
		return l.Value(), nil
	case KindListTransform:
		n, ok := listCount(r, 48)
		if !ok {
			return Value{}, wire.ErrUnderrun
		}
		l := make(ListTransform, n)
		for i := range l {
			l[i] = readTransform(r)
		}
		return l.Value(), nil
	case KindListString:
		n, ok := listCount(r, 4)
		if !ok {
			return Value{}, wire.ErrUnderrun
		}
		l := make(ListString, 0, n)
		for i := 0; i < n; i++ {
			l = append(l, r.String())
		}
		return l.Value(), nil
	case KindListPlugin:
		n, ok := listCount(r, 8)
		if !ok {
			return Value{}, wire.ErrUnderrun
		}
		l := make(ListPlugin, 0, n)
		for i := 0; i < n; i++ {
			l = append(l, readPlugin(r))
		}
		return l.Value(), nil
	case KindListValue:
		n, ok := listCount(r, 1)
		if !ok {
			return Value{}, wire.ErrUnderrun
		}
		l := make(ListValue, 0, n)
		for i := 0; i < n; i++ {
			e, err := unmarshal(r, depth+1)
			if err != nil {
				return Value{}, err
			}
			l = append(l, e)
		}
		return l.Value(), nil
	case KindInstancer:
		inst := Instancer{Frame: r.Float32()}
		n, ok := listCount(r, 4+48+48+8)
		if !ok {
			return Value{}, wire.ErrUnderrun
		}
		inst.Items = make([]InstancerItem, 0, n)
		for i := 0; i < n; i++ {
			inst.Items = append(inst.Items, InstancerItem{
				Index: r.Int32(),
				Tm:    readTransform(r),
				Vel:   readTransform(r),
				Node:  readPlugin(r),
			})
		}
		return inst.Value(), nil
	case KindMapChannels:
		n, ok := listCount(r, 12)
		if !ok {
			return Value{}, wire.ErrUnderrun
		}
		mc := make(MapChannels, n)
		for i := 0; i < n; i++ {
			key := r.String()
			var ch MapChannel
			vn, ok := listCount(r, 12)
			if !ok {
				return Value{}, wire.ErrUnderrun
			}
			ch.Vertices = make(ListVector, vn)
			for j := range ch.Vertices {
				ch.Vertices[j] = readVector(r)
			}
			fn, ok := listCount(r, 4)
			if !ok {
				return Value{}, wire.ErrUnderrun
			}
			ch.Faces = make(ListInt, fn)
			for j := range ch.Faces {
				ch.Faces[j] = r.Int32()
			}
			ch.Name = r.String()
			if err := r.Err(); err != nil {
				return Value{}, err
			}
			mc[key] = ch
		}
		return mc.Value(), nil
	}
	return Value{}, &UnknownKindError{Code: uint8(k)}
}

func unmarshalImageSet(r *wire.Reader) (Value, error) {
	s := ImageSet{Source: ImageSource(r.Uint8())}
	n, ok := listCount(r, 2+21)
	if !ok {
		return Value{}, wire.ErrUnderrun
	}
	s.Images = make(map[RenderChannel]Image, n)
	for i := 0; i < n; i++ {
		ch := RenderChannel(r.Int16())
		img := readImage(r)
		if err := r.Err(); err != nil {
			return Value{}, err
		}
		s.Images[ch] = img
	}
	return s.Value(), nil
}
