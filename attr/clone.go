package attr

import "bytes"

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append([]T(nil), s...)
}

// Clone returns a deep copy: list buffers, strings backing arrays, image
// bytes and channel maps are all duplicated, so mutating the copy never
// touches the original.
func (v Value) Clone() Value {
	switch v.kind {
	case KindListInt:
		return ListInt(cloneSlice(v.data.(ListInt))).Value()
	case KindListFloat:
		return ListFloat(cloneSlice(v.data.(ListFloat))).Value()
	case KindListColor:
		return ListColor(cloneSlice(v.data.(ListColor))).Value()
	case KindListVector:
		return ListVector(cloneSlice(v.data.(ListVector))).Value()
	case KindListVector2:
		return ListVector2(cloneSlice(v.data.(ListVector2))).Value()
	case KindListMatrix:
		return ListMatrix(cloneSlice(v.data.(ListMatrix))).Value()
	case KindListTransform:
		return ListTransform(cloneSlice(v.data.(ListTransform))).Value()
	case KindListString:
		return ListString(cloneSlice(v.data.(ListString))).Value()
	case KindListPlugin:
		return ListPlugin(cloneSlice(v.data.(ListPlugin))).Value()
	case KindListValue:
		src := v.data.(ListValue)
		l := make(ListValue, len(src))
		for i, e := range src {
			l[i] = e.Clone()
		}
		return l.Value()
	case KindImageSet:
		src := v.data.(ImageSet)
		s := ImageSet{Source: src.Source, Images: make(map[RenderChannel]Image, len(src.Images))}
		for ch, img := range src.Images {
			img.Data = cloneSlice(img.Data)
			s.Images[ch] = img
		}
		return s.Value()
	case KindInstancer:
		src := v.data.(Instancer)
		return Instancer{Frame: src.Frame, Items: cloneSlice(src.Items)}.Value()
	case KindMapChannels:
		src := v.data.(MapChannels)
		mc := make(MapChannels, len(src))
		for k, ch := range src {
			ch.Vertices = cloneSlice(ch.Vertices)
			ch.Faces = cloneSlice(ch.Faces)
			mc[k] = ch
		}
		return mc.Value()
	}
	// Scalars and fixed-shape variants are value types already.
	return v
}

// Equal reports structural equality of two values: same kind, same
// variant contents.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindUnknown:
		return true
	case KindListInt:
		return slicesEqual(v.data.(ListInt), o.data.(ListInt))
	case KindListFloat:
		return slicesEqual(v.data.(ListFloat), o.data.(ListFloat))
	case KindListColor:
		return slicesEqual(v.data.(ListColor), o.data.(ListColor))
	case KindListVector:
		return slicesEqual(v.data.(ListVector), o.data.(ListVector))
	case KindListVector2:
		return slicesEqual(v.data.(ListVector2), o.data.(ListVector2))
	case KindListMatrix:
		return slicesEqual(v.data.(ListMatrix), o.data.(ListMatrix))
	case KindListTransform:
		return slicesEqual(v.data.(ListTransform), o.data.(ListTransform))
	case KindListString:
		return slicesEqual(v.data.(ListString), o.data.(ListString))
	case KindListPlugin:
		return slicesEqual(v.data.(ListPlugin), o.data.(ListPlugin))
	case KindListValue:
		a, b := v.data.(ListValue), o.data.(ListValue)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	case KindImageSet:
		a, b := v.data.(ImageSet), o.data.(ImageSet)
		if a.Source != b.Source || len(a.Images) != len(b.Images) {
			return false
		}
		for ch, ai := range a.Images {
			bi, ok := b.Images[ch]
			if !ok || !ai.equal(bi) {
				return false
			}
		}
		return true
	case KindInstancer:
		a, b := v.data.(Instancer), o.data.(Instancer)
		return a.Frame == b.Frame && slicesEqual(a.Items, b.Items)
	case KindMapChannels:
		a, b := v.data.(MapChannels), o.data.(MapChannels)
		if len(a) != len(b) {
			return false
		}
		for k, ac := range a {
			bc, ok := b[k]
			if !ok || ac.Name != bc.Name ||
				!slicesEqual(ac.Vertices, bc.Vertices) ||
				!slicesEqual(ac.Faces, bc.Faces) {
				return false
			}
		}
		return true
	}
	return v.data == o.data
}

func (img Image) equal(o Image) bool {
	return img.Type == o.Type && img.Width == o.Width && img.Height == o.Height &&
		img.X == o.X && img.Y == o.Y && bytes.Equal(img.Data, o.Data)
}

func slicesEqual[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
