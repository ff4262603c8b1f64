package attr

// Color is an RGB triple of 32-bit floats.
type Color struct {
	R, G, B float32
}

// AColor is a Color with an alpha component.
type AColor struct {
	Color Color
	Alpha float32
}

// Vector is a 3D point or direction.
type Vector struct {
	X, Y, Z float32
}

// Vector2 is a 2D point, used for UV coordinates.
type Vector2 struct {
	X, Y float32
}

// Matrix is a row-major 3×3 matrix stored as three row vectors.
type Matrix struct {
	V0, V1, V2 Vector
}

// Transform is a rotation/scale matrix plus a translation offset.
type Transform struct {
	M    Matrix
	Offs Vector
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{M: Matrix{
		V0: Vector{X: 1},
		V1: Vector{Y: 1},
		V2: Vector{Z: 1},
	}}
}

// Plugin references a renderer-side plugin instance by name, optionally
// selecting one of its output ports. An empty Output means the default
// port.
type Plugin struct {
	Name   string
	Output string
}

// Valid reports whether the reference points at a plugin instance.
func (p Plugin) Valid() bool { return p.Name != "" }

// ImageType tags the pixel format of an Image payload.
type ImageType uint8

const (
	ImageNone ImageType = iota
	ImageRGBAReal
	ImageRGBReal
	ImageBWReal
	ImageJPG
)

func (t ImageType) String() string {
	switch t {
	case ImageNone:
		return "None"
	case ImageRGBAReal:
		return "RGBA_REAL"
	case ImageRGBReal:
		return "RGB_REAL"
	case ImageBWReal:
		return "BW_REAL"
	case ImageJPG:
		return "JPG"
	}
	return "ImageType(?)"
}

// Image is one rendered image or bucket. X and Y give the top-left corner
// of a bucket sub-image when both are non-negative; a full frame carries
// -1 for both.
type Image struct {
	Type          ImageType
	Width, Height int32
	X, Y          int32
	Data          []byte
}

// NewImage copies data into a full-frame image of the given format.
func NewImage(t ImageType, width, height int32, data []byte) Image {
	img := Image{Type: t, Width: width, Height: height, X: -1, Y: -1}
	img.Data = append([]byte(nil), data...)
	return img
}

// NewBucket copies data into a bucket sub-image anchored at (x, y).
func NewBucket(t ImageType, width, height, x, y int32, data []byte) Image {
	img := NewImage(t, width, height, data)
	img.X, img.Y = x, y
	return img
}

// IsBucket reports whether the image is a sub-region of the frame.
func (img Image) IsBucket() bool { return img.X >= 0 && img.Y >= 0 }

// ImageSource tags what produced an image set.
type ImageSource uint8

const (
	SourceInvalid ImageSource = iota
	SourceRtImageUpdate
	SourceImageReady
	SourceBucketImageReady
)

// ImageSet maps render channels to their image payloads for one delivery.
type ImageSet struct {
	Source ImageSource
	Images map[RenderChannel]Image
}

// NewImageSet returns an empty set with the given source tag.
func NewImageSet(src ImageSource) ImageSet {
	return ImageSet{Source: src, Images: make(map[RenderChannel]Image)}
}

// InstancerItem places one instanced node: where it is, how it moves, and
// which plugin it instances.
type InstancerItem struct {
	Index int32
	Tm    Transform
	Vel   Transform
	Node  Plugin
}

// Instancer is a table of instanced nodes for one frame.
type Instancer struct {
	Frame float32
	Items []InstancerItem
}

// MapChannel is one named mapping channel: its vertices and the faces
// indexing into them.
type MapChannel struct {
	Vertices ListVector
	Faces    ListInt
	Name     string
}

// MapChannels maps channel keys to their data.
type MapChannels map[string]MapChannel

// List element aliases. POD lists serialise as one contiguous block;
// ListString, ListPlugin and ListValue serialise element by element.
type (
	ListInt       []int32
	ListFloat     []float32
	ListColor     []Color
	ListVector    []Vector
	ListVector2   []Vector2
	ListMatrix    []Matrix
	ListTransform []Transform
	ListString    []string
	ListPlugin    []Plugin
	ListValue     []Value
)
