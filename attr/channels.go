package attr

// RenderChannel identifies a named output layer of the renderer. The codes
// match the renderer's render-element types and travel as 16-bit integers
// inside image sets.
type RenderChannel int16

const (
	ChannelNone RenderChannel = -1

	ChannelFragColor RenderChannel = iota
	ChannelFragTransp
	ChannelFragRealtransp
	ChannelFragBackground
	ChannelFragZbuf
	ChannelFragRenderID
	ChannelFragNormal
	ChannelFragAlphatransp
	ChannelFragExtraAA
	ChannelFragWeight
	ChannelFragLast
)

const (
	ChannelVfbAtmosphere RenderChannel = iota + 100
	ChannelVfbDiffuse
	ChannelVfbReflect
	ChannelVfbRefract
	ChannelVfbSelfillum
	ChannelVfbShadow
	ChannelVfbSpecular
	ChannelVfbLighting
	ChannelVfbGi
	ChannelVfbCaustics
	ChannelVfbRawGi
	ChannelVfbRawLight
	ChannelVfbRawShadow
	ChannelVfbVelocity
	ChannelVfbRenderID
	ChannelVfbMtlID
	ChannelVfbNodeID
	ChannelVfbZdepth
	ChannelVfbReflectionFilter
	ChannelVfbRawReflection
	ChannelVfbRefractionFilter
	ChannelVfbRawRefraction
	ChannelVfbRealcolor
	ChannelVfbNormal
	ChannelVfbBackground
	ChannelVfbAlpha
	ChannelVfbColor
	ChannelVfbWirecolor
	ChannelVfbMatteShadow
	ChannelVfbTotalLight
	ChannelVfbRawTotalLight
	ChannelVfbBumpNormal
	ChannelVfbSampleRate
	ChannelVfbSss2
	ChannelDrBucket
	ChannelVfbVrmtlReflectGloss
	ChannelVfbVrmtlReflectHiGloss
	ChannelVfbVrmtlRefractGloss
	ChannelVfbShademapExport
	ChannelVfbReflectAlpha
	ChannelVfbVrmtlReflectIOR
	ChannelVfbMtlRenderID
	ChannelVfbNoiseLevel
	ChannelVfbWorldPosition
	ChannelVfbDenoised
	ChannelVfbWorldBumpNormal
	ChannelVfbDefocusAmount
)
