// Package message builds and parses the logical messages exchanged with
// the renderer: plugin mutations, renderer control, image deliveries and
// log lines. Builders produce payloads ready to hand to the client;
// Parse reverses them.
package message

import (
	"errors"
	"fmt"

	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/attr"
	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/wire"
)

// Type is the first byte of every logical message.
type Type uint8

const (
	TypeNone Type = iota
	TypeImage
	TypeChangePlugin
	TypeChangeRenderer
	TypeVRayLog
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "None"
	case TypeImage:
		return "Image"
	case TypeChangePlugin:
		return "ChangePlugin"
	case TypeChangeRenderer:
		return "ChangeRenderer"
	case TypeVRayLog:
		return "VRayLog"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// PluginAction says what a ChangePlugin message does to its plugin.
type PluginAction uint8

const (
	PluginActionNone PluginAction = iota
	PluginActionCreate
	PluginActionRemove
	PluginActionUpdate
	PluginActionReplace
)

func (a PluginAction) String() string {
	switch a {
	case PluginActionNone:
		return "None"
	case PluginActionCreate:
		return "Create"
	case PluginActionRemove:
		return "Remove"
	case PluginActionUpdate:
		return "Update"
	case PluginActionReplace:
		return "Replace"
	}
	return fmt.Sprintf("PluginAction(%d)", uint8(a))
}

// ValueSetter tells the server how to apply an Update value. AsString
// asks it to coerce a string into the property's real type.
type ValueSetter uint8

const (
	SetterNone ValueSetter = iota
	SetterDefault
	SetterAsString
)

// Action is a renderer control action. The relative order around the
// argument sentinel is part of the wire protocol: actions before it take
// no argument, actions after it require exactly one.
type Action uint8

const (
	ActionNone Action = iota
	ActionFree
	ActionStart
	ActionStop
	ActionPause
	ActionResume
	ActionResize
	ActionReset
	actionArgument
	ActionInit
	ActionResetHosts
	ActionLoadScene
	ActionAppendScene
	ActionExportScene
	ActionSetRenderMode
	ActionSetAnimationProperties
	ActionSetCurrentTime
	ActionSetCurrentFrame
	ActionClearFrameValues
	ActionSetRendererState
	ActionGetImage
	ActionSetQuality
	ActionSetCurrentCamera
	ActionSetCommitAction
	ActionSetVfbShow
	ActionSetViewportImageFormat
	ActionSetRenderRegion
	ActionSetCropRegion

	actionCount
)

// TakesArgument reports whether the action travels with a value.
func (a Action) TakesArgument() bool { return a > actionArgument }

func (a Action) known() bool { return a < actionCount && a != actionArgument }

// RendererType selects what kind of renderer Init creates.
type RendererType uint8

const (
	RendererNone RendererType = iota
	RendererRT
	RendererAnimation
	RendererSingleFrame
	RendererPreview
)

// DRFlags control distributed rendering, packed into the Init argument.
type DRFlags uint8

const (
	DRNone              DRFlags = 0
	DREnable            DRFlags = 2
	DRRenderOnlyOnHosts DRFlags = 4
)

// Bit positions inside the packed Init argument.
const (
	rendererTypeShift = 0
	drFlagsShift      = 8
)

// RendererState accompanies ActionSetRendererState.
type RendererState uint8

const (
	StateNone RendererState = iota
	StateAbort
	StateContinue
	StateProgress
	StateProgressMessage
)

// CommitAction values are the argument of ActionSetCommitAction.
type CommitAction int32

const (
	CommitNone CommitAction = iota
	CommitNow
	CommitNowForce
	CommitAutoOff
	CommitAutoOn
)

// RenderMode values are the argument of ActionSetRenderMode. The codes
// match the renderer's render-mode options.
type RenderMode int32

const (
	RenderModeProduction  RenderMode = -1
	RenderModeRtCpu       RenderMode = 0
	RenderModeRtGpuOpenCL RenderMode = 1
	RenderModeRtGpuCUDA   RenderMode = 4
	RenderModeRtGpu       RenderMode = RenderModeRtGpuCUDA
)

var (
	// ErrMissingValue is returned for an Update or Replace frame that
	// carries no value.
	ErrMissingValue = errors.New("message: plugin update carries no value")
	// ErrLogNotString is returned when a VRayLog frame's value is not a
	// string.
	ErrLogNotString = errors.New("message: log value must be a string")
)

// UnknownTypeError reports a message type byte this client doesn't speak.
type UnknownTypeError struct {
	Code uint8
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("message: unknown message type %d", e.Code)
}

// UnknownActionError reports an action byte this client doesn't speak,
// e.g. one added by a future peer.
type UnknownActionError struct {
	Type Type
	Code uint8
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("message: unknown %s action %d", e.Type, e.Code)
}

// ArgumentError reports a builder called with the wrong argument shape
// for its action.
type ArgumentError struct {
	Action Action
	HasArg bool
}

func (e *ArgumentError) Error() string {
	if e.HasArg {
		return fmt.Sprintf("message: renderer action %d takes no argument", e.Action)
	}
	return fmt.Sprintf("message: renderer action %d requires an argument", e.Action)
}

// Message is one parsed logical message. Which fields are meaningful
// depends on Type (and then on PluginAction or Action).
type Message struct {
	Type Type

	// ChangePlugin
	PluginAction PluginAction
	Plugin       string
	PluginType   string
	Property     string
	Setter       ValueSetter

	// ChangeRenderer
	Action        Action
	RendererType  RendererType
	DRFlags       DRFlags
	RendererState RendererState
	Width, Height int32

	// VRayLog
	LogLevel int32

	// Update / Replace / Image / VRayLog / argument actions
	Value attr.Value
}

// NewName returns the replacement plugin id of a Replace message.
func (m *Message) NewName() (string, error) {
	if m.Type != TypeChangePlugin || m.PluginAction != PluginActionReplace {
		return "", fmt.Errorf("message: not a plugin replace (%s/%s)", m.Type, m.PluginAction)
	}
	return m.Value.AsString()
}

// Parse decodes a DATA payload into a Message. A truncated frame, an
// unknown type or action code, or a violated payload invariant is an
// error; the caller drops the frame.
func Parse(data []byte) (*Message, error) {
	r := wire.NewReader(data)
	m := &Message{}

	code := r.Uint8()
	if err := r.Err(); err != nil {
		return nil, err
	}
	m.Type = Type(code)

	switch m.Type {
	case TypeChangePlugin:
		if err := m.parseChangePlugin(r); err != nil {
			return nil, err
		}
	case TypeImage:
		v, err := attr.Unmarshal(r)
		if err != nil {
			return nil, err
		}
		m.Value = v
	case TypeVRayLog:
		m.LogLevel = r.Int32()
		v, err := attr.Unmarshal(r)
		if err != nil {
			return nil, err
		}
		if v.Kind() != attr.KindString {
			return nil, ErrLogNotString
		}
		m.Value = v
	case TypeChangeRenderer:
		if err := m.parseChangeRenderer(r); err != nil {
			return nil, err
		}
	default:
		return nil, &UnknownTypeError{Code: code}
	}

	if err := r.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Message) parseChangePlugin(r *wire.Reader) error {
	m.Plugin = r.String()
	m.PluginAction = PluginAction(r.Uint8())
	if err := r.Err(); err != nil {
		return err
	}

	switch m.PluginAction {
	case PluginActionUpdate:
		m.Property = r.String()
		m.Setter = ValueSetter(r.Uint8())
		if err := r.Err(); err != nil {
			return err
		}
		if !r.HasMore() {
			return ErrMissingValue
		}
		v, err := attr.Unmarshal(r)
		if err != nil {
			return err
		}
		m.Value = v
	case PluginActionCreate:
		// The type string is optional: absent means create with the
		// implicit default type.
		if r.HasMore() {
			m.PluginType = r.String()
		}
	case PluginActionReplace:
		if !r.HasMore() {
			return ErrMissingValue
		}
		v, err := attr.Unmarshal(r)
		if err != nil {
			return err
		}
		m.Value = v
	case PluginActionRemove:
		// No payload.
	default:
		return &UnknownActionError{Type: TypeChangePlugin, Code: uint8(m.PluginAction)}
	}
	return nil
}

func (m *Message) parseChangeRenderer(r *wire.Reader) error {
	code := r.Uint8()
	if err := r.Err(); err != nil {
		return err
	}
	m.Action = Action(code)
	if !m.Action.known() {
		return &UnknownActionError{Type: TypeChangeRenderer, Code: code}
	}

	switch {
	case m.Action == ActionResize:
		m.Width = r.Int32()
		m.Height = r.Int32()
	case m.Action == ActionInit:
		v, err := attr.Unmarshal(r)
		if err != nil {
			return err
		}
		m.Value = v
		packed, err := v.AsInt()
		if err != nil {
			return err
		}
		m.DRFlags = DRFlags((packed >> drFlagsShift) & 0xff)
		m.RendererType = RendererType((packed >> rendererTypeShift) & 0xff)
	case m.Action == ActionSetRendererState:
		m.RendererState = RendererState(r.Uint8())
		v, err := attr.Unmarshal(r)
		if err != nil {
			return err
		}
		m.Value = v
	case m.Action.TakesArgument():
		v, err := attr.Unmarshal(r)
		if err != nil {
			return err
		}
		m.Value = v
	}
	return nil
}

// Marshal re-encodes the message into the payload Parse consumes. Built
// messages and parsed messages serialise identically.
func (m *Message) Marshal() ([]byte, error) {
	switch m.Type {
	case TypeChangePlugin:
		switch m.PluginAction {
		case PluginActionCreate:
			return PluginCreate(m.Plugin, m.PluginType), nil
		case PluginActionRemove:
			return PluginRemove(m.Plugin), nil
		case PluginActionUpdate:
			return PluginUpdate(m.Plugin, m.Property, m.Value, m.Setter)
		case PluginActionReplace:
			name, err := m.Value.AsString()
			if err != nil {
				return nil, err
			}
			return PluginReplace(m.Plugin, name), nil
		}
		return nil, &UnknownActionError{Type: TypeChangePlugin, Code: uint8(m.PluginAction)}
	case TypeImage:
		set, err := m.Value.AsImageSet()
		if err != nil {
			return nil, err
		}
		return ImageSet(set)
	case TypeVRayLog:
		text, err := m.Value.AsString()
		if err != nil {
			return nil, err
		}
		return VRayLog(m.LogLevel, text), nil
	case TypeChangeRenderer:
		switch {
		case m.Action == ActionResize:
			return RendererResize(m.Width, m.Height), nil
		case m.Action == ActionInit:
			return RendererInit(m.RendererType, m.DRFlags), nil
		case m.Action == ActionSetRendererState:
			return RendererSetState(m.RendererState, m.Value)
		case m.Action.TakesArgument():
			return RendererActionValue(m.Action, m.Value)
		case m.Action.known():
			return RendererAction(m.Action)
		}
		return nil, &UnknownActionError{Type: TypeChangeRenderer, Code: uint8(m.Action)}
	}
	return nil, &UnknownTypeError{Code: uint8(m.Type)}
}
