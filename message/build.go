package message

import (
	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/attr"
	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/wire"
)

// PluginCreate builds a ChangePlugin/Create payload. An empty typeName
// asks the server to create the plugin with its implicit default type.
func PluginCreate(name, typeName string) []byte {
	w := wire.NewWriter(len(name) + len(typeName) + 16)
	w.PutUint8(uint8(TypeChangePlugin))
	w.PutString(name)
	w.PutUint8(uint8(PluginActionCreate))
	if typeName != "" {
		w.PutString(typeName)
	}
	return w.Bytes()
}

// PluginRemove builds a ChangePlugin/Remove payload.
func PluginRemove(name string) []byte {
	w := wire.NewWriter(len(name) + 8)
	w.PutUint8(uint8(TypeChangePlugin))
	w.PutString(name)
	w.PutUint8(uint8(PluginActionRemove))
	return w.Bytes()
}

// PluginReplace builds a ChangePlugin/Replace payload renaming oldName
// to newName.
func PluginReplace(oldName, newName string) []byte {
	w := wire.NewWriter(len(oldName) + len(newName) + 16)
	w.PutUint8(uint8(TypeChangePlugin))
	w.PutString(oldName)
	w.PutUint8(uint8(PluginActionReplace))
	attr.String(newName).MarshalTo(w)
	return w.Bytes()
}

// PluginUpdate builds a ChangePlugin/Update payload setting one property.
func PluginUpdate(name, property string, value attr.Value, setter ValueSetter) ([]byte, error) {
	w := wire.NewWriter(len(name) + len(property) + 32)
	w.PutUint8(uint8(TypeChangePlugin))
	w.PutString(name)
	w.PutUint8(uint8(PluginActionUpdate))
	w.PutString(property)
	w.PutUint8(uint8(setter))
	if err := value.MarshalTo(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// PluginUpdateString builds an Update payload whose string value the
// server coerces into the property's real type.
func PluginUpdateString(name, property, value string) ([]byte, error) {
	return PluginUpdate(name, property, attr.String(value), SetterAsString)
}

// ImageSet builds an Image payload delivering a set of render channels.
func ImageSet(set attr.ImageSet) ([]byte, error) {
	w := wire.NewWriter(64)
	w.PutUint8(uint8(TypeImage))
	if err := set.Value().MarshalTo(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// VRayLog builds a log payload with the given renderer log level.
func VRayLog(level int32, text string) []byte {
	w := wire.NewWriter(len(text) + 16)
	w.PutUint8(uint8(TypeVRayLog))
	w.PutInt32(level)
	attr.String(text).MarshalTo(w)
	return w.Bytes()
}

// RendererAction builds a ChangeRenderer payload for an argument-less
// action. Passing an argument-bearing action is a caller bug and fails
// with an *ArgumentError.
func RendererAction(action Action) ([]byte, error) {
	if !action.known() {
		return nil, &UnknownActionError{Type: TypeChangeRenderer, Code: uint8(action)}
	}
	if action.TakesArgument() {
		return nil, &ArgumentError{Action: action, HasArg: false}
	}
	w := wire.NewWriter(2)
	w.PutUint8(uint8(TypeChangeRenderer))
	w.PutUint8(uint8(action))
	return w.Bytes(), nil
}

// RendererActionValue builds a ChangeRenderer payload for an
// argument-bearing action.
func RendererActionValue(action Action, value attr.Value) ([]byte, error) {
	if !action.known() {
		return nil, &UnknownActionError{Type: TypeChangeRenderer, Code: uint8(action)}
	}
	if !action.TakesArgument() {
		return nil, &ArgumentError{Action: action, HasArg: true}
	}
	w := wire.NewWriter(32)
	w.PutUint8(uint8(TypeChangeRenderer))
	w.PutUint8(uint8(action))
	if err := value.MarshalTo(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// RendererResize builds the Resize payload: two plain integers in one
// frame, no value wrapper.
func RendererResize(width, height int32) []byte {
	w := wire.NewWriter(10)
	w.PutUint8(uint8(TypeChangeRenderer))
	w.PutUint8(uint8(ActionResize))
	w.PutInt32(width)
	w.PutInt32(height)
	return w.Bytes()
}

// RendererInit builds the Init payload. The renderer type sits in the
// low 8 bits of the packed argument, the DR flags in the next 8.
func RendererInit(rt RendererType, dr DRFlags) []byte {
	packed := int32(dr)<<drFlagsShift | int32(rt)<<rendererTypeShift
	data, _ := RendererActionValue(ActionInit, attr.Int(packed))
	return data
}

// RendererSetState builds the SetRendererState payload: the state byte
// precedes the argument value.
func RendererSetState(state RendererState, value attr.Value) ([]byte, error) {
	w := wire.NewWriter(32)
	w.PutUint8(uint8(TypeChangeRenderer))
	w.PutUint8(uint8(ActionSetRendererState))
	w.PutUint8(uint8(state))
	if err := value.MarshalTo(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// RendererSetCommitAction builds the SetCommitAction payload.
func RendererSetCommitAction(c CommitAction) []byte {
	data, _ := RendererActionValue(ActionSetCommitAction, attr.Int(int32(c)))
	return data
}

// RendererSetRenderMode builds the SetRenderMode payload.
func RendererSetRenderMode(mode RenderMode) []byte {
	data, _ := RendererActionValue(ActionSetRenderMode, attr.Int(int32(mode)))
	return data
}
