package client

import (
	"encoding/json"
	"strconv"
	"sync"
)

// View is the rendering surface the reconciler drives. Controls are
// addressed by flattened keys into the player portion, e.g. "infos.2" or
// "attributes.0.points".
type View interface {
	// Rebuild discards the whole view and renders it from scratch.
	// Transient UI state (focus, in-progress keystrokes) may be lost.
	Rebuild(setByGM, setByPlayer json.RawMessage)
	// SetValue writes one control's value in place. Returns false when no
	// such control exists, which signals a structure mismatch.
	SetValue(key, value string) bool
	// FocusedKey reports the control the local user is editing, or "".
	FocusedKey() string
	// ControlCount reports how many value-bearing controls are present.
	ControlCount() int
}

// FormView is an in-memory View: a flat control table derived from the
// player portion. Rendering front ends wrap it; tests use it directly.
type FormView struct {
	mu       sync.Mutex
	setByGM  json.RawMessage
	controls map[string]string
	focused  string
}

func NewFormView() *FormView {
	return &FormView{controls: make(map[string]string)}
}

func (v *FormView) Rebuild(setByGM, setByPlayer json.RawMessage) {
	controls, err := flattenValues(setByPlayer)
	if err != nil {
		controls = make(map[string]string)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.setByGM = setByGM
	v.controls = controls
	// a rebuild tears down the DOM equivalent, focus does not survive
	v.focused = ""
}

func (v *FormView) SetValue(key, value string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.controls[key]; !ok {
		return false
	}
	v.controls[key] = value
	return true
}

func (v *FormView) FocusedKey() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.focused
}

// Focus marks a control as being edited by the local user.
func (v *FormView) Focus(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.focused = key
}

func (v *FormView) Blur() {
	v.Focus("")
}

// Value reads one control.
func (v *FormView) Value(key string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.controls[key]
	return val, ok
}

// ControlCount reports how many value-bearing controls are present.
func (v *FormView) ControlCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.controls)
}

// flattenValues turns the player portion into control-key -> value pairs.
// Scalars become strings; objects and arrays recurse with dotted keys.
func flattenValues(raw json.RawMessage) (map[string]string, error) {
	out := make(map[string]string)
	if len(raw) == 0 {
		return out, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	flattenInto(out, "", v)
	return out, nil
}

func flattenInto(out map[string]string, prefix string, v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			flattenInto(out, joinKey(prefix, k), child)
		}
	case []any:
		for i, child := range t {
			flattenInto(out, joinKey(prefix, strconv.Itoa(i)), child)
		}
	case string:
		out[prefix] = t
	case float64:
		out[prefix] = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		out[prefix] = strconv.FormatBool(t)
	case nil:
		out[prefix] = ""
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
