// Package params derives per-call generation parameters from an assistant
// and a model.
//
// Information Hiding:
// - Layer precedence and key deletion semantics
// - Model family resolution and per-family reasoning controls
// - Provider-specific request quirks
// - Custom parameter value coercion

package params

// Fields is a partial request record keyed by wire field name.
type Fields map[string]any

type omitted struct{}

// Omit deletes a key when a layer carrying it is merged.
// A field set to Omit ends up absent from the request, not null.
var Omit any = omitted{}

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Layers is an ordered list of partial records. Later layers win.
type Layers []Fields

// Merge folds the layers into one record. Same-named keys from later
// layers overwrite earlier ones; Omit removes the key.
func (l Layers) Merge() Fields {
	out := make(Fields)
	for _, layer := range l {
		for k, v := range layer {
			if v == Omit {
				delete(out, k)
				continue
			}
			out[k] = v
		}
	}
	return out
}
