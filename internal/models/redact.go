package models

// sensitiveKeys are attribute names whose values are credentials. They are
// encrypted at rest and never returned by read APIs.
var sensitiveKeys = map[string]struct{}{
	"password":       {},
	"client_secret":  {},
	"clientPassword": {},
	"bearer_token":   {},
	"client_key":     {},
}

// IsSensitiveKey reports whether an attribute name holds a credential.
func IsSensitiveKey(key string) bool {
	_, ok := sensitiveKeys[key]
	return ok
}

// WalkSensitive calls fn for every string value stored under a sensitive
// key anywhere in v, replacing the value with fn's result. v is a decoded
// JSON document (maps, slices and scalars).
func WalkSensitive(v interface{}, fn func(string) (string, error)) error {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			if s, ok := val.(string); ok && IsSensitiveKey(k) && s != "" {
				out, err := fn(s)
				if err != nil {
					return err
				}
				t[k] = out
				continue
			}
			if err := WalkSensitive(val, fn); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, val := range t {
			if err := WalkSensitive(val, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// redactJSON drops every sensitive key from a decoded JSON document.
func redactJSON(v interface{}) {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			if IsSensitiveKey(k) {
				delete(t, k)
				continue
			}
			redactJSON(val)
		}
	case []interface{}:
		for _, val := range t {
			redactJSON(val)
		}
	}
}

func redactedCopy(in, out interface{}) {
	var doc interface{}
	if err := deepCopyJSON(in, &doc); err != nil {
		panic("redact: " + err.Error())
	}
	redactJSON(doc)
	if err := deepCopyJSON(doc, out); err != nil {
		panic("redact: " + err.Error())
	}
}

// Redacted returns a copy of the instance without credentials.
func (v *VnfInstance) Redacted() *VnfInstance {
	if v == nil {
		return nil
	}
	out := &VnfInstance{}
	redactedCopy(v, out)
	return out
}

// Redacted returns a copy of the op-occ without credentials in its
// operation parameters.
func (o *VnfLcmOpOcc) Redacted() *VnfLcmOpOcc {
	if o == nil {
		return nil
	}
	out := &VnfLcmOpOcc{}
	redactedCopy(o, out)
	return out
}
