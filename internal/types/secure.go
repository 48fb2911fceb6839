package types

import "encoding/json"

// SecretString holds sensitive configuration values (API keys, webhook
// secrets, connection strings). It redacts itself in every text
// representation so secrets cannot leak through logs or serialized
// structs; only Value() exposes the underlying string.
type SecretString string

const redactedPlaceholder = "[REDACTED]"

// Value returns the underlying secret. Call sites should pass the result
// directly to the consuming client and never store it in loggable state.
func (s SecretString) Value() string {
	return string(s)
}

// IsEmpty reports whether the secret is unset.
func (s SecretString) IsEmpty() bool {
	return len(s) == 0
}

func (s SecretString) String() string {
	if s.IsEmpty() {
		return ""
	}
	return redactedPlaceholder
}

// GoString redacts the secret in %#v output.
func (s SecretString) GoString() string {
	return "types.SecretString(" + s.String() + ")"
}

// MarshalJSON redacts the secret when a struct containing it is serialized.
func (s SecretString) MarshalJSON() ([]byte, error) {
	if s.IsEmpty() {
		return []byte(`""`), nil
	}
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// UnmarshalJSON accepts a plain JSON string.
func (s *SecretString) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = SecretString(v)
	return nil
}
