package types

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretStringRedaction(t *testing.T) {
	s := SecretString("sk_live_abc123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk_live")
	assert.Equal(t, "sk_live_abc123", s.Value())
}

func TestSecretStringJSON(t *testing.T) {
	payload := struct {
		Key SecretString `json:"key"`
	}{Key: "whsec_topsecret"}

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "topsecret")
	assert.Contains(t, string(out), "[REDACTED]")

	var in struct {
		Key SecretString `json:"key"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"key":"whsec_other"}`), &in))
	assert.Equal(t, "whsec_other", in.Key.Value())
}

func TestSecretStringEmpty(t *testing.T) {
	var s SecretString
	assert.True(t, s.IsEmpty())
	assert.Equal(t, "", s.String())

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `""`, string(out))
}
