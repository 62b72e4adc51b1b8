package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageRejectsBadJSON(t *testing.T) {
	_, err := ParseMessage([]byte("{nope"))
	assert.Error(t, err)
}

func TestMessageTypeDefaultsToOp(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"text":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeOp, MessageType(msg))

	msg, err = ParseMessage([]byte(`{"type":"edit"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeEdit, MessageType(msg))

	// non-string type falls back to op
	msg, err = ParseMessage([]byte(`{"type":7}`))
	require.NoError(t, err)
	assert.Equal(t, TypeOp, MessageType(msg))
}

func TestEditVersionAbsentIsMinusOne(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"edit","text":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), EditVersion(msg))

	msg, err = ParseMessage([]byte(`{"type":"edit","version":4}`))
	require.NoError(t, err)
	assert.Equal(t, int64(4), EditVersion(msg))
}

func TestEnhanceOpPreservesUnknownFields(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"edit","opId":"o1","text":"hi","custom":{"a":1}}`))
	require.NoError(t, err)

	raw, err := EnhanceOp(msg, "R1", 3)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "edit", out["type"])
	assert.Equal(t, "o1", out["opId"])
	assert.Equal(t, "hi", out["text"])
	assert.Equal(t, map[string]any{"a": float64(1)}, out["custom"])
	assert.Equal(t, "R1", out["serverId"])
	assert.Equal(t, float64(3), out["serverVersion"])

	// the source map is untouched
	_, tainted := msg["serverId"]
	assert.False(t, tainted)
}

func TestEnvelopeRoundCarriesPayloadVerbatim(t *testing.T) {
	original := []byte(`{"type":"edit","opId":"o1","text":"hi","weird":[1,2]}`)
	env := Envelope{
		ServerID:      "R1",
		DocID:         "d1",
		Type:          TypeOp,
		ServerVersion: 1,
		Payload:       original,
	}

	raw, err := json.Marshal(&env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "R1", decoded.ServerID)
	assert.JSONEq(t, string(original), string(decoded.Payload))
}
