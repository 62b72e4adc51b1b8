package relay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-relay/internal/models"
)

func busPayload(t *testing.T, env *models.Envelope) []byte {
	t.Helper()
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	return payload
}

func TestBrokerAppliesRemoteOp(t *testing.T) {
	reg := newTestRegistry(t, newFakeStore())
	b := NewBroker("R1", &fakeBus{}, reg)

	env := remoteEnvelope(t, "R2", "d3", "hello", 1)
	b.HandleBusMessage(context.Background(), "doc:d3:ops", busPayload(t, env))

	room, ok := reg.Resident("d3")
	require.True(t, ok)
	snap := room.Snapshot()
	assert.Equal(t, "hello", snap.Text)
	assert.Equal(t, int64(1), snap.Version)
}

func TestBrokerSuppressesSelfEcho(t *testing.T) {
	reg := newTestRegistry(t, newFakeStore())
	b := NewBroker("R1", &fakeBus{}, reg)

	env := remoteEnvelope(t, "R1", "d1", "own", 1)
	b.HandleBusMessage(context.Background(), "doc:d1:ops", busPayload(t, env))

	_, ok := reg.Resident("d1")
	assert.False(t, ok, "own echo must not touch any room")
}

func TestBrokerDerivesDocIDFromChannel(t *testing.T) {
	reg := newTestRegistry(t, newFakeStore())
	b := NewBroker("R1", &fakeBus{}, reg)

	// Envelope without a docId: the channel name is authoritative.
	env := remoteEnvelope(t, "R2", "", "text", 1)
	b.HandleBusMessage(context.Background(), "doc:from-channel:ops", busPayload(t, env))

	_, ok := reg.Resident("from-channel")
	assert.True(t, ok)
}

func TestBrokerFallsBackToEnvelopeDocID(t *testing.T) {
	reg := newTestRegistry(t, newFakeStore())
	b := NewBroker("R1", &fakeBus{}, reg)

	env := remoteEnvelope(t, "R2", "from-envelope", "text", 1)
	b.HandleBusMessage(context.Background(), "bogus-channel", busPayload(t, env))

	_, ok := reg.Resident("from-envelope")
	assert.True(t, ok)
}

func TestBrokerDropsUnparseableMessage(t *testing.T) {
	reg := newTestRegistry(t, newFakeStore())
	b := NewBroker("R1", &fakeBus{}, reg)

	b.HandleBusMessage(context.Background(), "doc:d1:ops", []byte("{broken"))

	_, ok := reg.Resident("d1")
	assert.False(t, ok)
}

func TestBrokerDropsStaleRemote(t *testing.T) {
	reg := newTestRegistry(t, newFakeStore())
	room := reg.GetOrLoad(context.Background(), "d1")
	room.ApplyLocal("final", true, 6) // version 7

	b := NewBroker("R1", &fakeBus{}, reg)
	env := remoteEnvelope(t, "R2", "d1", "older", 5)
	b.HandleBusMessage(context.Background(), "doc:d1:ops", busPayload(t, env))

	snap := room.Snapshot()
	assert.Equal(t, "final", snap.Text)
	assert.Equal(t, int64(7), snap.Version)
}
