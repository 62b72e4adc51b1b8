package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotKey(t *testing.T) {
	assert.Equal(t, "doc:d1:snapshot", SnapshotKey("d1"))
}

func TestOpsChannel(t *testing.T) {
	assert.Equal(t, "doc:d1:ops", OpsChannel("d1"))
}

func TestDocIDFromChannel(t *testing.T) {
	tests := []struct {
		channel string
		docID   string
		ok      bool
	}{
		{"doc:d1:ops", "d1", true},
		{"doc:my-doc.v2:ops", "my-doc.v2", true},
		{"doc:a:b:ops", "a:b", true},
		{"doc::ops", "", false},
		{"doc:d1:snapshot", "", false},
		{"d1:ops", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		docID, ok := DocIDFromChannel(tc.channel)
		assert.Equal(t, tc.ok, ok, "channel %q", tc.channel)
		assert.Equal(t, tc.docID, docID, "channel %q", tc.channel)
	}
}
