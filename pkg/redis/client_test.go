package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableUpdatedChannel(t *testing.T) {
	assert.Equal(t, "nomidot:42:table.updated", TableUpdatedChannel(42))
	assert.Equal(t, "nomidot:*:table.updated", TableUpdatedPattern())
}

func TestSessionFromChannel(t *testing.T) {
	tests := []struct {
		name     string
		channel  string
		expected uint32
		ok       bool
	}{
		{"valid channel", "nomidot:42:table.updated", 42, true},
		{"round trip", TableUpdatedChannel(4294967295), 4294967295, true},
		{"wrong prefix", "other:42:table.updated", 0, false},
		{"wrong event", "nomidot:42:block.indexed", 0, false},
		{"not a number", "nomidot:abc:table.updated", 0, false},
		{"too many parts", "nomidot:1:2:table.updated", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, ok := SessionFromChannel(tt.channel)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, session)
		})
	}
}
