package shadow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNaming(t *testing.T) {
	n := NewNaming("")
	assert.Equal(t, DefaultSuffix, n.Suffix)
	assert.Equal(t, "id_uuid", n.Column("id"))
	assert.Equal(t, "user_id_uuid", n.Column("user_id"))

	base, ok := n.Base("goal_id_uuid")
	assert.True(t, ok)
	assert.Equal(t, "goal_id", base)

	for _, name := range []string{"_uuid", "uuid", "id"} {
		_, ok := n.Base(name)
		assert.False(t, ok, name)
	}
}

func TestNaming_CustomSuffix(t *testing.T) {
	n := NewNaming("_guid")
	assert.Equal(t, "id_guid", n.Column("id"))
	_, ok := n.Base("id_uuid")
	assert.False(t, ok)

	var zero Naming
	assert.Equal(t, "id_uuid", zero.Column("id"))
}
