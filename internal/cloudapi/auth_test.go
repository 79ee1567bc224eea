package cloudapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleProducer, ParseRole("producer"))
	assert.Equal(t, RoleProducer, ParseRole("Produttore"))
	assert.Equal(t, RoleVerifier, ParseRole("verifier"))
	assert.Equal(t, RoleNone, ParseRole("nonsense"))
}

func TestRoleSatisfies(t *testing.T) {
	assert.True(t, RoleProducer.satisfies(RoleVerifier), "producer implies verify")
	assert.True(t, RoleVerifier.satisfies(RoleVerifier))
	assert.False(t, RoleVerifier.satisfies(RoleProducer))
	assert.False(t, RoleNone.satisfies(RoleVerifier))
}

func TestParseKeyStore(t *testing.T) {
	keys := ParseKeyStore("abc:producer, def:verifier,,garbage,ghi:unknown")
	assert.Equal(t, RoleProducer, keys["abc"])
	assert.Equal(t, RoleVerifier, keys["def"])
	assert.NotContains(t, keys, "ghi")
	assert.Len(t, keys, 2)
}
