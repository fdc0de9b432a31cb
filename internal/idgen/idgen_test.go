package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("asm_")
	assert.True(t, strings.HasPrefix(id, "asm_"))
	assert.Len(t, id, len("asm_")+24)
	assert.NotEqual(t, id, WithPrefix("asm_"))
}

func TestHex(t *testing.T) {
	assert.Len(t, Hex(16), 32)
	assert.Empty(t, Hex(0))
}
