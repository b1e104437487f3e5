package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsPattern(t *testing.T) {
	assert.Equal(t, "%abc%", ContainsPattern("abc"))
	assert.Equal(t, "%50!%%", ContainsPattern("50%"))
	assert.Equal(t, "%a!_b%", ContainsPattern("a_b"))
	assert.Equal(t, "%wow!!%", ContainsPattern("wow!"))
}
