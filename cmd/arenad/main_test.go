package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSpaces(t *testing.T) {
	assert.Equal(t, []string{"room", "lobby"}, parseSpaces(""))
	assert.Equal(t, []string{"room", "lobby"}, parseSpaces(" , "))
	assert.Equal(t, []string{"scratch"}, parseSpaces("scratch"))
	assert.Equal(t, []string{"a", "b"}, parseSpaces("a, b,"))
}
