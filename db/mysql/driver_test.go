package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithParseTime(t *testing.T) {
	assert.Equal(t, "u:p@tcp(h)/db?parseTime=true", withParseTime("u:p@tcp(h)/db"))
	assert.Equal(t, "u:p@tcp(h)/db?charset=utf8mb4&parseTime=true", withParseTime("u:p@tcp(h)/db?charset=utf8mb4"))
	assert.Equal(t, "u:p@tcp(h)/db?parseTime=false", withParseTime("u:p@tcp(h)/db?parseTime=false"))
}
