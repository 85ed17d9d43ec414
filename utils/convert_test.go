package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToInt64CoercesDriverShapes(t *testing.T) {
	assert.Equal(t, int64(42), ToInt64(int64(42)))
	assert.Equal(t, int64(7), ToInt64(int32(7)))
	assert.Equal(t, int64(3), ToInt64(3.9), "float affinity truncates")
	assert.Equal(t, int64(12), ToInt64([]byte("12")))
	assert.Equal(t, int64(1), ToInt64(true))
	assert.Equal(t, int64(0), ToInt64(nil))
}

func TestToFloat64CoercesDriverShapes(t *testing.T) {
	assert.Equal(t, 1.5, ToFloat64(1.5))
	assert.Equal(t, 2.0, ToFloat64(int64(2)))
	assert.Equal(t, 0.25, ToFloat64("0.25"))
	assert.Equal(t, 0.0, ToFloat64(struct{}{}))
}

func TestToBoolCoversTinyintAndText(t *testing.T) {
	assert.True(t, ToBool(true))
	assert.True(t, ToBool(int64(1)), "MySQL TINYINT(1)")
	assert.False(t, ToBool(int64(0)))
	assert.True(t, ToBool("1"))
	assert.False(t, ToBool("false"))
	assert.False(t, ToBool([]byte("0")))
	assert.False(t, ToBool(nil))
}

func TestToStringCoversBytesAndTime(t *testing.T) {
	assert.Equal(t, "hello", ToString([]byte("hello")))
	assert.Equal(t, "42", ToString(int64(42)))
	assert.Equal(t, "true", ToString(true))
	assert.Equal(t, "", ToString(nil))

	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-01T12:30:00Z", ToString(ts))
}
