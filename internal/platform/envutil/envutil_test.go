package envutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("ENVUTIL_TEST_INT", "nope")
	assert.Equal(t, 7, Int("ENVUTIL_TEST_INT", 7))
	t.Setenv("ENVUTIL_TEST_INT", " 12 ")
	assert.Equal(t, 12, Int("ENVUTIL_TEST_INT", 7))
}

func TestBool(t *testing.T) {
	t.Setenv("ENVUTIL_TEST_BOOL", "yes")
	assert.True(t, Bool("ENVUTIL_TEST_BOOL", false))
	t.Setenv("ENVUTIL_TEST_BOOL", "off")
	assert.False(t, Bool("ENVUTIL_TEST_BOOL", true))
	t.Setenv("ENVUTIL_TEST_BOOL", "maybe")
	assert.True(t, Bool("ENVUTIL_TEST_BOOL", true))
}

func TestDurations(t *testing.T) {
	t.Setenv("ENVUTIL_TEST_MS", "-5")
	assert.Equal(t, time.Duration(0), Millis("ENVUTIL_TEST_MS", time.Second))
	t.Setenv("ENVUTIL_TEST_S", "3")
	assert.Equal(t, 3*time.Second, Seconds("ENVUTIL_TEST_S", time.Second))
	assert.Equal(t, time.Minute, Seconds("ENVUTIL_TEST_UNSET", time.Minute))
}

func TestList(t *testing.T) {
	t.Setenv("ENVUTIL_TEST_LIST", "a, ,b,")
	assert.Equal(t, []string{"a", "b"}, List("ENVUTIL_TEST_LIST", nil))
	t.Setenv("ENVUTIL_TEST_LIST", " , ")
	assert.Equal(t, []string{"x"}, List("ENVUTIL_TEST_LIST", []string{"x"}))
}
