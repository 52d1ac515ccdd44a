package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	str := String()
	assert.True(t, strings.HasPrefix(str, "deploy version "+EmptyValue+" "), str)
	assert.Contains(t, str, runtime.Version())
}
