package pulling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHandleUniqueAndParseable(t *testing.T) {
	a := newHandle()
	b := newHandle()
	assert.NotEqual(t, a.String(), b.String())

	parsed, err := ParseHandle(a.String())
	require.NoError(t, err)
	assert.Equal(t, a.String(), parsed.String())
}

func TestParseHandleRejectsGarbage(t *testing.T) {
	_, err := ParseHandle("not-a-handle")
	assert.Error(t, err)
}
