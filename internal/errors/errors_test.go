package errors

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDefaults(t *testing.T) {
	ee := New(io.EOF).Build()
	assert.Equal(t, "unknown", ee.Component)
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.True(t, Is(ee, io.EOF))
}

func TestBuilderContextInMessage(t *testing.T) {
	ee := Newf("attempted to yield %s", "nil").
		Component("vm").
		Category(CategoryProtocolMisuse).
		Context("shred", "main.ckv").
		Context("at", 48000.0).
		Build()
	assert.Equal(t, "attempted to yield nil (at=48000, shred=main.ckv)", ee.Error())
	ctx := ee.GetContext()
	ctx["shred"] = "changed"
	assert.Equal(t, "main.ckv", ee.Context["shred"], "GetContext must copy")
}

func TestIsMatchesCategory(t *testing.T) {
	a := Newf("one").Category(CategoryScriptRuntime).Build()
	b := Newf("two").Category(CategoryScriptRuntime).Build()
	c := Newf("three").Category(CategoryScriptLoad).Build()
	assert.True(t, Is(a, b))
	assert.False(t, Is(a, c))
}

func TestCategoryOfWrapped(t *testing.T) {
	inner := Newf("bad rate").Category(CategoryProtocolMisuse).Build()
	wrapped := Join(io.ErrUnexpectedEOF, inner)
	assert.Equal(t, CategoryProtocolMisuse, CategoryOf(wrapped))
	assert.True(t, IsCategory(wrapped, CategoryProtocolMisuse))
	assert.False(t, IsCategory(nil, CategoryProtocolMisuse))
	assert.Equal(t, CategoryGeneric, CategoryOf(io.EOF))

	var ee *EnhancedError
	require.True(t, As(wrapped, &ee))
	assert.Equal(t, "bad rate", ee.Error())
}
