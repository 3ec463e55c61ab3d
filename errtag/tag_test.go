package errtag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithMsg(t *testing.T) {
	var meta tagMeta
	opt := WithMsg("custom message")
	opt(&meta)

	assert.Equal(t, "custom message", meta.msg)
}

func TestWithMsgf(t *testing.T) {
	var meta tagMeta
	opt := WithMsgf("formatted %s", "message")
	opt(&meta)

	assert.Equal(t, "formatted message", meta.msg)
}

func TestWithDetails(t *testing.T) {
	var meta tagMeta
	opt := WithDetails("detail1", "detail2")
	opt(&meta)

	assert.Equal(t, []string{"detail1", "detail2"}, meta.details)
}

func TestTag(t *testing.T) {
	err := errors.New("cause error")
	tag := Tag[UnknownCollection, *UnknownCollection](err, WithMsg("not found"), WithDetails("detail"))

	require.NotNil(t, tag)
	assert.Equal(t, CodeUnknownCollection, tag.Code())
	assert.Equal(t, "not found", tag.Msg())
	assert.Equal(t, "cause error", tag.Error())
	assert.Equal(t, []string{"detail"}, tag.Details())
}

func TestNewTagged(t *testing.T) {
	taggedErr := NewTagged[Timeout, *Timeout]("no response received", WithMsg("timed out"))
	require.NotNil(t, taggedErr)

	asTimeout, ok := AsTag[Timeout](taggedErr)
	require.True(t, ok)
	assert.Equal(t, CodeTimeout, asTimeout.Code())
	assert.Equal(t, "timed out", asTimeout.Msg())
	assert.Equal(t, "no response received", asTimeout.Error())
}

func TestMsg_DefaultsToCode(t *testing.T) {
	tag := Tag[SchemaMismatch, *SchemaMismatch](errors.New("boom"))
	assert.Equal(t, CodeSchemaMismatch, tag.Msg())
}
