package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQualifiedName(t *testing.T) {
	def := ToolDef{Server: "files", Name: "read_file"}
	assert.Equal(t, "files__read_file", def.QualifiedName())

	server, tool, ok := SplitQualifiedName("files__read_file")
	assert.True(t, ok)
	assert.Equal(t, "files", server)
	assert.Equal(t, "read_file", tool)
}

func TestSplitQualifiedNameRejectsPlainName(t *testing.T) {
	_, _, ok := SplitQualifiedName("search_messages")
	assert.False(t, ok)
}

func TestInvalidateDropsCache(t *testing.T) {
	o := NewOrchestrator(nil, "usr_1")
	o.cache = []ToolDef{{Server: "s", Name: "t"}}
	o.Invalidate()
	assert.Nil(t, o.cache)
	assert.True(t, o.cacheAt.IsZero())
}
