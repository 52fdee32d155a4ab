package llm

import (
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariavoice/aria/internal/domain"
)

func TestAccumulateToolCalls(t *testing.T) {
	var calls []domain.ToolCall

	calls = AccumulateToolCalls(calls, []ToolCallDelta{
		{Index: 0, ID: "call_1", Name: "search_messages", Arguments: `{"ter`},
	})
	calls = AccumulateToolCalls(calls, []ToolCallDelta{
		{Index: 0, Arguments: `m":"groceries"}`},
	})

	require.Len(t, calls, 1)
	assert.Equal(t, "search_messages", calls[0].Name)
	assert.JSONEq(t, `{"term":"groceries"}`, calls[0].Arguments)
}

func TestAccumulateToolCallsParallel(t *testing.T) {
	var calls []domain.ToolCall

	calls = AccumulateToolCalls(calls, []ToolCallDelta{
		{Index: 0, ID: "call_1", Name: "get_frame_summaries", Arguments: "{}"},
		{Index: 1, ID: "call_2", Name: "get_conversation_info", Arguments: `{"conv`},
	})
	calls = AccumulateToolCalls(calls, []ToolCallDelta{
		{Index: 1, Arguments: `ersation_id":"conv_1"}`},
	})

	require.Len(t, calls, 2)
	assert.Equal(t, "{}", calls[0].Arguments)
	assert.JSONEq(t, `{"conversation_id":"conv_1"}`, calls[1].Arguments)
}

func TestAccumulateToolCallsIgnoresOrphanFragment(t *testing.T) {
	calls := AccumulateToolCalls(nil, []ToolCallDelta{{Index: 0, Arguments: "junk"}})
	assert.Empty(t, calls)
}

func TestBuildRequestAttachesImagesAndTools(t *testing.T) {
	req := buildRequest(Request{
		Model: "qwen3",
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "what is this?", Images: []string{"aGVsbG8="}},
		},
		Tools: []Tool{{Name: "search_messages", Description: "search", Parameters: []byte(`{"type":"object"}`)}},
	})

	require.Len(t, req.Messages, 2)
	assert.Empty(t, req.Messages[1].Content)
	require.Len(t, req.Messages[1].MultiContent, 2)
	assert.Contains(t, req.Messages[1].MultiContent[1].ImageURL.URL, "base64,aGVsbG8=")
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "search_messages", req.Tools[0].Function.Name)
	assert.True(t, req.Stream)
}

func TestBuildRequestCarriesThinkFlag(t *testing.T) {
	on := buildRequest(Request{Model: "qwen3", ThinkMode: true})
	assert.Equal(t, true, on.ChatTemplateKwargs["enable_thinking"])

	off := buildRequest(Request{Model: "qwen3"})
	assert.Equal(t, false, off.ChatTemplateKwargs["enable_thinking"])
}

func TestConvertDeltaSeparatesReasoning(t *testing.T) {
	d := convertDelta(openai.ChatCompletionStreamChoiceDelta{
		ReasoningContent: "weighing options",
	})
	require.NotNil(t, d)
	assert.Equal(t, "weighing options", d.Thinking)
	assert.Empty(t, d.Content)

	assert.Nil(t, convertDelta(openai.ChatCompletionStreamChoiceDelta{}))
}
