package ai

import (
	"context"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// echoModel replies by quoting the last user message. It emits a short
// reasoning block first, the way thinking models do.
type echoModel struct{}

func newEchoModel() *echoModel {
	return &echoModel{}
}

func (m *echoModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage(strings.Join(echoChunks(input), ""), nil), nil
}

func (m *echoModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	chunks := echoChunks(input)
	out := make([]*schema.Message, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(out), nil
}

func (m *echoModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func echoChunks(input []*schema.Message) []string {
	var last string
	docs := 0
	for _, msg := range input {
		switch msg.Role {
		case schema.User:
			last = msg.Content
		case schema.System:
			if strings.HasPrefix(msg.Content, "The user attached") {
				docs = strings.Count(msg.Content, "\n--- ")
			}
		}
	}
	chunks := []string{"<think>", "echoing the user", "</think>"}
	if docs > 0 {
		chunks = append(chunks, "I read ", strconv.Itoa(docs), " attached document(s). ")
	}
	chunks = append(chunks, "You said: ")
	for _, word := range strings.SplitAfter(last, " ") {
		if word != "" {
			chunks = append(chunks, word)
		}
	}
	return chunks
}
