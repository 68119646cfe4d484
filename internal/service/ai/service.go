package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"secretaria/internal/config"
	"secretaria/internal/logging"
	"secretaria/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const SystemPrompt = "You are a helpful personal secretary. Answer concisely. " +
	"When documents are attached, ground your answer in their content."

// Document is extracted attachment text handed to the model as context.
type Document struct {
	Name string
	Text string
}

// Request is one reply generation.
type Request struct {
	UserID    int64
	History   []models.Message // chronological, ending with the new user message
	Documents []Document
	UseSearch bool
}

// Generator produces assistant replies from a configured chat model.
type Generator struct {
	provider  string
	modelName string
	chatModel model.ToolCallingChatModel
	agent     *react.Agent
}

// NewGenerator builds the chat model named by cfg.BasicConfig.DefaultProvider.
// The "echo" provider needs no credentials and is used for local runs.
func NewGenerator(ctx context.Context, cfg *config.Config) (*Generator, error) {
	provider := strings.ToLower(cfg.BasicConfig.DefaultProvider)
	provCfg := cfg.Providers[provider]
	modelName := provCfg.Model

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "", "echo":
		provider = "echo"
		if modelName == "" {
			modelName = "echo"
		}
		chatModel = newEchoModel()
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: provCfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
			ThinkingConfig: &genai.ThinkingConfig{
				IncludeThoughts: true,
			},
		})
	case "claude":
		var baseURL *string
		if provCfg.BaseURL != "" {
			baseURL = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURL,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s model: %w", provider, err)
	}

	g := &Generator{provider: provider, modelName: modelName, chatModel: chatModel}

	if provider != "echo" {
		if tools := InitToolsChain(ctx, cfg.Search); len(tools) > 0 {
			g.agent, err = react.NewAgent(ctx, &react.AgentConfig{
				ToolCallingModel: chatModel,
				ToolsConfig:      compose.ToolsNodeConfig{Tools: tools},
			})
			if err != nil {
				return nil, fmt.Errorf("init react agent: %w", err)
			}
		}
	}
	return g, nil
}

// Model names the model recorded as model_used on replies.
func (g *Generator) Model() string {
	if g.modelName != "" {
		return g.modelName
	}
	return g.provider
}

// Stream generates a reply, handing each content delta to onDelta, and
// returns the full reply text.
func (g *Generator) Stream(ctx context.Context, req Request, onDelta func(string) error) (string, error) {
	if len(req.History) == 0 {
		return "", errors.New("history must contain the user message")
	}
	input := buildMessages(req)

	var (
		reader *schema.StreamReader[*schema.Message]
		err    error
	)
	if req.UseSearch && g.agent != nil {
		reader, err = g.agent.Stream(WithToolUser(ctx, req.UserID), input)
	} else {
		if req.UseSearch {
			logging.Debugf("search requested but no search tools are available for %s", g.provider)
		}
		reader, err = g.chatModel.Stream(ctx, input)
	}
	if err != nil {
		return "", fmt.Errorf("generate stream: %w", err)
	}
	defer reader.Close()

	var full strings.Builder
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), fmt.Errorf("receive stream: %w", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if onDelta != nil {
			if err := onDelta(chunk.Content); err != nil {
				return full.String(), err
			}
		}
	}
	return full.String(), nil
}

func buildMessages(req Request) []*schema.Message {
	messages := make([]*schema.Message, 0, len(req.History)+2)
	messages = append(messages, schema.SystemMessage(SystemPrompt))
	if ctxText := documentContext(req.Documents); ctxText != "" {
		messages = append(messages, schema.SystemMessage(ctxText))
	}
	for _, msg := range req.History {
		switch msg.Role {
		case models.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(msg.Content, nil))
		case models.RoleSystem:
			messages = append(messages, schema.SystemMessage(msg.Content))
		default:
			messages = append(messages, schema.UserMessage(msg.Content))
		}
	}
	return messages
}

func documentContext(docs []Document) string {
	if len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("The user attached the following documents.\n")
	for _, d := range docs {
		b.WriteString("\n--- ")
		b.WriteString(d.Name)
		b.WriteString(" ---\n")
		if strings.TrimSpace(d.Text) == "" {
			b.WriteString("(no readable text)\n")
			continue
		}
		b.WriteString(d.Text)
		b.WriteString("\n")
	}
	return b.String()
}
