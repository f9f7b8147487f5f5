// Package anthropic provides a decision.Maker backed by the Anthropic
// Messages API with tool use.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/agentrouter/action"
	"github.com/hupe1980/agentrouter/decision"
)

// Options configures the Anthropic decision-maker.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Maker wraps the Anthropic Messages API behind decision.Maker.
type Maker struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0,
		MaxTokens:   1024,
	}
}

// New creates a maker using the official client.
func New(optFns ...func(o *Options)) *Maker {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Maker{client: &client, opts: opts}
}

// NewFromClient creates a maker from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Maker {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Maker{client: client, opts: opts}
}

// Decide performs one Messages call. The first tool_use block becomes the
// action call; otherwise the text blocks form the final answer.
func (m *Maker) Decide(ctx context.Context, req decision.Request) (decision.Response, error) {
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    buildMessages(req),
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}
	if len(req.Actions) > 0 {
		params.Tools = buildTools(req.Actions)
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return decision.Response{}, fmt.Errorf("anthropic api error: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := ""
			if toolBlock.Input != nil {
				if argsBytes, err := json.Marshal(toolBlock.Input); err == nil {
					args = string(argsBytes)
				}
			}
			return decision.Invoke(action.Call{
				ID:        toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: args,
			}), nil
		case "text":
			text.WriteString(block.AsText().Text)
		}
	}

	return decision.Final(text.String()), nil
}

// buildMessages converts the transcript to Anthropic messages. Tool results
// are sent in user messages; leading assistant messages are dropped because a
// conversation must open with a user turn.
func buildMessages(req decision.Request) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	for _, msg := range decision.Transcript(req) {
		switch msg.Role {
		case decision.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
		case decision.RoleAssistant:
			if len(messages) == 0 {
				continue
			}
			if msg.Call == nil {
				messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text)))
				continue
			}
			var input any
			if msg.Call.Arguments != "" {
				if err := json.Unmarshal([]byte(msg.Call.Arguments), &input); err != nil {
					input = msg.Call.Arguments
				}
			}
			messages = append(messages, anthropic.NewAssistantMessage(
				anthropic.NewToolUseBlock(msg.Call.ID, input, msg.Call.Name),
			))
		case decision.RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.CallID, msg.Result, false),
			))
		}
	}

	return messages
}

func buildTools(defs []action.Definition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(defs))

	for i, def := range defs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if def.Parameters != nil {
			if properties, exists := def.Parameters["properties"]; exists {
				inputSchema.Properties = properties
			}
			switch req := def.Parameters["required"].(type) {
			case []string:
				inputSchema.Required = req
			case []any:
				for _, r := range req {
					if s, ok := r.(string); ok {
						inputSchema.Required = append(inputSchema.Required, s)
					}
				}
			}
		}

		tools[i] = anthropic.ToolUnionParamOfTool(inputSchema, def.Name)
		if tools[i].OfTool != nil && def.Description != "" {
			tools[i].OfTool.Description = anthropic.String(def.Description)
		}
	}

	return tools
}

// Info returns metadata describing this decision-maker.
func (m *Maker) Info() decision.Info {
	return decision.Info{Name: string(m.opts.Model), Provider: "anthropic"}
}

var _ decision.Maker = (*Maker)(nil)
