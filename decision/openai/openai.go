// Package openai provides a decision.Maker backed by the OpenAI Chat
// Completions API with function calling. The routing instruction becomes the
// system message and the offered actions become tools.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/agentrouter/action"
	"github.com/hupe1980/agentrouter/decision"
)

// Options configure the OpenAI decision-maker.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
}

// Maker wraps the OpenAI Chat Completions API behind decision.Maker.
type Maker struct {
	client *openai.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0,
		MaxCompletionTokens: 1024,
	}
}

// New creates a maker using the official client. The API key is read from
// the environment unless Options.APIKey is set.
func New(optFns ...func(o *Options)) *Maker {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)

	return &Maker{client: &client, opts: opts}
}

// NewFromClient creates a maker from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Maker {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Maker{client: client, opts: opts}
}

// Decide performs one chat completion and maps the first tool call, if any,
// to an action call.
func (m *Maker) Decide(ctx context.Context, req decision.Request) (decision.Response, error) {
	params := m.buildParams(req)

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return decision.Response{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return decision.Response{}, fmt.Errorf("no choices returned")
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		return decision.Invoke(action.Call{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}), nil
	}

	return decision.Final(msg.Content), nil
}

func (m *Maker) buildParams(req decision.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	if len(req.Actions) == 0 {
		return params
	}

	params.Tools = buildTools(req.Actions)
	params.ParallelToolCalls = openai.Bool(false)

	return params
}

// buildMessages converts the transcript into chat messages, placing each tool
// result immediately after the assistant message carrying its call.
func buildMessages(req decision.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}

	for _, msg := range decision.Transcript(req) {
		switch msg.Role {
		case decision.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Text))
		case decision.RoleAssistant:
			if msg.Call == nil {
				messages = append(messages, openai.AssistantMessage(msg.Text))
				continue
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
						ID: msg.Call.ID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      msg.Call.Name,
							Arguments: msg.Call.Arguments,
						},
					}},
				},
			})
		case decision.RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Result, msg.CallID))
		}
	}

	return messages
}

func buildTools(defs []action.Definition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, len(defs))
	for i, def := range defs {
		tools[i] = openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  def.Parameters,
			},
		}
	}
	return tools
}

// Info returns metadata describing this decision-maker.
func (m *Maker) Info() decision.Info {
	return decision.Info{Name: m.opts.Model, Provider: "openai"}
}

var _ decision.Maker = (*Maker)(nil)
