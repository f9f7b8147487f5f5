// Package dispatch sends routed messages to downstream agents over the A2A
// message/send operation and turns every outcome into a
// core.DispatchResult. Send never panics and never returns a Go error:
// transport faults, remote errors and unexpected reply shapes all become a
// status plus observation text.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/hupe1980/agentrouter/core"
	"github.com/hupe1980/agentrouter/logging"
)

// DefaultTimeout is the hard ceiling for one downstream call.
const DefaultTimeout = 300 * time.Second

// MethodSendMessage is the JSON-RPC method invoked on downstream agents.
const MethodSendMessage = "message/send"

// BreakerOptions configures the per-endpoint circuit breaker.
type BreakerOptions struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	// Zero disables the breaker.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before half-open.
	Timeout time.Duration
	// Interval clears failure counts while closed.
	Interval time.Duration
}

// Options configures a Client.
type Options struct {
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
	// NewHTTPClient builds the client used for a single call. A fresh client
	// is created per call.
	NewHTTPClient func(timeout time.Duration) *http.Client
	Breaker       BreakerOptions
	Logger        logging.Logger
}

// Client implements core.Dispatcher.
type Client struct {
	opts   Options
	logger logging.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[string]
}

// New creates a dispatcher client.
func New(optFns ...func(o *Options)) *Client {
	opts := Options{
		Timeout: DefaultTimeout,
		NewHTTPClient: func(timeout time.Duration) *http.Client {
			return &http.Client{Timeout: timeout}
		},
		Breaker: BreakerOptions{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			Interval:    60 * time.Second,
		},
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Client{
		opts:     opts,
		logger:   logging.OrNoOp(opts.Logger),
		breakers: make(map[string]*gobreaker.CircuitBreaker[string]),
	}
}

// NewMessage builds the outbound A2A message for text on behalf of conv.
func NewMessage(text string, conv core.ConversationContext) *a2a.Message {
	role := a2a.MessageRoleUser
	if conv.Role == string(a2a.MessageRoleAgent) {
		role = a2a.MessageRoleAgent
	}

	msg := a2a.NewMessage(role, a2a.TextPart{Text: text})
	msg.ID = uuid.NewString()
	msg.ContextID = conv.ConversationID
	if conv.UserID != "" {
		msg.Metadata = map[string]any{"user_id": conv.UserID}
	}

	return msg
}

// errMalformed marks replies that arrived but could not be interpreted.
var errMalformed = errors.New("unexpected reply shape")

// Send forwards text to agent and classifies the outcome.
func (c *Client) Send(ctx context.Context, agent core.AgentDescriptor, text string, token core.Token, conv core.ConversationContext) core.DispatchResult {
	start := time.Now()

	res := c.send(ctx, agent, text, token, conv)

	if rl, ok := c.logger.(*logging.RouterLogger); ok {
		rl.LogDispatch(agent.Name, time.Since(start), res.Status.String(), res.Err)
	} else {
		c.logger.Debug("dispatch finished", "agent", agent.Name, "status", res.Status.String())
	}

	return res
}

func (c *Client) send(ctx context.Context, agent core.AgentDescriptor, text string, token core.Token, conv core.ConversationContext) (res core.DispatchResult) {
	defer func() {
		if r := recover(); r != nil {
			res = core.RemoteError(agent.Name, fmt.Errorf("panic during dispatch: %v", r))
		}
	}()

	if strings.TrimSpace(agent.Endpoint) == "" {
		return core.RemoteError(agent.Name, errors.New("agent has no endpoint"))
	}

	call := func() (string, error) {
		return c.call(ctx, agent, text, token, conv)
	}

	var (
		reply string
		err   error
	)
	if cb := c.breaker(agent.Endpoint); cb != nil {
		reply, err = cb.Execute(call)
	} else {
		reply, err = call()
	}

	switch {
	case err == nil:
		return core.OK(reply)
	case errors.Is(err, errMalformed):
		return core.Malformed(agent.Name, err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return core.RemoteError(agent.Name, fmt.Errorf("circuit open for %s: %w", agent.Endpoint, err))
	default:
		return core.RemoteError(agent.Name, err)
	}
}

func (c *Client) call(ctx context.Context, agent core.AgentDescriptor, text string, token core.Token, conv core.ConversationContext) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	httpClient := c.opts.NewHTTPClient(c.opts.Timeout)
	defer httpClient.CloseIdleConnections()
	if token.Value != "" {
		httpClient.Transport = &bearerTransport{token: token.Value, base: httpClient.Transport}
	}

	client, err := a2aclient.NewFromEndpoints(ctx, []a2a.AgentInterface{{
		URL:       agent.Endpoint,
		Transport: a2a.TransportProtocolJSONRPC,
	}}, a2aclient.WithJSONRPCTransport(httpClient))
	if err != nil {
		return "", fmt.Errorf("build client: %w", err)
	}
	defer func() { _ = client.Destroy() }()

	result, err := client.SendMessage(ctx, &a2a.MessageSendParams{Message: NewMessage(text, conv)})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	return ReplyText(result)
}

// ReplyText extracts the first text part of the reply. A task reply is read
// from its status message; a direct message reply from its own parts. Any
// other shape wraps errMalformed.
func ReplyText(result a2a.SendMessageResult) (string, error) {
	var msg *a2a.Message
	switch r := result.(type) {
	case *a2a.Task:
		if r != nil {
			msg = r.Status.Message
		}
	case *a2a.Message:
		msg = r
	}
	if msg == nil {
		return "", fmt.Errorf("%w: reply carries no status message", errMalformed)
	}
	if len(msg.Parts) == 0 {
		return "", fmt.Errorf("%w: reply message has no parts", errMalformed)
	}

	switch p := msg.Parts[0].(type) {
	case a2a.TextPart:
		return p.Text, nil
	case *a2a.TextPart:
		if p != nil {
			return p.Text, nil
		}
	}

	return "", fmt.Errorf("%w: first part is not text", errMalformed)
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return base.RoundTrip(req)
}

func (t *bearerTransport) CloseIdleConnections() {
	if c, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

func (c *Client) breaker(endpoint string) *gobreaker.CircuitBreaker[string] {
	if c.opts.Breaker.MaxFailures == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[endpoint]; ok {
		return cb
	}

	maxFailures := c.opts.Breaker.MaxFailures
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "dispatch:" + endpoint,
		MaxRequests: 1,
		Interval:    c.opts.Breaker.Interval,
		Timeout:     c.opts.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// A malformed reply still proves the endpoint is reachable.
			return err == nil || errors.Is(err, errMalformed)
		},
	})
	c.breakers[endpoint] = cb

	return cb
}

var _ core.Dispatcher = (*Client)(nil)
