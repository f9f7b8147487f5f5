package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"

	"github.com/hupe1980/agentrouter/core"
)

// AgentCardPath is the well-known location of an A2A agent card.
const AgentCardPath = "/.well-known/agent.json"

type staticSource struct {
	descs []core.AgentDescriptor
}

// Static returns a source that always yields descs.
func Static(descs ...core.AgentDescriptor) Source {
	return &staticSource{descs: append([]core.AgentDescriptor(nil), descs...)}
}

func (s *staticSource) Name() string { return "static" }

func (s *staticSource) Fetch(context.Context) ([]core.AgentDescriptor, error) {
	out := make([]core.AgentDescriptor, len(s.descs))
	copy(out, s.descs)
	return out, nil
}

// CardDescriptor converts an agent card into a descriptor. Skill tags are
// merged in order without duplicates; an empty card URL falls back to
// baseURL.
func CardDescriptor(card *a2a.AgentCard, baseURL string) core.AgentDescriptor {
	endpoint := card.URL
	if endpoint == "" {
		endpoint = baseURL
	}

	var tags []string
	seen := make(map[string]struct{})
	for _, s := range card.Skills {
		for _, t := range s.Tags {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
	}

	return core.AgentDescriptor{
		Name:        card.Name,
		Description: card.Description,
		Tags:        tags,
		Endpoint:    endpoint,
	}
}

// CardSourceOptions configures a CardSource.
type CardSourceOptions struct {
	HTTPClient *http.Client
	// Header is added to every card request.
	Header http.Header
	// Path is the card location relative to the base URL.
	Path string
}

// CardSource fetches an agent card from a base URL.
type CardSource struct {
	baseURL  string
	opts     CardSourceOptions
	resolver *agentcard.Resolver
}

// NewCardSource creates a source for the agent served at baseURL.
func NewCardSource(baseURL string, optFns ...func(o *CardSourceOptions)) *CardSource {
	opts := CardSourceOptions{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Path:       AgentCardPath,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &CardSource{
		baseURL:  strings.TrimRight(baseURL, "/"),
		opts:     opts,
		resolver: agentcard.NewResolver(opts.HTTPClient),
	}
}

// Name returns the base URL.
func (s *CardSource) Name() string { return s.baseURL }

// Fetch resolves the agent card.
func (s *CardSource) Fetch(ctx context.Context) ([]core.AgentDescriptor, error) {
	resolveOpts := []agentcard.ResolveOption{agentcard.WithPath(s.opts.Path)}
	for k, vs := range s.opts.Header {
		for _, v := range vs {
			resolveOpts = append(resolveOpts, agentcard.WithRequestHeader(k, v))
		}
	}

	card, err := s.resolver.Resolve(ctx, s.baseURL, resolveOpts...)
	if err != nil {
		return nil, fmt.Errorf("fetch agent card: %w", err)
	}
	if card == nil || strings.TrimSpace(card.Name) == "" {
		return nil, errors.New("agent card has no name")
	}

	return []core.AgentDescriptor{CardDescriptor(card, s.baseURL)}, nil
}

// LoadRegistryFile reads a JSON array of agent base URLs and returns one
// CardSource per URL. A missing file yields no sources.
func LoadRegistryFile(path string, optFns ...func(o *CardSourceOptions)) ([]Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read registry file: %w", err)
	}

	var urls []string
	if err := json.Unmarshal(raw, &urls); err != nil {
		return nil, fmt.Errorf("decode registry file: %w", err)
	}

	return CardSources(urls, optFns...), nil
}

// CardSources builds one CardSource per non-empty base URL.
func CardSources(urls []string, optFns ...func(o *CardSourceOptions)) []Source {
	sources := make([]Source, 0, len(urls))
	for _, u := range urls {
		if strings.TrimSpace(u) == "" {
			continue
		}
		sources = append(sources, NewCardSource(strings.TrimSpace(u), optFns...))
	}
	return sources
}
