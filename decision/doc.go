// Package decision defines the provider-agnostic contract of the routing
// decision-maker and the helpers shared by its implementations.
//
// A decision-maker is asked once per routing iteration to either invoke one of
// the offered actions or produce the final answer for the turn. Providers
// (OpenAI, Anthropic) implement Maker in sub-packages so the engine stays
// decoupled from vendor SDKs; Scripted replays canned decisions for tests and
// examples.
package decision
