// Package core provides the foundational domain types, interfaces and error
// taxonomy shared by every agentrouter component. It defines:
//
//   - Conversations (ConversationContext, HistoryEntry, Payload)
//   - Downstream agents (AgentDescriptor, AgentSummary, RoutingDecision)
//   - Dispatch outcomes (DispatchStatus, DispatchResult)
//   - Credentials (Token)
//   - Collaborator contracts (Directory, ConversationStore, CredentialBroker, Dispatcher)
//   - Per-conversation Session state and the IterationLimiter safety cap
//
// Concrete implementations live in sibling packages (directory, history,
// credential, dispatch) so higher level packages (engine, lifecycle) only
// depend on the small interfaces declared here.
package core
