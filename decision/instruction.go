package decision

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentrouter/core"
	"github.com/hupe1980/agentrouter/internal/util"
)

// DefaultInstruction is the routing instruction template. It is rendered
// with text/template; .Names, .Agents and .AgentsJSON are available.
const DefaultInstruction = `You are an agent router.

AVAILABLE AGENTS:
- Names: {{ join ", " .Names }}
- Capabilities: {{ .AgentsJSON }}

ROUTING LOGIC:
1. If the last agent reply names a next_agent, select that agent.
2. Otherwise select the most suitable agent from the names above using the conversation and the capabilities.
3. The selected agent must be one of the names above.
4. Always call redirect(agent_name, message) with the latest user message.

RESPONSE FORMAT:
- Return exactly the text produced by the redirect call.
`

// Instruction renders tmpl (DefaultInstruction when empty) with the agent
// summaries.
func Instruction(tmpl string, agents []core.AgentSummary) (string, error) {
	if tmpl == "" {
		tmpl = DefaultInstruction
	}

	if agents == nil {
		agents = []core.AgentSummary{}
	}
	agentsJSON, err := json.MarshalIndent(agents, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode agent summaries: %w", err)
	}

	out, err := util.RenderTemplate(tmpl, map[string]any{
		"Names":      core.AgentNames(agents),
		"Agents":     agents,
		"AgentsJSON": string(agentsJSON),
	})
	if err != nil {
		return "", fmt.Errorf("render instruction: %w", err)
	}

	return out, nil
}
