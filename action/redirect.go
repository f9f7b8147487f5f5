package action

import (
	"encoding/json"
	"strings"

	"github.com/hupe1980/agentrouter/core"
	"github.com/hupe1980/agentrouter/internal/util"
)

const redirectDescription = "Forward a message to the downstream agent best suited to handle it. " +
	"The agent's reply is returned as the result of this action."

// RedirectDefinition builds the redirect action definition. When agentNames is
// non-empty the agent_name argument is constrained to those names.
func RedirectDefinition(agentNames []string) Definition {
	agentProp := map[string]any{
		"type":        "string",
		"description": "Name of the agent to forward the message to",
	}
	if len(agentNames) > 0 {
		agentProp["enum"] = append([]string(nil), agentNames...)
	}

	return Definition{
		Kind:        KindRedirect,
		Name:        RedirectName,
		Description: redirectDescription,
		Parameters: util.ObjectSchema(map[string]any{
			"agent_name": agentProp,
			"message": map[string]any{
				"type":        "string",
				"description": "Message to forward to the agent",
			},
		}, "agent_name", "message"),
	}
}

// ParseRedirect decodes redirect arguments into a routing decision. The agent
// name enum is not enforced here; unknown names are resolved by the directory.
func ParseRedirect(args string) (core.RoutingDecision, error) {
	var params map[string]any
	if strings.TrimSpace(args) == "" {
		params = map[string]any{}
	} else if err := json.Unmarshal([]byte(args), &params); err != nil {
		return core.RoutingDecision{}, &ActionError{
			Action:  RedirectName,
			Message: "arguments are not a JSON object",
			Code:    CodeInvalidArguments,
			Err:     err,
		}
	}

	if err := util.ValidateParameters(params, RedirectDefinition(nil).Parameters); err != nil {
		return core.RoutingDecision{}, &ActionError{
			Action:  RedirectName,
			Message: err.Error(),
			Code:    CodeInvalidArguments,
			Err:     err,
		}
	}

	name, _ := params["agent_name"].(string)
	message, _ := params["message"].(string)
	if strings.TrimSpace(name) == "" {
		return core.RoutingDecision{}, NewActionError(RedirectName, "agent_name must be a non-empty string", CodeInvalidArguments)
	}

	return core.RoutingDecision{TargetAgent: strings.TrimSpace(name), ForwardMessage: message}, nil
}
