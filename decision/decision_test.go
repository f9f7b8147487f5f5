package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrouter/action"
	"github.com/hupe1980/agentrouter/core"
	"github.com/hupe1980/agentrouter/internal/testutil"
)

func TestScripted(t *testing.T) {
	s := NewScripted().ThenRedirect("FireAgent", "House on fire").Then(EchoLastObservation())

	resp, err := s.Decide(context.Background(), Request{})
	require.NoError(t, err)
	require.False(t, resp.IsFinal())
	assert.Equal(t, action.RedirectName, resp.Call.Name)
	assert.Equal(t, "call_1", resp.Call.ID)

	d, err := action.ParseRedirect(resp.Call.Arguments)
	require.NoError(t, err)
	assert.Equal(t, "FireAgent", d.TargetAgent)
	assert.Equal(t, "House on fire", d.ForwardMessage)

	resp, err = s.Decide(context.Background(), Request{Steps: []Step{{Call: *resp.Call, Observation: "Dispatched"}}})
	require.NoError(t, err)
	assert.True(t, resp.IsFinal())
	assert.Equal(t, "Dispatched", resp.Text)

	_, err = s.Decide(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrScriptExhausted)
	assert.Len(t, s.Requests(), 3)
	assert.Equal(t, "local", s.Info().Provider)
}

func TestScripted_Fail(t *testing.T) {
	boom := errors.New("model unavailable")
	_, err := NewScripted(Fail(boom)).Decide(context.Background(), Request{})
	assert.ErrorIs(t, err, boom)
}

func TestScripted_ArgumentsAreEscaped(t *testing.T) {
	resp, err := NewScripted(Redirect("A", `say "hi"`)).Decide(context.Background(), Request{})
	require.NoError(t, err)
	d, err := action.ParseRedirect(resp.Call.Arguments)
	require.NoError(t, err)
	assert.Equal(t, `say "hi"`, d.ForwardMessage)
}

func TestInstruction(t *testing.T) {
	out, err := Instruction("", []core.AgentSummary{
		{Name: "FireAgent", Description: "fires", Tags: []string{"fire"}},
		{Name: "PoliceAgent", Description: "crime"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Names: FireAgent, PoliceAgent")
	assert.Contains(t, out, `"description": "fires"`)
	assert.Contains(t, out, "redirect(agent_name, message)")

	out, err = Instruction("Agents: {{ len .Agents }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "Agents: 0", out)

	_, err = Instruction("{{ .Broken", nil)
	assert.Error(t, err)
}

func TestTranscript(t *testing.T) {
	req := Request{
		History: []core.HistoryEntry{
			{Actor: core.ActorUser, Payload: core.TextPayload("earlier")},
			{Actor: "orchestrator", Payload: core.DataPayload(map[string]any{"agent": "FireAgent"})},
			{Actor: "orchestrator", Payload: core.Payload{}},
			{Actor: core.ActorUser, Payload: core.TextPayload("now")},
		},
		Steps: []Step{{Call: action.Call{ID: "c1", Name: "redirect"}, Observation: "done"}},
	}

	msgs := Transcript(req)
	require.Len(t, msgs, 5)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, `{"agent":"FireAgent"}`, msgs[1].Text)
	assert.Equal(t, "now", msgs[2].Text)
	assert.Equal(t, "c1", msgs[3].Call.ID)
	assert.Equal(t, RoleTool, msgs[4].Role)
	assert.Equal(t, "c1", msgs[4].CallID)
	assert.Equal(t, "done", msgs[4].Result)
}

func TestTranscript_StructuredAndEmptyEntries(t *testing.T) {
	hist := testutil.NewHistoryBuilder("c1").
		User("status of sector 7?").
		Agent("orchestrator", "").
		Data("FireAgent", map[string]any{"next_agent": "PoliceAgent"}).
		Build()

	msgs := Transcript(Request{History: hist})
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Contains(t, msgs[1].Text, "PoliceAgent")
}
