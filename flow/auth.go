package flow

import (
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/tool"
)

// AuthProcessor resumes function calls that were paused for end-user
// credentials. When the latest user event answers request_credential
// calls, the supplied auth configs are stored on the invocation and the
// original calls are executed again, limited to the now authorized ids.
type AuthProcessor struct{}

// NewAuthProcessor creates the auth request processor.
func NewAuthProcessor() *AuthProcessor { return &AuthProcessor{} }

// Name implements RequestProcessor.
func (p *AuthProcessor) Name() string { return "auth" }

// ProcessRequest implements RequestProcessor.
func (p *AuthProcessor) ProcessRequest(ictx *core.InvocationContext, _ *Request, agent FlowAgent) ([]*core.Event, error) {
	if ictx.Session == nil {
		return nil, nil
	}

	events := ictx.Session.Events()

	authResponses, answerIdx := latestUserAuthResponses(events)
	if len(authResponses) == 0 {
		return nil, nil
	}

	// Find the request_credential calls being answered and the ids of the
	// original calls they paused.
	resume := map[string]bool{}
	credentials := map[string]map[string]any{}

	for i := answerIdx - 1; i >= 0 && len(resume) == 0; i-- {
		for _, c := range events[i].GetFunctionCalls() {
			resp, ok := authResponses[c.ID]
			if !ok || c.Name != RequestCredentialFunctionName {
				continue
			}

			originalID, _ := c.Args["function_call_id"].(string)
			if originalID == "" {
				continue
			}

			credentials[originalID] = resp
			resume[originalID] = true
		}
	}

	// Calls already answered after the credentials arrived were resumed by
	// an earlier step.
	for _, ev := range events[answerIdx+1:] {
		for _, r := range ev.GetFunctionResponses() {
			delete(resume, r.ID)
		}
	}

	if len(resume) == 0 {
		return nil, nil
	}

	for id := range resume {
		ictx.SetAuthResponse(id, credentials[id])
	}

	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if !hasAnyCall(ev, resume) {
			continue
		}

		tools, err := toolSet(ictx, agent)
		if err != nil {
			return nil, err
		}

		ictx.LogInfo("flow.auth.resume", "function_call_ids", len(resume))

		respEv, err := HandleFunctionCalls(ictx, ev, tools, resume)
		if err != nil || respEv == nil {
			return nil, err
		}

		return []*core.Event{respEv}, nil
	}

	return nil, nil
}

// latestUserAuthResponses returns the request_credential responses of the
// latest user event keyed by call id, together with that event's index.
func latestUserAuthResponses(events []*core.Event) (map[string]map[string]any, int) {
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Author != core.RoleUser {
			continue
		}

		out := map[string]map[string]any{}

		for _, r := range ev.GetFunctionResponses() {
			if r.Name == RequestCredentialFunctionName {
				out[r.ID] = r.Response
			}
		}

		return out, i
	}

	return nil, -1
}

func hasAnyCall(ev *core.Event, ids map[string]bool) bool {
	for _, c := range ev.GetFunctionCalls() {
		if ids[c.ID] {
			return true
		}
	}

	return false
}

// toolSet resolves the tools of agent by name.
func toolSet(ictx *core.InvocationContext, agent FlowAgent) (map[string]tool.Tool, error) {
	tools, err := agent.Tools(core.NewCallbackContext(ictx, nil))
	if err != nil {
		return nil, err
	}

	out := make(map[string]tool.Tool, len(tools))
	for _, t := range tools {
		out[t.Name()] = t
	}

	return out, nil
}
