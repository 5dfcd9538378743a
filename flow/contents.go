package flow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/agentflow/core"
)

// ReconcileEvents rebuilds the history an agent sees from the raw session
// log. Events outside the branch lineage, content-less events and
// credential requests are dropped; replies of other agents are rewritten as
// user context; and function responses are moved next to the call they
// answer so every call is immediately followed by exactly one (possibly
// merged) response.
//
// The returned events share no content with the input.
func ReconcileEvents(branch string, events []*core.Event, agentName string) ([]*core.Event, error) {
	filtered := make([]*core.Event, 0, len(events))

	for _, ev := range events {
		if ev.Content == nil || ev.Content.Role == "" {
			continue
		}

		if !IsVisibleInBranch(branch, ev) || isAuthEvent(ev) {
			continue
		}

		if isOtherAgentReply(agentName, ev) {
			filtered = append(filtered, convertForeignEvent(ev))
			continue
		}

		filtered = append(filtered, ev)
	}

	latest, err := rearrangeLatestFunctionResponse(filtered)
	if err != nil {
		return nil, err
	}

	result, err := rearrangeAsyncFunctionResponses(latest)
	if err != nil {
		return nil, err
	}

	out := make([]*core.Event, len(result))
	for i, ev := range result {
		out[i] = ev.Clone()
		RemoveClientFunctionCallIDs(out[i].Content)
	}

	return out, nil
}

// BuildContents returns the model contents of the reconciled history.
func BuildContents(branch string, events []*core.Event, agentName string) ([]*core.Content, error) {
	reconciled, err := ReconcileEvents(branch, events, agentName)
	if err != nil {
		return nil, err
	}

	contents := make([]*core.Content, len(reconciled))
	for i, ev := range reconciled {
		contents[i] = ev.Content
	}

	return contents, nil
}

// BuildCurrentTurnContents is BuildContents restricted to the current turn,
// which starts at the latest user or other agent event.
func BuildCurrentTurnContents(branch string, events []*core.Event, agentName string) ([]*core.Content, error) {
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Author == core.RoleUser || isOtherAgentReply(agentName, ev) {
			return BuildContents(branch, events[i:], agentName)
		}
	}

	return nil, nil
}

// IsVisibleInBranch reports whether ev is part of the lineage of branch: an
// event is visible on its own branch and on every descendant branch, and
// events or readers without a branch see and are seen by everything.
func IsVisibleInBranch(branch string, ev *core.Event) bool {
	if branch == "" || ev.Branch == "" || branch == ev.Branch {
		return true
	}

	return strings.HasPrefix(branch, ev.Branch+".")
}

func isOtherAgentReply(agentName string, ev *core.Event) bool {
	return agentName != "" && ev.Author != agentName && ev.Author != core.RoleUser
}

func isAuthEvent(ev *core.Event) bool {
	for _, p := range ev.Content.Parts {
		switch v := p.(type) {
		case core.FunctionCallPart:
			if v.FunctionCall.Name == RequestCredentialFunctionName {
				return true
			}
		case core.FunctionResponsePart:
			if v.FunctionResponse.Name == RequestCredentialFunctionName {
				return true
			}
		}
	}

	return false
}

// convertForeignEvent presents another agent's reply as user context.
func convertForeignEvent(ev *core.Event) *core.Event {
	if len(ev.Content.Parts) == 0 {
		return ev
	}

	parts := []core.Part{core.TextPart{Text: "For context:"}}

	for _, p := range ev.Content.Parts {
		switch v := p.(type) {
		case core.TextPart:
			if v.Thought {
				continue
			}

			parts = append(parts, core.TextPart{Text: fmt.Sprintf("[%s] said: %s", ev.Author, v.Text)})
		case core.FunctionCallPart:
			parts = append(parts, core.TextPart{Text: fmt.Sprintf(
				"[%s] called tool `%s` with parameters: %s", ev.Author, v.FunctionCall.Name, compactJSON(v.FunctionCall.Args))})
		case core.FunctionResponsePart:
			parts = append(parts, core.TextPart{Text: fmt.Sprintf(
				"[%s] `%s` tool returned result: %s", ev.Author, v.FunctionResponse.Name, compactJSON(v.FunctionResponse.Response))})
		default:
			parts = append(parts, core.ClonePart(p))
		}
	}

	out := core.NewEvent(ev.InvocationID, core.RoleUser)
	out.Timestamp = ev.Timestamp
	out.Branch = ev.Branch
	out.Content = &core.Content{Role: core.RoleUser, Parts: parts}

	return out
}

func compactJSON(v map[string]any) string {
	if v == nil {
		return "{}"
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}

	return string(b)
}

// rearrangeLatestFunctionResponse collapses everything between the latest
// function response and the call it answers into one response placed right
// after the call. Other calls and their responses from that gap follow the
// merged response; plain text of the gap is dropped.
func rearrangeLatestFunctionResponse(events []*core.Event) ([]*core.Event, error) {
	if len(events) == 0 {
		return events, nil
	}

	last := events[len(events)-1]

	responses := last.GetFunctionResponses()
	if len(responses) == 0 {
		return events, nil
	}

	ids := make(map[string]bool, len(responses))
	for _, r := range responses {
		ids[r.ID] = true
	}

	if len(events) >= 2 {
		for _, c := range events[len(events)-2].GetFunctionCalls() {
			if ids[c.ID] {
				return events, nil
			}
		}
	}

	callIdx := -1

	for i := len(events) - 2; i >= 0 && callIdx < 0; i-- {
		calls := events[i].GetFunctionCalls()
		for _, c := range calls {
			if ids[c.ID] {
				callIdx = i
				break
			}
		}

		if callIdx >= 0 {
			// The latest response may answer only some of the calls.
			for _, c := range calls {
				ids[c.ID] = true
			}
		}
	}

	if callIdx < 0 {
		return nil, fmt.Errorf("%w: ids %v", core.ErrOrphanFunctionResponse, sortedKeys(ids))
	}

	var responseEvents, otherCalls []*core.Event

	for _, ev := range events[callIdx+1 : len(events)-1] {
		rs := ev.GetFunctionResponses()

		switch {
		case len(rs) > 0 && ids[rs[0].ID]:
			responseEvents = append(responseEvents, ev)
		case len(rs) > 0 || len(ev.GetFunctionCalls()) > 0:
			// Calls issued while this one was outstanding keep their place
			// after it and are paired by the async pass.
			otherCalls = append(otherCalls, ev)
		}
	}

	responseEvents = append(responseEvents, last)

	result := append([]*core.Event(nil), events[:callIdx+1]...)
	result = append(result, mergeFunctionResponseEvents(responseEvents))

	return append(result, otherCalls...), nil
}

// rearrangeAsyncFunctionResponses places the latest response event of each
// call right after the call event, merging when the calls of one event were
// answered by several events.
func rearrangeAsyncFunctionResponses(events []*core.Event) ([]*core.Event, error) {
	responseIdx := map[string]int{}

	for i, ev := range events {
		for _, r := range ev.GetFunctionResponses() {
			responseIdx[r.ID] = i
		}
	}

	calls := map[string]bool{}
	result := make([]*core.Event, 0, len(events))

	for _, ev := range events {
		if rs := ev.GetFunctionResponses(); len(rs) > 0 {
			for _, r := range rs {
				if !calls[r.ID] {
					return nil, fmt.Errorf("%w: id %q (%s)", core.ErrOrphanFunctionResponse, r.ID, r.Name)
				}
			}

			continue
		}

		fcs := ev.GetFunctionCalls()
		result = append(result, ev)

		if len(fcs) == 0 {
			continue
		}

		seen := map[int]bool{}

		var indices []int

		for _, c := range fcs {
			calls[c.ID] = true

			if idx, ok := responseIdx[c.ID]; ok && !seen[idx] {
				seen[idx] = true
				indices = append(indices, idx)
			}
		}

		switch len(indices) {
		case 0:
		case 1:
			result = append(result, events[indices[0]])
		default:
			sort.Ints(indices)

			group := make([]*core.Event, len(indices))
			for i, idx := range indices {
				group[i] = events[idx]
			}

			result = append(result, mergeFunctionResponseEvents(group))
		}
	}

	return result, nil
}

// mergeFunctionResponseEvents folds later response events into a copy of
// the first one: responses replace the part answering the same call, other
// parts are appended.
func mergeFunctionResponseEvents(events []*core.Event) *core.Event {
	merged := events[0].Clone()
	index := map[string]int{}

	for i, p := range merged.Content.Parts {
		if fr, ok := p.(core.FunctionResponsePart); ok {
			index[fr.FunctionResponse.ID] = i
		}
	}

	for _, ev := range events[1:] {
		for _, p := range ev.Content.Parts {
			p = core.ClonePart(p)

			fr, ok := p.(core.FunctionResponsePart)
			if !ok {
				merged.Content.Parts = append(merged.Content.Parts, p)
				continue
			}

			if i, exists := index[fr.FunctionResponse.ID]; exists {
				merged.Content.Parts[i] = p
				continue
			}

			merged.Content.Parts = append(merged.Content.Parts, p)
			index[fr.FunctionResponse.ID] = len(merged.Content.Parts) - 1
		}
	}

	return merged
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}
