// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package journal

import "encoding/json"

// contextWindowTokens is the model context window the spec's percentage
// calculation is relative to (spec.md §4.4).
const contextWindowTokens = 200000

// SessionMeta is the derived metadata the Session Repository attaches to
// a session (spec.md §4.4). Actual USD pricing is cost/usage accounting
// proper, which is out of scope (spec.md §1); TokenUsage is the raw
// aggregate a pricing layer downstream of the core would consume.
type SessionMeta struct {
	MessageCount        int
	FirstUserMessage    string
	TokenUsage          Usage
	CurrentContextUsage *ContextUsage
	ModelName           string
}

// ContextUsage is the last-assistant-message token accounting.
type ContextUsage struct {
	Tokens     int
	Percentage float64
}

// DeriveMeta computes SessionMeta from a merged entry list plus any
// side-channel agent-*.jsonl entries belonging to the same session.
func DeriveMeta(entries []Entry, sideChannels ...[]Entry) SessionMeta {
	meta := SessionMeta{}

	var lastUsable *Entry
	for i := range entries {
		e := &entries[i]
		switch e.Type {
		case VariantUser:
			meta.MessageCount++
			if meta.FirstUserMessage == "" && !isToolResultOnly(e) {
				meta.FirstUserMessage = firstUserText(e)
			}
		case VariantAssistant:
			meta.MessageCount++
			if e.Message != nil && e.Message.Model != "" {
				meta.ModelName = e.Message.Model
			}
			if !e.IsSidechain && !e.IsAPIError {
				lastUsable = e
			}
		default:
			meta.MessageCount++
		}
		addUsage(&meta.TokenUsage, e)
	}
	for _, side := range sideChannels {
		for i := range side {
			addUsage(&meta.TokenUsage, &side[i])
		}
	}

	if lastUsable != nil && lastUsable.Message != nil && lastUsable.Message.Usage != nil {
		u := lastUsable.Message.Usage
		tokens := u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
		meta.CurrentContextUsage = &ContextUsage{
			Tokens:     tokens,
			Percentage: float64(tokens) / float64(contextWindowTokens) * 100,
		}
	}

	return meta
}

func addUsage(total *Usage, e *Entry) {
	if e.Message == nil || e.Message.Usage == nil {
		return
	}
	u := e.Message.Usage
	total.InputTokens += u.InputTokens
	total.OutputTokens += u.OutputTokens
	total.CacheCreationInputTokens += u.CacheCreationInputTokens
	total.CacheReadInputTokens += u.CacheReadInputTokens
}

func isToolResultOnly(e *Entry) bool {
	if e.Message == nil {
		return false
	}
	for _, block := range e.Message.Content {
		var tagged struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(block, &tagged); err == nil && tagged.Type != "tool_result" {
			return false
		}
	}
	return len(e.Message.Content) > 0
}

func firstUserText(e *Entry) string {
	if e.Message == nil {
		return ""
	}
	for _, block := range e.Message.Content {
		var tagged struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(block, &tagged); err == nil && tagged.Type == "text" {
			return tagged.Text
		}
	}
	return ""
}
