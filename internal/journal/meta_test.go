// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func textBlock(text string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"type": "text", "text": text})
	return b
}

func toolResultBlock() json.RawMessage {
	b, _ := json.Marshal(map[string]string{"type": "tool_result"})
	return b
}

func TestDeriveMetaFirstUserMessageSkipsToolResultOnly(t *testing.T) {
	entries := []Entry{
		{Type: VariantUser, Message: &Message{Content: []json.RawMessage{toolResultBlock()}}},
		{Type: VariantUser, Message: &Message{Content: []json.RawMessage{textBlock("hello")}}},
	}
	meta := DeriveMeta(entries)
	assert.Equal(t, "hello", meta.FirstUserMessage)
}

func TestDeriveMetaContextUsageFromLastNonSidechainAssistant(t *testing.T) {
	entries := []Entry{
		{Type: VariantAssistant, Message: &Message{Usage: &Usage{InputTokens: 100}}},
		{Type: VariantAssistant, IsSidechain: true, Message: &Message{Usage: &Usage{InputTokens: 99999}}},
		{Type: VariantAssistant, Message: &Message{Usage: &Usage{InputTokens: 500, CacheReadInputTokens: 500}}},
	}
	meta := DeriveMeta(entries)
	if assert.NotNil(t, meta.CurrentContextUsage) {
		assert.Equal(t, 1000, meta.CurrentContextUsage.Tokens)
		assert.InDelta(t, 0.5, meta.CurrentContextUsage.Percentage, 0.001)
	}
}

func TestDeriveMetaNoUsableAssistantMeansNilUsage(t *testing.T) {
	entries := []Entry{
		{Type: VariantAssistant, IsAPIError: true, Message: &Message{Usage: &Usage{InputTokens: 1}}},
	}
	meta := DeriveMeta(entries)
	assert.Nil(t, meta.CurrentContextUsage)
}
