// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package journal parses the agent's append-only JSONL conversation
// files. The core never writes these files; it only reads them.
package journal

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
)

// Variant is the tag of a conversation entry.
type Variant string

const (
	VariantUser            Variant = "user"
	VariantAssistant       Variant = "assistant"
	VariantSummary         Variant = "summary"
	VariantSystem          Variant = "system"
	VariantFileHistorySnap Variant = "file-history-snapshot"
	VariantQueueOperation  Variant = "queue-operation"
	VariantXError          Variant = "x-error" // synthetic, never on disk
)

// Usage is token accounting carried on assistant messages.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// Message is the assistant payload embedded in an assistant entry.
// Content blocks are carried through opaquely (spec.md §3: "the exact
// content schema is opaque to the core").
type Message struct {
	Model   string            `json:"model,omitempty"`
	Content []json.RawMessage `json:"content,omitempty"`
	Usage   *Usage            `json:"usage,omitempty"`
}

// Entry is one parsed line of a journal file. Raw holds the full
// original object so unknown/extra fields round-trip untouched; the
// named fields below are the ones the core actually interprets, per
// spec.md §3 ("only the tag, uuid, parent uuid, isSidechain, and
// sessionId are interpreted").
type Entry struct {
	Type        Variant         `json:"type"`
	UUID        string          `json:"uuid"`
	ParentUUID  *string         `json:"parentUuid"`
	SessionID   string          `json:"sessionId"`
	Timestamp   string          `json:"timestamp"`
	IsSidechain bool            `json:"isSidechain"`
	LeafUUID    string          `json:"leafUuid,omitempty"` // summary variant only
	Message     *Message        `json:"message,omitempty"`
	IsAPIError  bool            `json:"isApiErrorMessage,omitempty"`
	Raw         json.RawMessage `json:"-"`

	// LineNumber and ParseError are set only for synthetic x-error entries.
	LineNumber int    `json:"lineNumber,omitempty"`
	ParseError string `json:"parseError,omitempty"`
}

// MarshalJSON re-emits Raw verbatim when present (round-tripping unknown
// fields), falling back to the struct fields for synthetic entries.
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Raw != nil {
		return e.Raw, nil
	}
	type alias Entry
	return json.Marshal(alias(e))
}

// ParseFile reads path line by line, splitting on '\n'. Blank lines are
// skipped. A line that fails JSON parsing does not abort the read: it is
// replaced with a synthetic x-error entry carrying the offending line
// and its 1-based line number (spec.md §4.4, §7). The last line is
// treated as absent (not yet flushed by the writer) if it does not end
// in a newline, matching the "incomplete last line" shared-resource
// policy in spec.md §5.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads journal lines from r. See ParseFile for semantics.
func Parse(r io.Reader) ([]Entry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	endsInNewline := len(data) > 0 && data[len(data)-1] == '\n'
	lines := bytes.Split(data, []byte("\n"))
	if len(lines) > 0 && !endsInNewline {
		// Drop the final, possibly-partial line: the writer may still
		// be mid-append.
		lines = lines[:len(lines)-1]
	}

	entries := make([]Entry, 0, len(lines))
	lineNo := 0
	for _, raw := range lines {
		lineNo++
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(trimmed, &e); err != nil {
			entries = append(entries, Entry{
				Type:       VariantXError,
				LineNumber: lineNo,
				ParseError: err.Error(),
				Raw:        json.RawMessage(trimmed),
			})
			continue
		}
		e.Raw = json.RawMessage(trimmed)
		entries = append(entries, e)
	}
	return entries, nil
}
