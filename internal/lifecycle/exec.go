// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/agentviewer/core/internal/journal"
	"go.uber.org/zap"
)

// ExecSpawner spawns the real agent binary and speaks its NDJSON
// stdin/stdout protocol, the same invocation shape the teacher's
// ensureProcess uses for the "claude" CLI, generalized to any
// configured executable.
type ExecSpawner struct {
	// Executable is the agent binary path, resolved by
	// internal/config.DiscoverExecutable's fallback search when no
	// explicit flag/env/config override is set (spec.md §6).
	Executable string
	Log        *zap.Logger

	// PidDir, if set, receives one "<ProcessID>.pid" file per live
	// subprocess, read back at the next startup by internal/reconcile.
	PidDir string
}

func (s *ExecSpawner) Spawn(ctx context.Context, cfg SpawnConfig) (Subprocess, error) {
	if s.Executable == "" {
		return nil, fmt.Errorf("no agent executable configured or discovered")
	}
	args := []string{
		"--output-format", "stream-json",
		"--verbose",
		"--input-format", "stream-json",
		"--permission-mode", cfg.PermissionMode,
		"--include-partial-messages",
	}
	if cfg.SupportsCanUse {
		args = append(args, "--permission-prompt-tool", "stdio")
	}
	if cfg.BaseSessionID != "" {
		args = append(args, "--resume", cfg.BaseSessionID)
	}

	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, s.Executable, args...)
	cmd.Dir = cfg.ProjectCwd
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start agent: %w", err)
	}

	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}

	pidFile := s.writePidFile(cfg.ProcessID, cmd.Process.Pid, log)

	proc := &execSubprocess{
		cmd:      cmd,
		stdin:    stdin,
		cancel:   cancel,
		log:      log.Named("subprocess"),
		messages: make(chan StreamMessage, 64),
		permReqs: make(chan *PermissionRequest, 8),
		pidFile:  pidFile,
	}
	go proc.readLoop(stdout)
	return proc, nil
}

// writePidFile records the subprocess's pid under PidDir so a later
// run of this program can reconcile against it (internal/reconcile).
// Returns the path written, or "" if PidDir is unset or the write
// failed (logged, not fatal: reconciliation is a best-effort hook).
func (s *ExecSpawner) writePidFile(processID string, pid int, log *zap.Logger) string {
	if s.PidDir == "" || processID == "" {
		return ""
	}
	path := filepath.Join(s.PidDir, processID+".pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644); err != nil {
		log.Warn("could not write pidfile", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}

type execSubprocess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc
	log    *zap.Logger

	stdinMu  sync.Mutex
	messages chan StreamMessage
	permReqs chan *PermissionRequest
	pidFile  string

	mu       sync.Mutex
	finalErr error
	aborted  bool
}

// wireMessage mirrors the agent's NDJSON wire shape for inbound user
// turns (spec.md §6: "a sequence of user messages {text, images?,
// documents?} over a duplex channel").
type wireMessage struct {
	Type    string          `json:"type"`
	Message wireMessageBody `json:"message"`
}

type wireMessageBody struct {
	Role    string            `json:"role"`
	Content []json.RawMessage `json:"content"`
}

func (p *execSubprocess) Send(ctx context.Context, input UserInput) error {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()

	var content []json.RawMessage
	textBlock, _ := json.Marshal(map[string]string{"type": "text", "text": input.Text})
	content = append(content, textBlock)
	for _, img := range input.Images {
		b, _ := json.Marshal(map[string]any{"type": "image", "mediaType": img.MediaType, "data": img.Data})
		content = append(content, b)
	}
	for _, doc := range input.Documents {
		b, _ := json.Marshal(map[string]any{"type": "document", "mediaType": doc.MediaType, "data": doc.Data})
		content = append(content, b)
	}

	msg := wireMessage{Type: "user", Message: wireMessageBody{Role: "user", Content: content}}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = p.stdin.Write(data)
	return err
}

func (p *execSubprocess) Messages() <-chan StreamMessage { return p.messages }

func (p *execSubprocess) PermissionRequests() <-chan *PermissionRequest { return p.permReqs }

func (p *execSubprocess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finalErr
}

func (p *execSubprocess) Abort() {
	p.mu.Lock()
	if p.aborted {
		p.mu.Unlock()
		return
	}
	p.aborted = true
	p.mu.Unlock()
	p.cancel()
}

func (p *execSubprocess) readLoop(stdout io.Reader) {
	defer close(p.messages)
	defer close(p.permReqs)
	defer func() {
		if p.pidFile != "" {
			os.Remove(p.pidFile)
		}
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var tagged struct {
			Type      string          `json:"type"`
			Subtype   string          `json:"subtype"`
			SessionID string          `json:"session_id"`
			Message   json.RawMessage `json:"message"`
			IsError   bool            `json:"is_error"`
		}
		if err := json.Unmarshal(line, &tagged); err != nil {
			p.log.Warn("failed to parse agent stream line", zap.Error(err))
			continue
		}

		sm := StreamMessage{
			Type:      tagged.Type,
			Subtype:   tagged.Subtype,
			SessionID: tagged.SessionID,
			IsError:   tagged.IsError,
		}
		if len(tagged.Message) > 0 {
			var m journal.Message
			if err := json.Unmarshal(tagged.Message, &m); err == nil {
				sm.Message = &m
			}
		}
		p.messages <- sm
	}

	if err := p.cmd.Wait(); err != nil {
		p.mu.Lock()
		p.finalErr = err
		p.mu.Unlock()
	}
}
