package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/adjutant/schema"
)

func newAgentMockCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "agent-mock [--scenario <name>] [--delay-ms <n>] [-]",
		Short:         "Mock the agent CLI's JSONL event stream for testing",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentMock(args, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

type mockConfig struct {
	scenario string
	delay    time.Duration
}

// mockRequest mirrors the request document the session controller
// writes to the agent's stdin.
type mockRequest struct {
	Prompt  string                `json:"prompt"`
	History []schema.AgentMessage `json:"history"`
}

func runAgentMock(args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) error {
	cfg, err := parseMockArgs(args)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return err
	}

	request, err := readMockRequest(stdin)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return err
	}

	writer := bufio.NewWriter(stdout)
	defer func() { _ = writer.Flush() }()

	switch cfg.scenario {
	case "", "echo":
		return runEchoScenario(cfg, request, writer)
	case "tooluse":
		return runToolScenario(cfg, request, writer)
	case "failure":
		return runFailureScenario(request, writer, stderr)
	case "silent":
		// Ends the turn without producing any assistant text.
		return writeMockEvent(writer, schema.AgentEvent{Type: schema.EventTurnEnd})
	default:
		err := fmt.Errorf("unknown scenario: %s", cfg.scenario)
		_, _ = fmt.Fprintln(stderr, err.Error())
		return err
	}
}

func runEchoScenario(cfg mockConfig, request mockRequest, w *bufio.Writer) error {
	reply := mockReply(request)
	for _, chunk := range chunkText(reply, 12) {
		if err := writeMockEvent(w, schema.AgentEvent{Type: schema.EventTextDelta, Delta: chunk}); err != nil {
			return err
		}
		_ = w.Flush()
		time.Sleep(cfg.delay)
	}
	if err := writeMockEvent(w, schema.AgentEvent{
		Type:    schema.EventMessageEnd,
		Message: &schema.AgentMessage{Role: schema.RoleAssistant, Segments: []string{reply}},
	}); err != nil {
		return err
	}
	return writeMockEvent(w, schema.AgentEvent{Type: schema.EventTurnEnd})
}

func runToolScenario(cfg mockConfig, request mockRequest, w *bufio.Writer) error {
	if err := writeMockEvent(w, schema.AgentEvent{Type: schema.EventTextDelta, Delta: "Let me check. "}); err != nil {
		return err
	}
	if err := writeMockEvent(w, schema.AgentEvent{Type: schema.EventToolStart, Tool: "shell"}); err != nil {
		return err
	}
	_ = w.Flush()
	time.Sleep(cfg.delay)
	reply := "Let me check. " + mockReply(request)
	if err := writeMockEvent(w, schema.AgentEvent{
		Type:    schema.EventMessageEnd,
		Message: &schema.AgentMessage{Role: schema.RoleAssistant, Segments: []string{reply}},
	}); err != nil {
		return err
	}
	return writeMockEvent(w, schema.AgentEvent{Type: schema.EventTurnEnd})
}

func runFailureScenario(request mockRequest, w *bufio.Writer, stderr io.Writer) error {
	if err := writeMockEvent(w, schema.AgentEvent{Type: schema.EventTextDelta, Delta: "Starting on that"}); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stderr, "mock agent failure requested")
	return writeMockEvent(w, schema.AgentEvent{Type: schema.EventTurnEnd, ErrText: "mock failure"})
}

func parseMockArgs(args []string) (mockConfig, error) {
	cfg := mockConfig{delay: 30 * time.Millisecond}
	for len(args) > 0 {
		switch args[0] {
		case "-":
			args = args[1:]
		case "--scenario":
			if len(args) < 2 {
				return mockConfig{}, errors.New("--scenario requires a value")
			}
			cfg.scenario = args[1]
			args = args[2:]
		case "--delay-ms":
			if len(args) < 2 {
				return mockConfig{}, errors.New("--delay-ms requires a value")
			}
			val, err := strconv.Atoi(args[1])
			if err != nil || val < 0 {
				return mockConfig{}, errors.New("invalid --delay-ms")
			}
			cfg.delay = time.Duration(val) * time.Millisecond
			args = args[2:]
		default:
			return mockConfig{}, fmt.Errorf("unsupported argument: %s", args[0])
		}
	}
	return cfg, nil
}

func readMockRequest(stdin io.Reader) (mockRequest, error) {
	data, err := io.ReadAll(stdin)
	if err != nil {
		return mockRequest{}, fmt.Errorf("failed to read request from stdin: %w", err)
	}
	var request mockRequest
	if err := json.Unmarshal(data, &request); err != nil {
		// Plain text prompts are accepted for manual poking.
		prompt := strings.TrimSpace(string(data))
		if prompt == "" {
			return mockRequest{}, errors.New("no prompt provided via stdin")
		}
		return mockRequest{Prompt: prompt}, nil
	}
	if strings.TrimSpace(request.Prompt) == "" {
		return mockRequest{}, errors.New("request has no prompt")
	}
	return request, nil
}

func mockReply(request mockRequest) string {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(request.Prompt))
	seed := hasher.Sum64()
	turn := 0
	for _, message := range request.History {
		if message.Role == schema.RoleUser {
			turn++
		}
	}
	return fmt.Sprintf("Mock reply %04x (turn %d) to: %s", seed&0xffff, turn+1, request.Prompt)
}

func chunkText(text string, size int) []string {
	if size <= 0 || len(text) <= size {
		return []string{text}
	}
	var chunks []string
	for len(text) > size {
		cut := size
		for cut > 0 && !isRuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func writeMockEvent(w *bufio.Writer, event schema.AgentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.WriteByte('\n')
}
