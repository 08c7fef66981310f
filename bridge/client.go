package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const sessionTitleLimit = 50

// MessagePart is one text segment of a prompt submission.
type MessagePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagePayload struct {
	Parts []MessagePart `json:"parts"`
	Agent string        `json:"agent,omitempty"`
}

// AgentClient talks to the backing server's prompt API: create a
// session, post the message, and (when streaming) relay the session's
// SSE event feed. The server's internals are opaque; only these
// shapes matter.
type AgentClient struct {
	settings *Settings
	http     *http.Client

	// ensure restarts the backing server between retry attempts.
	// Nil disables the restart.
	ensure func(ctx context.Context) error
}

func NewAgentClient(settings *Settings, ensure func(ctx context.Context) error) *AgentClient {
	return &AgentClient{
		settings: settings,
		http:     &http.Client{},
		ensure:   ensure,
	}
}

func (c *AgentClient) baseURL() string {
	return fmt.Sprintf("http://%s:%d", BackingHost, c.settings.Current().Port)
}

// buildParts renders the prompt plus optional browser context into
// the message shape the backing server expects. The context part
// format is part of the contract with the server-side prompt.
func buildParts(prompt string, pctx *PageContext) []MessagePart {
	parts := []MessagePart{{Type: "text", Text: prompt}}
	if pctx != nil {
		ctxText := fmt.Sprintf("\n\n[Browser Context]\nURL: %s\nTitle: %s\nUser Agent: %s",
			pctx.URL, pctx.Title, pctx.UserAgent)
		parts = append(parts, MessagePart{Type: "text", Text: ctxText})
	}
	return parts
}

func sessionTitle(prompt string) string {
	if len(prompt) > sessionTitleLimit {
		return prompt[:sessionTitleLimit]
	}
	return prompt
}

func (c *AgentClient) postJSON(ctx context.Context, url string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

func (c *AgentClient) createSession(ctx context.Context, prompt string) (string, error) {
	resp, err := c.postJSON(ctx, c.baseURL()+"/session", map[string]string{"title": sessionTitle(prompt)})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to create session: %d", resp.StatusCode)
	}

	var session struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", fmt.Errorf("decode session: %w", err)
	}
	if session.ID == "" {
		return "", fmt.Errorf("no session ID in response")
	}
	return session.ID, nil
}

// Submit forwards a prompt and waits for the complete answer.
// Transport failures and 503s are retried up to MaxRetries with
// RetryDelay in between, re-ensuring the backing server before each
// retry. Other non-2xx statuses fail immediately with the response
// body (truncated) as details.
func (c *AgentClient) Submit(ctx context.Context, prompt string, pctx *PageContext, agent string) (json.RawMessage, error) {
	cfg := c.settings.Current()
	payload := messagePayload{Parts: buildParts(prompt, pctx), Agent: agent}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if c.ensure != nil {
				if err := c.ensure(ctx); err != nil {
					lastErr = err
					continue
				}
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.RetryDelay()):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout())
		data, retryable, err := c.submitOnce(callCtx, prompt, payload)
		cancel()
		if err == nil {
			return data, nil
		}
		lastErr = fmt.Errorf("attempt %d/%d: %w", attempt+1, cfg.MaxRetries, err)
		if !retryable {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (c *AgentClient) submitOnce(ctx context.Context, prompt string, payload messagePayload) (json.RawMessage, bool, error) {
	sessionID, err := c.createSession(ctx, prompt)
	if err != nil {
		return nil, true, err
	}

	resp, err := c.postJSON(ctx, fmt.Sprintf("%s/session/%s/message", c.baseURL(), sessionID), payload)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, err
		}
		return data, false, nil
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, true, fmt.Errorf("server unavailable (503)")
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return nil, false, &ServerError{Status: resp.StatusCode, Details: string(body)}
	}
}

// ServerError is a non-2xx, non-503 answer from the backing server.
type ServerError struct {
	Status  int
	Details string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("backing server error: %d", e.Status)
}

// Stream forwards a prompt and relays the session's SSE feed as
// AgentEvents through emit, in arrival order. It returns after the
// completion event or the end of the feed. An emit error aborts the
// stream (the frame writer failed, so the transport is gone anyway).
func (c *AgentClient) Stream(ctx context.Context, prompt string, pctx *PageContext, agent string, emit func(AgentEvent) error) error {
	cfg := c.settings.Current()
	payload := messagePayload{Parts: buildParts(prompt, pctx), Agent: agent}

	setupCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout())
	defer cancel()

	sessionID, err := c.createSession(setupCtx, prompt)
	if err != nil {
		return emit(AgentEvent{Type: EventError, Error: fmt.Sprintf("Failed to create session: %v", err)})
	}

	resp, err := c.postJSON(setupCtx, fmt.Sprintf("%s/session/%s/message", c.baseURL(), sessionID), payload)
	if err != nil {
		return emit(AgentEvent{Type: EventError, Error: fmt.Sprintf("Failed to send message: %v", err)})
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return emit(AgentEvent{Type: EventError, Error: fmt.Sprintf("Failed to send message: %d", resp.StatusCode)})
	}

	if err := emit(AgentEvent{Type: EventStreamStarted, SessionID: sessionID}); err != nil {
		return err
	}

	// Streams run much longer than a single call; allow 10x the
	// request timeout before a hung feed is cut off.
	streamCtx, cancelStream := context.WithTimeout(ctx, 10*cfg.RequestTimeout())
	defer cancelStream()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet,
		fmt.Sprintf("%s/event?sessionId=%s", c.baseURL(), sessionID), nil)
	if err != nil {
		return emit(AgentEvent{Type: EventError, Error: fmt.Sprintf("Streaming error: %v", err)})
	}
	req.Header.Set("Accept", "text/event-stream")

	feed, err := c.http.Do(req)
	if err != nil {
		return emit(AgentEvent{Type: EventError, Error: fmt.Sprintf("Streaming error: %v", err)})
	}
	defer feed.Body.Close()

	return c.relayFeed(feed.Body, emit)
}

// relayFeed parses the SSE feed line by line and translates backing
// server events into AgentEvents until the session completes or the
// feed ends.
func (c *AgentClient) relayFeed(body io.Reader, emit func(AgentEvent) error) error {
	var accumulated strings.Builder
	var lastTool string

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), int(c.settings.Current().MaxFrameBytes))

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev sseEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message.part.updated":
			if ev.Properties.Part.Type != "text" {
				continue
			}
			accumulated.WriteString(ev.Properties.Part.Text)
			if err := emit(AgentEvent{
				Type:  EventPartialText,
				Text:  accumulated.String(),
				Chunk: ev.Properties.Part.Text,
			}); err != nil {
				return err
			}

		case "tool.execute":
			lastTool = ev.Properties.Name
			if err := emit(AgentEvent{
				Type:     EventToolExecuting,
				Tool:     ev.Properties.Name,
				Input:    ev.Properties.Input,
				Thinking: "Executing: " + ev.Properties.Name,
			}); err != nil {
				return err
			}

		case "tool.result":
			tool := lastTool
			if tool == "" {
				tool = "unknown"
			}
			if err := emit(AgentEvent{
				Type:   EventToolResult,
				Tool:   tool,
				Result: ev.Properties.Result,
			}); err != nil {
				return err
			}

		case "session.updated":
			if ev.Properties.Info.Status == "completed" {
				return emit(AgentEvent{Type: EventComplete, FinalText: accumulated.String()})
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return emit(AgentEvent{Type: EventError, Error: fmt.Sprintf("Streaming error: %v", err)})
	}

	// Feed closed without an explicit completion; treat what we have
	// as the final answer.
	return emit(AgentEvent{Type: EventComplete, FinalText: accumulated.String()})
}

// sseEvent is the backing server's raw event shape.
type sseEvent struct {
	Type       string `json:"type"`
	Properties struct {
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
		Part  struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"part"`
		Result json.RawMessage `json:"result"`
		Info   struct {
			Status string `json:"status"`
		} `json:"info"`
	} `json:"properties"`
}
