package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"

	"github.com/google/uuid"
)

// Fixed remediation steps surfaced with error responses, one list per
// failure category. Statically defined; never generated.
var (
	troubleshootNotInstalled = []string{
		"Install OpenCode: npm install -g opencode",
		"Ensure the install location is on PATH",
		"Restart the browser after installing",
	}
	troubleshootStartFailed = []string{
		"Ensure OpenCode is installed and in PATH",
		"Check that port 4096 is not blocked",
		"Verify 'opencode serve' works in a terminal",
	}
	troubleshootCallFailed = []string{
		"Check that the OpenCode server is still running",
		"Check that port 4096 is not blocked by a firewall",
		"Retry the request",
	}
)

// Relay is the native messaging host loop: it reads one frame at a
// time from the extension, forwards it to the backing server, and
// writes response frames back. Processing is strictly serial; at most
// one request is in flight per relay process.
type Relay struct {
	settings *Settings
	framer   *Framer
	sup      *Supervisor
	client   *AgentClient
}

// NewRelay wires a relay over the given byte streams. In production
// these are the process's stdin and stdout.
func NewRelay(in io.Reader, out io.Writer, settings *Settings) *Relay {
	sup := NewSupervisor(settings)
	return &Relay{
		settings: settings,
		framer:   NewFramer(in, out, settings.Current().MaxFrameBytes),
		sup:      sup,
		client:   NewAgentClient(settings, sup.EnsureRunning),
	}
}

// ApplyConfig swaps the live configuration. Frame size takes effect
// on the next frame, timeouts and retry bounds on the next request.
// A port change applies at the next readiness check.
func (r *Relay) ApplyConfig(cfg *Config) {
	r.settings.Swap(cfg)
	r.framer.SetMaxBytes(cfg.MaxFrameBytes)
}

// Run decodes frames until the inbound stream ends, then shuts down
// cleanly: a backing server spawned by this relay is stopped so no
// child outlives the host. A clean EOF returns nil; framing
// corruption returns the error after teardown (the relay process
// simply exits, there is nothing to resynchronize).
func (r *Relay) Run(ctx context.Context) error {
	defer r.shutdown()

	for {
		raw, err := r.framer.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Printf("[relay] stdin closed, shutting down")
				return nil
			}
			log.Printf("[relay] fatal framing error: %v", err)
			return err
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			r.writeError(0, "Malformed request: invalid JSON", "", nil)
			continue
		}

		r.handle(ctx, &req)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (r *Relay) handle(ctx context.Context, req *Request) {
	traceID := uuid.NewString()[:8]

	if req.Type == TypeCancelRequest {
		// A notification, not a request: no response frame. The loop is
		// serial, so by the time this frame is read the request it names
		// has already finished; there is nothing to abort.
		log.Printf("[req %s] cancel notification for request %d", traceID, req.RequestID)
		return
	}

	if req.Prompt == "" {
		log.Printf("[req %s] rejected: no prompt", traceID)
		r.writeError(req.RequestID, "No prompt provided", "", nil)
		return
	}

	if !r.sup.Installed() {
		log.Printf("[req %s] backing executable missing", traceID)
		r.writeError(req.RequestID, "OpenCode is not installed", "", troubleshootNotInstalled)
		return
	}

	if err := r.sup.EnsureRunning(ctx); err != nil {
		log.Printf("[req %s] backing server unavailable: %v", traceID, err)
		r.writeError(req.RequestID, "Failed to start OpenCode server", "", troubleshootStartFailed)
		return
	}

	if req.Stream {
		r.handleStream(ctx, req, traceID)
		return
	}
	r.handleOnce(ctx, req, traceID)
}

func (r *Relay) handleOnce(ctx context.Context, req *Request, traceID string) {
	data, err := r.client.Submit(ctx, req.Prompt, req.Context, req.Agent)
	if err != nil {
		log.Printf("[req %s] backing call failed: %v", traceID, err)
		var srvErr *ServerError
		if errors.As(err, &srvErr) {
			r.writeError(req.RequestID, srvErr.Error(), srvErr.Details, troubleshootCallFailed)
			return
		}
		r.writeError(req.RequestID, err.Error(), "", troubleshootCallFailed)
		return
	}

	log.Printf("[req %s] answered (%d bytes)", traceID, len(data))
	r.write(Response{RequestID: req.RequestID, Success: true, Data: data})
}

// handleStream relays each backing event as its own stream_event
// frame, then terminates the exchange with exactly one
// stream_complete frame. Only after that does Run read the next
// inbound frame, which keeps ordering trivial.
func (r *Relay) handleStream(ctx context.Context, req *Request, traceID string) {
	err := r.client.Stream(ctx, req.Prompt, req.Context, req.Agent, func(ev AgentEvent) error {
		return r.framer.Encode(StreamEventFrame{
			Type:      TypeStreamEvent,
			RequestID: req.RequestID,
			Event:     ev,
		})
	})
	if err != nil {
		log.Printf("[req %s] stream aborted: %v", traceID, err)
	} else {
		log.Printf("[req %s] stream finished", traceID)
	}

	r.write(StreamCompleteFrame{Type: TypeStreamComplete, RequestID: req.RequestID})
}

func (r *Relay) write(doc any) {
	if err := r.framer.Encode(doc); err != nil {
		log.Printf("[relay] write error: %v", err)
	}
}

func (r *Relay) writeError(requestID uint64, msg, details string, steps []string) {
	r.write(Response{
		RequestID:       requestID,
		Success:         false,
		Error:           msg,
		Details:         details,
		Troubleshooting: steps,
	})
}

func (r *Relay) shutdown() {
	if r.sup.Spawned() {
		log.Printf("[relay] stopping backing server")
		r.sup.Stop()
	}
}
