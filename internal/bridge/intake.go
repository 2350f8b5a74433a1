package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mattn/go-runewidth"
)

// ErrInvalidConfidence is returned when a confidence lies outside [0,1].
var ErrInvalidConfidence = errors.New("confidence must be within [0,1]")

// AgentResponse is the structured result of an upstream agent run. Action
// values such as type, execute, click, key and move are interpreted by
// clients, not by the bridge. Params is always sent, as {} when empty.
type AgentResponse struct {
	Action       string         `json:"action"`
	Content      string         `json:"content"`
	Params       map[string]any `json:"params"`
	HadToolCalls bool           `json:"had_tool_calls"`
}

// VoiceResult is one event submitted by the voice pipeline.
type VoiceResult struct {
	Text          string
	AgentResponse *AgentResponse
	Confidence    *float64
	Timestamp     time.Time
}

// Frame builds the single wire representation of the event.
func (v VoiceResult) Frame() VoiceResultFrame {
	return VoiceResultFrame{
		Type:          FrameVoiceResult,
		Text:          v.Text,
		AgentResponse: v.AgentResponse,
		Timestamp:     UnixSeconds(v.Timestamp),
		Confidence:    v.Confidence,
	}
}

// FilterFor is the routing policy: plain transcriptions go to every client,
// agent-processed results only to clients that accept commands.
func FilterFor(v VoiceResult) Mode {
	if v.AgentResponse != nil {
		return ModeCommand
	}
	return FilterAll
}

// Intake is the entry point for the upstream voice pipeline.
type Intake struct {
	engine *Engine
	logger *slog.Logger
	now    func() time.Time
}

// NewIntake creates an intake delivering through engine.
func NewIntake(engine *Engine, logger *slog.Logger, now func() time.Time) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Intake{engine: engine, logger: logger, now: now}
}

// SubmitText distributes a bare transcription to all clients and returns the
// number of recipients.
func (in *Intake) SubmitText(ctx context.Context, text string, confidence *float64) (int, error) {
	if confidence != nil {
		c := *confidence
		if math.IsNaN(c) || c < 0 || c > 1 {
			return 0, fmt.Errorf("%w: %v", ErrInvalidConfidence, c)
		}
	}
	return in.dispatch(ctx, VoiceResult{
		Text:       text,
		Confidence: confidence,
		Timestamp:  in.now(),
	}), nil
}

// SubmitAgentResult distributes an agent-processed result to command-capable
// clients and returns the number of recipients.
func (in *Intake) SubmitAgentResult(ctx context.Context, text string, resp AgentResponse) int {
	if resp.Params == nil {
		resp.Params = map[string]any{}
	}
	return in.dispatch(ctx, VoiceResult{
		Text:          text,
		AgentResponse: &resp,
		Timestamp:     in.now(),
	})
}

func (in *Intake) dispatch(ctx context.Context, v VoiceResult) int {
	filter := FilterFor(v)
	sent := in.engine.Broadcast(ctx, v.Frame(), filter)
	in.logger.Info("voice result distributed",
		"recipients", sent,
		"filter", filter.String(),
		"text", preview(v.Text))
	return sent
}

// preview shortens text for log lines.
func preview(text string) string {
	return runewidth.Truncate(text, 50, "...")
}
