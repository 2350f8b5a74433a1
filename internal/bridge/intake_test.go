package bridge

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func newTestBridge() *Bridge {
	now := time.Unix(1700000000, 500_000_000)
	return New(Options{Now: func() time.Time { return now }})
}

func TestFilterFor(t *testing.T) {
	if got := FilterFor(VoiceResult{Text: "hello"}); got != FilterAll {
		t.Errorf("FilterFor(plain) = %q, want all", got)
	}
	if got := FilterFor(VoiceResult{Text: "open", AgentResponse: &AgentResponse{Action: "execute"}}); got != ModeCommand {
		t.Errorf("FilterFor(agent) = %q, want command", got)
	}
}

func TestAgentResultSkipsTypeClients(t *testing.T) {
	b := newTestBridge()
	typist := &fakeConn{}
	b.Registry.Register(typist, ModeType)

	n := b.Intake.SubmitAgentResult(context.Background(), "open browser", AgentResponse{
		Action:  "execute",
		Content: "open -a Safari",
	})
	if n != 0 {
		t.Errorf("recipients = %d, want 0", n)
	}
	if frames := typist.decoded(t); len(frames) != 0 {
		t.Errorf("type-mode client received %v", frames)
	}
}

func TestTextReachesEveryMode(t *testing.T) {
	b := newTestBridge()
	both := &fakeConn{}
	cmd := &fakeConn{}
	b.Registry.Register(both, ModeBoth)
	b.Registry.Register(cmd, ModeCommand)

	n, err := b.Intake.SubmitText(context.Background(), "hello world", nil)
	if err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if n != 2 {
		t.Errorf("recipients = %d, want 2", n)
	}
	for name, conn := range map[string]*fakeConn{"both": both, "command": cmd} {
		frames := conn.decoded(t)
		if len(frames) != 1 {
			t.Fatalf("%s: got %d frames", name, len(frames))
		}
		f := frames[0]
		if f["type"] != "voice_result" || f["text"] != "hello world" {
			t.Errorf("%s: frame = %v", name, f)
		}
		if v, ok := f["agent_response"]; !ok || v != nil {
			t.Errorf("%s: agent_response = %v, want explicit null", name, v)
		}
		if v, ok := f["confidence"]; !ok || v != nil {
			t.Errorf("%s: confidence = %v, want explicit null", name, v)
		}
	}
}

func TestAgentResultWireShape(t *testing.T) {
	b := newTestBridge()
	conn := &fakeConn{}
	b.Registry.Register(conn, ModeCommand)

	b.Intake.SubmitAgentResult(context.Background(), "press enter", AgentResponse{
		Action:       "key",
		Content:      "enter",
		Params:       map[string]any{"repeat": 2},
		HadToolCalls: true,
	})

	frames := conn.decoded(t)
	if len(frames) != 1 {
		t.Fatalf("got %d frames", len(frames))
	}
	resp, ok := frames[0]["agent_response"].(map[string]any)
	if !ok {
		t.Fatalf("agent_response = %v", frames[0]["agent_response"])
	}
	if resp["action"] != "key" || resp["content"] != "enter" || resp["had_tool_calls"] != true {
		t.Errorf("agent_response = %v", resp)
	}
	if ts := frames[0]["timestamp"].(float64); ts != 1700000000.5 {
		t.Errorf("timestamp = %v", ts)
	}
}

func TestAgentResultWithoutParamsSendsEmptyObject(t *testing.T) {
	b := newTestBridge()
	conn := &fakeConn{}
	b.Registry.Register(conn, ModeBoth)

	b.Intake.SubmitAgentResult(context.Background(), "open safari", AgentResponse{Action: "execute", Content: "open -a Safari"})

	resp, ok := conn.decoded(t)[0]["agent_response"].(map[string]any)
	if !ok {
		t.Fatal("agent_response missing")
	}
	params, ok := resp["params"].(map[string]any)
	if !ok {
		t.Fatalf("params = %#v, want {}", resp["params"])
	}
	if len(params) != 0 {
		t.Errorf("params = %v, want empty", params)
	}
}

func TestSubmitTextConfidence(t *testing.T) {
	b := newTestBridge()
	conn := &fakeConn{}
	b.Registry.Register(conn, ModeType)

	c := 0.87
	if _, err := b.Intake.SubmitText(context.Background(), "hi", &c); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if got := conn.decoded(t)[0]["confidence"]; got != 0.87 {
		t.Errorf("confidence = %v", got)
	}

	for _, bad := range []float64{-0.1, 1.5, math.NaN()} {
		if _, err := b.Intake.SubmitText(context.Background(), "hi", &bad); !errors.Is(err, ErrInvalidConfidence) {
			t.Errorf("confidence %v: err = %v, want ErrInvalidConfidence", bad, err)
		}
	}
}

func TestModeChangeOpensCommandRoute(t *testing.T) {
	b := newTestBridge()
	conn := &fakeConn{}
	id := b.Registry.Register(conn, ModeType)

	b.Intake.SubmitAgentResult(context.Background(), "a", AgentResponse{Action: "type"})
	b.Registry.SetMode(id, ModeCommand)
	b.Intake.SubmitAgentResult(context.Background(), "b", AgentResponse{Action: "type"})

	frames := conn.decoded(t)
	if len(frames) != 1 || frames[0]["text"] != "b" {
		t.Errorf("frames = %v, want only the post-change result", frames)
	}
}

func TestPreviewTruncates(t *testing.T) {
	long := strings.Repeat("x", 80)
	got := preview(long)
	if len(got) != 50 || !strings.HasSuffix(got, "...") {
		t.Errorf("preview = %q (%d)", got, len(got))
	}
	if preview("short") != "short" {
		t.Error("short text should be unchanged")
	}
}
