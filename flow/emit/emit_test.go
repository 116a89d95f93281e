package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestLogEmitterText(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, false)

	e.Emit(Event{
		ExecutionID: "e-1",
		Step:        3,
		NodeID:      "upper",
		Msg:         MsgNodeCompleted,
		Meta:        map[string]any{"duration_ms": 12},
	})

	line := buf.String()
	for _, want := range []string{"[node_completed]", "execution=e-1", "step=3", "node=upper", `"duration_ms":12`} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestLogEmitterJSON(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, true)

	e.Emit(Event{ExecutionID: "e-1", Step: 1, Msg: MsgExecutionStarted})
	e.Emit(Event{ExecutionID: "e-1", Step: 2, NodeID: "a", Msg: MsgNodeStarted})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSONL lines, got %d", len(lines))
	}
	var decoded struct {
		ExecutionID string `json:"executionId"`
		Step        int    `json:"step"`
		NodeID      string `json:"nodeId"`
		Msg         string `json:"msg"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if decoded.Msg != MsgNodeStarted || decoded.NodeID != "a" || decoded.Step != 2 {
		t.Errorf("decoded %+v", decoded)
	}
}

func TestNullEmitterDiscards(t *testing.T) {
	e := NewNullEmitter()
	// Must not panic or block.
	e.Emit(Event{ExecutionID: "e-1", Msg: MsgNodeError})
}

func TestBufferedEmitterHistory(t *testing.T) {
	b := NewBufferedEmitter()

	b.Emit(Event{ExecutionID: "e-1", Step: 1, Msg: MsgExecutionStarted})
	b.Emit(Event{ExecutionID: "e-1", Step: 2, NodeID: "a", Msg: MsgNodeStarted})
	b.Emit(Event{ExecutionID: "e-1", Step: 2, NodeID: "a", Msg: MsgNodeError})
	b.Emit(Event{ExecutionID: "e-2", Step: 1, Msg: MsgExecutionStarted})

	if got := b.History("e-1"); len(got) != 3 {
		t.Errorf("expected 3 events for e-1, got %d", len(got))
	}
	if got := b.History("e-unknown"); len(got) != 0 {
		t.Errorf("expected empty history, got %d", len(got))
	}

	t.Run("filter by msg", func(t *testing.T) {
		got := b.HistoryWithFilter("e-1", HistoryFilter{Msg: MsgNodeError})
		if len(got) != 1 || got[0].NodeID != "a" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("filter by step range", func(t *testing.T) {
		min := 2
		got := b.HistoryWithFilter("e-1", HistoryFilter{MinStep: &min})
		if len(got) != 2 {
			t.Errorf("expected 2 events at step >= 2, got %d", len(got))
		}
	})

	t.Run("clear", func(t *testing.T) {
		b.Clear("e-1")
		if got := b.History("e-1"); len(got) != 0 {
			t.Errorf("Clear left %d events", len(got))
		}
		if got := b.History("e-2"); len(got) != 1 {
			t.Errorf("Clear touched other execution: %d", len(got))
		}
	})
}

func TestBufferedEmitterConcurrent(t *testing.T) {
	b := NewBufferedEmitter()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Emit(Event{ExecutionID: "e-race", Step: j, Msg: MsgNodeStarted})
			}
		}()
	}
	wg.Wait()

	if got := len(b.History("e-race")); got != 1000 {
		t.Errorf("expected 1000 events, got %d", got)
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{ExecutionID: "e-1", Msg: MsgNodeStarted})

	h := b.History("e-1")
	h[0].Msg = "mutated"

	if b.History("e-1")[0].Msg != MsgNodeStarted {
		t.Error("History returned aliased storage")
	}
}
