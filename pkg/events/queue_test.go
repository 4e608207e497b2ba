package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePublish(t *testing.T) {
	t.Run("enriches with agent and timestamp", func(t *testing.T) {
		q := NewQueue("s1", 10)
		q.For("searcher").Publish(TypeObservation, map[string]any{"facts_added": 3})

		ev, ok := q.Receive(context.Background(), time.Second)
		require.True(t, ok)
		assert.Equal(t, TypeObservation, ev.Type)
		assert.Equal(t, "searcher", ev.Agent)
		assert.False(t, ev.Timestamp.IsZero())
	})

	t.Run("preserves emit order", func(t *testing.T) {
		q := NewQueue("s1", 10)
		pub := q.For("writer")
		pub.Publish(TypeSectionContent, map[string]any{"section_id": "sec_1"})
		pub.Publish(TypeSectionContent, map[string]any{"section_id": "sec_2"})
		pub.Publish(TypeReportDraft, nil)

		first, _ := q.Receive(context.Background(), time.Second)
		second, _ := q.Receive(context.Background(), time.Second)
		third, _ := q.Receive(context.Background(), time.Second)
		assert.Equal(t, "sec_1", first.Payload["section_id"])
		assert.Equal(t, "sec_2", second.Payload["section_id"])
		assert.Equal(t, TypeReportDraft, third.Type)
	})

	t.Run("drops on overflow instead of blocking", func(t *testing.T) {
		q := NewQueue("s1", 2)
		pub := q.For("analyst")
		done := make(chan struct{})
		go func() {
			for i := 0; i < 5; i++ {
				pub.Publish(TypeCode, map[string]any{"i": i})
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("publish blocked on a full queue")
		}
		assert.Equal(t, 2, q.Len())
	})
}

func TestQueueReceive(t *testing.T) {
	t.Run("times out when empty", func(t *testing.T) {
		q := NewQueue("s1", 10)
		start := time.Now()
		_, ok := q.Receive(context.Background(), 50*time.Millisecond)
		assert.False(t, ok)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("returns on context cancellation", func(t *testing.T) {
		q := NewQueue("s1", 10)
		ctx, cancelCtx := context.WithCancel(context.Background())
		cancelCtx()
		_, ok := q.Receive(ctx, time.Minute)
		assert.False(t, ok)
	})
}

func TestQueueFlush(t *testing.T) {
	q := NewQueue("s1", 10)
	pub := q.For("critic")
	pub.Publish(TypeReview, map[string]any{"quality_score": 8})
	pub.Warning("w")

	flushed := q.Flush()
	require.Len(t, flushed, 2)
	assert.Equal(t, TypeReview, flushed[0].Type)
	assert.Equal(t, TypeWarning, flushed[1].Type)
	assert.Empty(t, q.Flush())
}

func TestEventMarshalJSON(t *testing.T) {
	ev := Event{
		Type:      TypeObservation,
		Agent:     "searcher",
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload:   map[string]any{"facts_added": 3, "note": "无结果"},
	}

	blob, err := json.Marshal(ev)
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(blob, &obj))
	assert.Equal(t, "observation", obj["type"])
	assert.Equal(t, "searcher", obj["agent"])
	assert.Equal(t, float64(3), obj["facts_added"])
	assert.Equal(t, "无结果", obj["note"])
	assert.Contains(t, obj["timestamp"], "2025-03-01T12:00:00")

	t.Run("payload cannot shadow the envelope", func(t *testing.T) {
		ev := Event{Type: TypeThought, Agent: "planner", Timestamp: time.Now(),
			Payload: map[string]any{"type": "spoofed", "agent": "spoofed"}}
		blob, err := json.Marshal(ev)
		require.NoError(t, err)
		var obj map[string]any
		require.NoError(t, json.Unmarshal(blob, &obj))
		assert.Equal(t, "thought", obj["type"])
		assert.Equal(t, "planner", obj["agent"])
	})
}

func TestStepHelpers(t *testing.T) {
	q := NewQueue("s1", 10)
	pub := q.For("planner")
	pub.StepStarted("planning", "制定研究计划", "query")
	pub.StepCompleted("planning", "完成", map[string]any{"sections": 4})

	started, _ := q.Receive(context.Background(), time.Second)
	completed, _ := q.Receive(context.Background(), time.Second)
	assert.Equal(t, TypeResearchStep, started.Type)
	assert.Equal(t, StepStarted, started.Payload["status"])
	assert.Equal(t, StepCompleted, completed.Payload["status"])
	assert.Equal(t, map[string]any{"sections": 4}, completed.Payload["stats"])
}
