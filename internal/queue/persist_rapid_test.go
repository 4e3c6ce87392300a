package queue

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

func generateStatus(t *rapid.T) Status {
	return rapid.SampledFrom([]Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}).Draw(t, "status")
}

func generateTaskTime(t *rapid.T, label string) time.Time {
	sec := rapid.Int64Range(0, 1_900_000_000).Draw(t, label)
	return time.Unix(sec, 0).UTC()
}

func generateTask(t *rapid.T, label string) Task {
	task := Task{
		ID:          rapid.StringN(1, 36, -1).Draw(t, label+"_id"),
		Queue:       rapid.StringN(1, 20, -1).Draw(t, label+"_queue"),
		Description: rapid.StringN(0, 200, -1).Draw(t, label+"_description"),
		ProjectDir:  rapid.StringN(0, 100, -1).Draw(t, label+"_project_dir"),
		Status:      generateStatus(t),
		Priority:    rapid.IntRange(-10, 10).Draw(t, label+"_priority"),
		CreatedAt:   generateTaskTime(t, label+"_created_at"),
		Result:      rapid.StringN(0, 200, -1).Draw(t, label+"_result"),
		Error:       rapid.StringN(0, 200, -1).Draw(t, label+"_error"),
		RetryCount:  rapid.IntRange(0, 5).Draw(t, label+"_retry_count"),
		MaxRetries:  rapid.IntRange(0, 5).Draw(t, label+"_max_retries"),
	}
	if rapid.Bool().Draw(t, label+"_has_started") {
		st := generateTaskTime(t, label+"_started_at")
		task.StartedAt = &st
	}
	if rapid.Bool().Draw(t, label+"_has_completed") {
		ct := generateTaskTime(t, label+"_completed_at")
		task.CompletedAt = &ct
	}
	return task
}

func generateDocument(t *rapid.T) document {
	numQueues := rapid.IntRange(0, 4).Draw(t, "num_queues")
	doc := document{Version: 1, Queues: make(map[string]queueDoc, numQueues)}
	for i := 0; i < numQueues; i++ {
		name := rapid.StringN(1, 16, -1).Draw(t, "queue_name")
		numPending := rapid.IntRange(0, 4).Draw(t, "num_pending")
		numHistory := rapid.IntRange(0, 4).Draw(t, "num_history")
		pending := make([]Task, numPending)
		for j := range pending {
			pending[j] = generateTask(t, "pending")
		}
		history := make([]Task, numHistory)
		for j := range history {
			history[j] = generateTask(t, "history")
		}
		doc.Queues[name] = queueDoc{Pending: pending, History: history}
	}
	return doc
}

// Property: any document written by store.save round-trips through
// store.load with every task field equal, for arbitrary queue/task shapes.
func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := newStore(dir)
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}

	rapid.Check(t, func(t *rapid.T) {
		original := generateDocument(t)

		if err := st.save(original); err != nil {
			t.Fatalf("save: %v", err)
		}
		loaded, err := st.load()
		if err != nil {
			t.Fatalf("load: %v", err)
		}

		if len(loaded.Queues) != len(original.Queues) {
			t.Fatalf("queue count mismatch: got %d, want %d", len(loaded.Queues), len(original.Queues))
		}
		for name, wantQueue := range original.Queues {
			gotQueue, ok := loaded.Queues[name]
			if !ok {
				t.Fatalf("missing queue %q after round trip", name)
			}
			assertTasksEqual(t, gotQueue.Pending, wantQueue.Pending)
			assertTasksEqual(t, gotQueue.History, wantQueue.History)
		}
	})
}

func assertTasksEqual(t *rapid.T, got, want []Task) {
	if len(got) != len(want) {
		t.Fatalf("task slice length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.ID != w.ID || g.Queue != w.Queue || g.Description != w.Description ||
			g.ProjectDir != w.ProjectDir || g.Status != w.Status || g.Priority != w.Priority ||
			g.Result != w.Result || g.Error != w.Error || g.RetryCount != w.RetryCount || g.MaxRetries != w.MaxRetries {
			t.Fatalf("task[%d] mismatch: got %+v, want %+v", i, g, w)
		}
		if !g.CreatedAt.Equal(w.CreatedAt) {
			t.Fatalf("task[%d].CreatedAt mismatch: got %v, want %v", i, g.CreatedAt, w.CreatedAt)
		}
		if (g.StartedAt == nil) != (w.StartedAt == nil) {
			t.Fatalf("task[%d].StartedAt nil mismatch", i)
		}
		if g.StartedAt != nil && !g.StartedAt.Equal(*w.StartedAt) {
			t.Fatalf("task[%d].StartedAt mismatch: got %v, want %v", i, *g.StartedAt, *w.StartedAt)
		}
		if (g.CompletedAt == nil) != (w.CompletedAt == nil) {
			t.Fatalf("task[%d].CompletedAt nil mismatch", i)
		}
		if g.CompletedAt != nil && !g.CompletedAt.Equal(*w.CompletedAt) {
			t.Fatalf("task[%d].CompletedAt mismatch: got %v, want %v", i, *g.CompletedAt, *w.CompletedAt)
		}
	}
}
