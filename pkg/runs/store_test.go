package runs

import (
	"context"
	"testing"
	"time"

	"github.com/vyvo/appsvcbuild/pkg/notify"
)

func TestMemStoreLifecycle(t *testing.T) {
	s := NewMemStore()
	now := time.Now().UTC()
	s.Create(Run{ID: "a", Stack: "python", Status: StatusQueued, CreatedAt: now})
	s.Create(Run{ID: "b", Stack: "php", Status: StatusQueued, CreatedAt: now.Add(time.Second)})

	list := s.List()
	if len(list) != 2 || list[0].ID != "b" {
		t.Fatalf("expected newest run first, got %+v", list)
	}

	run, err := s.SetStatus("a", StatusFailed, now, "boom")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if run.FinishedAt != now || run.Error != "boom" {
		t.Fatalf("unexpected run: %+v", run)
	}

	if _, err := s.Get("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscribeReplaysAndFollows(t *testing.T) {
	s := NewMemStore()
	s.Create(Run{ID: "a", Status: StatusRunning})
	for i := 0; i < 40; i++ {
		s.AppendLog("a", "backlog")
	}

	ch, err := s.Subscribe("a")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	s.AppendLog("a", "live")
	s.CloseSubscribers("a")

	var lines []string
	for line := range ch {
		lines = append(lines, line)
	}
	if len(lines) != 41 || lines[40] != "live" {
		t.Fatalf("expected 41 lines ending in live, got %d", len(lines))
	}
}

func TestSubscribeFinishedRun(t *testing.T) {
	s := NewMemStore()
	s.Create(Run{ID: "a", Status: StatusSucceeded})
	s.AppendLog("a", "done")

	ch, err := s.Subscribe("a")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if line := <-ch; line != "done" {
		t.Fatalf("unexpected line: %s", line)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
}

func TestRecorderNotifier(t *testing.T) {
	rec := NewRecorder(nil, nil, nil)
	run := rec.Create("", "python", []string{"3.7"})
	if run.ID == "" || run.Status != StatusQueued {
		t.Fatalf("unexpected run: %+v", run)
	}
	rec.Running(run.ID)
	rec.AppendLog(run.ID, "building python 3.7")

	var _ notify.Notifier = rec
	if err := rec.SendSuccess(context.Background(), notify.Report{RunID: run.ID, Versions: []string{"3.7"}}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	got, err := rec.Get(run.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Status != StatusSucceeded || len(got.Succeeded) != 1 || got.Succeeded[0] != "3.7" {
		t.Fatalf("unexpected run: %+v", got)
	}
	if got.FinishedAt.IsZero() {
		t.Fatalf("expected finished_at to be set")
	}

	logs, err := rec.Logs(run.ID)
	if err != nil || len(logs) != 1 {
		t.Fatalf("expected one log line, got %v (%v)", logs, err)
	}

	other := rec.Create("fixed-id", "php", []string{"7.3"})
	if err := rec.SendFailure(context.Background(), notify.Report{RunID: other.ID, Failure: "build failed"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got, _ = rec.Get("fixed-id")
	if got.Status != StatusFailed || got.Error != "build failed" {
		t.Fatalf("unexpected run: %+v", got)
	}

	if _, err := rec.Get("unknown"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
