package runs

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/vyvo/appsvcbuild/pkg/notify"
)

const logHistoryLimit = 10000

// Recorder writes run history to memory and, when configured, to Postgres.
// It implements notify.Notifier so a run is closed by the same report that is mailed.
type Recorder struct {
	mem    *MemStore
	pg     *PostgresStore
	logger log.Logger
}

func NewRecorder(mem *MemStore, pg *PostgresStore, logger log.Logger) *Recorder {
	if mem == nil {
		mem = NewMemStore()
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Recorder{mem: mem, pg: pg, logger: logger}
}

// Create records a queued run. An empty id is replaced with a new UUID.
func (r *Recorder) Create(id, stack string, versions []string) Run {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	run := Run{
		ID:        id,
		Stack:     stack,
		Versions:  append([]string(nil), versions...),
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.mem.Create(run)
	if r.pg != nil {
		if err := r.pg.Create(run); err != nil {
			level.Warn(r.logger).Log("msg", "persist run failed", "run", id, "err", err)
		}
	}
	return run
}

func (r *Recorder) Running(id string) {
	r.updateStatus(id, StatusRunning, "")
}

func (r *Recorder) AppendLog(id string, line string) {
	r.mem.AppendLog(id, line)
	if r.pg != nil {
		if err := r.pg.AppendLog(id, line); err != nil {
			level.Warn(r.logger).Log("msg", "persist log failed", "run", id, "err", err)
		}
	}
}

// Finish closes a run. A nil err marks it succeeded.
func (r *Recorder) Finish(id string, succeeded []string, err error) {
	if setErr := r.mem.SetSucceeded(id, succeeded); setErr != nil && !errors.Is(setErr, ErrNotFound) {
		level.Warn(r.logger).Log("msg", "memory succeeded error", "run", id, "err", setErr)
	}
	if r.pg != nil {
		if pgErr := r.pg.SetSucceeded(id, succeeded); pgErr != nil {
			level.Warn(r.logger).Log("msg", "postgres succeeded error", "run", id, "err", pgErr)
		}
	}
	if err != nil {
		r.updateStatus(id, StatusFailed, err.Error())
	} else {
		r.updateStatus(id, StatusSucceeded, "")
	}
	r.mem.CloseSubscribers(id)
}

func (r *Recorder) updateStatus(id string, status Status, errMsg string) {
	finishedAt := time.Now().UTC()
	if _, err := r.mem.SetStatus(id, status, finishedAt, errMsg); err != nil {
		level.Debug(r.logger).Log("msg", "memory status error", "run", id, "err", err)
	}
	if r.pg != nil {
		var fPtr *time.Time
		if status.Finished() {
			fPtr = &finishedAt
		}
		if err := r.pg.UpdateStatus(id, status, fPtr, errMsg); err != nil {
			level.Warn(r.logger).Log("msg", "postgres status error", "run", id, "err", err)
		}
	}
}

func (r *Recorder) Get(id string) (Run, error) {
	if run, err := r.mem.Get(id); err == nil {
		return run, nil
	}
	if r.pg != nil {
		return r.pg.Get(id)
	}
	return Run{}, ErrNotFound
}

func (r *Recorder) List() ([]Run, error) {
	if r.pg != nil {
		return r.pg.List()
	}
	return r.mem.List(), nil
}

func (r *Recorder) Logs(id string) ([]string, error) {
	if lines, err := r.mem.Logs(id); err == nil {
		return lines, nil
	}
	if r.pg != nil {
		return r.pg.ListLogs(id, logHistoryLimit)
	}
	return nil, ErrNotFound
}

// Subscribe follows a run's log. Runs that are only known to Postgres are replayed
// from history on a closed channel.
func (r *Recorder) Subscribe(id string) (<-chan string, error) {
	ch, err := r.mem.Subscribe(id)
	if err == nil || r.pg == nil {
		return ch, err
	}
	lines, err := r.pg.ListLogs(id, logHistoryLimit)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		if _, err := r.pg.Get(id); err != nil {
			return nil, err
		}
	}
	replay := make(chan string, len(lines))
	for _, line := range lines {
		replay <- line
	}
	close(replay)
	return replay, nil
}

func (r *Recorder) SendSuccess(ctx context.Context, report notify.Report) error {
	if report.RunID != "" {
		r.Finish(report.RunID, report.Versions, nil)
	}
	return nil
}

func (r *Recorder) SendFailure(ctx context.Context, report notify.Report) error {
	if report.RunID != "" {
		msg := report.Failure
		if msg == "" {
			msg = "failed"
		}
		r.Finish(report.RunID, report.Versions, errors.New(msg))
	}
	return nil
}
