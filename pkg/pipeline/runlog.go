package pipeline

import (
	"bytes"
	"strings"
	"sync"

	"github.com/go-kit/log"
)

// RunLog is a log.Logger that forwards every record to the process logger and
// keeps a logfmt copy of it for the run's notification and history.
type RunLog struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	text log.Logger
	next log.Logger
	sink func(line string)
}

// NewRunLog tees to next. sink, when set, receives every line without its newline.
func NewRunLog(next log.Logger, sink func(line string)) *RunLog {
	if next == nil {
		next = log.NewNopLogger()
	}
	l := &RunLog{next: next, sink: sink}
	l.text = log.With(log.NewLogfmtLogger(lineWriter{l}), "ts", log.DefaultTimestampUTC)
	return l
}

func (l *RunLog) Log(keyvals ...interface{}) error {
	if err := l.text.Log(keyvals...); err != nil {
		return err
	}
	return l.next.Log(keyvals...)
}

// String returns everything logged so far.
func (l *RunLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

type lineWriter struct{ l *RunLog }

func (w lineWriter) Write(p []byte) (int, error) {
	w.l.mu.Lock()
	n, err := w.l.buf.Write(p)
	w.l.mu.Unlock()
	if w.l.sink != nil {
		w.l.sink(strings.TrimRight(string(p), "\n"))
	}
	return n, err
}
