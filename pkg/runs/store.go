package runs

import (
	"sort"
	"sync"
	"time"
)

const subscriberBuffer = 32

type subscriber chan string

type runRecord struct {
	run         Run
	subscribers []subscriber
	logs        []string
}

// MemStore keeps run records in memory and supports log subscriptions.
type MemStore struct {
	mu    sync.RWMutex
	items map[string]*runRecord
}

func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string]*runRecord)}
}

func (s *MemStore) Create(run Run) Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &runRecord{run: run}
	s.items[run.ID] = rec
	return rec.run
}

func (s *MemStore) SetStatus(id string, status Status, finishedAt time.Time, errMsg string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	rec.run.Status = status
	rec.run.UpdatedAt = time.Now().UTC()
	if status.Finished() {
		rec.run.FinishedAt = finishedAt
	}
	rec.run.Error = errMsg
	return rec.run, nil
}

func (s *MemStore) SetSucceeded(id string, versions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	rec.run.Succeeded = append([]string(nil), versions...)
	rec.run.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) AppendLog(id string, line string) {
	s.mu.Lock()
	rec, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.logs = append(rec.logs, line)
	s.mu.Unlock()

	s.Broadcast(id, line)
}

func (s *MemStore) Get(id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.items[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return rec.run, nil
}

// List returns every run, newest first.
func (s *MemStore) List() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Run, 0, len(s.items))
	for _, rec := range s.items {
		result = append(result, rec.run)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (s *MemStore) Logs(id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), rec.logs...), nil
}

// Subscribe returns a channel replaying the run's log and then following it.
// The channel is closed when the run finishes.
func (s *MemStore) Subscribe(id string) (<-chan string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}

	ch := make(subscriber, len(rec.logs)+subscriberBuffer)
	for _, line := range rec.logs {
		ch <- line
	}
	if rec.run.Status.Finished() {
		close(ch)
		return ch, nil
	}
	rec.subscribers = append(rec.subscribers, ch)
	return ch, nil
}

func (s *MemStore) Broadcast(id string, message string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.items[id]
	if !ok {
		return
	}
	for _, sub := range rec.subscribers {
		select {
		case sub <- message:
		default:
		}
	}
}

func (s *MemStore) CloseSubscribers(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[id]
	if !ok {
		return
	}
	for _, sub := range rec.subscribers {
		close(sub)
	}
	rec.subscribers = nil
}
