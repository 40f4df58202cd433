package switchboard

import (
	"context"
	"fmt"
	"sync"
)

// memStore is an in-memory Store used across the root package tests.
// Safe for concurrent use.
type memStore struct {
	mu     sync.Mutex
	logs   map[string]Log          // canonical key -> log
	msgs   map[string][]LogMessage // log id -> entries in append order
	seq    map[string]int64        // log id -> last assigned seq
	cache  map[string]string       // name|scope|fingerprint -> result
	config map[string]string       // namespace|key -> value

	logCreates int // count of actual log inserts (not resolutions)
}

func newMemStore() *memStore {
	return &memStore{
		logs:   make(map[string]Log),
		msgs:   make(map[string][]LogMessage),
		seq:    make(map[string]int64),
		cache:  make(map[string]string),
		config: make(map[string]string),
	}
}

func (s *memStore) GetOrCreateLog(_ context.Context, key string, _ []Tag, searchable bool) (Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.logs[key]; ok {
		return log, nil
	}
	log := Log{ID: NewID(), ContextKey: key, Searchable: searchable, CreatedAt: NowUnix()}
	s.logs[key] = log
	s.logCreates++
	return log, nil
}

func (s *memStore) AppendLogMessage(_ context.Context, logID string, msg LogMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[logID]++
	msg.Seq = s.seq[logID]
	s.msgs[logID] = append(s.msgs[logID], msg)
	return nil
}

func (s *memStore) LogMessages(_ context.Context, logID string, limit int) ([]LogMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.msgs[logID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]LogMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *memStore) CacheGet(_ context.Context, name, scope, fingerprint string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache[name+"|"+scope+"|"+fingerprint]
	return v, ok, nil
}

func (s *memStore) CachePut(_ context.Context, name, scope, fingerprint, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[name+"|"+scope+"|"+fingerprint] = result
	return nil
}

func (s *memStore) GetConfig(_ context.Context, namespace, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config[namespace+"|"+key], nil
}

func (s *memStore) SetConfig(_ context.Context, namespace, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[namespace+"|"+key] = value
	return nil
}

func (s *memStore) Init(_ context.Context) error { return nil }
func (s *memStore) Close() error                 { return nil }

// countingTool records how many times it actually ran.
type countingTool struct {
	name  string
	reply string
	calls int
}

func (t *countingTool) Name() string { return t.name }

func (t *countingTool) Run(_ context.Context, _ *AgentContext, input []Block) ([]Block, error) {
	t.calls++
	return []Block{TextBlock(t.reply)}, nil
}

// countingLLM records how many completions it actually produced.
type countingLLM struct {
	model string
	reply string
	calls int
}

func (l *countingLLM) Model() string { return l.model }

func (l *countingLLM) Complete(_ context.Context, _ []Block, _ map[string]any) ([]Block, error) {
	l.calls++
	return []Block{TextBlock(l.reply)}, nil
}

// failingAgent always errors.
type failingAgent struct{}

func (failingAgent) Name() string { return "failing" }

func (failingAgent) Run(_ context.Context, _ *AgentContext) ([]Block, error) {
	return nil, fmt.Errorf("boom")
}
