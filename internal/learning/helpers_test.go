package learning

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/MikeSquared-Agency/Steward/internal/graduation"
	"github.com/MikeSquared-Agency/Steward/internal/hermes"
	"github.com/MikeSquared-Agency/Steward/internal/store"
)

var errUnavailable = errors.New("service unavailable")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// funcEmbedder embeds through a lookup function; returning nil means failure.
type funcEmbedder struct {
	fn    func(text string) []float32
	mu    sync.Mutex
	calls int
}

func (e *funcEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if v := e.fn(text); v != nil {
		return v, nil
	}
	return nil, errUnavailable
}

func downEmbedder() *funcEmbedder {
	return &funcEmbedder{fn: func(string) []float32 { return nil }}
}

type stubSynthesizer struct {
	text     string
	ok       bool
	calls    int
	examples []Example
}

func (s *stubSynthesizer) Synthesize(_ context.Context, _ string, examples []Example) (string, bool) {
	s.calls++
	s.examples = examples
	return s.text, s.ok
}

type stubLLM struct {
	out     string
	err     error
	prompts []string
}

func (l *stubLLM) Complete(_ context.Context, prompt string) (string, error) {
	l.prompts = append(l.prompts, prompt)
	return l.out, l.err
}

type mockHermes struct {
	mock.Mock
}

func (m *mockHermes) Publish(subject string, data interface{}) error {
	args := m.Called(subject, data)
	return args.Error(0)
}

func (m *mockHermes) Subscribe(subject string, handler func(string, []byte)) error {
	args := m.Called(subject, handler)
	return args.Error(0)
}

func (m *mockHermes) Close() {}

type fixture struct {
	store    *store.MemoryStore
	embedder *funcEmbedder
	synth    *stubSynthesizer
	guidance *stubLLM
	pipeline *Pipeline
}

func newFixture(opts ...func(*Options)) *fixture {
	f := &fixture{
		store:    store.NewMemoryStore(),
		embedder: downEmbedder(),
		synth:    &stubSynthesizer{text: "Always use Joe's Plumbing for sink leaks.", ok: true},
		guidance: &stubLLM{out: "Verify the unit number against the lease before sending notices."},
	}
	o := Options{
		Store:       f.store,
		Embedder:    f.embedder,
		Synthesizer: f.synth,
		GuidanceLLM: f.guidance,
		Graduation:  graduation.NewTracker(f.store, nil, 10, testLogger()),
		Logger:      testLogger(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	f.pipeline = NewPipeline(o)
	return f
}

func withEvents(h hermes.Client) func(*Options) {
	return func(o *Options) { o.Events = h }
}
