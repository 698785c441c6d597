package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Steward/internal/embedding"
)

// MemoryStore is an in-process Store. Each method holds the lock for its whole
// read-modify-write, giving the same per-row atomicity as PostgresStore.
type MemoryStore struct {
	mu          sync.RWMutex
	corrections map[uuid.UUID]*Correction
	rules       map[uuid.UUID]*Rule
	decisions   map[uuid.UUID]*Decision
	messages    map[uuid.UUID]*ChatMessage
	graduations map[string]*GraduationTracking
	autonomy    map[string]*AutonomySettings
	preferences map[string]*Preference
	genomes     map[string]*ToolGenome
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		corrections: make(map[uuid.UUID]*Correction),
		rules:       make(map[uuid.UUID]*Rule),
		decisions:   make(map[uuid.UUID]*Decision),
		messages:    make(map[uuid.UUID]*ChatMessage),
		graduations: make(map[string]*GraduationTracking),
		autonomy:    make(map[string]*AutonomySettings),
		preferences: make(map[string]*Preference),
		genomes:     make(map[string]*ToolGenome),
	}
}

func (m *MemoryStore) Close() error { return nil }

func pairKey(parts ...string) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += "\x00"
		}
		key += p
	}
	return key
}

// --- Corrections ---

func (m *MemoryStore) CreateCorrection(_ context.Context, c *Correction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	cp := *c
	m.corrections[c.ID] = &cp
	return nil
}

func (m *MemoryStore) ListUnmatchedCorrections(_ context.Context, userID string, limit int) ([]*Correction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Correction
	for _, c := range m.corrections {
		if c.UserID == userID && !c.PatternMatched {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkCorrectionsMatched(_ context.Context, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if c, ok := m.corrections[id]; ok {
			c.PatternMatched = true
		}
	}
	return nil
}

// --- Rules ---

func (m *MemoryStore) CreateRule(_ context.Context, r *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.Confidence = ClampConfidence(r.Confidence)
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.rules[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRule(_ context.Context, id uuid.UUID) (*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListRules(_ context.Context, userID string, activeOnly bool) ([]*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Rule
	for _, r := range m.rules {
		if r.UserID != userID || (activeOnly && !r.Active) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) SearchSimilarRules(_ context.Context, userID string, vec []float32, limit int) ([]RuleMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RuleMatch
	for _, r := range m.rules {
		if r.UserID != userID || !r.Active || len(r.Embedding) == 0 || len(r.Embedding) != len(vec) {
			continue
		}
		cp := *r
		out = append(out, RuleMatch{Rule: &cp, Similarity: embedding.CosineSimilarity(vec, r.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) AdjustRuleConfidence(_ context.Context, id uuid.UUID, delta float64, positive bool) (*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok || !r.Adjust(delta, positive) {
		return nil, nil
	}
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

// --- Decisions and messages ---

func (m *MemoryStore) CreateDecision(_ context.Context, d *Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	m.decisions[d.ID] = &cp
	return nil
}

func (m *MemoryStore) GetDecision(_ context.Context, id uuid.UUID) (*Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.decisions[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) SetDecisionFeedback(_ context.Context, id uuid.UUID, feedback Feedback, correction string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[id]
	if !ok {
		return nil
	}
	d.OwnerFeedback = feedback
	if correction != "" {
		d.OwnerCorrection = correction
	}
	d.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CreateMessage(_ context.Context, msg *ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.CreatedAt = time.Now()
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *MemoryStore) GetMessage(_ context.Context, id uuid.UUID) (*ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, nil
	}
	cp := *msg
	return &cp, nil
}

func (m *MemoryStore) SetMessageFeedback(_ context.Context, id uuid.UUID, feedback string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok {
		msg.Feedback = feedback
	}
	return nil
}

// --- Graduation ---

func (m *MemoryStore) GetGraduation(_ context.Context, userID, category string) (*GraduationTracking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.graduations[pairKey(userID, category)]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (m *MemoryStore) ListGraduations(_ context.Context, userID string) ([]*GraduationTracking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*GraduationTracking
	for _, g := range m.graduations {
		if g.UserID == userID {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

// graduationLocked returns the row for (userID, category), creating it if needed.
// Caller must hold m.mu.
func (m *MemoryStore) graduationLocked(userID, category string, threshold int) *GraduationTracking {
	key := pairKey(userID, category)
	g, ok := m.graduations[key]
	if !ok {
		g = NewGraduationTracking(userID, category, threshold)
		g.ID = uuid.New()
		g.CreatedAt = time.Now()
		g.UpdatedAt = g.CreatedAt
		m.graduations[key] = g
	}
	return g
}

func (m *MemoryStore) RecordGraduationFeedback(_ context.Context, userID, category string, approved bool, threshold int) (*GraduationTracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.graduationLocked(userID, category, threshold)
	g.RecordFeedback(approved, time.Now())
	cp := *g
	return &cp, nil
}

func (m *MemoryStore) AcceptGraduation(_ context.Context, userID, category string, threshold int) (*GraduationTracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.graduationLocked(userID, category, threshold)
	g.Accept(time.Now())
	cp := *g
	return &cp, nil
}

func (m *MemoryStore) DeclineGraduation(_ context.Context, userID, category string, threshold int) (*GraduationTracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.graduationLocked(userID, category, threshold)
	g.Decline(time.Now())
	cp := *g
	return &cp, nil
}

// SetGraduation replaces a tracking row wholesale. Used to seed state in tests.
func (m *MemoryStore) SetGraduation(g *GraduationTracking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	cp := *g
	m.graduations[pairKey(g.UserID, g.Category)] = &cp
}

// --- Autonomy ---

func (m *MemoryStore) GetAutonomySettings(_ context.Context, userID string) (*AutonomySettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.autonomy[userID]
	if !ok {
		return nil, nil
	}
	cp := *a
	cp.CategoryOverrides = make(map[string]string, len(a.CategoryOverrides))
	for k, v := range a.CategoryOverrides {
		cp.CategoryOverrides[k] = v
	}
	return &cp, nil
}

func (m *MemoryStore) SetAutonomyOverride(_ context.Context, userID, category, level string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.autonomy[userID]
	if !ok {
		a = &AutonomySettings{UserID: userID, CategoryOverrides: make(map[string]string)}
		m.autonomy[userID] = a
	}
	a.CategoryOverrides[category] = level
	a.UpdatedAt = time.Now()
	return nil
}

// --- Learning artifacts ---

func (m *MemoryStore) UpsertPreference(_ context.Context, p *Preference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(p.UserID, p.Category, p.Key)
	now := time.Now()
	if existing, ok := m.preferences[key]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		p.ID = uuid.New()
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	m.preferences[key] = &cp
	return nil
}

// GetPreference returns the stored preference for a key, or nil.
func (m *MemoryStore) GetPreference(userID, category, key string) *Preference {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.preferences[pairKey(userID, category, key)]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (m *MemoryStore) RecordToolFailure(_ context.Context, userID, toolName, patternKey string, params []string) (*ToolGenome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(userID, toolName)
	g, ok := m.genomes[key]
	if !ok {
		g = &ToolGenome{
			ID:              uuid.New(),
			UserID:          userID,
			ToolName:        toolName,
			FailurePatterns: make(map[string]int),
			CreatedAt:       time.Now(),
		}
		m.genomes[key] = g
	}
	g.RecordFailure(patternKey, append([]string(nil), params...))
	g.UpdatedAt = time.Now()

	cp := *g
	cp.FailurePatterns = make(map[string]int, len(g.FailurePatterns))
	for k, v := range g.FailurePatterns {
		cp.FailurePatterns[k] = v
	}
	cp.ParameterInsights.FailureParams = append([][]string(nil), g.ParameterInsights.FailureParams...)
	return &cp, nil
}
