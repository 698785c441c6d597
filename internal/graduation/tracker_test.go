package graduation

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Steward/internal/hermes"
	"github.com/MikeSquared-Agency/Steward/internal/store"
)

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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seed(s *store.MemoryStore, consecutive, backoff, level int) {
	g := store.NewGraduationTracking("u1", "maintenance", 10)
	g.ConsecutiveApprovals = consecutive
	g.BackoffMultiplier = backoff
	g.CurrentLevel = level
	s.SetGraduation(g)
}

func TestRecordFeedbackWithBackoff(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	h := &mockHermes{}
	h.On("Publish", hermes.SubjectGraduationEligible, mock.AnythingOfType("hermes.GraduationEvent")).Return(nil).Once()
	tr := NewTracker(s, h, 10, testLogger())

	seed(s, 19, 2, 1)
	g, eligible, err := tr.RecordFeedback(ctx, "u1", "maintenance", store.FeedbackApproved)
	require.NoError(t, err)
	assert.Equal(t, 20, g.ConsecutiveApprovals)
	assert.True(t, eligible, "20 >= 10 x 2")
	h.AssertExpectations(t)
}

func TestRecordFeedbackBelowBackoffThreshold(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	tr := NewTracker(s, nil, 10, testLogger())

	seed(s, 18, 2, 1)
	g, eligible, err := tr.RecordFeedback(ctx, "u1", "maintenance", store.FeedbackApproved)
	require.NoError(t, err)
	assert.Equal(t, 19, g.ConsecutiveApprovals)
	assert.False(t, eligible, "19 < 10 x 2")
}

func TestRecordFeedbackBaseThreshold(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	tr := NewTracker(s, nil, 10, testLogger())

	for i := 1; i <= 9; i++ {
		_, eligible, err := tr.RecordFeedback(ctx, "u1", "maintenance", store.FeedbackApproved)
		require.NoError(t, err)
		assert.False(t, eligible, "approval %d", i)
	}
	g, eligible, err := tr.RecordFeedback(ctx, "u1", "maintenance", store.FeedbackApproved)
	require.NoError(t, err)
	assert.True(t, eligible)
	assert.Equal(t, 10, g.ConsecutiveApprovals)
	assert.Equal(t, 1, g.CurrentLevel)
	assert.NotNil(t, g.LastSuggestionAt)
}

func TestRecordFeedbackRejectionResets(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	tr := NewTracker(s, nil, 10, testLogger())

	seed(s, 12, 1, 1)
	for _, fb := range []store.Feedback{store.FeedbackRejected, store.FeedbackCorrected} {
		g, eligible, err := tr.RecordFeedback(ctx, "u1", "maintenance", fb)
		require.NoError(t, err)
		assert.False(t, eligible)
		assert.Equal(t, 0, g.ConsecutiveApprovals)
	}
	g, _ := s.GetGraduation(ctx, "u1", "maintenance")
	assert.Equal(t, 2, g.TotalRejections)
}

func TestRecordFeedbackNeverEligibleAtMaxLevel(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	tr := NewTracker(s, nil, 10, testLogger())

	seed(s, 50, 1, store.MaxLevel)
	_, eligible, err := tr.RecordFeedback(ctx, "u1", "maintenance", store.FeedbackApproved)
	require.NoError(t, err)
	assert.False(t, eligible)
}

func TestCheckIsReadOnly(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	tr := NewTracker(s, nil, 10, testLogger())

	status, err := tr.Check(ctx, "u1", "financial")
	require.NoError(t, err)
	assert.Equal(t, &Status{
		Category:          "financial",
		CurrentLevel:      1,
		Threshold:         10,
		BaseThreshold:     10,
		BackoffMultiplier: 1,
	}, status)

	g, err := s.GetGraduation(ctx, "u1", "financial")
	require.NoError(t, err)
	assert.Nil(t, g, "check must not create a row")

	seed(s, 20, 2, 2)
	status, err = tr.Check(ctx, "u1", "maintenance")
	require.NoError(t, err)
	assert.True(t, status.Eligible)
	assert.Equal(t, 20, status.Threshold)
	assert.Equal(t, 2, status.CurrentLevel)

	after, _ := s.GetGraduation(ctx, "u1", "maintenance")
	assert.Equal(t, 20, after.ConsecutiveApprovals)
}

func TestAcceptWritesAutonomyOverride(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	h := &mockHermes{}
	h.On("Publish", hermes.SubjectGraduationAccepted, mock.MatchedBy(func(e hermes.GraduationEvent) bool {
		return e.CurrentLevel == 2 && e.AutonomyLevel == "L1"
	})).Return(nil).Once()
	tr := NewTracker(s, h, 10, testLogger())

	seed(s, 10, 4, 1)
	g, err := tr.Accept(ctx, "u1", "maintenance")
	require.NoError(t, err)
	assert.Equal(t, 2, g.CurrentLevel)
	assert.Equal(t, 0, g.ConsecutiveApprovals)
	assert.Equal(t, 1, g.BackoffMultiplier)

	a, err := s.GetAutonomySettings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "L1", a.CategoryOverrides["maintenance"])
	h.AssertExpectations(t)
}

func TestAcceptCapsAtMaxLevel(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	tr := NewTracker(s, nil, 10, testLogger())

	seed(s, 0, 1, store.MaxLevel)
	g, err := tr.Accept(ctx, "u1", "maintenance")
	require.NoError(t, err)
	assert.Equal(t, store.MaxLevel, g.CurrentLevel)

	a, _ := s.GetAutonomySettings(ctx, "u1")
	assert.Equal(t, "L3", a.CategoryOverrides["maintenance"])
}

func TestDeclineTwiceCompoundsBackoff(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	tr := NewTracker(s, nil, 10, testLogger())

	seed(s, 10, 1, 2)
	g, err := tr.Decline(ctx, "u1", "maintenance")
	require.NoError(t, err)
	assert.Equal(t, 2, g.BackoffMultiplier)

	g, err = tr.Decline(ctx, "u1", "maintenance")
	require.NoError(t, err)
	assert.Equal(t, 4, g.BackoffMultiplier)
	assert.Equal(t, 2, g.CurrentLevel)
	assert.Equal(t, 0, g.ConsecutiveApprovals)

	for i := 0; i < 3; i++ {
		g, err = tr.Decline(ctx, "u1", "maintenance")
		require.NoError(t, err)
	}
	assert.Equal(t, store.MaxBackoffMultiplier, g.BackoffMultiplier)
}

func TestLevelLabel(t *testing.T) {
	assert.Equal(t, "L0", LevelLabel(1))
	assert.Equal(t, "L3", LevelLabel(4))
}
