package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and registers the vector type on every pooled
// connection. The vector extension must already exist (see Migrate).
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func toVector(v []float32) *pgvector.Vector {
	if len(v) == 0 {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

func fromVector(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}

// --- Corrections ---

const correctionColumns = `id, user_id, decision_id, original_action, correction,
	context_snapshot, category, pattern_matched, embedding, created_at`

func (s *PostgresStore) CreateCorrection(ctx context.Context, c *Correction) error {
	contextJSON, _ := json.Marshal(c.ContextSnapshot)
	return s.pool.QueryRow(ctx, `
		INSERT INTO agent_corrections (user_id, decision_id, original_action, correction,
			context_snapshot, category, pattern_matched, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		c.UserID, c.DecisionID, c.OriginalAction, c.Correction,
		contextJSON, c.Category, c.PatternMatched, toVector(c.Embedding),
	).Scan(&c.ID, &c.CreatedAt)
}

func scanCorrection(row rowScanner) (*Correction, error) {
	c := &Correction{}
	var contextJSON []byte
	var emb *pgvector.Vector
	if err := row.Scan(
		&c.ID, &c.UserID, &c.DecisionID, &c.OriginalAction, &c.Correction,
		&contextJSON, &c.Category, &c.PatternMatched, &emb, &c.CreatedAt,
	); err != nil {
		return nil, err
	}
	if contextJSON != nil {
		_ = json.Unmarshal(contextJSON, &c.ContextSnapshot)
	}
	c.Embedding = fromVector(emb)
	return c, nil
}

func (s *PostgresStore) ListUnmatchedCorrections(ctx context.Context, userID string, limit int) ([]*Correction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+correctionColumns+`
		FROM agent_corrections
		WHERE user_id = $1 AND NOT pattern_matched
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Correction
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkCorrectionsMatched(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE agent_corrections SET pattern_matched = true WHERE id = ANY($1)`, ids)
	return err
}

// --- Rules ---

const ruleColumns = `id, user_id, rule_text, category, confidence, source,
	source_correction_ids, active, applications_count, rejections_count,
	embedding, created_at, updated_at`

func (s *PostgresStore) CreateRule(ctx context.Context, r *Rule) error {
	r.Confidence = ClampConfidence(r.Confidence)
	ids := r.SourceCorrectionIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO agent_rules (user_id, rule_text, category, confidence, source,
			source_correction_ids, active, applications_count, rejections_count, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`,
		r.UserID, r.RuleText, r.Category, r.Confidence, string(r.Source),
		ids, r.Active, r.ApplicationsCount, r.RejectionsCount, toVector(r.Embedding),
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
}

func scanRule(row rowScanner, extra ...any) (*Rule, error) {
	r := &Rule{}
	var source string
	var emb *pgvector.Vector
	dest := []any{
		&r.ID, &r.UserID, &r.RuleText, &r.Category, &r.Confidence, &source,
		&r.SourceCorrectionIDs, &r.Active, &r.ApplicationsCount, &r.RejectionsCount,
		&emb, &r.CreatedAt, &r.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	r.Source = RuleSource(source)
	r.Embedding = fromVector(emb)
	return r, nil
}

func (s *PostgresStore) GetRule(ctx context.Context, id uuid.UUID) (*Rule, error) {
	r, err := scanRule(s.pool.QueryRow(ctx, `
		SELECT `+ruleColumns+` FROM agent_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *PostgresStore) ListRules(ctx context.Context, userID string, activeOnly bool) ([]*Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM agent_rules
		WHERE user_id = $1 AND (active OR NOT $2)
		ORDER BY created_at ASC`, userID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SearchSimilarRules ranks the user's active rules by cosine similarity to vec.
// Rules embedded with a different dimension are skipped.
func (s *PostgresStore) SearchSimilarRules(ctx context.Context, userID string, vec []float32, limit int) ([]RuleMatch, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	query := pgvector.NewVector(vec)
	rows, err := s.pool.Query(ctx, `
		SELECT `+ruleColumns+`, 1 - (embedding <=> $2)
		FROM agent_rules
		WHERE user_id = $1 AND active AND embedding IS NOT NULL
			AND vector_dims(embedding) = $3
		ORDER BY embedding <=> $2
		LIMIT $4`, userID, query, len(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("search similar rules: %w", err)
	}
	defer rows.Close()

	var out []RuleMatch
	for rows.Next() {
		var similarity float64
		r, err := scanRule(rows, &similarity)
		if err != nil {
			return nil, err
		}
		out = append(out, RuleMatch{Rule: r, Similarity: similarity})
	}
	return out, rows.Err()
}

// AdjustRuleConfidence applies delta in a single statement. Every expression
// reads the pre-update confidence, so deactivation matches Rule.Adjust.
// Inactive or missing rules are left alone and return nil.
func (s *PostgresStore) AdjustRuleConfidence(ctx context.Context, id uuid.UUID, delta float64, positive bool) (*Rule, error) {
	r, err := scanRule(s.pool.QueryRow(ctx, `
		UPDATE agent_rules SET
			confidence = LEAST(1, GREATEST(0, ROUND((confidence + $2)::numeric, 4)::float8)),
			applications_count = applications_count + CASE WHEN $3 THEN 1 ELSE 0 END,
			rejections_count = rejections_count + CASE WHEN $3 THEN 0 ELSE 1 END,
			active = LEAST(1, GREATEST(0, ROUND((confidence + $2)::numeric, 4)::float8)) >= $4,
			updated_at = now()
		WHERE id = $1 AND active
		RETURNING `+ruleColumns, id, delta, positive, RuleActiveFloor))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// --- Decisions and messages ---

func (s *PostgresStore) CreateDecision(ctx context.Context, d *Decision) error {
	inputJSON, _ := json.Marshal(d.Input)
	outputJSON, _ := json.Marshal(d.Output)
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO agent_decisions (id, user_id, tool_name, decision_type, input, output, reasoning)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		d.ID, d.UserID, d.ToolName, d.DecisionType, inputJSON, outputJSON, d.Reasoning,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (s *PostgresStore) GetDecision(ctx context.Context, id uuid.UUID) (*Decision, error) {
	d := &Decision{}
	var inputJSON, outputJSON []byte
	var feedback, correction sql.NullString
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, tool_name, decision_type, input, output, reasoning,
			owner_feedback, owner_correction, created_at, updated_at
		FROM agent_decisions WHERE id = $1`, id,
	).Scan(
		&d.ID, &d.UserID, &d.ToolName, &d.DecisionType, &inputJSON, &outputJSON, &d.Reasoning,
		&feedback, &correction, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if feedback.Valid {
		d.OwnerFeedback = Feedback(feedback.String)
	}
	if correction.Valid {
		d.OwnerCorrection = correction.String
	}
	if inputJSON != nil {
		_ = json.Unmarshal(inputJSON, &d.Input)
	}
	if outputJSON != nil {
		_ = json.Unmarshal(outputJSON, &d.Output)
	}
	return d, nil
}

func (s *PostgresStore) SetDecisionFeedback(ctx context.Context, id uuid.UUID, feedback Feedback, correction string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE agent_decisions SET
			owner_feedback = $2,
			owner_correction = COALESCE(NULLIF($3, ''), owner_correction),
			updated_at = now()
		WHERE id = $1`, id, string(feedback), correction)
	return err
}

func (s *PostgresStore) CreateMessage(ctx context.Context, m *ChatMessage) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Role == "" {
		m.Role = "assistant"
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (id, user_id, role, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		m.ID, m.UserID, m.Role, m.Content,
	).Scan(&m.CreatedAt)
}

func (s *PostgresStore) GetMessage(ctx context.Context, id uuid.UUID) (*ChatMessage, error) {
	m := &ChatMessage{}
	var feedback sql.NullString
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, role, content, feedback, created_at
		FROM chat_messages WHERE id = $1`, id,
	).Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &feedback, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Feedback = feedback.String
	return m, nil
}

func (s *PostgresStore) SetMessageFeedback(ctx context.Context, id uuid.UUID, feedback string) error {
	_, err := s.pool.Exec(ctx, `UPDATE chat_messages SET feedback = $2 WHERE id = $1`, id, feedback)
	return err
}

// --- Graduation ---

const graduationColumns = `id, user_id, category, consecutive_approvals, total_approvals,
	total_rejections, current_level, graduation_threshold, backoff_multiplier,
	last_approval_at, last_rejection_at, last_suggestion_at, created_at, updated_at`

func scanGraduation(row rowScanner) (*GraduationTracking, error) {
	g := &GraduationTracking{}
	err := row.Scan(
		&g.ID, &g.UserID, &g.Category, &g.ConsecutiveApprovals, &g.TotalApprovals,
		&g.TotalRejections, &g.CurrentLevel, &g.GraduationThreshold, &g.BackoffMultiplier,
		&g.LastApprovalAt, &g.LastRejectionAt, &g.LastSuggestionAt, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *PostgresStore) GetGraduation(ctx context.Context, userID, category string) (*GraduationTracking, error) {
	g, err := scanGraduation(s.pool.QueryRow(ctx, `
		SELECT `+graduationColumns+`
		FROM graduation_tracking WHERE user_id = $1 AND category = $2`, userID, category))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return g, err
}

func (s *PostgresStore) ListGraduations(ctx context.Context, userID string) ([]*GraduationTracking, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+graduationColumns+`
		FROM graduation_tracking WHERE user_id = $1
		ORDER BY category`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*GraduationTracking
	for rows.Next() {
		g, err := scanGraduation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// RecordGraduationFeedback creates or updates the row in one statement so
// concurrent feedback for the same pair cannot lose an increment.
func (s *PostgresStore) RecordGraduationFeedback(ctx context.Context, userID, category string, approved bool, threshold int) (*GraduationTracking, error) {
	if threshold <= 0 {
		threshold = DefaultGraduationThreshold
	}
	g, err := scanGraduation(s.pool.QueryRow(ctx, `
		INSERT INTO graduation_tracking AS g (user_id, category, graduation_threshold,
			consecutive_approvals, total_approvals, total_rejections,
			last_approval_at, last_rejection_at)
		VALUES ($1, $2, $3,
			CASE WHEN $4 THEN 1 ELSE 0 END,
			CASE WHEN $4 THEN 1 ELSE 0 END,
			CASE WHEN $4 THEN 0 ELSE 1 END,
			CASE WHEN $4 THEN now() END,
			CASE WHEN $4 THEN NULL ELSE now() END)
		ON CONFLICT (user_id, category) DO UPDATE SET
			consecutive_approvals = CASE WHEN $4 THEN g.consecutive_approvals + 1 ELSE 0 END,
			total_approvals = g.total_approvals + CASE WHEN $4 THEN 1 ELSE 0 END,
			total_rejections = g.total_rejections + CASE WHEN $4 THEN 0 ELSE 1 END,
			last_approval_at = CASE WHEN $4 THEN now() ELSE g.last_approval_at END,
			last_rejection_at = CASE WHEN $4 THEN g.last_rejection_at ELSE now() END,
			updated_at = now()
		RETURNING `+graduationColumns, userID, category, threshold, approved))
	if err != nil {
		return nil, fmt.Errorf("record graduation feedback: %w", err)
	}

	if approved && g.Eligible() {
		if err := s.pool.QueryRow(ctx, `
			UPDATE graduation_tracking SET last_suggestion_at = now()
			WHERE id = $1 RETURNING last_suggestion_at`, g.ID,
		).Scan(&g.LastSuggestionAt); err != nil {
			return nil, fmt.Errorf("mark graduation suggestion: %w", err)
		}
	}
	return g, nil
}

func (s *PostgresStore) AcceptGraduation(ctx context.Context, userID, category string, threshold int) (*GraduationTracking, error) {
	if threshold <= 0 {
		threshold = DefaultGraduationThreshold
	}
	g, err := scanGraduation(s.pool.QueryRow(ctx, `
		INSERT INTO graduation_tracking AS g (user_id, category, graduation_threshold, current_level)
		VALUES ($1, $2, $3, LEAST($4 + 1, $5))
		ON CONFLICT (user_id, category) DO UPDATE SET
			current_level = LEAST(g.current_level + 1, $5),
			consecutive_approvals = 0,
			backoff_multiplier = 1,
			updated_at = now()
		RETURNING `+graduationColumns, userID, category, threshold, MinLevel, MaxLevel))
	if err != nil {
		return nil, fmt.Errorf("accept graduation: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) DeclineGraduation(ctx context.Context, userID, category string, threshold int) (*GraduationTracking, error) {
	if threshold <= 0 {
		threshold = DefaultGraduationThreshold
	}
	g, err := scanGraduation(s.pool.QueryRow(ctx, `
		INSERT INTO graduation_tracking AS g (user_id, category, graduation_threshold, backoff_multiplier)
		VALUES ($1, $2, $3, 2)
		ON CONFLICT (user_id, category) DO UPDATE SET
			backoff_multiplier = LEAST(g.backoff_multiplier * 2, $4),
			consecutive_approvals = 0,
			updated_at = now()
		RETURNING `+graduationColumns, userID, category, threshold, MaxBackoffMultiplier))
	if err != nil {
		return nil, fmt.Errorf("decline graduation: %w", err)
	}
	return g, nil
}

// --- Autonomy ---

func (s *PostgresStore) GetAutonomySettings(ctx context.Context, userID string) (*AutonomySettings, error) {
	a := &AutonomySettings{UserID: userID}
	var overridesJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT category_overrides, updated_at
		FROM autonomy_settings WHERE user_id = $1`, userID,
	).Scan(&overridesJSON, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.CategoryOverrides = map[string]string{}
	if overridesJSON != nil {
		_ = json.Unmarshal(overridesJSON, &a.CategoryOverrides)
	}
	return a, nil
}

// SetAutonomyOverride merges one key into the override map without
// rewriting the others.
func (s *PostgresStore) SetAutonomyOverride(ctx context.Context, userID, category, level string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO autonomy_settings AS a (user_id, category_overrides)
		VALUES ($1, jsonb_build_object($2::text, $3::text))
		ON CONFLICT (user_id) DO UPDATE SET
			category_overrides = a.category_overrides || EXCLUDED.category_overrides,
			updated_at = now()`, userID, category, level)
	return err
}

// --- Learning artifacts ---

func (s *PostgresStore) UpsertPreference(ctx context.Context, p *Preference) error {
	metadataJSON, _ := json.Marshal(p.Metadata)
	return s.pool.QueryRow(ctx, `
		INSERT INTO user_preferences (user_id, category, key, value, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, category, key) DO UPDATE SET
			value = EXCLUDED.value,
			metadata = EXCLUDED.metadata,
			updated_at = now()
		RETURNING id, created_at, updated_at`,
		p.UserID, p.Category, p.Key, p.Value, metadataJSON,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// RecordToolFailure locks the (user, tool) row for the read-modify-write of
// its JSON accumulators.
func (s *PostgresStore) RecordToolFailure(ctx context.Context, userID, toolName, patternKey string, params []string) (*ToolGenome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO tool_genomes (user_id, tool_name) VALUES ($1, $2)
		ON CONFLICT (user_id, tool_name) DO NOTHING`, userID, toolName); err != nil {
		return nil, fmt.Errorf("ensure tool genome: %w", err)
	}

	g := &ToolGenome{}
	var patternsJSON, insightsJSON []byte
	if err := tx.QueryRow(ctx, `
		SELECT id, user_id, tool_name, failure_patterns, parameter_insights, created_at, updated_at
		FROM tool_genomes WHERE user_id = $1 AND tool_name = $2
		FOR UPDATE`, userID, toolName,
	).Scan(&g.ID, &g.UserID, &g.ToolName, &patternsJSON, &insightsJSON, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, fmt.Errorf("lock tool genome: %w", err)
	}
	_ = json.Unmarshal(patternsJSON, &g.FailurePatterns)
	_ = json.Unmarshal(insightsJSON, &g.ParameterInsights)

	g.RecordFailure(patternKey, params)

	patternsJSON, _ = json.Marshal(g.FailurePatterns)
	insightsJSON, _ = json.Marshal(g.ParameterInsights)
	if err := tx.QueryRow(ctx, `
		UPDATE tool_genomes SET failure_patterns = $2, parameter_insights = $3, updated_at = now()
		WHERE id = $1 RETURNING updated_at`, g.ID, patternsJSON, insightsJSON,
	).Scan(&g.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update tool genome: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tool genome: %w", err)
	}
	return g, nil
}
