package learning

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Steward/internal/category"
	"github.com/MikeSquared-Agency/Steward/internal/embedding"
	"github.com/MikeSquared-Agency/Steward/internal/store"
)

// PatternOutcome distinguishes "nothing to learn yet" results from each other.
type PatternOutcome string

const (
	OutcomeNoPattern       PatternOutcome = "no_pattern"
	OutcomeSynthesisFailed PatternOutcome = "synthesis_failed"
	OutcomeDuplicate       PatternOutcome = "duplicate"
	OutcomeRuleCreated     PatternOutcome = "rule_created"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// tokenize returns the distinct lowercase tokens of at least minLen characters.
func tokenize(text string, minLen int) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if len(tok) >= minLen {
			out[tok] = struct{}{}
		}
	}
	return out
}

func sharedTokens(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			n++
		}
	}
	return n
}

// wordOverlap is |A∩B| / max(|A|,|B|) over tokens longer than three characters.
func wordOverlap(a, b string) float64 {
	ta, tb := tokenize(a, 4), tokenize(b, 4)
	denom := len(ta)
	if len(tb) > denom {
		denom = len(tb)
	}
	if denom == 0 {
		return 0
	}
	return float64(sharedTokens(ta, tb)) / float64(denom)
}

func correctionCategory(c *store.Correction) string {
	if c.Category != "" {
		return c.Category
	}
	return category.Classify(c.Text())
}

// cluster returns target plus every candidate similar to it. Embeddings are
// tried first; word overlap is used when the target has no vector or the
// vectors find nothing.
func cluster(target *store.Correction, candidates []*store.Correction) []*store.Correction {
	var similar []*store.Correction
	if len(target.Embedding) > 0 {
		for _, c := range candidates {
			if len(c.Embedding) == 0 {
				continue
			}
			if embedding.CosineSimilarity(target.Embedding, c.Embedding) > embeddingMatchFloor {
				similar = append(similar, c)
			}
		}
	}
	if len(similar) == 0 {
		targetText := target.Text()
		for _, c := range candidates {
			if wordOverlap(targetText, c.Text()) > wordOverlapFloor {
				similar = append(similar, c)
			}
		}
	}
	return append([]*store.Correction{target}, similar...)
}

// detectPattern looks for enough similar unmatched corrections in the
// target's category to justify a rule, and marks the cluster matched when
// one is created.
func (p *Pipeline) detectPattern(ctx context.Context, target *store.Correction) (PatternOutcome, *store.Rule, error) {
	pool, err := p.store.ListUnmatchedCorrections(ctx, target.UserID, candidatePoolSize)
	if err != nil {
		return "", nil, fmt.Errorf("list unmatched corrections: %w", err)
	}
	if len(pool) < minClusterSize {
		return OutcomeNoPattern, nil, nil
	}

	cat := correctionCategory(target)
	var candidates []*store.Correction
	sameCategory := 0
	for _, c := range pool {
		if correctionCategory(c) != cat {
			continue
		}
		sameCategory++
		if c.ID != target.ID {
			candidates = append(candidates, c)
		}
	}
	if sameCategory < minClusterSize {
		return OutcomeNoPattern, nil, nil
	}

	members := cluster(target, candidates)
	if len(members) < minClusterSize {
		return OutcomeNoPattern, nil, nil
	}

	outcome, rule, err := p.synthesizeRule(ctx, target.UserID, cat, members)
	if err != nil {
		return "", nil, err
	}
	if outcome != OutcomeRuleCreated {
		return outcome, nil, nil
	}

	ids := make([]uuid.UUID, len(members))
	for i, c := range members {
		ids[i] = c.ID
	}
	if err := p.store.MarkCorrectionsMatched(ctx, ids); err != nil {
		return "", nil, fmt.Errorf("mark corrections matched: %w", err)
	}
	return OutcomeRuleCreated, rule, nil
}
