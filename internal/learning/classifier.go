package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/Steward/internal/category"
	"github.com/MikeSquared-Agency/Steward/internal/hermes"
	"github.com/MikeSquared-Agency/Steward/internal/store"
)

type ErrorType string

const (
	FactualError   ErrorType = "FACTUAL_ERROR"
	ReasoningError ErrorType = "REASONING_ERROR"
	ToolMisuse     ErrorType = "TOOL_MISUSE"
	ContextMissing ErrorType = "CONTEXT_MISSING"
)

func (t ErrorType) Valid() bool {
	switch t {
	case FactualError, ReasoningError, ToolMisuse, ContextMissing:
		return true
	}
	return false
}

// Artifact types reported by ClassifyAndLearn.
const (
	ArtifactRule           = "rule"
	ArtifactPromptGuidance = "prompt_guidance"
	ArtifactToolGenome     = "tool_genome"
	ArtifactContextPattern = "context_pattern"
)

type ErrorInput struct {
	UserID       string
	ErrorType    ErrorType
	ToolName     string
	ErrorMessage string
	// InputSummary is the tool input: a JSON object, or text.
	InputSummary interface{}
	Category     string
}

type LearnResult struct {
	Learned      bool   `json:"learned"`
	ArtifactType string `json:"artifact_type"`
	ArtifactID   string `json:"artifact_id,omitempty"`
	Duplicate    bool   `json:"duplicate,omitempty"`
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// failureKey buckets an error message by its first failureKeyLen alphanumeric
// characters. Runs of other characters become a single "_" separator, which
// does not count toward the limit.
func failureKey(message string) string {
	var b strings.Builder
	n := 0
	for _, word := range nonAlphanumeric.Split(message, -1) {
		if word == "" {
			continue
		}
		if n == failureKeyLen {
			break
		}
		if rem := failureKeyLen - n; len(word) > rem {
			word = word[:rem]
		}
		if b.Len() > 0 {
			b.WriteByte('_')
		}
		b.WriteString(word)
		n += len(word)
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

func inputObject(v interface{}) map[string]interface{} {
	switch in := v.(type) {
	case map[string]interface{}:
		return in
	case string:
		var m map[string]interface{}
		if json.Unmarshal([]byte(in), &m) == nil {
			return m
		}
	}
	return nil
}

// parameterKeys returns the sorted top-level keys of the tool input.
func parameterKeys(v interface{}) []string {
	m := inputObject(v)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func inputText(v interface{}) string {
	switch in := v.(type) {
	case nil:
		return ""
	case string:
		return truncate(in, contextSnippetLen)
	default:
		raw, _ := json.Marshal(in)
		return truncate(string(raw), contextSnippetLen)
	}
}

func guidancePrompt(in ErrorInput) string {
	var ask string
	switch in.ErrorType {
	case FactualError:
		ask = "Write one short imperative rule that prevents this factual mistake."
	case ReasoningError:
		ask = "Write one short imperative instruction that corrects the reasoning behind this mistake."
	default:
		ask = "Write one short imperative instruction naming the context to gather before using this tool."
	}
	return fmt.Sprintf("A property-management assistant hit a %s while using the tool %q.\nError: %s\nInput: %s\n\n%s Reply with the sentence only.",
		in.ErrorType, in.ToolName, in.ErrorMessage, inputText(in.InputSummary), ask)
}

func templateGuidance(in ErrorInput) string {
	msg := truncate(in.ErrorMessage, 120)
	switch in.ErrorType {
	case FactualError:
		return fmt.Sprintf("When using %s, verify facts against stored records before acting: %s", in.ToolName, msg)
	case ReasoningError:
		return fmt.Sprintf("When using %s, re-check the reasoning before acting: %s", in.ToolName, msg)
	default:
		return fmt.Sprintf("Before using %s, gather the missing context: %s", in.ToolName, msg)
	}
}

// guidanceText asks the guidance model, falling back to a fixed template.
func (p *Pipeline) guidanceText(ctx context.Context, in ErrorInput) string {
	if p.guidance == nil {
		degraded.WithLabelValues("guidance_llm").Inc()
		return templateGuidance(in)
	}
	out, err := p.guidance.Complete(ctx, guidancePrompt(in))
	if err != nil {
		degraded.WithLabelValues("guidance_llm").Inc()
		p.logger.Warn("guidance synthesis failed, using template",
			"user_id", in.UserID, "error_type", in.ErrorType, "error", err)
		return templateGuidance(in)
	}
	if text := cleanSentence(out); text != "" {
		return text
	}
	return templateGuidance(in)
}

// ClassifyAndLearn routes one execution error to the artifact its kind feeds.
func (p *Pipeline) ClassifyAndLearn(ctx context.Context, in ErrorInput) (*LearnResult, error) {
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.ToolName) == "" {
		return nil, fmt.Errorf("%w: user_id and tool_name required", ErrInvalidInput)
	}
	if !in.ErrorType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidErrorType, in.ErrorType)
	}
	if in.Category != "" && !category.Valid(in.Category) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, in.Category)
	}
	if in.Category == "" {
		in.Category = category.Classify(in.ToolName + " " + in.ErrorMessage)
	}

	var (
		res *LearnResult
		err error
	)
	switch in.ErrorType {
	case FactualError:
		res, err = p.learnFactual(ctx, in)
	case ReasoningError:
		res, err = p.learnPreference(ctx, in, store.PreferencePromptGuidance,
			fmt.Sprintf("reasoning_%s_%s", in.Category, in.ToolName), ArtifactPromptGuidance)
	case ToolMisuse:
		res, err = p.learnToolMisuse(ctx, in)
	case ContextMissing:
		res, err = p.learnPreference(ctx, in, store.PreferenceContextPatterns,
			fmt.Sprintf("missing_context_%s", in.ToolName), ArtifactContextPattern)
	}
	if err != nil {
		return nil, err
	}

	if res.Learned {
		artifacts.WithLabelValues(res.ArtifactType).Inc()
		hermes.PublishEvent(p.events, p.logger, hermes.SubjectArtifact, hermes.ArtifactEvent{
			UserID:       in.UserID,
			ErrorType:    string(in.ErrorType),
			ToolName:     in.ToolName,
			ArtifactType: res.ArtifactType,
			ArtifactID:   res.ArtifactID,
			Timestamp:    time.Now().UTC(),
		})
	}
	return res, nil
}

func (p *Pipeline) learnFactual(ctx context.Context, in ErrorInput) (*LearnResult, error) {
	text := p.guidanceText(ctx, in)

	vec, dup, err := p.checkDuplicate(ctx, in.UserID, text)
	if err != nil {
		return nil, err
	}
	if dup {
		return &LearnResult{ArtifactType: ArtifactRule, Duplicate: true}, nil
	}

	rule := &store.Rule{
		UserID:     in.UserID,
		RuleText:   text,
		Category:   in.Category,
		Confidence: errorRuleConfidence,
		Source:     store.SourceErrorClassification,
		Embedding:  vec,
	}
	if err := p.createRule(ctx, rule); err != nil {
		return nil, err
	}
	return &LearnResult{Learned: true, ArtifactType: ArtifactRule, ArtifactID: rule.ID.String()}, nil
}

func (p *Pipeline) learnPreference(ctx context.Context, in ErrorInput, prefCategory, key, artifact string) (*LearnResult, error) {
	pref := &store.Preference{
		UserID:   in.UserID,
		Category: prefCategory,
		Key:      key,
		Value:    p.guidanceText(ctx, in),
		Metadata: map[string]interface{}{
			"tool_name":     in.ToolName,
			"error_type":    string(in.ErrorType),
			"error_message": truncate(in.ErrorMessage, contextSnippetLen),
		},
	}
	if err := p.store.UpsertPreference(ctx, pref); err != nil {
		return nil, fmt.Errorf("upsert preference %s: %w", key, err)
	}
	p.logger.Info("preference learned", "user_id", in.UserID, "category", prefCategory, "key", key)
	return &LearnResult{Learned: true, ArtifactType: artifact, ArtifactID: pref.ID.String()}, nil
}

func (p *Pipeline) learnToolMisuse(ctx context.Context, in ErrorInput) (*LearnResult, error) {
	g, err := p.store.RecordToolFailure(ctx, in.UserID, in.ToolName, failureKey(in.ErrorMessage), parameterKeys(in.InputSummary))
	if err != nil {
		return nil, fmt.Errorf("record tool failure: %w", err)
	}
	p.logger.Info("tool failure recorded", "user_id", in.UserID, "tool", in.ToolName)
	return &LearnResult{Learned: true, ArtifactType: ArtifactToolGenome, ArtifactID: g.ID.String()}, nil
}
