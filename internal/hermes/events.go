package hermes

import "time"

type RuleCreatedEvent struct {
	RuleID              string    `json:"rule_id"`
	UserID              string    `json:"user_id"`
	Category            string    `json:"category"`
	Source              string    `json:"source"`
	RuleText            string    `json:"rule_text"`
	Confidence          float64   `json:"confidence"`
	SourceCorrectionIDs []string  `json:"source_correction_ids,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

type RuleDeactivatedEvent struct {
	RuleID     string    `json:"rule_id"`
	UserID     string    `json:"user_id"`
	Confidence float64   `json:"confidence"`
	Signal     string    `json:"signal"`
	Timestamp  time.Time `json:"timestamp"`
}

// ArtifactEvent reports what the error classifier learned from one execution error.
type ArtifactEvent struct {
	UserID       string    `json:"user_id"`
	ErrorType    string    `json:"error_type"`
	ToolName     string    `json:"tool_name"`
	ArtifactType string    `json:"artifact_type"`
	ArtifactID   string    `json:"artifact_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type GraduationEvent struct {
	UserID               string    `json:"user_id"`
	Category             string    `json:"category"`
	CurrentLevel         int       `json:"current_level"`
	AutonomyLevel        string    `json:"autonomy_level,omitempty"`
	ConsecutiveApprovals int       `json:"consecutive_approvals"`
	RequiredApprovals    int       `json:"required_approvals"`
	BackoffMultiplier    int       `json:"backoff_multiplier"`
	Timestamp            time.Time `json:"timestamp"`
}
