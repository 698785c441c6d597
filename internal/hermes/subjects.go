package hermes

const (
	SubjectRuleCreated     = "steward.learning.rule.created"
	SubjectRuleDeactivated = "steward.learning.rule.deactivated"
	SubjectArtifact        = "steward.learning.artifact"

	SubjectGraduationEligible = "steward.graduation.eligible"
	SubjectGraduationAccepted = "steward.graduation.accepted"
	SubjectGraduationDeclined = "steward.graduation.declined"

	// SubjectRequests matches every learning request published for ingress.
	SubjectRequests = "steward.request.>"

	StreamName   = "STEWARD_EVENTS"
	StreamMaxAge = "720h" // 30 days
)

// SubjectRequest is the ingress subject for one action, e.g. steward.request.process_feedback.
func SubjectRequest(action string) string { return "steward.request." + action }
