// Package category maps free text onto the fixed set of task categories used
// to scope pattern detection and autonomy graduation.
package category

import "regexp"

const (
	Maintenance     = "maintenance"
	Financial       = "financial"
	Scheduling      = "scheduling"
	TenantRelations = "tenant_relations"
	Compliance      = "compliance"
	Communication   = "communication"
	General         = "general"
)

// All lists every category in match order, followed by General.
var All = []string{Maintenance, Financial, Scheduling, TenantRelations, Compliance, Communication, General}

type categoryRule struct {
	category string
	regex    *regexp.Regexp
}

// keywords compiles one category's matcher. Stems are anchored at the word
// start only, so "plumb" matches "plumbing". Words are short enough to appear
// inside unrelated words ("fee" in "feedback", "law" in "lawn"), so they must
// match whole, and each inflection is listed explicitly.
func keywords(stems, words string) *regexp.Regexp {
	if words == "" {
		return regexp.MustCompile(`(?i)\b(?:` + stems + `)`)
	}
	return regexp.MustCompile(`(?i)\b(?:(?:` + stems + `)|(?:` + words + `)\b)`)
}

// Communication is last among the specific categories: its keywords are broad.
var rules = []categoryRule{
	{Maintenance, keywords(
		`repair|maint|plumb|leak|hvac|furnace|boiler|air\s*condition|appliance|broken|contractor|handyman|electric|roof|mold|paint|clog|drain|toilet|faucet|water\s*heater|work\s*order|vendor`,
		`fix|fixes|fixed|fixing|fixtures?|heat|heating|heaters?|pests?`)},
	{Financial, keywords(
		`rent|payment|invoice|expense|budget|deposit|mortgage|accounting|ledger|refund|balance|income|insurance\s*premium`,
		`pay|pays|paid|paying|payable|payout|payroll|fees?|tax|taxes|taxed|bills?|billed|billing|costs?|costly|prices?|pricing`)},
	{Scheduling, keywords(
		`schedul|appointment|calendar|showing|viewing|reschedul|availab|remind|meeting|visit|inspection\s*date|move[-\s]?in\s*date|move[-\s]?out\s*date`,
		`books?|booked|booking`)},
	{TenantRelations, keywords(
		`tenant|lease|renew|complaint|dispute|neighbo|noise|evict|move[-\s]?in|move[-\s]?out|roommate|occupant|applicant|screening`,
		"")},
	{Compliance, keywords(
		`complian|regulat|permit|code\s*violation|legal|ordinance|licens|inspect|safety|smoke\s*detector|carbon\s*monoxide|fair\s*housing|disclos|notice\s*period|habitab`,
		`laws?|lawful|lawsuits?`)},
	{Communication, keywords(
		`email|message|notif|announce|contact|greeting|respond`,
		`texts?|texted|texting|sms|calls?|called|calling|phones?|phoned|letters?|reply|replies|replied|replying|write|writes|writing|written|send|sends|sending|sent|tones?`)},
}

// Classify returns the first category whose keywords appear in text, or General.
func Classify(text string) string {
	for _, r := range rules {
		if r.regex.MatchString(text) {
			return r.category
		}
	}
	return General
}

// Valid reports whether c is a known category.
func Valid(c string) bool {
	for _, known := range All {
		if c == known {
			return true
		}
	}
	return false
}
