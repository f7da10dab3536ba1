package inputguard

import "regexp"

// pattern is one deterministic injection signature. Categories group
// signatures for reasons and audit details; matching is case-insensitive.
type pattern struct {
	category string
	re       *regexp.Regexp
}

// Pattern categories.
const (
	categoryInstructionOverride = "instruction_override"
	categoryRoleHijack          = "role_hijack"
	categoryPromptExfiltration  = "prompt_exfiltration"
	categorySafetyBypass        = "safety_bypass"
	categoryEncodingTrick       = "encoding_trick"
)

// jailbreakPatterns is evaluated in order; the first hit decides. The list
// stays narrow, catching well-known jailbreak phrasings and leaving gray
// areas to the classifier stage.
var jailbreakPatterns = []pattern{
	{categoryInstructionOverride, regexp.MustCompile(`(?i)ignore\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|directives|rules)`)},
	{categoryInstructionOverride, regexp.MustCompile(`(?i)disregard\s+(all\s+|any\s+|your\s+)?(previous|prior|your)\s+(instructions|prompts|programming|training|rules)`)},
	{categoryInstructionOverride, regexp.MustCompile(`(?i)forget\s+(everything\s+(you\s+were|you've\s+been)\s+told|all\s+(previous|prior)\s+(instructions|prompts))`)},
	{categoryInstructionOverride, regexp.MustCompile(`(?i)(new|updated)\s+instructions\s+(override|supersede|replace)\s+`)},

	{categoryRoleHijack, regexp.MustCompile(`(?i)you\s+are\s+now\s+(a\s+|an\s+)?(dan\b|jailbroken|unrestricted|unfiltered)`)},
	{categoryRoleHijack, regexp.MustCompile(`(?i)\bdo\s+anything\s+now\b`)},
	{categoryRoleHijack, regexp.MustCompile(`(?i)(enable|enter|activate|switch\s+to)\s+(developer|god|dan|jailbreak)\s+mode`)},
	{categoryRoleHijack, regexp.MustCompile(`(?i)pretend\s+(that\s+)?(you\s+are|to\s+be)\s+(not\s+an?\s+ai|unrestricted|above\s+the\s+rules)`)},
	{categoryRoleHijack, regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+have|though\s+you\s+have)\s+no\s+(restrictions|limits|filters)`)},

	{categoryPromptExfiltration, regexp.MustCompile(`(?i)(reveal|show|print|display|output|repeat|leak)\s+(me\s+)?(your|the)\s+(system\s+prompt|initial\s+prompt|hidden\s+prompt|original\s+instructions|instructions)`)},
	{categoryPromptExfiltration, regexp.MustCompile(`(?i)what\s+(is|are|were)\s+your\s+(system\s+prompt|initial\s+instructions|original\s+instructions)`)},
	{categoryPromptExfiltration, regexp.MustCompile(`(?i)(everything|text)\s+(above|before)\s+this\s+(message|line|point)`)},

	{categorySafetyBypass, regexp.MustCompile(`(?i)(bypass|disable|turn\s+off|remove|circumvent)\s+(your\s+|the\s+)?(safety|content|ethical|moderation)\s+(filters?|guidelines|restrictions|checks)`)},
	{categorySafetyBypass, regexp.MustCompile(`(?i)without\s+(any\s+)?(safety|ethical)\s+(checks|restrictions|considerations)`)},

	{categoryEncodingTrick, regexp.MustCompile(`(?i)(decode|execute|run|interpret)\s+(this\s+|the\s+following\s+)?(base64|rot13|hex)\b`)},
	{categoryEncodingTrick, regexp.MustCompile(`(?i)(answer|respond|reply)\s+(only\s+)?in\s+(base64|rot13|leetspeak)`)},
}

// matchPattern returns the category of the first matching signature.
func matchPattern(query string) (string, bool) {
	for _, p := range jailbreakPatterns {
		if p.re.MatchString(query) {
			return p.category, true
		}
	}
	return "", false
}
