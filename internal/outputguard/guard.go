// Package outputguard redacts sensitive data from assistant responses and
// detects bulk data leaks. Redaction placeholders carry no digits or @, so
// sanitizing already-sanitized text changes nothing.
package outputguard

import (
	"regexp"
	"strings"

	"github.com/clavrr/guardrail/internal/audit"
	"github.com/clavrr/guardrail/internal/logger"
	"github.com/clavrr/guardrail/internal/metrics"
)

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// rule is one compiled redaction. Rules run in declared order; paranoid
// rules only apply when the guard is configured paranoid.
type rule struct {
	name        string
	placeholder string
	paranoid    bool
	re          *regexp.Regexp
}

var redactionRules = []rule{
	{"credit_card", "[REDACTED_CC]", false,
		regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{3,4}\b`)},
	{"gov_id", "[REDACTED_ID]", false,
		regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"api_key", "[REDACTED_API_KEY]", false,
		regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}\b`)},
	{"api_key", "[REDACTED_API_KEY]", false,
		regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"api_key", "[REDACTED_API_KEY]", false,
		regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]{20,}`)},
	{"api_key", "[REDACTED_API_KEY]", false,
		regexp.MustCompile(`(?i)\b(?:api[_-]?key|apikey|access[_-]?token|secret[_-]?key)["']?\s*[:=]\s*["']?[A-Za-z0-9_/+-]{8,}["']?`)},
	{"email", "[REDACTED_EMAIL]", true, emailPattern},
	{"phone", "[REDACTED_PHONE]", true,
		regexp.MustCompile(`(?:\+?\d{1,2}[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`)},
}

// Config holds output guard settings.
type Config struct {
	// Paranoid additionally redacts emails and phone numbers.
	Paranoid bool
	// LeakSizeThreshold is the minimum response length for a bulk-leak
	// verdict.
	LeakSizeThreshold int
	// LeakEmailThreshold is the minimum count of distinct email addresses
	// for a bulk-leak verdict.
	LeakEmailThreshold int
}

// Guard sanitizes responses and scans for bulk leaks.
type Guard struct {
	cfg   Config
	audit *audit.Manager
	log   logger.Logger
}

// New creates an output guard.
func New(cfg Config, auditLog *audit.Manager, log logger.Logger) *Guard {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.LeakSizeThreshold <= 0 {
		cfg.LeakSizeThreshold = 5000
	}
	if cfg.LeakEmailThreshold <= 0 {
		cfg.LeakEmailThreshold = 10
	}
	return &Guard{cfg: cfg, audit: auditLog, log: log}
}

// Sanitize applies every redaction rule in order and returns the cleaned
// text. Clean input comes back unchanged. When anything was redacted, one
// summary audit event records the rule names and counts.
func (g *Guard) Sanitize(text, userID string) string {
	counts := make(map[string]int)
	total := 0

	for _, r := range redactionRules {
		if r.paranoid && !g.cfg.Paranoid {
			continue
		}
		matches := len(r.re.FindAllString(text, -1))
		if matches == 0 {
			continue
		}
		text = r.re.ReplaceAllString(text, r.placeholder)
		counts[r.name] += matches
		total += matches
		metrics.OutputRedactionsTotal.WithLabelValues(r.name).Add(float64(matches))
	}

	if total > 0 {
		details := map[string]any{"total": total}
		for name, n := range counts {
			details["rule_"+name] = n
		}
		g.audit.LogEvent(audit.EventOutputRedaction, audit.StatusRedacted, audit.SeverityWarning, userID, details)
		g.log.Info("response sanitized",
			logger.String("user_id", userID),
			logger.Int("redactions", total))
	}
	return text
}

// ScanForLeaks reports whether a response looks like a bulk data dump. Both
// gates must trip: the response exceeds the size threshold AND contains more
// distinct email addresses than the email threshold. A positive scan is
// audit-logged; the caller substitutes the block message.
func (g *Guard) ScanForLeaks(text, userID string) bool {
	if len(text) <= g.cfg.LeakSizeThreshold {
		metrics.LeakScansTotal.WithLabelValues("clean").Inc()
		return false
	}

	distinct := make(map[string]struct{})
	for _, m := range emailPattern.FindAllString(text, -1) {
		distinct[strings.ToLower(m)] = struct{}{}
	}
	if len(distinct) <= g.cfg.LeakEmailThreshold {
		metrics.LeakScansTotal.WithLabelValues("clean").Inc()
		return false
	}

	metrics.LeakScansTotal.WithLabelValues("leak").Inc()
	g.audit.LogLeakPrevention("bulk_email", len(distinct), userID)
	g.log.Warn("bulk data leak detected",
		logger.String("user_id", userID),
		logger.Int("distinct_emails", len(distinct)),
		logger.Int("response_bytes", len(text)))
	return true
}
