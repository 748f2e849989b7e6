package feedback

import "regexp"

// ComplaintCategory is the classification of free-text complaint feedback.
type ComplaintCategory string

const (
	ComplaintAccuracy              ComplaintCategory = "accuracy"
	ComplaintResponseTime          ComplaintCategory = "response_time"
	ComplaintCulturalInsensitivity ComplaintCategory = "cultural_insensitivity"
	ComplaintEmotionalLack         ComplaintCategory = "emotional_lack"
	ComplaintNone                  ComplaintCategory = ""
)

// complaintRule pairs a compiled regex with the category it detects.
// Rules are evaluated in order; the first match wins.
type complaintRule struct {
	regex    *regexp.Regexp
	category ComplaintCategory
}

// ComplaintClassifier classifies complaint text using ordered regex
// rules. Thread-safe: all patterns are compiled at construction time.
type ComplaintClassifier struct {
	rules []*complaintRule
}

// NewComplaintClassifier creates a classifier with the built-in rules.
func NewComplaintClassifier() *ComplaintClassifier {
	return &ComplaintClassifier{rules: buildComplaintRules()}
}

// buildComplaintRules returns ordered regex rules for complaint
// classification. More specific patterns are listed first.
func buildComplaintRules() []*complaintRule {
	return []*complaintRule{
		{
			regex:    regexp.MustCompile(`(?i)\b(?:wrong|incorrect|inaccurate|mistake|false|made\s+up|hallucinat)`),
			category: ComplaintAccuracy,
		},
		{
			regex:    regexp.MustCompile(`(?i)\b(?:slow|too\s+long|lag(?:gy|ging)?|wait(?:ed|ing)?|took\s+forever|delay)`),
			category: ComplaintResponseTime,
		},
		{
			regex:    regexp.MustCompile(`(?i)\b(?:insensitive|offensive|disrespect|cultur(?:al|e)|stereotyp|inappropriate\s+for\s+my)`),
			category: ComplaintCulturalInsensitivity,
		},
		{
			regex:    regexp.MustCompile(`(?i)\b(?:cold|robotic|impersonal|no\s+empathy|unfeeling|didn'?t\s+care|emotionless|tone[\s-]?deaf)`),
			category: ComplaintEmotionalLack,
		},
	}
}

// Classify returns the first matching category, or ComplaintNone when no
// rule matches.
func (c *ComplaintClassifier) Classify(text string) ComplaintCategory {
	for _, rule := range c.rules {
		if rule.regex.MatchString(text) {
			return rule.category
		}
	}
	return ComplaintNone
}
