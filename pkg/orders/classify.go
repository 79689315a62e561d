package orders

import "strings"

type StatusBucket string

const (
	Completed  StatusBucket = "Completed"
	Processing StatusBucket = "Processing"
	Cancelled  StatusBucket = "Cancelled"
	Other      StatusBucket = "Other"
)

// Buckets lists every bucket in display order.
var Buckets = []StatusBucket{Completed, Processing, Cancelled, Other}

// Rule assigns Bucket to any status containing one of Keywords.
type Rule struct {
	Bucket   StatusBucket
	Keywords []string
}

// rules are evaluated top-down and the first match wins, so a cancelled
// order is never counted as in progress.
var rules = []Rule{
	{Bucket: Completed, Keywords: []string{"COMPLET", "DONE"}},
	{Bucket: Cancelled, Keywords: []string{"CANCEL"}},
	{Bucket: Processing, Keywords: []string{"PROGRESS", "UNDER", "WAITING", "ASSIGNED", "LOADING", "PICK UP", "AT ", "EXPORTED"}},
}

// Rules returns a copy of the classification table in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		out[i] = Rule{Bucket: r.Bucket, Keywords: append([]string(nil), r.Keywords...)}
	}
	return out
}

func Classify(status string) StatusBucket {
	s := strings.ToUpper(strings.TrimSpace(status))
	for _, r := range rules {
		if r.matches(s) {
			return r.Bucket
		}
	}
	return Other
}

// MatchesKeywords reports whether status contains any keyword of the bucket's
// rule, regardless of precedence. Other has no keywords.
func MatchesKeywords(status string, bucket StatusBucket) bool {
	s := strings.ToUpper(strings.TrimSpace(status))
	for _, r := range rules {
		if r.Bucket == bucket {
			return r.matches(s)
		}
	}
	return false
}

func (r Rule) matches(upper string) bool {
	for _, kw := range r.Keywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}
