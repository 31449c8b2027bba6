package batch

import "strings"

// FailureClass is the recovery category of a failed generation call.
type FailureClass int

// Failure classes, in no particular order; see SubstringClassifier for precedence.
const (
	ClassUnknown FailureClass = iota
	ClassRateLimited
	ClassContentPolicy
	ClassAuthExpired
)

// String returns the class name used in logs and reports.
func (c FailureClass) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassContentPolicy:
		return "content_policy"
	case ClassAuthExpired:
		return "auth_expired"
	default:
		return "unknown"
	}
}

// Classifier maps a raw provider error message to a FailureClass.
type Classifier interface {
	Classify(message string) FailureClass
}

// Marker tables for SubstringClassifier. Providers answer in English or
// Portuguese, so both spellings are listed.
var (
	rateLimitMarkers = []string{
		"throttled",
		"limite de requisições",
		"429",
		"too many requests",
		"limite temporário",
	}
	authMarkers = []string{
		"cookie",
		"autenticar",
		"sessão",
		"session",
		"invalid cookie",
		"expired",
		"refresh session",
	}
	policyMarkers = []string{
		"bloqueado",
		"inseguro",
		"unsafe",
		"policy",
	}
)

// SubstringClassifier classifies by case-insensitive substring match.
// Rate limiting is checked first, then expired credentials, then content
// policy, so a throttling or auth message that also mentions a policy is
// never treated as a policy rejection.
type SubstringClassifier struct{}

// Classify implements Classifier.
func (SubstringClassifier) Classify(message string) FailureClass {
	msg := strings.ToLower(message)
	switch {
	case containsAny(msg, rateLimitMarkers):
		return ClassRateLimited
	case containsAny(msg, authMarkers):
		return ClassAuthExpired
	case containsAny(msg, policyMarkers):
		return ClassContentPolicy
	default:
		return ClassUnknown
	}
}

// Classify runs the default SubstringClassifier.
func Classify(message string) FailureClass {
	return SubstringClassifier{}.Classify(message)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
