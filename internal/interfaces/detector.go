package interfaces

// ChallengeDetector decides whether a post-login page is a second-factor
// challenge. Kept pluggable so the matching rules can be tuned and tested
// independently of the login state machine.
//
// The default implementation matches deliberately wide patterns: a false
// negative strands a user on an undetected challenge page, while a false
// positive only causes a spurious challenge prompt.
type ChallengeDetector interface {
	// LooksLikeChallenge inspects the current URL and visible page text
	LooksLikeChallenge(url, text string) bool
}
