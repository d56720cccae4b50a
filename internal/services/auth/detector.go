package auth

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// defaultChallengeURLFragments are URL substrings that mark a challenge page.
// Deliberately wide: a false negative strands the user on an undetected
// challenge page, a false positive only prompts for a code that isn't needed.
var defaultChallengeURLFragments = []string{
	"verify",
	"two-factor",
	"twofactor",
	"2fa",
	"mfa",
	"challenge",
	"authentication",
	"otp",
	"second-factor",
	"stepup",
}

// defaultChallengeTextMarkers are page-text substrings that mark a challenge page
var defaultChallengeTextMarkers = []string{
	"verification code",
	"verify your identity",
	"verify it's you",
	"two-factor",
	"two factor",
	"security code",
	"authentication code",
	"enter the code",
	"enter your code",
	"one-time code",
	"one-time password",
	"check your phone",
	"check your email for a code",
	"multi-factor",
}

// PatternDetector implements challenge detection by substring matching on the
// post-login URL and visible page text.
type PatternDetector struct {
	urlFragments []string
	textMarkers  []string
}

// NewPatternDetector creates a detector with the default pattern set plus any
// site-specific additions from configuration.
func NewPatternDetector(extraURLFragments, extraTextMarkers []string) *PatternDetector {
	d := &PatternDetector{
		urlFragments: append([]string{}, defaultChallengeURLFragments...),
		textMarkers:  append([]string{}, defaultChallengeTextMarkers...),
	}
	for _, f := range extraURLFragments {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			d.urlFragments = append(d.urlFragments, f)
		}
	}
	for _, m := range extraTextMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			d.textMarkers = append(d.textMarkers, m)
		}
	}
	return d
}

// LooksLikeChallenge inspects the URL and page text for challenge markers.
// Raw HTML is reduced to its visible text before matching so markup never
// triggers a match.
func (d *PatternDetector) LooksLikeChallenge(url, text string) bool {
	loweredURL := strings.ToLower(url)
	for _, fragment := range d.urlFragments {
		if strings.Contains(loweredURL, fragment) {
			return true
		}
	}

	lowered := strings.ToLower(visibleText(text))
	for _, marker := range d.textMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}

	return false
}

// visibleText strips markup when given HTML and returns the input unchanged
// otherwise. Script and style bodies never count as page text.
func visibleText(text string) string {
	if !strings.Contains(text, "<") {
		return text
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return text
	}
	doc.Find("script, style, noscript").Remove()
	return doc.Text()
}
