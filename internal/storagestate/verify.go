package storagestate

import (
	"strings"
	"time"
)

// verificationAllowlist maps a site name to the cookie domain substring used
// to attribute a cookie to that site, and the set of cookie names that must
// all be present (and unexpired) for the site to verify. Sites with no
// required-cookie entry (the majority) verify on presence of any unexpired
// cookie belonging to that domain.
var verificationAllowlist = map[string]struct {
	domainContains string
	required       []string
}{
	"google":    {domainContains: "google.com", required: []string{"SID", "SIDCC", "OSID"}},
	"linkedin":  {domainContains: "linkedin.com"},
	"instagram": {domainContains: "instagram.com"},
	"facebook":  {domainContains: "facebook.com"},
	"tiktok":    {domainContains: "tiktok.com"},
}

// Verify implements spec.md §4.2's auto-verification: for each allowlisted
// site, the blob verifies for that site when the site's required cookies
// (or, absent a required set, any cookie) are present and unexpired.
func Verify(cookies []Cookie, now time.Time) map[string]bool {
	result := make(map[string]bool, len(verificationAllowlist))

	for site, rule := range verificationAllowlist {
		siteCookies := make(map[string]Cookie)
		for _, c := range cookies {
			if strings.Contains(c.Domain, rule.domainContains) && (c.Expires.IsZero() || c.Expires.After(now)) {
				siteCookies[c.Name] = c
			}
		}

		if len(rule.required) > 0 {
			verified := true
			for _, name := range rule.required {
				if _, ok := siteCookies[name]; !ok {
					verified = false
					break
				}
			}
			result[site] = verified
			continue
		}

		result[site] = len(siteCookies) > 0
	}

	return result
}

// AnyVerified reports whether at least one site verified, the condition
// under which a record's status becomes "verified" (spec.md Invariant I-2).
func AnyVerified(verified map[string]bool) bool {
	for _, ok := range verified {
		if ok {
			return true
		}
	}
	return false
}
