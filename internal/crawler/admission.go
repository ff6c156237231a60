package crawler

import (
	"net/url"
	"strings"
)

// Admission decides whether a discovered link may join the frontier.
type Admission struct {
	allowedDomain  string
	denySubstrings []string
	blocked        *hostBlocklist
}

// NewAdmission builds the rule set for one seed. The allowed domain is a
// substring test against the whole lowercased URL.
func NewAdmission(allowedDomain string, denySubstrings, blockedHosts []string) *Admission {
	deny := make([]string, 0, len(denySubstrings))
	for _, s := range denySubstrings {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			deny = append(deny, s)
		}
	}
	return &Admission{
		allowedDomain:  strings.ToLower(strings.TrimSpace(allowedDomain)),
		denySubstrings: deny,
		blocked:        newHostBlocklist(blockedHosts),
	}
}

// Admit reports whether rawURL passes the scheme, domain, denylist, and host rules.
func (a *Admission) Admit(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	lower := strings.ToLower(rawURL)
	if a.allowedDomain != "" && !strings.Contains(lower, a.allowedDomain) {
		return false
	}
	for _, s := range a.denySubstrings {
		if strings.Contains(lower, s) {
			return false
		}
	}
	return !a.blocked.Blocked(u.Hostname())
}
