package fetcher

import "strings"

// paywallDomains block known paywalled publishers; a match short-circuits
// fetch() with ErrorKindPaywall before any HTTP request is made.
var paywallDomains = map[string]bool{
	"medium.com":           true,
	"nytimes.com":          true,
	"wsj.com":              true,
	"ft.com":                true,
	"economist.com":        true,
	"bloomberg.com":        true,
	"washingtonpost.com":   true,
	"theathletic.com":      true,
	"businessinsider.com":  true,
	"seekingalpha.com":     true,
}

// jsRequiredDomains render their content client-side; a static extractor
// can never see real content there.
var jsRequiredDomains = map[string]bool{
	"twitter.com":  true,
	"x.com":        true,
	"instagram.com": true,
	"facebook.com": true,
	"linkedin.com": true,
}

// registrableDomain lowercases and strips a leading "www." from a host.
func registrableDomain(host string) string {
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}

func matchesDomainSet(host string, set map[string]bool) bool {
	d := registrableDomain(host)
	if set[d] {
		return true
	}
	for domain := range set {
		if strings.HasSuffix(d, "."+domain) {
			return true
		}
	}
	return false
}

func isPaywallDomain(host string) bool { return matchesDomainSet(host, paywallDomains) }
func isJSRequiredDomain(host string) bool { return matchesDomainSet(host, jsRequiredDomains) }
