// Package bypass recognizes bot-protection challenge pages. A challenged
// listing page carries no results and must be treated as a failed load by
// the scrape state machine, not as an empty listing.
package bypass

import (
	"bytes"
	"net/http"
	"strings"
)

// Detection identifies which vendor challenged the request, if any.
type Detection struct {
	Challenged bool
	Source     string // e.g. "Cloudflare", "Akamai", "DataDome", "PerimeterX"
}

// signature describes one vendor's challenge fingerprint. A page matches
// when its status is in statuses and any of the server hint, header keys,
// or body markers are present.
type signature struct {
	source     string
	statuses   []int
	serverHint string
	headerKeys []string
	bodyMarks  []string
}

var signatures = []signature{
	{
		source:     "Cloudflare",
		statuses:   []int{http.StatusForbidden, http.StatusServiceUnavailable},
		serverHint: "cloudflare",
		bodyMarks: []string{
			"cf-browser-verification",
			"cf-turnstile",
			"cloudflare-nginx",
			"Attention Required! | Cloudflare",
		},
	},
	{
		source:     "Akamai",
		statuses:   []int{http.StatusForbidden},
		serverHint: "akamai",
		bodyMarks:  []string{"Reference #"},
	},
	{
		source:     "DataDome",
		statuses:   []int{http.StatusForbidden},
		serverHint: "datadome",
		headerKeys: []string{"X-DataDome", "X-DataDome-Response"},
		bodyMarks:  []string{"geo.captcha-delivery.com", "datadome"},
	},
	{
		source:     "PerimeterX",
		statuses:   []int{http.StatusForbidden},
		headerKeys: []string{"X-Px-Captcha"},
		bodyMarks:  []string{"client.perimeterx.net", "px-captcha", "_pxBlock"},
	},
}

// Detect checks a fetched page against the known challenge signatures.
func Detect(statusCode int, headers http.Header, body []byte) Detection {
	for _, sig := range signatures {
		if sig.matches(statusCode, headers, body) {
			return Detection{Challenged: true, Source: sig.source}
		}
	}
	return Detection{}
}

func (s signature) matches(statusCode int, headers http.Header, body []byte) bool {
	statusHit := false
	for _, code := range s.statuses {
		if statusCode == code {
			statusHit = true
			break
		}
	}
	if !statusHit {
		return false
	}

	if s.serverHint != "" {
		if server := strings.ToLower(headers.Get("Server")); strings.Contains(server, s.serverHint) {
			return true
		}
	}

	for _, key := range s.headerKeys {
		if headers.Get(key) != "" {
			return true
		}
	}

	for _, mark := range s.bodyMarks {
		if bytes.Contains(body, []byte(mark)) {
			return true
		}
	}

	return false
}
