package origin

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const allowHeaders = "Content-Type, Authorization, X-Formiq-Key"

var labelPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Gate decides whether a browser origin may submit to a project and writes
// the matching CORS response headers.
type Gate struct{}

func NewGate() *Gate {
	return &Gate{}
}

// Allowed reports whether origin matches one of the authorized domains.
// Entries are either exact origins or "*.suffix" wildcards.
func (g *Gate) Allowed(origin string, domains []string) bool {
	if origin == "" || origin == "null" {
		return false
	}
	for _, entry := range domains {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if suffix, ok := strings.CutPrefix(entry, "*."); ok {
			if matchWildcard(origin, suffix) {
				return true
			}
			continue
		}
		if origin == entry {
			return true
		}
	}
	return false
}

// matchWildcard requires at least one whole label in front of suffix, so
// *.example.com admits a.example.com but neither example.com nor evilexample.com.
func matchWildcard(origin, suffix string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.Opaque != "" {
		return false
	}
	if u.Path != "" && u.Path != "/" {
		return false
	}

	host := strings.ToLower(u.Hostname())
	suffix = strings.ToLower(strings.Trim(suffix, "."))
	if host == "" || suffix == "" {
		return false
	}

	prefix, ok := strings.CutSuffix(host, "."+suffix)
	if !ok || prefix == "" {
		return false
	}
	for _, label := range strings.Split(prefix, ".") {
		if !labelPattern.MatchString(label) {
			return false
		}
	}
	return true
}

// Apply echoes an authorized origin back to the browser.
func (g *Gate) Apply(w http.ResponseWriter, origin string) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Headers", allowHeaders)
	h.Add("Vary", "Origin")
}

// Preflight answers an OPTIONS request for an already authorized origin.
func (g *Gate) Preflight(w http.ResponseWriter, origin string) {
	g.Apply(w, origin)
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}

// ValidPattern checks an authorized-domain entry before it is stored.
func ValidPattern(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return errors.New("domain entry is empty")
	}
	if suffix, ok := strings.CutPrefix(entry, "*."); ok {
		labels := strings.Split(strings.ToLower(suffix), ".")
		if len(labels) < 2 {
			return fmt.Errorf("wildcard %q must cover a registrable domain", entry)
		}
		for _, label := range labels {
			if !labelPattern.MatchString(label) {
				return fmt.Errorf("wildcard %q has an invalid label", entry)
			}
		}
		return nil
	}

	u, err := url.Parse(entry)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q must be an origin such as https://example.com or a *.example.com wildcard", entry)
	}
	if u.Path != "" || u.RawQuery != "" || u.User != nil {
		return fmt.Errorf("%q must not contain a path, query or credentials", entry)
	}
	return nil
}
