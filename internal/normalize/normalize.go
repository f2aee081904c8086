// Package normalize canonicalizes URLs and titles and computes content
// fingerprints. Ingestion staging and the deduplication layers both depend on
// these forms, so they must stay deterministic.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// trackingParams are query parameters stripped during URL canonicalization.
// They identify campaigns and referrers, not content.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"utm_id":       true,
	"fbclid":       true,
	"gclid":        true,
	"msclkid":      true,
	"mc_cid":       true,
	"mc_eid":       true,
	"ref":          true,
	"ref_src":      true,
	"cmpid":        true,
	"ocid":         true,
	"smid":         true,
	"ito":          true,
}

// CanonicalURL canonicalizes a URL for duplicate detection: lowercases the
// scheme and host, strips tracking query parameters, sorts the remaining
// parameters, and drops any trailing slash from the path.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", eris.Wrapf(err, "normalize: parse url %q", raw)
	}
	if u.Host == "" {
		return "", eris.Errorf("normalize: url %q has no host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	// Strip tracking params and re-encode the rest in sorted key order.
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		if trackingParams[strings.ToLower(k)] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	u.RawQuery = b.String()

	u.Path = strings.TrimRight(u.Path, "/")

	return u.String(), nil
}

// Title normalizes a title for comparison: NFKC-normalized, case-folded,
// punctuation replaced with spaces, whitespace collapsed.
func Title(s string) string {
	s = norm.NFKC.String(s)
	// Casers are stateful, so build one per call.
	s = cases.Fold().String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// TitleTokens returns the unique normalized tokens of a title.
func TitleTokens(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(Title(s)) {
		tokens[tok] = true
	}
	return tokens
}

// Fingerprint hashes normalized (title, description) into a hex content
// fingerprint, independent of URL.
func Fingerprint(title, description string) string {
	h := sha256.New()
	h.Write([]byte(Title(title)))
	h.Write([]byte{0})
	h.Write([]byte(Title(description)))
	return hex.EncodeToString(h.Sum(nil))
}
