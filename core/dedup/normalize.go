package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"takedown/core/workflow"
)

// RefKind distinguishes the two accepted content reference shapes.
type RefKind string

const (
	RefURL  RefKind = "url"
	RefHash RefKind = "hash"
)

var hexHashPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// trackingParams are query parameters stripped during URL normalization so
// share links with tracking junk collapse to the same fingerprint.
var trackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {}, "utm_content": {},
	"gclid": {}, "gclsrc": {}, "dclid": {}, "wbraid": {}, "gbraid": {},
	"fbclid": {}, "fbadid": {},
	"msclkid": {},
	"ref": {}, "referrer": {}, "source": {},
	"sessionid": {}, "sid": {}, "_t": {}, "timestamp": {}, "ts": {},
	"v": {}, "version": {}, "cache": {}, "nocache": {},
}

// Normalize canonicalizes a content reference. 64-hex-char strings are file
// hashes and only get lower-cased; everything else must be a well-formed
// http(s) URL. Returns the normalized key and the reference kind.
func Normalize(contentRef string) (string, RefKind, error) {
	ref := strings.TrimSpace(contentRef)
	if ref == "" {
		return "", "", &workflow.ValidationError{Reason: "content reference is empty"}
	}
	if hexHashPattern.MatchString(ref) {
		return strings.ToLower(ref), RefHash, nil
	}
	normalized, err := normalizeURL(ref)
	if err != nil {
		return "", "", err
	}
	return normalized, RefURL, nil
}

func normalizeURL(raw string) (string, error) {
	// References without a scheme are treated as https.
	if !strings.Contains(raw, "://") {
		if !strings.Contains(raw, ".") || strings.ContainsAny(raw, " \t") {
			return "", &workflow.ValidationError{Reason: "content reference is neither a URL nor a 64-char hex hash"}
		}
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", &workflow.ValidationError{Reason: "malformed URL: " + err.Error()}
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", &workflow.ValidationError{Reason: "unsupported URL scheme: " + u.Scheme}
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", &workflow.ValidationError{Reason: "URL has no host"}
	}
	host = strings.TrimPrefix(host, "www.")
	// Default ports carry no information; http and https are equivalent.
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		host += ":" + port
	}

	path := u.EscapedPath()
	if path == "/" {
		path = ""
	} else if strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}

	query := ""
	if u.RawQuery != "" {
		values, err := url.ParseQuery(u.RawQuery)
		if err != nil {
			// Queries Go cannot parse (semicolon separators and the like)
			// are kept verbatim; only known tracking params may be
			// stripped, and dropping the query would merge distinct
			// references into one fingerprint.
			query = u.RawQuery
		} else {
			for key := range values {
				if _, tracked := trackingParams[strings.ToLower(key)]; tracked {
					values.Del(key)
				}
			}
			// Encode sorts keys, so parameter order never changes the key.
			query = values.Encode()
		}
	}

	normalized := "https://" + host + path
	if query != "" {
		normalized += "?" + query
	}
	return normalized, nil
}

// Fingerprint is the deduplication equality key: SHA-256 of the normalized
// content reference, hex-encoded.
func Fingerprint(normalizedKey string) string {
	sum := sha256.Sum256([]byte(normalizedKey))
	return hex.EncodeToString(sum[:])
}
