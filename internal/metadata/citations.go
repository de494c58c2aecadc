package metadata

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/probeai/orchestrator/internal/session"
)

var (
	citationFormatRe = regexp.MustCompile(`^\[.+,\s\d{4}\]$`)
	inlineCitationRe = regexp.MustCompile(`\[.+?,\s\d{4}\]`)
)

// ValidateCitationFormat reports whether s is an inline citation of the form
// "[Author, 2024]" or "[Source, 2024]".
func ValidateCitationFormat(s string) bool {
	return citationFormatRe.MatchString(s)
}

// ExtractCitations returns every inline "[Name, Year]" citation in text, in order.
func ExtractCitations(text string) []string {
	return inlineCitationRe.FindAllString(text, -1)
}

// SourceID is the identifier given to the i-th reference of a report.
func SourceID(i int) string {
	return fmt.Sprintf("source_%d", i)
}

// AssignSourceIDs gives every result without an id the id of its position.
func AssignSourceIDs(results []session.ResearchResult) {
	for i := range results {
		if results[i].ID == "" {
			results[i].ID = SourceID(i)
		}
	}
}

// InvalidCitation is a section citation with no matching reference.
type InvalidCitation struct {
	Section  string
	SourceID string
}

// ValidateReportCitations walks every section and subsection and returns the
// citations that do not match a reference id, in document order.
func ValidateReportCitations(report *session.Report) []InvalidCitation {
	if report == nil {
		return nil
	}
	known := report.ReferenceIDs()
	var invalid []InvalidCitation
	session.WalkSections(report.Sections, func(_ int, s *session.ReportSection) {
		for _, id := range s.Citations {
			if _, ok := known[id]; !ok {
				invalid = append(invalid, InvalidCitation{Section: s.Title, SourceID: id})
			}
		}
	})
	return invalid
}

// NormalizeURL cleans a URL for deduplication:
// - lowercases scheme and host and drops a leading "www."
// - removes fragments and tracking query parameters
// - removes a trailing slash from the path
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	parsed.Fragment = ""

	if parsed.RawQuery != "" {
		q := parsed.Query()
		for _, param := range []string{
			"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
			"fbclid", "gclid", "msclkid",
		} {
			q.Del(param)
		}
		parsed.RawQuery = q.Encode()
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return parsed.String(), nil
}

// DedupKey returns the normalized form of rawURL, or rawURL itself when it
// does not parse.
func DedupKey(rawURL string) string {
	if key, err := NormalizeURL(rawURL); err == nil && key != "" {
		return key
	}
	return rawURL
}

// ExtractDomain returns the lowercase host of a URL without port or "www.".
// Example: "https://blog.example.com/path" -> "blog.example.com"
func ExtractDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www."), nil
}

var binaryExtensions = []string{".pdf", ".zip", ".exe", ".dmg", ".mp4", ".mp3", ".jpg", ".png"}

// IsBinaryURL reports whether the URL points at a non-textual file that
// should not become a source.
func IsBinaryURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if u, err := url.Parse(lower); err == nil && u.Path != "" {
		lower = u.Path
	}
	for _, ext := range binaryExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
