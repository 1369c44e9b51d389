package hosts

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

const (
	StartMarker = "# clusterbanned start"
	EndMarker   = "# clusterbanned end"

	// MarkerPrefix is the stable part shared by both markers. Clearing
	// matches on it so blocks with unexpected tags are caught too.
	MarkerPrefix = "# clusterbanned"

	regionTag    = "region:"
	blockAddress = "0.0.0.0"
)

// Block is one managed section of the hosts file.
// Start and End are byte offsets into the document text with line endings
// normalised to LF. End is exclusive and
// points just past the end marker text.
type Block struct {
	Region    string
	HasRegion bool
	Domains   []string
	Start     int
	End       int
}

// Decode scans text for managed blocks. A start marker without a matching
// end marker after it stops the scan and is left alone.
func Decode(text string) []Block {
	var blocks []Block
	idx := 0
	for {
		rel := strings.Index(text[idx:], StartMarker)
		if rel < 0 {
			break
		}
		start := idx + rel
		relEnd := strings.Index(text[start:], EndMarker)
		if relEnd < 0 {
			break
		}
		end := start + relEnd + len(EndMarker)

		b := decodeSpan(text[start:end])
		b.Start, b.End = start, end
		blocks = append(blocks, b)
		idx = end
	}
	return blocks
}

func decodeSpan(span string) Block {
	var b Block
	lines := strings.Split(span, "\n")

	b.Region, b.HasRegion = parseRegionTag(lines[0])

	seen := make(map[string]struct{})
	for _, line := range lines[1:] {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		fields := strings.Fields(t)
		if len(fields) < 2 {
			continue
		}
		d := strings.ToLower(fields[1])
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		b.Domains = append(b.Domains, d)
	}
	sort.Strings(b.Domains)
	return b
}

func parseRegionTag(line string) (string, bool) {
	pos := strings.Index(line, regionTag)
	if pos < 0 {
		return "", false
	}
	fields := strings.Fields(line[pos+len(regionTag):])
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

// ValidRegion reports whether tag can be written after "region:" and read
// back unchanged: non-empty, with no whitespace or control characters.
func ValidRegion(tag string) bool {
	if tag == "" || !utf8.ValidString(tag) {
		return false
	}
	return !strings.ContainsFunc(tag, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
}

// Encode renders a block for region with one entry per domain in
// lexicographic order. An empty domain set encodes to "", which callers
// must treat as "delete the block".
func Encode(region string, hasRegion bool, domains []string) string {
	domains = canonicalDomains(domains)
	if len(domains) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(StartMarker)
	if hasRegion {
		sb.WriteString(" " + regionTag + region)
	}
	sb.WriteByte('\n')
	for _, d := range domains {
		sb.WriteString(blockAddress + " " + d + "\n")
	}
	sb.WriteString(EndMarker)
	return sb.String()
}

func canonicalDomains(domains []string) []string {
	seen := make(map[string]struct{}, len(domains))
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// NormalizeDomain lower-cases a host name, drops a trailing dot and
// converts internationalized names to their ASCII form.
func NormalizeDomain(raw string) (string, error) {
	d := strings.TrimSuffix(strings.TrimSpace(raw), ".")
	if d == "" {
		return "", fmt.Errorf("empty domain")
	}
	for _, r := range d {
		if unicode.IsSpace(r) || r == '#' {
			return "", fmt.Errorf("invalid domain %q", raw)
		}
	}

	if isASCII(d) {
		return strings.ToLower(d), nil
	}
	ascii, err := idna.Lookup.ToASCII(d)
	if err != nil {
		return "", fmt.Errorf("idna: %w", err)
	}
	return strings.ToLower(ascii), nil
}

func normalizeDomains(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		d, err := NormalizeDomain(r)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return canonicalDomains(out), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
