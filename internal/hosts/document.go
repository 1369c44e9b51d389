package hosts

import (
	"sort"
	"strings"
)

// Document is the in-memory hosts file with an index of its managed blocks.
// The index is rebuilt after every edit; text outside managed spans is
// never touched except for blank-line collapsing.
//
// Edits work on LF text. A file whose line breaks are mostly CRLF is
// rendered back with CRLF once edited; an unedited document renders as
// the exact input.
type Document struct {
	raw    string
	text   string
	eol    string
	edited bool
	blocks []Block
}

func ParseDocument(text string) *Document {
	d := &Document{raw: text, text: text, eol: "\n"}
	if crlf := strings.Count(text, "\r\n"); crlf > 0 {
		if crlf*2 >= strings.Count(text, "\n") {
			d.eol = "\r\n"
		}
		d.text = strings.ReplaceAll(text, "\r\n", "\n")
	}
	d.reindex()
	return d
}

func (d *Document) reindex() {
	d.blocks = Decode(d.text)
}

func (d *Document) String() string {
	switch {
	case !d.edited:
		return d.raw
	case d.eol == "\n":
		return d.text
	default:
		return strings.ReplaceAll(d.text, "\n", d.eol)
	}
}

func (d *Document) update(text string) {
	d.text = text
	d.edited = true
	d.reindex()
}

func (d *Document) Blocks() []Block {
	out := make([]Block, len(d.blocks))
	copy(out, d.blocks)
	return out
}

// Find returns the first block tagged with region. Without a region it
// returns the first block regardless of its tag.
func (d *Document) Find(region string, hasRegion bool) (Block, bool) {
	for _, b := range d.blocks {
		if !hasRegion {
			return b, true
		}
		if b.HasRegion && b.Region == region {
			return b, true
		}
	}
	return Block{}, false
}

// ReplaceSpan substitutes text[start:end] and collapses blank-line runs.
func (d *Document) ReplaceSpan(start, end int, replacement string) {
	d.update(collapseBlankLines(d.text[:start] + replacement + d.text[end:]))
}

// AppendBlock adds block at the end, separated from prior content by
// exactly one blank line and followed by a single newline.
func (d *Document) AppendBlock(block string) {
	head := strings.TrimRight(d.text, "\n")
	if head == "" {
		d.update(block + "\n")
	} else {
		d.update(head + "\n\n" + block + "\n")
	}
}

// ClearAll deletes every span that begins with MarkerPrefix and runs
// through the nearest following end marker. An occurrence with no end
// marker after it halts the scan; it and everything after stay in place.
func (d *Document) ClearAll() (removed int, halted bool) {
	text := d.text
	pos := 0
	for {
		rel := strings.Index(text[pos:], MarkerPrefix)
		if rel < 0 {
			break
		}
		start := pos + rel

		lineEnd := len(text)
		if nl := strings.IndexByte(text[start:], '\n'); nl >= 0 {
			lineEnd = start + nl + 1
		}

		// A stray end marker has nothing to delete.
		if strings.HasPrefix(text[start:], EndMarker) {
			pos = lineEnd
			continue
		}

		relEnd := strings.Index(text[lineEnd:], EndMarker)
		if relEnd < 0 {
			halted = true
			break
		}
		end := lineEnd + relEnd + len(EndMarker)
		text = text[:start] + text[end:]
		removed++
		pos = start
	}

	if removed > 0 {
		text = strings.Trim(collapseBlankLines(text), "\n")
		if text != "" {
			text += "\n"
		}
		d.update(text)
	}
	return removed, halted
}

// BlockedDomains is the sorted union of all managed-block domains.
func (d *Document) BlockedDomains() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, b := range d.blocks {
		for _, dom := range b.Domains {
			if _, ok := seen[dom]; ok {
				continue
			}
			seen[dom] = struct{}{}
			out = append(out, dom)
		}
	}
	sort.Strings(out)
	return out
}

// collapseBlankLines caps every run of newlines at two.
func collapseBlankLines(s string) string {
	if !strings.Contains(s, "\n\n\n") {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	run := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			run++
			if run > 2 {
				continue
			}
		} else {
			run = 0
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
