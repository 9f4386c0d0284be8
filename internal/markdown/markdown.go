// Package markdown renders a minimal marker syntax into plain text plus
// format spans suitable for a chat transport.
package markdown

import (
	"strings"
	"unicode/utf8"

	"pkt.systems/adjutant/schema"
)

const (
	fenceMarker = "```"
	boldMarker  = "**"
	codeMarker  = "`"

	// TruncationMarker is appended when output is cut at a length limit.
	TruncationMarker = "…"
)

// normalizer rewrites legacy tags to marker syntax and decodes the small
// entity set the agent is known to emit. Single pass, no rescanning, so
// "&amp;lt;" decodes to "&lt;" and stops there.
var normalizer = strings.NewReplacer(
	"<b>", boldMarker,
	"</b>", boldMarker,
	"<strong>", boldMarker,
	"</strong>", boldMarker,
	"<code>", codeMarker,
	"</code>", codeMarker,
	"<pre>", fenceMarker,
	"</pre>", fenceMarker,
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&nbsp;", " ",
	"&amp;", "&",
)

// Render converts raw agent text into plain text and format spans. Matched
// marker pairs are stripped and the inner content emitted verbatim with one
// span over exactly the emitted range; an opener with no closer is emitted
// literally. Runs of three or more blank lines collapse to one blank line
// and the result is trimmed of surrounding whitespace.
func Render(input string) (string, []schema.FormatSpan) {
	text := collapseBlankLines(normalizer.Replace(input))

	var out strings.Builder
	out.Grow(len(text))
	var spans []schema.FormatSpan

	emit := func(kind schema.SpanKind, inner string) {
		if inner == "" {
			return
		}
		spans = append(spans, schema.FormatSpan{
			Kind:   kind,
			Offset: out.Len(),
			Length: len(inner),
		})
		out.WriteString(inner)
	}

	i := 0
	for i < len(text) {
		rest := text[i:]
		switch {
		case strings.HasPrefix(rest, fenceMarker):
			end := strings.Index(rest[len(fenceMarker):], fenceMarker)
			if end < 0 {
				out.WriteString(fenceMarker)
				i += len(fenceMarker)
				continue
			}
			inner := stripLanguageTag(rest[len(fenceMarker) : len(fenceMarker)+end])
			emit(schema.SpanPre, inner)
			i += len(fenceMarker) + end + len(fenceMarker)
		case strings.HasPrefix(rest, boldMarker):
			end := strings.Index(rest[len(boldMarker):], boldMarker)
			if end < 0 {
				out.WriteString(boldMarker)
				i += len(boldMarker)
				continue
			}
			emit(schema.SpanBold, rest[len(boldMarker):len(boldMarker)+end])
			i += len(boldMarker) + end + len(boldMarker)
		case rest[0] == '`':
			end := strings.IndexByte(rest[1:], '`')
			if end < 0 {
				out.WriteByte('`')
				i++
				continue
			}
			emit(schema.SpanCode, rest[1:1+end])
			i += 1 + end + 1
		default:
			out.WriteByte(rest[0])
			i++
		}
	}
	return trimOutput(out.String(), spans)
}

// Truncate cuts text to at most max bytes, appending TruncationMarker at a
// rune boundary, and drops or clamps spans beyond the cut. Text within the
// limit is returned unchanged. Limits too small to hold the marker cut
// without it so the result never exceeds max.
func Truncate(text string, spans []schema.FormatSpan, max int) (string, []schema.FormatSpan) {
	if max <= 0 || len(text) <= max {
		return text, spans
	}
	if max < len(TruncationMarker) {
		cut := max
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		return text[:cut], clampSpans(spans, cut)
	}
	cut := max - len(TruncationMarker)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + TruncationMarker, clampSpans(spans, cut)
}

// clampSpans drops spans starting at or beyond limit and clamps spans
// crossing it so they end exactly at the boundary.
func clampSpans(spans []schema.FormatSpan, limit int) []schema.FormatSpan {
	if len(spans) == 0 {
		return spans
	}
	kept := make([]schema.FormatSpan, 0, len(spans))
	for _, span := range spans {
		if span.Offset >= limit {
			continue
		}
		if span.End() > limit {
			span.Length = limit - span.Offset
		}
		if span.Length <= 0 {
			continue
		}
		kept = append(kept, span)
	}
	return kept
}

func stripLanguageTag(inner string) string {
	idx := strings.IndexByte(inner, '\n')
	if idx < 0 {
		return inner
	}
	first := strings.TrimSpace(inner[:idx])
	if first == "" || isLanguageTag(first) {
		return inner[idx+1:]
	}
	return inner
}

func isLanguageTag(value string) bool {
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '+' || r == '#' || r == '.':
		default:
			return false
		}
	}
	return true
}

func collapseBlankLines(text string) string {
	if !strings.Contains(text, "\n\n\n") {
		return text
	}
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blanks := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blanks++
			continue
		}
		if blanks > 0 {
			if blanks >= 3 {
				blanks = 1
			}
			for range blanks {
				out = append(out, "")
			}
			blanks = 0
		}
		out = append(out, line)
	}
	if blanks > 0 {
		if blanks >= 3 {
			blanks = 1
		}
		for range blanks {
			out = append(out, "")
		}
	}
	return strings.Join(out, "\n")
}

// trimOutput trims surrounding whitespace and shifts spans into the
// trimmed coordinate space, dropping any that fall entirely outside.
func trimOutput(text string, spans []schema.FormatSpan) (string, []schema.FormatSpan) {
	trimmedLeft := strings.TrimLeft(text, " \t\r\n")
	lead := len(text) - len(trimmedLeft)
	trimmed := strings.TrimRight(trimmedLeft, " \t\r\n")
	if lead == 0 && len(trimmed) == len(text) {
		return text, spans
	}
	if len(spans) == 0 {
		return trimmed, spans
	}
	kept := make([]schema.FormatSpan, 0, len(spans))
	for _, span := range spans {
		span.Offset -= lead
		if span.Offset < 0 {
			span.Length += span.Offset
			span.Offset = 0
		}
		if span.Length <= 0 || span.Offset >= len(trimmed) {
			continue
		}
		if span.End() > len(trimmed) {
			span.Length = len(trimmed) - span.Offset
		}
		kept = append(kept, span)
	}
	return trimmed, kept
}
