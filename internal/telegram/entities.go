package telegram

import (
	"unicode/utf16"

	"pkt.systems/adjutant/schema"
)

// messageEntity is the Bot API entity shape. Offset and Length count
// UTF-16 code units, not bytes.
type messageEntity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

var entityTypes = map[schema.SpanKind]string{
	schema.SpanBold: "bold",
	schema.SpanCode: "code",
	schema.SpanPre:  "pre",
}

// entitiesFromSpans converts byte-offset format spans into Bot API
// entities. Spans with unknown kinds or out-of-range offsets are
// dropped rather than sent broken.
func entitiesFromSpans(text string, spans []schema.FormatSpan) []messageEntity {
	if len(spans) == 0 {
		return nil
	}
	offsets := utf16Offsets(text)
	entities := make([]messageEntity, 0, len(spans))
	for _, span := range spans {
		kind, ok := entityTypes[span.Kind]
		if !ok || span.Length <= 0 {
			continue
		}
		start, okStart := offsets[span.Offset]
		end, okEnd := offsets[span.End()]
		if !okStart || !okEnd || end <= start {
			continue
		}
		entities = append(entities, messageEntity{Type: kind, Offset: start, Length: end - start})
	}
	if len(entities) == 0 {
		return nil
	}
	return entities
}

// utf16Offsets maps each rune-start byte offset of text (plus the end
// offset) to its UTF-16 code unit offset.
func utf16Offsets(text string) map[int]int {
	offsets := make(map[int]int, len(text)+1)
	units := 0
	for i, r := range text {
		offsets[i] = units
		units += utf16.RuneLen(r)
	}
	offsets[len(text)] = units
	return offsets
}
