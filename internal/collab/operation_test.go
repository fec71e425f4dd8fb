package collab

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-hq/inkwell/internal/models"
)

func decode(t *testing.T, raw string) Operation {
	t.Helper()
	op, err := Decode(json.RawMessage(raw))
	require.NoError(t, err)
	return op
}

func TestDecodeVariants(t *testing.T) {
	op := decode(t, `{"type":"insert","section_id":"intro","line":3,"column":2,"content":"abc"}`)
	insert, ok := op.(Insert)
	require.True(t, ok)
	require.Equal(t, models.EditTypeInsert, insert.Kind())
	require.Equal(t, "intro", insert.Pos().SectionID)
	start, end := insert.Span()
	require.Equal(t, 2, start)
	require.Equal(t, 5, end)

	op = decode(t, `{"type":"delete","section_id":"intro","line":3,"column":4,"length":4}`)
	start, end = op.Span()
	require.Equal(t, 4, start)
	require.Equal(t, 8, end)

	op = decode(t, `{"type":"replace","section_id":"intro","line":0,"column":0,"length":2,"content":"xy"}`)
	require.Equal(t, models.EditTypeReplace, op.Kind())

	op = decode(t, `{"type":"format","section_id":"intro","line":1,"column":0,"length":5,"attributes":{"bold":true}}`)
	format, ok := op.(Format)
	require.True(t, ok)
	require.Equal(t, true, format.Attributes["bold"])
}

func TestDecodeReplaceLengthFallsBackToContent(t *testing.T) {
	op := decode(t, `{"type":"replace","section_id":"s","line":0,"column":3,"content":"word"}`)
	start, end := op.Span()
	require.Equal(t, 3, start)
	require.Equal(t, 7, end)
}

func TestDecodeRejectsMalformedOperations(t *testing.T) {
	cases := map[string]string{
		"unknown type":      `{"type":"rotate","section_id":"s","line":0,"column":0}`,
		"insert no content": `{"type":"insert","section_id":"s","line":0,"column":0}`,
		"delete no length":  `{"type":"delete","section_id":"s","line":0,"column":0}`,
		"format no attrs":   `{"type":"format","section_id":"s","line":0,"column":0,"length":3}`,
		"missing section":   `{"type":"insert","line":0,"column":0,"content":"a"}`,
		"negative line":     `{"type":"insert","section_id":"s","line":-1,"column":0,"content":"a"}`,
		"negative column":   `{"type":"insert","section_id":"s","line":0,"column":-2,"content":"a"}`,
		"replace empty":     `{"type":"replace","section_id":"s","line":0,"column":0}`,
		"not json":          `insert abc`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(json.RawMessage(raw))
			require.Error(t, err)
		})
	}
}

func TestOverlaps(t *testing.T) {
	at := func(section string, line, col, length int) Operation {
		return Delete{Position: Position{SectionID: section, Line: line, Column: col}, Length: length}
	}

	// [2,5) vs [4,8) share columns.
	require.True(t, Overlaps(at("s", 3, 2, 3), at("s", 3, 4, 4)))
	// [2,5) vs [5,8) merely touch.
	require.False(t, Overlaps(at("s", 3, 2, 3), at("s", 3, 5, 3)))
	// Containment counts.
	require.True(t, Overlaps(at("s", 3, 0, 10), at("s", 3, 4, 2)))
	// Different line or section never conflicts.
	require.False(t, Overlaps(at("s", 3, 2, 3), at("s", 4, 2, 3)))
	require.False(t, Overlaps(at("s", 3, 2, 3), at("other", 3, 2, 3)))
}

func TestFromEditRoundTrip(t *testing.T) {
	edit := &models.CollaborativeEdit{
		Type:      models.EditTypeReplace,
		SectionID: "methods",
		Line:      7,
		Column:    12,
		Length:    4,
		Content:   "new",
	}

	op, err := FromEdit(edit)
	require.NoError(t, err)
	require.Equal(t, models.EditTypeReplace, op.Kind())
	start, end := op.Span()
	require.Equal(t, 12, start)
	require.Equal(t, 16, end)

	_, err = FromEdit(&models.CollaborativeEdit{Type: "bogus"})
	require.Error(t, err)
}
