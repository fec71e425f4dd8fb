// Package collab defines the edit-operation vocabulary shared by the edit
// pipeline and the transport layer. Operations form a tagged union: one
// variant per mutation type, decoded exhaustively so that a malformed
// type/payload combination fails before anything is persisted or broadcast.
package collab

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/inkwell-hq/inkwell/internal/models"
)

// Position addresses a point in the manuscript. Conflict comparison is
// scoped to a section: operations on different sections or lines never
// conflict regardless of timing.
type Position struct {
	SectionID string `json:"section_id"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
}

// Operation is one atomic document mutation.
type Operation interface {
	// Kind returns the operation type tag.
	Kind() string
	// Pos returns the operation's position.
	Pos() Position
	// Span returns the half-open column range [start, end) the operation
	// touches on its line.
	Span() (start, end int)
	// Validate rejects payloads that do not match the operation type.
	Validate() error
}

// Insert adds content at a position.
type Insert struct {
	Position
	Content string `json:"content"`
}

// Delete removes a run of characters starting at a position.
type Delete struct {
	Position
	Length int `json:"length"`
}

// Replace substitutes a run of characters with new content.
type Replace struct {
	Position
	Length  int    `json:"length"`
	Content string `json:"content"`
}

// Format applies formatting attributes over a run of characters.
type Format struct {
	Position
	Length     int            `json:"length"`
	Attributes map[string]any `json:"attributes"`
}

func (p Position) Pos() Position { return p }

func (o Insert) Kind() string  { return models.EditTypeInsert }
func (o Delete) Kind() string  { return models.EditTypeDelete }
func (o Replace) Kind() string { return models.EditTypeReplace }
func (o Format) Kind() string  { return models.EditTypeFormat }

func (o Insert) Span() (int, int) { return o.Column, o.Column + len(o.Content) }
func (o Delete) Span() (int, int) { return o.Column, o.Column + o.Length }

// Span for a replace prefers the explicit length and falls back to the
// replacement content's length when none was supplied.
func (o Replace) Span() (int, int) {
	length := o.Length
	if length <= 0 {
		length = len(o.Content)
	}
	return o.Column, o.Column + length
}

func (o Format) Span() (int, int) { return o.Column, o.Column + o.Length }

func (o Insert) Validate() error {
	if err := o.Position.validate(); err != nil {
		return err
	}
	if o.Content == "" {
		return fmt.Errorf("insert operation requires content")
	}
	return nil
}

func (o Delete) Validate() error {
	if err := o.Position.validate(); err != nil {
		return err
	}
	if o.Length <= 0 {
		return fmt.Errorf("delete operation requires a positive length")
	}
	return nil
}

func (o Replace) Validate() error {
	if err := o.Position.validate(); err != nil {
		return err
	}
	if o.Length <= 0 && o.Content == "" {
		return fmt.Errorf("replace operation requires a length or replacement content")
	}
	return nil
}

func (o Format) Validate() error {
	if err := o.Position.validate(); err != nil {
		return err
	}
	if o.Length <= 0 {
		return fmt.Errorf("format operation requires a positive length")
	}
	if len(o.Attributes) == 0 {
		return fmt.Errorf("format operation requires formatting attributes")
	}
	return nil
}

func (p Position) validate() error {
	if strings.TrimSpace(p.SectionID) == "" {
		return fmt.Errorf("operation requires a section id")
	}
	if p.Line < 0 {
		return fmt.Errorf("operation line must not be negative")
	}
	if p.Column < 0 {
		return fmt.Errorf("operation column must not be negative")
	}
	return nil
}

// Overlaps reports whether two operations conflict: same section, same line,
// and overlapping column ranges. Touching ranges such as [2,5) and [5,8) do
// not overlap.
func Overlaps(a, b Operation) bool {
	if a.Pos().SectionID != b.Pos().SectionID || a.Pos().Line != b.Pos().Line {
		return false
	}
	aStart, aEnd := a.Span()
	bStart, bEnd := b.Span()
	return aStart < bEnd && bStart < aEnd
}

type wireOperation struct {
	Type       string         `json:"type"`
	SectionID  string         `json:"section_id"`
	Line       int            `json:"line"`
	Column     int            `json:"column"`
	Length     int            `json:"length,omitempty"`
	Content    string         `json:"content,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Decode parses a wire payload into the matching operation variant and
// validates it. Unknown types and mismatched payloads are rejected.
func Decode(raw json.RawMessage) (Operation, error) {
	var wire wireOperation
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}

	pos := Position{SectionID: wire.SectionID, Line: wire.Line, Column: wire.Column}

	var op Operation
	switch wire.Type {
	case models.EditTypeInsert:
		op = Insert{Position: pos, Content: wire.Content}
	case models.EditTypeDelete:
		op = Delete{Position: pos, Length: wire.Length}
	case models.EditTypeReplace:
		op = Replace{Position: pos, Length: wire.Length, Content: wire.Content}
	case models.EditTypeFormat:
		op = Format{Position: pos, Length: wire.Length, Attributes: wire.Attributes}
	default:
		return nil, fmt.Errorf("unknown operation type %q", wire.Type)
	}

	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

// FromEdit rebuilds the operation variant stored on a persisted edit row so
// it can participate in conflict comparison.
func FromEdit(edit *models.CollaborativeEdit) (Operation, error) {
	if edit == nil {
		return nil, fmt.Errorf("edit is required")
	}

	pos := Position{SectionID: edit.SectionID, Line: edit.Line, Column: edit.Column}

	switch edit.Type {
	case models.EditTypeInsert:
		return Insert{Position: pos, Content: edit.Content}, nil
	case models.EditTypeDelete:
		return Delete{Position: pos, Length: edit.Length}, nil
	case models.EditTypeReplace:
		return Replace{Position: pos, Length: edit.Length, Content: edit.Content}, nil
	case models.EditTypeFormat:
		var attrs map[string]any
		if len(edit.Attributes) > 0 {
			if err := json.Unmarshal(edit.Attributes, &attrs); err != nil {
				return nil, fmt.Errorf("decode stored attributes: %w", err)
			}
		}
		return Format{Position: pos, Length: edit.Length, Attributes: attrs}, nil
	default:
		return nil, fmt.Errorf("unknown stored operation type %q", edit.Type)
	}
}
