package collab

// Position is a zero-based line/column pair in the editor.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type SelectionKind int

const (
	SelectionUnchanged SelectionKind = iota
	SelectionPoint
	SelectionRange
)

// Selection is either a caret (Point) or a highlighted range. The zero value
// is "no selection".
type Selection struct {
	Kind  SelectionKind
	Point Position
	Start Position
	End   Position
	Text  string
}

func (s Selection) IsSet() bool { return s.Kind != SelectionUnchanged }

// SelectionRequest is the raw client payload. Presence of fields decides the
// variant, see ResolveSelection.
type SelectionRequest struct {
	RoomRef
	Line           *int      `json:"line,omitempty"`
	Column         *int      `json:"column,omitempty"`
	SelectionStart *Position `json:"selectionStart,omitempty"`
	SelectionEnd   *Position `json:"selectionEnd,omitempty"`
	SelectedText   *string   `json:"selectedText,omitempty"`
}

// ResolveSelection decides the variant once at the boundary: all three range
// fields make a Range, otherwise line and column make a Point, otherwise the
// stored selection stays as it is.
func ResolveSelection(req SelectionRequest) Selection {
	switch {
	case req.SelectionStart != nil && req.SelectionEnd != nil && req.SelectedText != nil:
		return Selection{
			Kind:  SelectionRange,
			Start: *req.SelectionStart,
			End:   *req.SelectionEnd,
			Text:  *req.SelectedText,
		}
	case req.Line != nil && req.Column != nil:
		return Selection{Kind: SelectionPoint, Point: Position{Line: *req.Line, Column: *req.Column}}
	default:
		return Selection{}
	}
}

// SelectionView is the wire form of one member's selection.
type SelectionView struct {
	Identity       string    `json:"identity"`
	Line           *int      `json:"line,omitempty"`
	Column         *int      `json:"column,omitempty"`
	SelectionStart *Position `json:"selectionStart,omitempty"`
	SelectionEnd   *Position `json:"selectionEnd,omitempty"`
	SelectedText   *string   `json:"selectedText,omitempty"`
	UserColor      string    `json:"userColor"`
	Username       string    `json:"username,omitempty"`
}

func viewSelection(m *Member) SelectionView {
	v := SelectionView{Identity: m.Identity, UserColor: m.Color, Username: m.Name}
	s := m.Selection
	switch s.Kind {
	case SelectionPoint:
		line, col := s.Point.Line, s.Point.Column
		v.Line, v.Column = &line, &col
	case SelectionRange:
		start, end, text := s.Start, s.End, s.Text
		v.SelectionStart, v.SelectionEnd, v.SelectedText = &start, &end, &text
	}
	return v
}
