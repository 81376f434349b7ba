package client

import (
	"sync"
	"unicode/utf8"
)

// Selection is a caret or range in rune offsets. Start == End is a collapsed caret.
type Selection struct {
	Start int
	End   int
}

// Collapsed reports whether the selection is a single caret.
func (s Selection) Collapsed() bool { return s.Start == s.End }

// View is the local copy of the shared document and the local selection.
type View struct {
	mu      sync.Mutex
	content string
	sel     Selection
}

func NewView(content string) *View {
	return &View{content: content}
}

func (v *View) Content() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.content
}

func (v *View) Selection() Selection {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sel
}

// Len returns the document length in runes.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return utf8.RuneCountInString(v.content)
}

// Select sets the local selection, clamped to the document.
func (v *View) Select(start, end int) Selection {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sel = clampSelection(Selection{Start: start, End: end}, utf8.RuneCountInString(v.content))
	return v.sel
}

// Edit replaces the document with a local edit and puts the caret at caret.
func (v *View) Edit(content string, caret int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.content = content
	v.sel = clampSelection(Selection{Start: caret, End: caret}, utf8.RuneCountInString(content))
}

// ApplyRemote overwrites the document with a remote snapshot and clamps the
// local selection to its length. Offsets before the end are kept as they are.
func (v *View) ApplyRemote(content string) Selection {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.content = content
	v.sel = clampSelection(v.sel, utf8.RuneCountInString(content))
	return v.sel
}

// Caret returns the caret offset when the selection is collapsed.
func (v *View) Caret() (int, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.sel.Collapsed() {
		return 0, false
	}
	return v.sel.Start, true
}

func clampSelection(s Selection, length int) Selection {
	clamp := func(n int) int {
		if n < 0 {
			return 0
		}
		if n > length {
			return length
		}
		return n
	}
	s.Start, s.End = clamp(s.Start), clamp(s.End)
	if s.Start > s.End {
		s.Start, s.End = s.End, s.Start
	}
	return s
}
