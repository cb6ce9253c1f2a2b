package gate

import "errors"

// ErrEmptyPlaylist is returned when an echo is requested from a playlist with
// no entries.
var ErrEmptyPlaylist = errors.New("echo playlist is empty")

// Playlist is a fixed, cyclic sequence of echo texts.
type Playlist struct {
	entries []string
	cursor  int
}

// NewPlaylist copies entries into a new playlist with the cursor at zero.
func NewPlaylist(entries []string) *Playlist {
	p := &Playlist{entries: make([]string, len(entries))}
	copy(p.entries, entries)
	return p
}

// Next returns the entry at the cursor and advances it, wrapping after the
// last entry.
func (p *Playlist) Next() (string, error) {
	if p == nil || len(p.entries) == 0 {
		return "", ErrEmptyPlaylist
	}
	text := p.entries[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.entries)
	return text, nil
}

// Cursor returns the index of the entry the next call to Next returns.
func (p *Playlist) Cursor() int {
	if p == nil {
		return 0
	}
	return p.cursor
}

// Len returns the number of entries.
func (p *Playlist) Len() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// Entries returns a copy of the entries.
func (p *Playlist) Entries() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.entries))
	copy(out, p.entries)
	return out
}

// Rewind moves the cursor back to the first entry.
func (p *Playlist) Rewind() {
	if p != nil {
		p.cursor = 0
	}
}
