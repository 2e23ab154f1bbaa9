package asset

import "fmt"

// Selection tracks the product chosen in one session. While a newly selected
// overlay is still loading, Current keeps returning the last ready one so the
// try-on never blanks during a product switch. Not safe for concurrent use.
type Selection struct {
	catalog  *Catalog
	selected string
	shown    *Overlay
}

func NewSelection(catalog *Catalog) *Selection {
	return &Selection{catalog: catalog, selected: catalog.DefaultID()}
}

func (s *Selection) Select(id string) error {
	if _, ok := s.catalog.Product(id); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProduct, id)
	}
	s.selected = id
	return nil
}

func (s *Selection) Selected() string {
	return s.selected
}

// Current re-reads the catalogue on every call so a product switch or a
// finished load is picked up on the next frame.
func (s *Selection) Current() *Overlay {
	o := s.catalog.Overlay(s.selected)
	if o.Ready() {
		s.shown = o
		return o
	}
	if s.shown != nil {
		return s.shown
	}
	return o
}
