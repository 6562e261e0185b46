package source

import (
	"fmt"
)

// Span is a half-open byte range [Start, End) into the UTF-8 content of
// some source file. The analysis tool reports spans relative to whichever
// file its record names, so Span carries no file identity of its own.
type Span struct {
	Start uint32
	End   uint32
}

func (s Span) Empty() bool {
	return s.Start == s.End
}

func (s Span) Len() uint32 {
	return s.End - s.Start
}

func (s Span) String() string {
	return fmt.Sprintf("%d-%d", s.Start, s.End)
}
