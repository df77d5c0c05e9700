package sinks

import (
	"errors"

	"github.com/blackwing-dev/corvus/voice/receive"
)

// ErrFilterSinkNeedsFilters is returned by NewFilterSink when constructed
// with no predicates at all.
var ErrFilterSinkNeedsFilters = errors.New("sinks: FilterSink requires at least one filter")

// FilterMode selects how a FilterSink's predicates combine.
type FilterMode int

const (
	// FilterAll requires every predicate to pass before data reaches the
	// destination.
	FilterAll FilterMode = iota
	// FilterAny requires only one predicate to pass.
	FilterAny
)

// Filter decides whether one frame of voice data should reach a
// FilterSink's destination.
type Filter func(data *receive.VoiceData) bool

// FilterSink gates writes to a single destination sink behind one or
// more predicates.
//
// Grounded on discord/sinks/core.py's FilterSink: the all/any combination
// strategy (`_filter_strat = all if filtering_mode == "all" else any`) is
// kept, as is delegating IsOpus/Cleanup straight through to the wrapped
// destination.
type FilterSink struct {
	node
	destination Sink
	filters     []Filter
	mode        FilterMode
}

var _ Sink = (*FilterSink)(nil)

// NewFilterSink constructs a FilterSink gating writes to destination.
// It returns ErrFilterSinkNeedsFilters if filters is empty, where the
// original raises ValueError for the same case.
func NewFilterSink(destination Sink, mode FilterMode, filters ...Filter) (*FilterSink, error) {
	if len(filters) == 0 {
		return nil, ErrFilterSinkNeedsFilters
	}

	f := &FilterSink{destination: destination, filters: filters, mode: mode}
	err := RegisterChild(f, destination, func() {
		if n, ok := destination.(interface{ setParent(Sink) }); ok {
			n.setParent(f)
		}
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FilterSink) Children() []Sink { return []Sink{f.destination} }

func (f *FilterSink) IsOpus() bool { return f.destination.IsOpus() }

// Write passes data to the destination only if it satisfies this sink's
// filter predicates under its configured mode.
func (f *FilterSink) Write(data *receive.VoiceData) error {
	pass := f.mode == FilterAll
	for _, filt := range f.filters {
		ok := filt(data)
		switch f.mode {
		case FilterAll:
			pass = pass && ok
		case FilterAny:
			pass = pass || ok
		}
	}
	if !pass {
		return nil
	}
	return f.destination.Write(data)
}

func (f *FilterSink) Cleanup() {
	f.destination.Cleanup()
}
