package room

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// topThreshold is how close to the top edge (in rendered lines) the
// viewport must be before scrolling triggers another history fetch.
const topThreshold = 3

// Page is one slice of message history as the API serves it: newest first,
// with a flag for whether an older page exists.
type Page struct {
	Messages []Message
	HasNext  bool
}

// PageFetcher loads the numbered history page. Page numbers start at 1 and
// count backwards in time.
type PageFetcher func(ctx context.Context, page int) (Page, error)

// Viewport is the scrollable surface showing the log. The paginator
// compensates the scroll offset after a prepend so the visible messages do
// not shift.
type Viewport interface {
	// ContentHeight is the rendered height of the full log in lines.
	ContentHeight() int
	// Offset is the current scroll position from the top.
	Offset() int
	// SetOffset moves the scroll position.
	SetOffset(int)
}

// Paginator pulls older history pages into the store while preserving the
// reader's place. loadOlder never runs concurrently with itself: the
// in-flight guard swallows re-entrant triggers from scroll events that
// arrive while a fetch is outstanding.
type Paginator struct {
	store  *Store
	fetch  PageFetcher
	logger *slog.Logger

	nextPage int32
	hasMore  atomic.Bool
	inFlight atomic.Bool
}

// NewPaginator creates a paginator that starts at page 2: page 1 is the
// initial history fetch done when the transport connects.
func NewPaginator(store *Store, fetch PageFetcher, logger *slog.Logger) *Paginator {
	p := &Paginator{
		store:    store,
		fetch:    fetch,
		logger:   logger,
		nextPage: 2,
	}
	p.hasMore.Store(true)
	return p
}

// SetHasMore seeds the has-more flag from the first page's envelope.
func (p *Paginator) SetHasMore(hasMore bool) {
	p.hasMore.Store(hasMore)
}

// HasMore reports whether an older page might exist.
func (p *Paginator) HasMore() bool {
	return p.hasMore.Load()
}

// ShouldTrigger reports whether the viewport has scrolled close enough to
// the top edge to warrant loading the next page.
func (p *Paginator) ShouldTrigger(offset int) bool {
	return offset <= topThreshold && p.hasMore.Load() && !p.inFlight.Load()
}

// LoadOlder fetches the next older page, reverses it into ascending order,
// prepends it to the store and compensates vp's scroll offset by exactly
// the height the prepend introduced. vp may be nil for headless use. It is
// a no-op when no more pages exist or a fetch is already in flight.
func (p *Paginator) LoadOlder(ctx context.Context, vp Viewport) error {
	if !p.hasMore.Load() {
		return nil
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer p.inFlight.Store(false)

	page := int(atomic.LoadInt32(&p.nextPage))
	result, err := p.fetch(ctx, page)
	if err != nil {
		p.logger.Warn("history page fetch failed", "page", page, "error", err)
		return err
	}
	atomic.AddInt32(&p.nextPage, 1)
	p.hasMore.Store(result.HasNext)

	ascending := reversed(result.Messages)

	var beforeHeight, beforeOffset int
	if vp != nil {
		beforeHeight = vp.ContentHeight()
		beforeOffset = vp.Offset()
	}

	p.store.PrependHistory(ascending)

	if vp != nil {
		delta := vp.ContentHeight() - beforeHeight
		vp.SetOffset(beforeOffset + delta)
	}
	return nil
}

func reversed(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}
