package room

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// fakeViewport renders one line per message, like a minimal log view.
type fakeViewport struct {
	store  *Store
	offset int
}

func (v *fakeViewport) ContentHeight() int { return len(v.store.Messages()) }
func (v *fakeViewport) Offset() int { return v.offset }
func (v *fakeViewport) SetOffset(o int) { v.offset = o }

// pagedFetcher serves history pages newest-first, the way the API does.
func pagedFetcher(t *testing.T, pages map[int][]Message, calls *[]int) PageFetcher {
	t.Helper()
	return func(_ context.Context, page int) (Page, error) {
		*calls = append(*calls, page)
		msgs, ok := pages[page]
		if !ok {
			return Page{}, fmt.Errorf("no page %d", page)
		}
		_, hasNext := pages[page+1]
		return Page{Messages: msgs, HasNext: hasNext}, nil
	}
}

func TestLoadOlderKeepsAscendingOrder(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	at := func(i int) time.Time { return base.Add(time.Duration(i) * time.Minute) }

	store := NewStore("self", testLogger())
	// Initial page 1 (newest) already applied, ascending.
	store.PrependHistory([]Message{
		chatMessage("m5", "alice", "five", at(5)),
		chatMessage("m6", "bob", "six", at(6)),
	})

	pages := map[int][]Message{
		2: {chatMessage("m4", "bob", "four", at(4)), chatMessage("m3", "alice", "three", at(3))},
		3: {chatMessage("m2", "bob", "two", at(2)), chatMessage("m1", "alice", "one", at(1))},
	}
	var calls []int
	p := NewPaginator(store, pagedFetcher(t, pages, &calls), testLogger())

	for i := 0; i < 2; i++ {
		if err := p.LoadOlder(context.Background(), nil); err != nil {
			t.Fatalf("LoadOlder #%d: %v", i+1, err)
		}
	}

	got := ids(store.Messages())
	want := []string{"m1", "m2", "m3", "m4", "m5", "m6"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("log = %v, want %v", got, want)
	}
	if fmt.Sprint(calls) != fmt.Sprint([]int{2, 3}) {
		t.Errorf("fetched pages %v, want [2 3]", calls)
	}
	if p.HasMore() {
		t.Error("HasMore() = true after last page")
	}
}

func TestLoadOlderCompensatesScrollOffset(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	at := func(i int) time.Time { return base.Add(time.Duration(i) * time.Minute) }

	store := NewStore("self", testLogger())
	store.PrependHistory([]Message{
		chatMessage("m4", "alice", "four", at(4)),
		chatMessage("m5", "bob", "five", at(5)),
	})

	pages := map[int][]Message{
		2: {
			chatMessage("m3", "bob", "three", at(3)),
			chatMessage("m2", "alice", "two", at(2)),
			chatMessage("m1", "bob", "one", at(1)),
		},
	}
	var calls []int
	p := NewPaginator(store, pagedFetcher(t, pages, &calls), testLogger())

	vp := &fakeViewport{store: store, offset: 1}
	if err := p.LoadOlder(context.Background(), vp); err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}

	// Three lines were inserted above the reader; the offset moves with them.
	if vp.offset != 4 {
		t.Errorf("offset = %d, want 4", vp.offset)
	}
}

func TestLoadOlderNoOpWhenExhausted(t *testing.T) {
	t.Parallel()

	store := NewStore("self", testLogger())
	var calls []int
	p := NewPaginator(store, pagedFetcher(t, nil, &calls), testLogger())
	p.SetHasMore(false)

	if err := p.LoadOlder(context.Background(), nil); err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if len(calls) != 0 {
		t.Errorf("fetcher called %d times, want 0", len(calls))
	}
}

func TestShouldTrigger(t *testing.T) {
	t.Parallel()

	store := NewStore("self", testLogger())
	var calls []int
	p := NewPaginator(store, pagedFetcher(t, nil, &calls), testLogger())

	if p.ShouldTrigger(10) {
		t.Error("ShouldTrigger(10) = true, want false away from the top")
	}
	if !p.ShouldTrigger(0) {
		t.Error("ShouldTrigger(0) = false, want true at the top")
	}

	p.SetHasMore(false)
	if p.ShouldTrigger(0) {
		t.Error("ShouldTrigger(0) = true with no more pages")
	}
}
