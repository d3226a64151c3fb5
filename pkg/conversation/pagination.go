package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"Parley/pkg/core"
	"Parley/pkg/store"
)

// ErrNoMore is returned by LoadMore once the server has been exhausted.
var ErrNoMore = errors.New("no more history")

// Paginator loads older history incrementally and merges every page into the
// store. The offset is the paginator's own cumulative fetched count, not the
// store length, so optimistic pending entries never skew paging, and upsert
// deduplication makes overlapping pages harmless.
type Paginator struct {
	conversationID string
	api            core.MessageAPI
	store          *store.Store
	pageSize       int

	mu      sync.Mutex
	fetched int
	hasMore bool
}

func newPaginator(conversationID string, api core.MessageAPI, st *store.Store, pageSize int) *Paginator {
	return &Paginator{
		conversationID: conversationID,
		api:            api,
		store:          st,
		pageSize:       pageSize,
		hasMore:        true,
	}
}

// LoadMore fetches the next page and merges it in. It returns the number of
// messages the page carried, or ErrNoMore when a previous page already proved
// the history exhausted.
func (p *Paginator) LoadMore(ctx context.Context) (int, error) {
	p.mu.Lock()
	if !p.hasMore {
		p.mu.Unlock()
		return 0, ErrNoMore
	}
	offset := p.fetched
	p.mu.Unlock()

	page, err := p.api.GetMessages(ctx, p.conversationID, p.pageSize, offset)
	if err != nil {
		return 0, fmt.Errorf("failed to load messages at offset %d: %w", offset, err)
	}

	for _, msg := range page {
		if msg.ConversationID != p.conversationID {
			continue
		}
		p.store.Upsert(msg)
	}

	p.mu.Lock()
	p.fetched += len(page)
	p.hasMore = len(page) == p.pageSize
	p.mu.Unlock()

	return len(page), nil
}

// HasMore reports whether another page may exist.
func (p *Paginator) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// Loaded returns the cumulative number of messages fetched from the server.
func (p *Paginator) Loaded() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetched
}
