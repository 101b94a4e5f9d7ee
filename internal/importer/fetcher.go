package importer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/errs"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/retry"
)

const DefaultPageSize = 100

// Fetcher pages through remote documents of one type and date range.
type Fetcher struct {
	src      PageSource
	pageSize int
	retry    retry.Policy
	log      *logrus.Entry
}

func NewFetcher(src PageSource, pageSize int, policy retry.Policy, log *logrus.Entry) *Fetcher {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Fetcher{src: src, pageSize: pageSize, retry: policy, log: log}
}

// Documents starts a fresh paged read. limit <= 0 means no cap.
func (f *Fetcher) Documents(ctx context.Context, t DocType, from, to time.Time, limit int) *DocumentIterator {
	return &DocumentIterator{
		ctx:   ctx,
		f:     f,
		t:     t,
		from:  from,
		to:    to,
		limit: limit,
		start: 1,
	}
}

// DocumentIterator yields documents lazily, one page at a time:
//
//	it := f.Documents(ctx, DocInvoice, from, to, 0)
//	for it.Next() {
//		doc := it.Document()
//	}
//	if err := it.Err(); err != nil { ... }
type DocumentIterator struct {
	ctx   context.Context
	f     *Fetcher
	t     DocType
	from  time.Time
	to    time.Time
	limit int

	start   int
	page    int
	buf     []RemoteDocument
	cur     RemoteDocument
	yielded int
	last    bool
	err     error
}

// Next advances to the next document, fetching a page when the buffer is empty.
func (it *DocumentIterator) Next() bool {
	if it.err != nil || it.capped() {
		return false
	}
	for len(it.buf) == 0 {
		if it.last {
			return false
		}
		if err := it.fetch(); err != nil {
			it.err = err
			return false
		}
	}
	it.cur, it.buf = it.buf[0], it.buf[1:]
	it.yielded++
	return true
}

func (it *DocumentIterator) Document() RemoteDocument { return it.cur }

// Err is the error that stopped iteration, nil at a normal end.
func (it *DocumentIterator) Err() error { return it.err }

// Pages is the number of pages fetched so far.
func (it *DocumentIterator) Pages() int { return it.page }

func (it *DocumentIterator) capped() bool {
	return it.limit > 0 && it.yielded >= it.limit
}

func (it *DocumentIterator) fetch() error {
	size := it.f.pageSize
	if it.limit > 0 && it.limit-it.yielded < size {
		size = it.limit - it.yielded
	}
	page := it.page + 1
	log := it.f.log.WithFields(logrus.Fields{
		"doc_type":       it.t,
		"page":           page,
		"start_position": it.start,
	})

	var docs []RemoteDocument
	err := it.f.retry.Do(it.ctx, func(ctx context.Context) error {
		var err error
		docs, err = it.f.src.Page(ctx, it.t, it.from, it.to, it.start, size)
		if err != nil && errs.IsTransient(err) {
			log.WithError(err).Warn("page fetch failed, retrying")
		}
		return err
	})
	if err != nil {
		if errs.IsAuth(err) {
			return err
		}
		return &errs.FetchError{DocType: string(it.t), Page: page, StartPosition: it.start, Err: err}
	}

	it.page = page
	it.start += size
	it.buf = docs
	if len(docs) < size {
		it.last = true
	}
	log.WithField("count", len(docs)).Debug("page fetched")
	return nil
}
