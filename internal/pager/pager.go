// Package pager exhausts a chain of `next` links into one ordered slice.
//
// Processor feeds return pages newest-first. Walk accumulates pages in a loop
// rather than recursing, so backlog size never grows the call stack, and hands
// back the records oldest-first.
package pager

import (
	"context"
	"fmt"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
)

// Page is one page of a feed listing.
type Page[T any] struct {
	Items []T
	// Next is the href of the following page, empty on the last page.
	Next string
}

// FetchFunc loads the page behind href.
type FetchFunc[T any] func(ctx context.Context, href string) (Page[T], error)

// StopFunc reports whether the walk has reached already-known records.
// The matching record and everything after it are discarded.
type StopFunc[T any] func(item T) bool

// Walk follows next links from start until the chain ends or stop matches.
//
// Any fetch error aborts the whole walk; no partial result is returned.
// A nil stop walks the full chain.
func Walk[T any](ctx context.Context, start string, fetch FetchFunc[T], stop StopFunc[T]) ([]T, error) {
	var (
		acc  []T
		seen = make(map[string]struct{})
		href = start
	)

	for href != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, ok := seen[href]; ok {
			return nil, &models.ValidationError{Record: href, Reason: "pagination cycle"}
		}
		seen[href] = struct{}{}

		page, err := fetch(ctx, href)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", len(seen), err)
		}

		halted := false
		for _, item := range page.Items {
			if stop != nil && stop(item) {
				halted = true
				break
			}
			acc = append(acc, item)
		}
		if halted {
			break
		}
		href = page.Next
	}

	reverse(acc)
	return acc, nil
}

func reverse[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
