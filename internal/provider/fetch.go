package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// FetchAllThreads walks the provider's thread listing from a fresh
// cursor until no further page token is returned, fetching full detail
// for every listed thread. Detail fetches within a page run
// concurrently; each one is retried with exponential backoff on
// transient failures. A thread whose detail fetch ultimately fails is
// kept in its basic list representation and reported as a warning
// rather than failing the walk. Only a failure of the listing itself
// aborts and propagates.
func (c *Client) FetchAllThreads(ctx context.Context) (*FetchResult, error) {
	result := &FetchResult{}
	pageToken := ""

	for {
		page, err := c.ListThreads(ctx, pageToken)
		if err != nil {
			return nil, fmt.Errorf("listing threads: %w", err)
		}

		threads, warnings := c.fetchPageDetails(ctx, page.Threads)
		result.Threads = append(result.Threads, threads...)
		result.Warnings = append(result.Warnings, warnings...)

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	c.log.WithFields(logrus.Fields{
		"threads":  len(result.Threads),
		"degraded": len(result.Warnings),
	}).Info("thread fetch complete")

	return result, nil
}

// fetchPageDetails fetches detail for every thread in one listed page,
// one goroutine per thread. Threads are independent reads against the
// provider, so the fan-out is safe; results keep the page's order.
func (c *Client) fetchPageDetails(
	ctx context.Context,
	listed []RawThread,
) ([]RawThread, []string) {
	threads := make([]RawThread, len(listed))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		warnings []string
	)

	for i, basic := range listed {
		wg.Add(1)
		go func(i int, basic RawThread) {
			defer wg.Done()

			var detail *RawThread
			err := c.retry.do(ctx, func() error {
				d, err := c.GetThread(ctx, basic.ID)
				if err != nil {
					return err
				}
				detail = d
				return nil
			})
			if err != nil {
				// Degrade to the basic representation; the run
				// keeps going without this thread's messages.
				c.log.WithFields(logrus.Fields{
					"thread": basic.ID,
				}).WithError(err).Warn("thread detail fetch degraded")

				threads[i] = basic

				mu.Lock()
				warnings = append(warnings, fmt.Sprintf(
					"thread %s: detail fetch degraded: %v", basic.ID, err,
				))
				mu.Unlock()
				return
			}

			threads[i] = *detail
		}(i, basic)
	}

	wg.Wait()
	return threads, warnings
}
