package pagination

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestListFetcher_FetchNormalizesResult(t *testing.T) {
	lf := NewListFetcher(PageFetcherFunc(func(ctx context.Context, req Request) (PageResult, error) {
		return PageResult{Items: []Row{{Key: "10.0.0.1"}}, Page: 9, PerPage: 10, Total: 3}, nil
	}), DefaultConfig())

	resp := lf.Fetch(context.Background(), 7, Request{Page: 9, PerPage: 10})
	if resp.Err != nil {
		t.Fatalf("Fetch() error = %v", resp.Err)
	}
	if resp.Token != 7 {
		t.Errorf("Token = %d, want 7", resp.Token)
	}
	if resp.Result.Page != 1 {
		t.Errorf("Page = %d, want clamped 1", resp.Result.Page)
	}
	if len(resp.Result.Items) != 1 {
		t.Errorf("Items = %d, want 1", len(resp.Result.Items))
	}
}

func TestListFetcher_FetchError(t *testing.T) {
	boom := errors.New("boom")
	lf := NewListFetcher(PageFetcherFunc(func(ctx context.Context, req Request) (PageResult, error) {
		return PageResult{}, boom
	}), DefaultConfig())

	resp := lf.Fetch(context.Background(), 1, Request{Page: 1, PerPage: 10})
	if !errors.Is(resp.Err, boom) {
		t.Errorf("Err = %v, want %v", resp.Err, boom)
	}
}

func TestListFetcher_IssueDeliversOnce(t *testing.T) {
	lf := NewListFetcher(PageFetcherFunc(func(ctx context.Context, req Request) (PageResult, error) {
		return PageResult{Page: req.Page, PerPage: req.PerPage, Total: 100}, nil
	}), DefaultConfig())

	got := make(chan Response, 2)
	lf.Issue(context.Background(), 3, Request{Page: 2, PerPage: 10}, func(resp Response) {
		got <- resp
	})

	select {
	case resp := <-got:
		if resp.Token != 3 || resp.Result.Page != 2 {
			t.Errorf("unexpected response %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("deliver was not called")
	}

	select {
	case resp := <-got:
		t.Errorf("deliver called twice, second response %+v", resp)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestListFetcher_Timeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	lf := NewListFetcher(PageFetcherFunc(func(ctx context.Context, req Request) (PageResult, error) {
		<-ctx.Done()
		return PageResult{}, ctx.Err()
	}), cfg)

	resp := lf.Fetch(context.Background(), 1, Request{Page: 1, PerPage: 10})
	if !errors.Is(resp.Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want deadline exceeded", resp.Err)
	}
}

func TestNewListFetcher_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewListFetcher should panic with nil fetcher")
		}
	}()
	NewListFetcher(nil, DefaultConfig())
}

func TestToken_Next(t *testing.T) {
	var tok Token
	if tok.Next() != 1 || tok.Next().Next() != 2 {
		t.Error("Next() must increment by one")
	}
}
