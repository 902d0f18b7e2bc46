// Package pagination holds the page window and filter of a list view and
// the list fetcher that loads one page at a time.
//
// State and Filter are plain values. Out-of-range input is clamped rather
// than rejected:
//
//	s := pagination.NewState(10)
//	s = s.WithTotal(42).WithPage(9) // page 5 of 5
//	s = s.WithPerPage(20)           // back to page 1
//
// A ListFetcher runs each fetch in its own goroutine and hands back a
// Response stamped with the Token it was issued with. The caller owns the
// token counter and applies a response only when its token is still the
// current one, so a later request always wins regardless of which
// response arrives first:
//
//	token = token.Next()
//	lf.Issue(ctx, token, pagination.NewRequest(state, filter), func(resp pagination.Response) {
//		if resp.Token != current() {
//			return // superseded
//		}
//		apply(resp)
//	})
package pagination
