// internal/auth/session.go
package auth

import (
	"context"
	"time"

	"github.com/aviatools/unipix-etl/internal/resolve"
)

// Credentials identify the portal account. Supplied once per run, never
// mutated.
type Credentials struct {
	Identity string
	Secret   string
}

// Cookie is one browser cookie captured from the authenticated page context.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// StorageEntry is a single key/value pair from one of the page's storage
// areas, in enumeration order.
type StorageEntry struct {
	Key   string
	Value string
}

// StorageSnapshot captures the two logical storage areas of the authenticated
// page: Persistent (localStorage) and Session (sessionStorage).
type StorageSnapshot struct {
	Persistent []StorageEntry
	Session    []StorageEntry
}

// Session is the authenticated context required to call the report API.
// It is created by a single authentication attempt and never reused across
// attempts; a fresh attempt produces a fresh Session.
type Session struct {
	Cookies       []Cookie
	Token         string
	EstablishedAt time.Time
}

// Usable reports whether the session carries at least one credential the API
// can accept. A session with neither a token nor cookies must not be used
// for retrieval.
func (s *Session) Usable() bool {
	return s != nil && (s.Token != "" || len(s.Cookies) > 0)
}

// Agent is the interactive browser capability the authenticator drives. It
// extends the resolver's action surface with navigation, state probing and
// the capture primitives needed after login.
type Agent interface {
	resolve.Agent

	// Navigate loads the given URL.
	Navigate(ctx context.Context, url string) error
	// Visible reports whether the selector matches a currently visible element.
	Visible(ctx context.Context, selector string) bool
	// CurrentURL returns the URL of the page currently displayed.
	CurrentURL(ctx context.Context) (string, error)
	// Cookies returns the cookies of the current page context.
	Cookies(ctx context.Context) ([]Cookie, error)
	// StorageSnapshot enumerates both storage areas of the current page.
	StorageSnapshot(ctx context.Context) (StorageSnapshot, error)
}
