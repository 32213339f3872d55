// Package browser holds the ports that replace direct access to the
// browsing context: where the page is, how to move it, and which user
// activity happened.
package browser

import (
	"fmt"
	"net/url"
	"sync"
)

// Navigator reads and changes the current location.
type Navigator interface {
	// CurrentURL returns a copy of the current location.
	CurrentURL() *url.URL

	// ReplaceURL swaps the current history entry without navigating.
	ReplaceURL(u *url.URL)

	// RedirectTo performs a navigation. Control may leave the process.
	RedirectTo(rawURL string) error
}

// MemoryNavigator is an in-process Navigator that records every redirect.
// It backs tests and the demo host.
type MemoryNavigator struct {
	mu        sync.Mutex
	current   *url.URL
	redirects []string
	replaced  int
}

var _ Navigator = (*MemoryNavigator)(nil)

// NewMemoryNavigator creates a navigator positioned at rawURL.
func NewMemoryNavigator(rawURL string) (*MemoryNavigator, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing initial url: %w", err)
	}
	return &MemoryNavigator{current: u}, nil
}

// CurrentURL returns a copy of the current location.
func (n *MemoryNavigator) CurrentURL() *url.URL {
	n.mu.Lock()
	defer n.mu.Unlock()
	u := *n.current
	return &u
}

// ReplaceURL swaps the current location in place.
func (n *MemoryNavigator) ReplaceURL(u *url.URL) {
	n.mu.Lock()
	defer n.mu.Unlock()
	resolved := n.current.ResolveReference(u)
	n.current = resolved
	n.replaced++
}

// RedirectTo records the redirect and moves the current location to it.
func (n *MemoryNavigator) RedirectTo(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing redirect url: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = n.current.ResolveReference(u)
	n.redirects = append(n.redirects, rawURL)
	return nil
}

// Visit moves to rawURL as if the user followed a link, e.g. a provider
// sending the browser back to the redirect URI.
func (n *MemoryNavigator) Visit(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = n.current.ResolveReference(u)
	return nil
}

// Redirects returns every URL passed to RedirectTo, oldest first.
func (n *MemoryNavigator) Redirects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.redirects...)
}

// LastRedirect returns the most recent redirect target, or "".
func (n *MemoryNavigator) LastRedirect() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.redirects) == 0 {
		return ""
	}
	return n.redirects[len(n.redirects)-1]
}

// Replacements counts ReplaceURL calls.
func (n *MemoryNavigator) Replacements() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.replaced
}
