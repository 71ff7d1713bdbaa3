// Package session holds the scrape session state that must survive full page
// navigations. The in-memory machine is destroyed on every navigation; the
// Store is the only durable handle, and a new machine rehydrates from it.
package session

import "strconv"

// Storage keys. "active" is written optimistically before a navigation while
// "stopped" can be set asynchronously at any moment, so the two are kept as
// separate flags instead of one tri-state value.
const (
	keyActive      = "scrape:active"
	keyStopped     = "scrape:stopped"
	keyCurrentPage = "scrape:current-page"
	keyTotalPages  = "scrape:total-pages"
)

// Session is one step's immutable view of the scrape. TotalPages == 0 means
// unknown, which is deliberately distinct from a known single page.
type Session struct {
	Active      bool
	Stopped     bool
	CurrentPage int
	TotalPages  int
}

// Store is a synchronous key-value storage scoped to one scraping context.
// It is designed for a single writer; concurrent scraping contexts must use
// separate stores.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
}

// Rehydrate reads the durable session and reports whether a fresh page load
// should resume scraping. The stopped flag is consulted first and always
// wins over a stale active flag; a stopped session is terminal until an
// explicit new start clears it.
func Rehydrate(s Store) (Session, bool) {
	if _, stopped := s.Get(keyStopped); stopped {
		return Session{Stopped: true}, false
	}

	if _, active := s.Get(keyActive); !active {
		return Session{}, false
	}

	sess := Session{Active: true, CurrentPage: 1}
	if v, ok := s.Get(keyCurrentPage); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			sess.CurrentPage = n
		}
	}
	if v, ok := s.Get(keyTotalPages); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			sess.TotalPages = n
		}
	}

	return sess, true
}

// SaveActive persists the intent to scrape the given page, typically written
// just before navigating to it. A zero totalPages (unknown) is not stored.
func SaveActive(s Store, currentPage, totalPages int) {
	s.Set(keyActive, "1")
	s.Set(keyCurrentPage, strconv.Itoa(currentPage))
	if totalPages > 0 {
		s.Set(keyTotalPages, strconv.Itoa(totalPages))
	} else {
		s.Remove(keyTotalPages)
	}
}

// MarkStopped clears the active state and raises the sticky stopped flag so
// that a navigation already in flight cannot resurrect the session.
func MarkStopped(s Store) {
	s.Remove(keyActive)
	s.Remove(keyCurrentPage)
	s.Remove(keyTotalPages)
	s.Set(keyStopped, "1")
}

// Clear removes every session key, including the stopped flag. Used on
// completion and on an accepted new start.
func Clear(s Store) {
	s.Remove(keyActive)
	s.Remove(keyCurrentPage)
	s.Remove(keyTotalPages)
	s.Remove(keyStopped)
}

// IsStopped reports the sticky stopped flag on its own; the runner polls it
// after every cancellable wait.
func IsStopped(s Store) bool {
	_, stopped := s.Get(keyStopped)
	return stopped
}
