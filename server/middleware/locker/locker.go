// Package locker provides an HTTP middleware which allows an HTTPHandler to be locked, returning 423 (locked)
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/nasa-jpl/adscope/generichttp"
	"github.com/nasa-jpl/adscope/server"
)

// ManipulableLock is a lock which can be changed and checked over HTTP
type ManipulableLock interface {
	Lock()
	Unlock()
	Locked() bool
	Check(http.Handler) http.Handler
	HTTPGet(http.ResponseWriter, *http.Request)
	HTTPSet(http.ResponseWriter, *http.Request)
}

// Inject adds a lock route to an HTTPer which is used to manipulate the locker
func Inject(other generichttp.HTTPer, l ManipulableLock) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Locker is a type which behaves like a sync.Mutex without the blocking,
// and holds a list of paths to not protect.  Reads are never blocked
type Locker struct {
	isLocked atomic.Bool

	// DoNotProtect is a list of path suffixes not to apply the lock to
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"/lock"}}
}

// Lock the locker
func (l *Locker) Lock() {
	l.isLocked.Store(true)
}

// Unlock the locker
func (l *Locker) Unlock() {
	l.isLocked.Store(false)
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	return l.isLocked.Load()
}

// Check is an HTTP middleware that returns http.StatusLocked if Locked() is true
// and the request could change state, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() && l.protected(r) {
			http.Error(w, "locked", http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Locker) protected(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	for _, str := range l.DoNotProtect {
		if strings.HasSuffix(r.URL.Path, str) {
			return false
		}
	}
	return true
}

// HTTPSet calls Lock or Unlock based on json:bool on the request body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := server.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}
