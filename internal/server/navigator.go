package server

import (
	"sync"

	"github.com/dgellow/handoff/internal/loginview"
)

var _ loginview.Navigator = (*recordingNavigator)(nil)

// recordingNavigator captures the view's navigations so the handler can
// turn them into a redirect or a page that performs them
type recordingNavigator struct {
	mu       sync.Mutex
	opened   string
	assigned string
	last     string
}

func (n *recordingNavigator) OpenTop(uri string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = uri
	n.last = uri
}

func (n *recordingNavigator) Assign(uri string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.assigned = uri
	n.last = uri
}

// Opened is the last deep link opened in the top-level context
func (n *recordingNavigator) Opened() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.opened
}

// Assigned is the last same-window navigation
func (n *recordingNavigator) Assigned() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.assigned
}

// Last is the most recent navigation of either kind
func (n *recordingNavigator) Last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}
