package session

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"sync"

	"github.com/Skotchmaster/pos_terminal/internal/events"
	"github.com/Skotchmaster/pos_terminal/pkg/logging"
)

const DefaultTerminalID = "default"

var (
	ErrInvalidTerminalID = errors.New("invalid terminal id")
	ErrClosed            = errors.New("session manager is closed")
)

var terminalIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Manager opens terminals on first use and keeps them until Close.
type Manager struct {
	opts Options

	mu        sync.Mutex
	terminals map[string]*Terminal
	online    bool
	closed    bool
}

func NewManager(opts Options) *Manager {
	return &Manager{opts: opts, terminals: map[string]*Terminal{}, online: true}
}

// Get returns the terminal with id, opening it if needed. An empty id means
// DefaultTerminalID.
func (m *Manager) Get(ctx context.Context, id string) (*Terminal, error) {
	if id == "" {
		id = DefaultTerminalID
	}
	if !terminalIDPattern.MatchString(id) {
		return nil, ErrInvalidTerminalID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if t, ok := m.terminals[id]; ok {
		return t, nil
	}

	t, err := Open(ctx, id, m.opts)
	if err != nil {
		return nil, err
	}
	if !m.online {
		t.Queue.UpdateOnlineStatus(ctx, false)
	}
	m.terminals[id] = t
	return t, nil
}

func (m *Manager) Lookup(id string) (*Terminal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.terminals[id]
	return t, ok
}

// All lists open terminals ordered by id.
func (m *Manager) All() []*Terminal {
	m.mu.Lock()
	out := make([]*Terminal, 0, len(m.terminals))
	for _, t := range m.terminals {
		out = append(out, t)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetOnline forwards connectivity to every terminal's queue and publishes
// TerminalConnectivity for each terminal when the state changes.
func (m *Manager) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if changed {
		logging.FromContext(ctx).Info("connectivity changed", "svc", "session.set_online", "online", online)
	}
	for _, t := range m.All() {
		t.Queue.UpdateOnlineStatus(ctx, online)
		if changed {
			events.Emit(ctx, m.opts.Events, events.New(events.TerminalConnectivity, t.ID, map[string]any{"online": online}))
		}
	}
}

func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	terminals := m.terminals
	m.terminals = map[string]*Terminal{}
	m.mu.Unlock()

	for _, t := range terminals {
		t.Close()
	}
}
