package view

import "github.com/DoyleJ11/impostor/internal/engine"

// Machine tracks the LOBBY/PLAYING cycle for one replica and the local
// revealed flag, which never leaves the process.
type Machine struct {
	status   engine.Status
	revealed bool
}

func NewMachine() *Machine {
	return &Machine{status: engine.StatusLobby}
}

// Observe feeds the latest replica and reports whether the status changed.
// Leaving PLAYING always hides the card.
func (m *Machine) Observe(s *engine.Session) bool {
	next := engine.StatusLobby
	if s != nil {
		next = s.Status
	}
	if next == m.status {
		return false
	}
	if m.status == engine.StatusPlaying {
		m.revealed = false
	}
	m.status = next
	return true
}

// Reset hides the card without waiting for a LOBBY snapshot.
func (m *Machine) Reset() {
	m.revealed = false
}

// SetRevealed is ignored outside a round.
func (m *Machine) SetRevealed(shown bool) bool {
	if m.status != engine.StatusPlaying {
		return false
	}
	changed := m.revealed != shown
	m.revealed = shown
	return changed
}

func (m *Machine) Status() engine.Status { return m.status }
func (m *Machine) Revealed() bool        { return m.revealed }
