package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/miniapp-games/pkg/logger"
)

// Manager owns the current session for one client.
type Manager struct {
	chainID uint64
	log     *logger.Logger

	mu         sync.Mutex
	current    *Session
	generation uint64
}

// NewManager creates a manager that accepts sessions on chainID.
func NewManager(chainID uint64, log *logger.Logger) *Manager {
	return &Manager{chainID: chainID, log: logger.OrDefault(log, "session")}
}

// Connect supersedes the current session and starts a new one for account.
// A chain ID mismatch leaves the client disconnected.
func (m *Manager) Connect(ctx context.Context, account common.Address, chainID uint64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.close()
		m.current = nil
	}
	if chainID != m.chainID {
		m.log.WithFields(map[string]any{"want": m.chainID, "got": chainID}).Warn("connect rejected: wrong network")
		return nil, fmt.Errorf("%w: chain %d, expected %d", ErrWrongNetwork, chainID, m.chainID)
	}

	m.generation++
	s := newSession(ctx, account, chainID, m.generation, m.log)
	m.current = s
	s.log.WithField("generation", m.generation).Info("session connected")
	return s, nil
}

// Disconnect supersedes the current session, if any.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.log.Info("session disconnected")
		m.current.close()
		m.current = nil
	}
}

// Current returns the live session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
