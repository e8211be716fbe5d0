// Package auth validates the admin password guarding destructive operations
// and throttles repeated failures per client.
package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/adcondev/printer-daemon/internal/logging"
)

const (
	MaxAttempts     = 5
	LockoutDuration = 5 * time.Minute
	CleanupInterval = 5 * time.Minute
)

var (
	// ErrAdminDisabled is returned when no admin password hash is configured.
	ErrAdminDisabled = errors.New("admin operations are disabled")
	// ErrLockedOut is returned while a client is locked out.
	ErrLockedOut = errors.New("too many failed attempts, try again later")
	// ErrBadPassword is returned for a wrong password.
	ErrBadPassword = errors.New("invalid admin password")
)

type failInfo struct {
	count       int
	lockedUntil time.Time
}

// Manager checks admin passwords and tracks failures by client key.
type Manager struct {
	hash []byte
	now  func() time.Time

	mu     sync.Mutex
	failed map[string]failInfo
}

// NewManager creates a manager for the base64 bcrypt hash. An empty or
// undecodable hash disables admin operations. The cleanup goroutine stops
// with ctx.
func NewManager(ctx context.Context, hashB64 string) *Manager {
	m := &Manager{
		now:    time.Now,
		failed: make(map[string]failInfo),
	}
	if hashB64 != "" {
		h, err := base64.StdEncoding.DecodeString(hashB64)
		if err != nil {
			logging.Logger.Error("[AUTH] failed to decode admin password hash", zap.Error(err))
		} else {
			m.hash = h
		}
	}
	go m.cleanupLoop(ctx)
	logging.Logger.Info("[AUTH] auth manager initialized", zap.Bool("enabled", m.Enabled()))
	return m
}

// Enabled returns true if a usable password hash is configured.
func (m *Manager) Enabled() bool {
	return len(m.hash) > 0
}

// Authorize checks password on behalf of client.
func (m *Manager) Authorize(client, password string) error {
	if !m.Enabled() {
		return ErrAdminDisabled
	}
	if m.IsLockedOut(client) {
		return ErrLockedOut
	}
	if bcrypt.CompareHashAndPassword(m.hash, []byte(password)) != nil {
		m.RecordFailure(client)
		return ErrBadPassword
	}
	m.ClearFailures(client)
	logging.Logger.Info("[AUDIT] admin operation authorized", zap.String("client", client))
	return nil
}

// IsLockedOut returns true if client has exceeded MaxAttempts.
func (m *Manager) IsLockedOut(client string) bool {
	m.mu.Lock()
	info, exists := m.failed[client]
	m.mu.Unlock()
	if !exists {
		return false
	}
	return info.count >= MaxAttempts && m.now().Before(info.lockedUntil)
}

// RecordFailure increments the failure counter for client.
func (m *Manager) RecordFailure(client string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.failed[client]
	info.count++
	if info.count >= MaxAttempts {
		info.lockedUntil = m.now().Add(LockoutDuration)
		logging.Logger.Warn("[AUDIT] client locked out",
			zap.String("client", client),
			zap.Duration("for", LockoutDuration),
			zap.Int("attempts", info.count))
	}
	m.failed[client] = info
}

// ClearFailures resets the counter after a successful check.
func (m *Manager) ClearFailures(client string) {
	m.mu.Lock()
	delete(m.failed, client)
	m.mu.Unlock()
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, v := range m.failed {
		if v.count >= MaxAttempts && now.After(v.lockedUntil) {
			delete(m.failed, k)
		}
	}
}

func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}
