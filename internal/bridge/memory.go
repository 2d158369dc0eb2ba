package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// Memory is an in-process bridge for paper trading and tests. By default a
// transfer reports IN_TRANSIT for SettleAfter polls, then the final status.
type Memory struct {
	id string

	mu          sync.Mutex
	settleAfter int
	final       domain.BridgeStatus
	initErr     error
	pollErr     error
	transfers   map[string]*memTransfer
	requests    []domain.TransferRequest
}

type memTransfer struct {
	polls  int
	status domain.BridgeStatus
}

// NewMemory creates a bridge that confirms every transfer on the first poll.
func NewMemory(id string) *Memory {
	return &Memory{
		id:        id,
		final:     domain.BridgeConfirmed,
		transfers: make(map[string]*memTransfer),
	}
}

// Settle makes new transfers report IN_TRANSIT for n polls and then final.
// An IN_TRANSIT final status never settles.
func (m *Memory) Settle(n int, final domain.BridgeStatus) {
	m.mu.Lock()
	m.settleAfter, m.final = n, final
	m.mu.Unlock()
}

// FailInitiate makes Initiate return err; nil restores it.
func (m *Memory) FailInitiate(err error) {
	m.mu.Lock()
	m.initErr = err
	m.mu.Unlock()
}

// FailPoll makes PollStatus return err; nil restores it.
func (m *Memory) FailPoll(err error) {
	m.mu.Lock()
	m.pollErr = err
	m.mu.Unlock()
}

// SetStatus forces the status of an existing transfer.
func (m *Memory) SetStatus(transferID string, status domain.BridgeStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transfers[transferID]; ok {
		t.status = status
		t.polls = -1
	}
}

// Requests returns the transfer requests received so far.
func (m *Memory) Requests() []domain.TransferRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TransferRequest(nil), m.requests...)
}

func (m *Memory) ID() string { return m.id }

func (m *Memory) Initiate(ctx context.Context, req domain.TransferRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initErr != nil {
		return "", m.initErr
	}
	m.requests = append(m.requests, req)
	id := "xfer-" + uuid.NewString()
	m.transfers[id] = &memTransfer{status: domain.BridgeInitiated}
	return id, nil
}

func (m *Memory) PollStatus(ctx context.Context, transferID string) (domain.BridgeStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pollErr != nil {
		return "", m.pollErr
	}
	t, ok := m.transfers[transferID]
	if !ok {
		return "", fmt.Errorf("bridge/%s: transfer %s: %w", m.id, transferID, domain.ErrNotFound)
	}
	// Forced by SetStatus.
	if t.polls < 0 {
		return t.status, nil
	}
	t.polls++
	if t.polls > m.settleAfter {
		t.status = m.final
	} else {
		t.status = domain.BridgeInTransit
	}
	return t.status, nil
}

var _ domain.Bridge = (*Memory)(nil)
