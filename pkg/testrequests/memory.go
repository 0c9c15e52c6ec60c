package testrequests

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/upstac/platform/pkg/common/models"
)

// MemoryRepository keeps test requests in process memory. WithinTx serializes
// transactions and restores the previous state when fn fails.
type MemoryRepository struct {
	txMu sync.Mutex

	mu       sync.RWMutex
	requests map[int64]*models.TestRequest
	flows    []models.TestRequestFlow
	nextID   int64
	nextFlow int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{requests: make(map[int64]*models.TestRequest)}
}

func (m *MemoryRepository) Create(_ context.Context, req *models.TestRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	req.RequestID = m.nextID
	m.requests[req.RequestID] = cloneRequest(req)
	return nil
}

func (m *MemoryRepository) FindByID(_ context.Context, id int64) (*models.TestRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRequest(req), nil
}

func (m *MemoryRepository) FindByStatus(_ context.Context, status models.RequestStatus) ([]*models.TestRequest, error) {
	return m.filter(func(req *models.TestRequest) bool { return req.Status == status }), nil
}

func (m *MemoryRepository) FindByTester(_ context.Context, tester uuid.UUID) ([]*models.TestRequest, error) {
	return m.filter(func(req *models.TestRequest) bool {
		return req.LabResult != nil && req.LabResult.Tester == tester
	}), nil
}

func (m *MemoryRepository) FindByDoctor(_ context.Context, doctor uuid.UUID) ([]*models.TestRequest, error) {
	return m.filter(func(req *models.TestRequest) bool {
		return req.Consultation != nil && req.Consultation.Doctor == doctor
	}), nil
}

func (m *MemoryRepository) FindByCreator(_ context.Context, creator uuid.UUID) ([]*models.TestRequest, error) {
	return m.filter(func(req *models.TestRequest) bool { return req.CreatedBy == creator }), nil
}

func (m *MemoryRepository) FindOpenByContact(_ context.Context, email, phone string) ([]*models.TestRequest, error) {
	return m.filter(func(req *models.TestRequest) bool {
		if req.Status == models.StatusCompleted {
			return false
		}
		return req.Email == email || req.PhoneNumber == phone
	}), nil
}

func (m *MemoryRepository) Save(_ context.Context, req *models.TestRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.RequestID]; !ok {
		return ErrNotFound
	}
	m.requests[req.RequestID] = cloneRequest(req)
	return nil
}

func (m *MemoryRepository) SaveTransition(_ context.Context, req *models.TestRequest, from models.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.requests[req.RequestID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != from {
		return ErrStaleStatus
	}
	m.requests[req.RequestID] = cloneRequest(req)
	return nil
}

func (m *MemoryRepository) AppendFlow(_ context.Context, flow *models.TestRequestFlow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextFlow++
	flow.ID = m.nextFlow
	m.flows = append(m.flows, *flow)
	return nil
}

func (m *MemoryRepository) FlowsFor(_ context.Context, requestID int64) ([]models.TestRequestFlow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.TestRequestFlow, 0)
	for _, flow := range m.flows {
		if flow.RequestID == requestID {
			out = append(out, flow)
		}
	}
	return out, nil
}

func (m *MemoryRepository) WithinTx(_ context.Context, fn func(tx Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	snapshot := make(map[int64]*models.TestRequest, len(m.requests))
	for id, req := range m.requests {
		snapshot[id] = cloneRequest(req)
	}
	flowCount, nextID, nextFlow := len(m.flows), m.nextID, m.nextFlow
	m.mu.RUnlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.requests = snapshot
		m.flows = m.flows[:flowCount]
		m.nextID, m.nextFlow = nextID, nextFlow
		m.mu.Unlock()
		return err
	}
	return nil
}

// filter returns matches in insertion (request id) order.
func (m *MemoryRepository) filter(match func(*models.TestRequest) bool) []*models.TestRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.TestRequest, 0)
	for _, req := range m.requests {
		if match(req) {
			out = append(out, cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestID < out[j].RequestID })
	return out
}

func cloneRequest(req *models.TestRequest) *models.TestRequest {
	cp := *req
	if req.LabResult != nil {
		lab := *req.LabResult
		cp.LabResult = &lab
	}
	if req.Consultation != nil {
		c := *req.Consultation
		cp.Consultation = &c
	}
	return &cp
}
