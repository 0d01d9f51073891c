package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"design-marketplace/internal/apperr"
	"design-marketplace/internal/models"
	"design-marketplace/internal/payment"

	"github.com/shopspring/decimal"
)

var fixedCreatedAt = time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC)

// memoryMarket mirrors the Postgres semantics of store.Store
type memoryMarket struct {
	mu           sync.Mutex
	designs      map[string]*models.Design
	transactions map[string]*models.Transaction
	bySession    map[string]string
	profiles     map[string]*models.Profile
	conflicts    []models.PaymentConflict

	recordErr error
	createErr error
	getErr    error
}

func newMemoryMarket() *memoryMarket {
	return &memoryMarket{
		designs:      map[string]*models.Design{},
		transactions: map[string]*models.Transaction{},
		bySession:    map[string]string{},
		profiles:     map[string]*models.Profile{},
	}
}

func (m *memoryMarket) addDesign(id, designerID, price, status string) *models.Design {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &models.Design{
		ID:         id,
		DesignerID: designerID,
		Title:      "Design " + id,
		Price:      decimal.RequireFromString(price),
		ImageURL:   "http://files/" + id + ".png",
		Status:     status,
		CreatedAt:  fixedCreatedAt,
	}
	m.designs[id] = d
	return d
}

func (m *memoryMarket) addProfile(id, name, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[id] = &models.Profile{ID: id, Name: name, Email: email}
}

func (m *memoryMarket) addTransaction(tx *models.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.ID] = tx
	m.bySession[tx.StripeSessionID] = tx.ID
}

func (m *memoryMarket) design(id string) models.Design {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.designs[id]
}

func (m *memoryMarket) transactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

func (m *memoryMarket) transactionBySession(sessionID string) *models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySession[sessionID]
	if !ok {
		return nil
	}
	cp := *m.transactions[id]
	return &cp
}

func (m *memoryMarket) GetDesignByID(_ context.Context, id string) (*models.Design, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	d, ok := m.designs[id]
	if !ok {
		return nil, fmt.Errorf("%w: design %s", apperr.ErrNotFound, id)
	}
	cp := *d
	return &cp, nil
}

func (m *memoryMarket) CreateDesign(_ context.Context, design *models.Design) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	design.CreatedAt = fixedCreatedAt
	cp := *design
	m.designs[design.ID] = &cp
	return nil
}

func (m *memoryMarket) RecordPurchase(_ context.Context, tx *models.Transaction) (models.PurchaseOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return 0, m.recordErr
	}

	d, ok := m.designs[tx.DesignID]
	if !ok {
		return 0, fmt.Errorf("%w: design %s", apperr.ErrNotFound, tx.DesignID)
	}
	if id, ok := m.bySession[tx.StripeSessionID]; ok {
		*tx = *m.transactions[id]
		return models.PurchaseDuplicate, nil
	}
	if d.Status == models.DesignStatusSold {
		return 0, fmt.Errorf("%w: design %s already sold", apperr.ErrConflict, tx.DesignID)
	}
	if d.DesignerID != tx.DesignerID {
		return 0, fmt.Errorf("%w: design owner mismatch", apperr.ErrInvalidOperation)
	}

	tx.CreatedAt = fixedCreatedAt
	cp := *tx
	m.transactions[tx.ID] = &cp
	m.bySession[tx.StripeSessionID] = tx.ID
	d.Status = models.DesignStatusSold
	return models.PurchaseRecorded, nil
}

func (m *memoryMarket) RecordPaymentConflict(_ context.Context, conflict *models.PaymentConflict) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conflicts {
		if c.StripeSessionID == conflict.StripeSessionID {
			return false, nil
		}
	}
	m.conflicts = append(m.conflicts, *conflict)
	return true, nil
}

func (m *memoryMarket) GetTransactionByID(_ context.Context, id string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", apperr.ErrNotFound, id)
	}
	cp := *tx
	return &cp, nil
}

func (m *memoryMarket) AttachLegalDocument(_ context.Context, transactionID, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[transactionID]
	if !ok || tx.LegalDocURL != nil {
		return false, nil
	}
	tx.LegalDocURL = &url
	return true, nil
}

func (m *memoryMarket) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("%w: profile %s", apperr.ErrNotFound, userID)
	}
	cp := *p
	return &cp, nil
}

type storedBlob struct {
	data        []byte
	contentType string
}

type memoryBlobs struct {
	mu     sync.Mutex
	blobs  map[string]storedBlob
	puts   int
	putErr error
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{blobs: map[string]storedBlob{}}
}

func (b *memoryBlobs) Put(_ context.Context, path string, data []byte, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return "", b.putErr
	}
	b.puts++
	b.blobs[path] = storedBlob{data: append([]byte(nil), data...), contentType: contentType}
	return "http://files.test/files/" + path, nil
}

func (b *memoryBlobs) Delete(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, path)
	return nil
}

func (b *memoryBlobs) get(path string) (storedBlob, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	blob, ok := b.blobs[path]
	return blob, ok
}

func (b *memoryBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blobs)
}

type recordingPublisher struct {
	mu        sync.Mutex
	recorded  []*models.TransactionRecordedEvent
	conflicts []*models.PaymentConflictEvent
	licenses  []*models.LicenseGeneratedEvent
	err       error
}

func (p *recordingPublisher) PublishTransactionRecorded(_ context.Context, e *models.TransactionRecordedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorded = append(p.recorded, e)
	return p.err
}

func (p *recordingPublisher) PublishPaymentConflict(_ context.Context, e *models.PaymentConflictEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conflicts = append(p.conflicts, e)
	return p.err
}

func (p *recordingPublisher) PublishLicenseGenerated(_ context.Context, e *models.LicenseGeneratedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.licenses = append(p.licenses, e)
	return p.err
}

type stubProvider struct {
	requests []payment.SessionRequest
	err      error
}

func (p *stubProvider) CreateCheckoutSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return &payment.Session{ID: "cs_test_123", URL: "https://checkout.stripe.com/c/pay/cs_test_123"}, nil
}

type memoryCache struct {
	mu   sync.Mutex
	keys map[string]interface{}
	err  error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{keys: map[string]interface{}{}}
}

func (c *memoryCache) SetIdempotencyKey(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.keys[key] = value
	return nil
}

func (c *memoryCache) CheckIdempotencyKey(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	_, ok := c.keys[key]
	return ok, nil
}

type memoryLocker struct {
	mu    sync.Mutex
	held  map[string]string
	err   error
	taken int
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{held: map[string]string{}}
}

func (l *memoryLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", l.err
	}
	if _, ok := l.held[key]; ok {
		return "", nil
	}
	l.taken++
	token := fmt.Sprintf("token-%d", l.taken)
	l.held[key] = token
	return token, nil
}

func (l *memoryLocker) ReleaseLock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return errors.New("lock not owned")
	}
	delete(l.held, key)
	return nil
}
