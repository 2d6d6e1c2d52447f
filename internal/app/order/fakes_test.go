package order

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YelzhanWeb/printforge/internal/domain"
	"github.com/YelzhanWeb/printforge/internal/interfaces"
)

type memoryRepo struct {
	mu      sync.Mutex
	orders  map[string]*domain.CustomOrder
	events  []*domain.StatusLog
	patches int
	// beforePatch runs once, inside Patch, before the guard is checked.
	beforePatch func(o *domain.CustomOrder)
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: map[string]*domain.CustomOrder{}}
}

func (r *memoryRepo) Create(_ context.Context, order *domain.CustomOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	cp := *order
	r.orders[order.ID] = &cp
	r.events = append(r.events,
		&domain.StatusLog{OrderID: order.ID, Axis: domain.AxisStatus, Value: string(order.Status)},
		&domain.StatusLog{OrderID: order.ID, Axis: domain.AxisSlice, Value: string(order.SliceStatus)},
	)
	return nil
}

func (r *memoryRepo) FindByID(_ context.Context, id string) (*domain.CustomOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memoryRepo) List(_ context.Context, filter interfaces.OrderFilter) ([]*domain.CustomOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*domain.CustomOrder{}
	for _, o := range r.orders {
		if filter.CustomerID == "" || o.CustomerID == filter.CustomerID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepo) Patch(_ context.Context, id string, patch domain.OrderPatch, changedBy string) (*domain.CustomOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if r.beforePatch != nil {
		hook := r.beforePatch
		r.beforePatch = nil
		hook(o)
	}
	if !patch.Matches(o) {
		return nil, domain.ErrConflict
	}
	r.patches++
	before := *o
	patch.Apply(o)
	if o.Status != before.Status {
		r.events = append(r.events, &domain.StatusLog{OrderID: id, Axis: domain.AxisStatus, Value: string(o.Status), ChangedBy: changedBy})
	}
	if o.SliceStatus != before.SliceStatus {
		r.events = append(r.events, &domain.StatusLog{OrderID: id, Axis: domain.AxisSlice, Value: string(o.SliceStatus), ChangedBy: changedBy})
	}
	cp := *o
	return &cp, nil
}

func (r *memoryRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.orders, id)
	return nil
}

func (r *memoryRepo) GetStatusHistory(_ context.Context, orderID string) ([]*domain.StatusLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.StatusLog
	for _, e := range r.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type recordingPublisher struct {
	mu      sync.Mutex
	jobs    []interfaces.SliceJobMessage
	updates []interfaces.StatusUpdateMessage
	jobErr  error
}

func (p *recordingPublisher) PublishSliceJob(_ context.Context, msg interfaces.SliceJobMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.jobErr != nil {
		return p.jobErr
	}
	p.jobs = append(p.jobs, msg)
	return nil
}

func (p *recordingPublisher) PublishStatusUpdate(_ context.Context, msg interfaces.StatusUpdateMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, msg)
	return nil
}

const storageBase = "https://storage.googleapis.com/forge-models/"

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	puts    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (m *memoryStore) Put(_ context.Context, key, _ string, r io.Reader) (interfaces.StoredObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return interfaces.StoredObject{}, m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return interfaces.StoredObject{}, err
	}
	m.objects[key] = data
	return interfaces.StoredObject{Key: key, URL: storageBase + key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string, _ int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, interfaces.ErrObjectNotFound
	}
	return data, nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (interfaces.StoredObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return interfaces.StoredObject{}, fmt.Errorf("%s: %w", key, interfaces.ErrObjectNotFound)
	}
	return interfaces.StoredObject{Key: key, URL: storageBase + key, Size: int64(len(data))}, nil
}

func (m *memoryStore) SignUpload(_ context.Context, key string, maxBytes int64, ttl time.Duration) (domain.UploadCredential, error) {
	return domain.UploadCredential{Key: key, Signature: "sig", MaxBytes: maxBytes, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (m *memoryStore) KeyFromURL(rawURL string) (string, bool) {
	if !strings.HasPrefix(rawURL, storageBase) {
		return "", false
	}
	return strings.TrimPrefix(rawURL, storageBase), true
}

var errBrokerDown = errors.New("broker unreachable")
