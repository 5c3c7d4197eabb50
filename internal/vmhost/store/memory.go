package store

import (
	"context"
	"sync"

	"github.com/jimyag/vmhost/internal/vmhost/entity"
)

// MemoryStore 内存实现，进程退出后数据丢失
type MemoryStore struct {
	mu        sync.RWMutex
	vms       map[string]*entity.VM
	order     []string
	snapshots map[string]*entity.Snapshot
	snapOrder []string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vms:       make(map[string]*entity.VM),
		snapshots: make(map[string]*entity.Snapshot),
	}
}

func (s *MemoryStore) Insert(_ context.Context, vm *entity.VM) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vms[vm.ID]; ok {
		return ErrVMExists(vm.ID)
	}
	s.vms[vm.ID] = vm.Clone()
	s.order = append(s.order, vm.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*entity.VM, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vm, ok := s.vms[id]
	if !ok {
		return nil, ErrVMNotFound(id)
	}
	return vm.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(vm *entity.VM) error) (*entity.VM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.vms[id]
	if !ok {
		return nil, ErrVMNotFound(id)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	// ID 不可变
	next.ID = id
	s.vms[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*entity.VM, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.VM, 0, len(s.order))
	for _, id := range s.order {
		vm := s.vms[id]
		if filter.Match(vm) {
			out = append(out, vm.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) ExistsByName(_ context.Context, name string, excluding ...entity.Status) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, vm := range s.vms {
		if NameTaken(vm, name, excluding) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) InsertSnapshot(_ context.Context, snap *entity.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[snap.ID]; ok {
		return ErrSnapshotExists(snap.ID)
	}
	cp := *snap
	s.snapshots[snap.ID] = &cp
	s.snapOrder = append(s.snapOrder, snap.ID)
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, id string) (*entity.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return nil, ErrSnapshotNotFound(id)
	}
	cp := *snap
	return &cp, nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context, vmID string) ([]*entity.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.Snapshot, 0)
	for _, id := range s.snapOrder {
		snap := s.snapshots[id]
		if snap.VMID == vmID {
			cp := *snap
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
