// Package storetest 所有 store.Store 实现共用的行为测试
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jimyag/vmhost/internal/vmhost/entity"
	"github.com/jimyag/vmhost/internal/vmhost/store"
	"github.com/jimyag/vmhost/pkg/apierror"
)

// Factory 为每个子测试创建一个新的空 store
type Factory func(t *testing.T) store.Store

// NewVM 构造测试用 VM
func NewVM(id, name string, status entity.Status) *entity.VM {
	now := time.Now().UTC()
	return &entity.VM{
		ID:         id,
		Name:       name,
		ClientID:   "client-1",
		Template:   "ubuntu/jammy64",
		Config:     entity.VMConfig{CPU: 2, MemoryMB: 2048, StorageGB: 20},
		Status:     status,
		LastAction: entity.ActionCreate,
		Metadata:   map[string]string{"env": "test"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Run 执行全部行为测试
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("InsertGet", func(t *testing.T) { t.Parallel(); testInsertGet(t, newStore(t)) })
	t.Run("InsertDuplicate", func(t *testing.T) { t.Parallel(); testInsertDuplicate(t, newStore(t)) })
	t.Run("GetNotFound", func(t *testing.T) { t.Parallel(); testGetNotFound(t, newStore(t)) })
	t.Run("ReturnsCopies", func(t *testing.T) { t.Parallel(); testReturnsCopies(t, newStore(t)) })
	t.Run("Update", func(t *testing.T) { t.Parallel(); testUpdate(t, newStore(t)) })
	t.Run("UpdateAbort", func(t *testing.T) { t.Parallel(); testUpdateAbort(t, newStore(t)) })
	t.Run("UpdateConcurrent", func(t *testing.T) { t.Parallel(); testUpdateConcurrent(t, newStore(t)) })
	t.Run("ListOrderAndFilter", func(t *testing.T) { t.Parallel(); testList(t, newStore(t)) })
	t.Run("ExistsByName", func(t *testing.T) { t.Parallel(); testExistsByName(t, newStore(t)) })
	t.Run("Snapshots", func(t *testing.T) { t.Parallel(); testSnapshots(t, newStore(t)) })
}

func testInsertGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	vm := NewVM("vm-1", "web-01", entity.StatusCreating)
	vm.Config.Network = &entity.NetworkConfig{IP: "10.0.0.5", Subnet: "255.255.255.0", Gateway: "10.0.0.1"}
	require.NoError(t, s.Insert(ctx, vm))

	got, err := s.Get(ctx, "vm-1")
	require.NoError(t, err)
	assert.Equal(t, vm.Name, got.Name)
	assert.Equal(t, vm.ClientID, got.ClientID)
	assert.Equal(t, vm.Template, got.Template)
	assert.Equal(t, vm.Config, got.Config)
	assert.Equal(t, vm.Status, got.Status)
	assert.Equal(t, vm.LastAction, got.LastAction)
	assert.Equal(t, vm.Metadata, got.Metadata)
	assert.WithinDuration(t, vm.CreatedAt, got.CreatedAt, time.Second)
}

func testInsertDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, NewVM("vm-1", "web-01", entity.StatusStopped)))
	err := s.Insert(ctx, NewVM("vm-1", "web-02", entity.StatusStopped))
	assert.ErrorIs(t, err, apierror.ErrConflict)
}

func testGetNotFound(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), "vm-missing")
	assert.ErrorIs(t, err, apierror.ErrNotFound)

	_, err = s.Update(context.Background(), "vm-missing", func(*entity.VM) error { return nil })
	assert.ErrorIs(t, err, apierror.ErrNotFound)
}

func testReturnsCopies(t *testing.T, s store.Store) {
	ctx := context.Background()
	vm := NewVM("vm-1", "web-01", entity.StatusStopped)
	require.NoError(t, s.Insert(ctx, vm))

	// 修改入参和返回值都不会影响存储的记录
	vm.Status = entity.StatusRunning
	got, err := s.Get(ctx, "vm-1")
	require.NoError(t, err)
	got.Status = entity.StatusError
	got.Metadata["env"] = "prod"

	again, err := s.Get(ctx, "vm-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusStopped, again.Status)
	assert.Equal(t, "test", again.Metadata["env"])
}

func testUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, NewVM("vm-1", "web-01", entity.StatusStopped)))

	updated, err := s.Update(ctx, "vm-1", func(vm *entity.VM) error {
		vm.Status = entity.StatusRunning
		vm.LastAction = entity.ActionStart
		vm.ID = "vm-hijack"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "vm-1", updated.ID)
	assert.Equal(t, entity.StatusRunning, updated.Status)

	got, err := s.Get(ctx, "vm-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRunning, got.Status)
	assert.Equal(t, entity.ActionStart, got.LastAction)

	_, err = s.Get(ctx, "vm-hijack")
	assert.ErrorIs(t, err, apierror.ErrNotFound)
}

func testUpdateAbort(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, NewVM("vm-1", "web-01", entity.StatusStopped)))

	errAbort := errors.New("abort")
	_, err := s.Update(ctx, "vm-1", func(vm *entity.VM) error {
		vm.Status = entity.StatusRunning
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	got, err := s.Get(ctx, "vm-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusStopped, got.Status)
}

func testUpdateConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, NewVM("vm-1", "web-01", entity.StatusStopped)))

	// 多个并发的 compare-and-set，只有一个能看到 stopped
	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "vm-1", func(vm *entity.VM) error {
				if vm.Status != entity.StatusStopped {
					return apierror.ErrConflict
				}
				vm.Status = entity.StatusRunning
				return nil
			})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, success)
}

func testList(t *testing.T, s store.Store) {
	ctx := context.Background()
	statuses := []entity.Status{
		entity.StatusRunning,
		entity.StatusStopped,
		entity.StatusRunning,
		entity.StatusDestroyed,
		entity.StatusRunning,
	}
	for i, st := range statuses {
		vm := NewVM(fmt.Sprintf("vm-%d", 10-i), fmt.Sprintf("web-%02d", i), st)
		if i%2 == 1 {
			vm.ClientID = "client-2"
		}
		require.NoError(t, s.Insert(ctx, vm))
	}

	all, err := s.List(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	// 插入顺序，而不是 ID 顺序
	for i, vm := range all {
		assert.Equal(t, fmt.Sprintf("vm-%d", 10-i), vm.ID)
	}

	testcases := []struct {
		name   string
		filter store.Filter
		want   []string
	}{
		{name: "status", filter: store.Filter{Status: entity.StatusRunning}, want: []string{"vm-10", "vm-8", "vm-6"}},
		{name: "client", filter: store.Filter{ClientID: "client-2"}, want: []string{"vm-9", "vm-7"}},
		{name: "both", filter: store.Filter{Status: entity.StatusStopped, ClientID: "client-2"}, want: []string{"vm-9"}},
		{name: "none", filter: store.Filter{Status: entity.StatusSuspended}, want: []string{}},
	}
	for _, tc := range testcases {
		got, err := s.List(ctx, tc.filter)
		require.NoError(t, err, tc.name)
		ids := make([]string, 0, len(got))
		for _, vm := range got {
			ids = append(ids, vm.ID)
		}
		assert.Equal(t, tc.want, ids, tc.name)
	}
}

func testExistsByName(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, NewVM("vm-1", "web-01", entity.StatusDestroyed)))
	require.NoError(t, s.Insert(ctx, NewVM("vm-2", "web-02", entity.StatusRunning)))

	testcases := []struct {
		name      string
		excluding []entity.Status
		want      bool
	}{
		{name: "web-01", want: true},
		{name: "web-01", excluding: []entity.Status{entity.StatusDestroyed}, want: false},
		{name: "web-02", excluding: []entity.Status{entity.StatusDestroyed}, want: true},
		{name: "web-03", want: false},
	}
	for _, tc := range testcases {
		got, err := s.ExistsByName(ctx, tc.name, tc.excluding...)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s excluding %v", tc.name, tc.excluding)
	}
}

func testSnapshots(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	snaps := []*entity.Snapshot{
		{ID: "snap-2", Name: "before-upgrade", VMID: "vm-1", CreatedAt: now},
		{ID: "snap-1", Name: "other", VMID: "vm-2", CreatedAt: now},
		{ID: "snap-3", Name: "after-upgrade", VMID: "vm-1", CreatedAt: now},
	}
	for _, snap := range snaps {
		require.NoError(t, s.InsertSnapshot(ctx, snap))
	}
	assert.ErrorIs(t, s.InsertSnapshot(ctx, snaps[0]), apierror.ErrConflict)

	got, err := s.GetSnapshot(ctx, "snap-2")
	require.NoError(t, err)
	assert.Equal(t, "before-upgrade", got.Name)
	assert.Equal(t, "vm-1", got.VMID)

	_, err = s.GetSnapshot(ctx, "snap-missing")
	assert.ErrorIs(t, err, apierror.ErrNotFound)

	list, err := s.ListSnapshots(ctx, "vm-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "snap-2", list[0].ID)
	assert.Equal(t, "snap-3", list[1].ID)

	empty, err := s.ListSnapshots(ctx, "vm-3")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
