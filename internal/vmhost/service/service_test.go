package service_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jimyag/vmhost/internal/vmhost/entity"
	"github.com/jimyag/vmhost/internal/vmhost/events"
	"github.com/jimyag/vmhost/internal/vmhost/metrics"
	"github.com/jimyag/vmhost/internal/vmhost/service"
	"github.com/jimyag/vmhost/internal/vmhost/store"
	"github.com/jimyag/vmhost/pkg/apierror"
	"github.com/jimyag/vmhost/pkg/provisioner"
	"github.com/jimyag/vmhost/pkg/provisioner/memory"
)

type fixture struct {
	svc      *service.VMService
	prov     *memory.Provisioner
	store    *store.MemoryStore
	recorder *events.Recorder
	metrics  *metrics.Metrics
}

// tickingClock 每次调用前进一秒，便于断言 UpdatedAt 是否被刷新
type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newFixture(t *testing.T, opts ...service.Option) *fixture {
	t.Helper()
	f := &fixture{
		prov:     memory.New(),
		store:    store.NewMemoryStore(),
		recorder: events.NewRecorder(0),
		metrics:  metrics.New(),
	}
	clock := &tickingClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]service.Option{
		service.WithPublisher(f.recorder),
		service.WithMetrics(f.metrics),
		service.WithClock(clock.Now),
	}, opts...)
	f.svc = service.NewVMService(f.store, f.prov, opts...)
	return f
}

func createReq(name string) *entity.CreateVMRequest {
	return &entity.CreateVMRequest{
		Name:     name,
		ClientID: "client-1",
		Template: "ubuntu/jammy64",
		Config:   entity.VMConfig{CPU: 2, MemoryMB: 2048, StorageGB: 20},
	}
}

// vmIn 只通过公开操作把 VM 驱动到指定状态
func (f *fixture) vmIn(t *testing.T, name string, status entity.Status) *entity.VM {
	t.Helper()
	ctx := context.Background()

	if status == entity.StatusError {
		f.prov.FailNext(memory.OpCreate, errors.New("box not found"))
		vm, err := f.svc.CreateVM(ctx, createReq(name))
		require.Error(t, err)
		require.Equal(t, entity.StatusError, vm.Status)
		return vm
	}

	vm, err := f.svc.CreateVM(ctx, createReq(name))
	require.NoError(t, err)
	switch status {
	case entity.StatusStopped:
	case entity.StatusRunning:
		vm, err = f.svc.Start(ctx, vm.ID)
	case entity.StatusSuspended:
		_, err = f.svc.Start(ctx, vm.ID)
		require.NoError(t, err)
		vm, err = f.svc.Suspend(ctx, vm.ID)
	case entity.StatusDestroyed:
		vm, err = f.svc.Destroy(ctx, vm.ID)
	default:
		t.Fatalf("cannot drive vm to %s", status)
	}
	require.NoError(t, err)
	require.Equal(t, status, vm.Status)
	return vm
}

func (f *fixture) get(t *testing.T, id string) *entity.VM {
	t.Helper()
	vm, err := f.svc.GetVM(context.Background(), id)
	require.NoError(t, err)
	return vm
}

func TestCreateVM(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name    string
		modify  func(req *entity.CreateVMRequest)
		wantErr *apierror.Error
	}{
		{
			name:   "ok",
			modify: func(*entity.CreateVMRequest) {},
		},
		{
			name: "with network and metadata",
			modify: func(req *entity.CreateVMRequest) {
				req.Config.Network = &entity.NetworkConfig{IP: "10.0.0.5", Subnet: "10.0.0.0/24", Gateway: "10.0.0.1"}
				req.Metadata = map[string]string{"env": "prod"}
			},
		},
		{
			name:    "empty name",
			modify:  func(req *entity.CreateVMRequest) { req.Name = " " },
			wantErr: apierror.ErrValidation,
		},
		{
			name:    "empty template",
			modify:  func(req *entity.CreateVMRequest) { req.Template = "" },
			wantErr: apierror.ErrValidation,
		},
		{
			name:    "zero cpu",
			modify:  func(req *entity.CreateVMRequest) { req.Config.CPU = 0 },
			wantErr: apierror.ErrValidation,
		},
		{
			name:    "negative memory",
			modify:  func(req *entity.CreateVMRequest) { req.Config.MemoryMB = -1 },
			wantErr: apierror.ErrValidation,
		},
		{
			name:    "zero storage",
			modify:  func(req *entity.CreateVMRequest) { req.Config.StorageGB = 0 },
			wantErr: apierror.ErrValidation,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			req := createReq("web-01")
			tc.modify(req)

			vm, err := f.svc.CreateVM(context.Background(), req)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, vm)
				// 校验失败不能有任何副作用
				assert.Empty(t, f.prov.Calls())
				list, listErr := f.store.List(context.Background(), store.Filter{})
				require.NoError(t, listErr)
				assert.Empty(t, list)
				return
			}

			require.NoError(t, err)
			assert.Regexp(t, `^vm-\d+$`, vm.ID)
			assert.Equal(t, entity.StatusStopped, vm.Status)
			assert.Equal(t, entity.ActionCreate, vm.LastAction)
			assert.Empty(t, vm.LastError)
			assert.Equal(t, req.Config, vm.Config)
			assert.Equal(t, req.Metadata, vm.Metadata)
			assert.True(t, vm.UpdatedAt.After(vm.CreatedAt))

			calls := f.prov.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, memory.OpCreate, calls[0].Op)
			assert.Equal(t, "web-01", calls[0].Name)
			assert.Equal(t, "ubuntu/jammy64", calls[0].Box)
			assert.Equal(t, 2, calls[0].Opts.CPU)
			assert.Equal(t, 2048, calls[0].Opts.MemoryMB)
			assert.Equal(t, 20, calls[0].Opts.StorageGB)
			if req.Config.Network != nil {
				require.NotNil(t, calls[0].Opts.Network)
				assert.Equal(t, "10.0.0.5", calls[0].Opts.Network.IP)
			}

			state, ok := f.prov.State("web-01")
			assert.True(t, ok)
			assert.Equal(t, memory.MachinePoweroff, state)
		})
	}
}

func TestCreateVM_AdapterFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	cause := errors.New("box ubuntu/jammy64 could not be found")
	f.prov.FailNext(memory.OpCreate, cause)

	vm, err := f.svc.CreateVM(ctx, createReq("web-01"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apierror.ErrAdapter)
	assert.ErrorIs(t, err, cause)
	assert.True(t, apierror.From(err).Retryable)

	require.NotNil(t, vm)
	assert.Equal(t, entity.StatusError, vm.Status)
	assert.Equal(t, entity.ActionCreate, vm.LastAction)
	assert.Contains(t, vm.LastError, "could not be found")
	assert.Equal(t, vm, f.get(t, vm.ID))

	// error 状态的 VM 仍然占用名称，只能销毁
	_, err = f.svc.CreateVM(ctx, createReq("web-01"))
	assert.ErrorIs(t, err, apierror.ErrConflict)
	_, err = f.svc.Start(ctx, vm.ID)
	assert.ErrorIs(t, err, apierror.ErrConflict)

	destroyed, err := f.svc.Destroy(ctx, vm.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDestroyed, destroyed.Status)
}

type clientSet map[string]bool

func (c clientSet) ClientExists(_ context.Context, id string) (bool, error) {
	if id == "broken" {
		return false, errors.New("client directory unavailable")
	}
	return c[id], nil
}

func TestCreateVM_ClientChecker(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name     string
		clientID string
		wantErr  *apierror.Error
	}{
		{name: "known client", clientID: "client-1"},
		{name: "no client", clientID: ""},
		{name: "unknown client", clientID: "client-404", wantErr: apierror.ErrValidation},
		{name: "checker failure", clientID: "broken", wantErr: apierror.ErrInternal},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, service.WithClientChecker(clientSet{"client-1": true}))
			req := createReq("web-01")
			req.ClientID = tc.clientID

			_, err := f.svc.CreateVM(context.Background(), req)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Zero(t, f.prov.CallCount(memory.OpCreate))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCreateVM_ConcurrentSameName(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	entered := make(chan struct{})
	unblock := make(chan struct{})
	f.prov.SetHook(memory.OpCreate, func(ctx context.Context, _ string) error {
		close(entered)
		<-unblock
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.CreateVM(ctx, createReq("web-01"))
		done <- err
	}()
	<-entered

	_, err := f.svc.CreateVM(ctx, createReq("web-01"))
	assert.ErrorIs(t, err, apierror.ErrConflict)

	close(unblock)
	require.NoError(t, <-done)

	list, err := f.store.List(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// web-01 的完整流程：创建、启动、重复启动、销毁、复用名称
func TestScenario_Web01(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	vm, err := f.svc.CreateVM(ctx, createReq("web-01"))
	require.NoError(t, err)
	assert.Equal(t, entity.StatusStopped, vm.Status)

	vm, err = f.svc.Start(ctx, vm.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRunning, vm.Status)
	assert.Equal(t, entity.ActionStart, vm.LastAction)

	before := f.get(t, vm.ID)
	_, err = f.svc.Start(ctx, vm.ID)
	assert.ErrorIs(t, err, apierror.ErrConflict)
	assert.Equal(t, before, f.get(t, vm.ID))
	assert.Equal(t, 1, f.prov.CallCount(memory.OpStart))

	vm, err = f.svc.Destroy(ctx, vm.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDestroyed, vm.Status)
	_, ok := f.prov.State("web-01")
	assert.False(t, ok)

	again, err := f.svc.CreateVM(ctx, createReq("web-01"))
	require.NoError(t, err)
	assert.NotEqual(t, vm.ID, again.ID)
	assert.Equal(t, entity.StatusStopped, again.Status)

	// 销毁的记录永久保留
	old := f.get(t, vm.ID)
	assert.Equal(t, entity.StatusDestroyed, old.Status)
}

func TestTransitions(t *testing.T) {
	t.Parallel()

	type op func(svc *service.VMService, ctx context.Context, id string) (*entity.VM, error)
	ops := map[entity.Action]op{
		entity.ActionStart:   (*service.VMService).Start,
		entity.ActionStop:    (*service.VMService).Stop,
		entity.ActionSuspend: (*service.VMService).Suspend,
		entity.ActionResume:  (*service.VMService).Resume,
		entity.ActionRestart: (*service.VMService).Restart,
		entity.ActionDestroy: (*service.VMService).Destroy,
	}
	expected := map[entity.Action]map[entity.Status]entity.Status{
		entity.ActionStart:   {entity.StatusStopped: entity.StatusRunning},
		entity.ActionStop:    {entity.StatusRunning: entity.StatusStopped},
		entity.ActionSuspend: {entity.StatusRunning: entity.StatusSuspended},
		entity.ActionResume:  {entity.StatusSuspended: entity.StatusRunning},
		entity.ActionRestart: {
			entity.StatusRunning: entity.StatusRunning,
			entity.StatusStopped: entity.StatusRunning,
		},
		entity.ActionDestroy: {
			entity.StatusRunning:   entity.StatusDestroyed,
			entity.StatusStopped:   entity.StatusDestroyed,
			entity.StatusSuspended: entity.StatusDestroyed,
			entity.StatusError:     entity.StatusDestroyed,
		},
	}
	reachable := []entity.Status{
		entity.StatusStopped,
		entity.StatusRunning,
		entity.StatusSuspended,
		entity.StatusError,
		entity.StatusDestroyed,
	}

	for action, run := range ops {
		for _, from := range reachable {
			t.Run(fmt.Sprintf("%s from %s", action, from), func(t *testing.T) {
				t.Parallel()
				f := newFixture(t)
				ctx := context.Background()
				vm := f.vmIn(t, "web-01", from)
				before := f.get(t, vm.ID)

				got, err := run(f.svc, ctx, vm.ID)
				to, ok := expected[action][from]
				if !ok {
					assert.ErrorIs(t, err, apierror.ErrConflict)
					assert.Nil(t, got)
					assert.Equal(t, before, f.get(t, vm.ID), "rejected transition must not touch the record")
					return
				}
				require.NoError(t, err)
				assert.Equal(t, to, got.Status)
				assert.Equal(t, action, got.LastAction)
				assert.Empty(t, got.LastError)
				assert.True(t, got.UpdatedAt.After(before.UpdatedAt))
				assert.Equal(t, got, f.get(t, vm.ID))
			})
		}
	}
}

func TestTransitions_NotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, "vm-missing")
	assert.ErrorIs(t, err, apierror.ErrNotFound)
	_, err = f.svc.Destroy(ctx, "vm-missing")
	assert.ErrorIs(t, err, apierror.ErrNotFound)
	_, err = f.svc.GetVM(ctx, "vm-missing")
	assert.ErrorIs(t, err, apierror.ErrNotFound)
	assert.Empty(t, f.prov.Calls())
}

func TestTransitions_AdapterFailureKeepsStatus(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name   string
		from   entity.Status
		failOp memory.Op
		action entity.Action
		run    func(svc *service.VMService, ctx context.Context, id string) (*entity.VM, error)
	}{
		{"start", entity.StatusStopped, memory.OpStart, entity.ActionStart, (*service.VMService).Start},
		{"stop", entity.StatusRunning, memory.OpHalt, entity.ActionStop, (*service.VMService).Stop},
		{"suspend", entity.StatusRunning, memory.OpSuspend, entity.ActionSuspend, (*service.VMService).Suspend},
		{"resume", entity.StatusSuspended, memory.OpResume, entity.ActionResume, (*service.VMService).Resume},
		{"destroy", entity.StatusStopped, memory.OpDestroy, entity.ActionDestroy, (*service.VMService).Destroy},
		{"restart from stopped", entity.StatusStopped, memory.OpStart, entity.ActionRestart, (*service.VMService).Restart},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			ctx := context.Background()
			vm := f.vmIn(t, "web-01", tc.from)

			cause := errors.New("VBoxManage: error: machine is locked")
			f.prov.FailNext(tc.failOp, cause)

			got, err := tc.run(f.svc, ctx, vm.ID)
			assert.Nil(t, got)
			assert.ErrorIs(t, err, apierror.ErrAdapter)
			assert.ErrorIs(t, err, cause)
			assert.True(t, apierror.From(err).Retryable)

			after := f.get(t, vm.ID)
			assert.Equal(t, tc.from, after.Status)
			assert.Equal(t, tc.action, after.LastAction)
			assert.Contains(t, after.LastError, "machine is locked")
			assert.True(t, after.UpdatedAt.After(vm.UpdatedAt))
		})
	}
}

func TestRestart_HaltFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	vm := f.vmIn(t, "web-01", entity.StatusRunning)

	f.prov.FailNext(memory.OpHalt, errors.New("halt refused"))
	_, err := f.svc.Restart(ctx, vm.ID)
	assert.ErrorIs(t, err, apierror.ErrAdapter)

	after := f.get(t, vm.ID)
	assert.Equal(t, entity.StatusRunning, after.Status)
	assert.Equal(t, entity.ActionRestart, after.LastAction)
	// halt 失败后不再尝试 start
	assert.Equal(t, 1, f.prov.CallCount(memory.OpStart))
}

func TestRestart_StartFailsAfterHalt(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	vm := f.vmIn(t, "web-01", entity.StatusRunning)

	f.prov.FailNext(memory.OpStart, errors.New("no bootable device"))
	_, err := f.svc.Restart(ctx, vm.ID)
	assert.ErrorIs(t, err, apierror.ErrAdapter)

	after := f.get(t, vm.ID)
	assert.Equal(t, entity.StatusError, after.Status)
	assert.Equal(t, entity.ActionRestart, after.LastAction)
	assert.Contains(t, after.LastError, "no bootable device")

	// error 状态只能销毁
	_, err = f.svc.Restart(ctx, vm.ID)
	assert.ErrorIs(t, err, apierror.ErrConflict)
	_, err = f.svc.Destroy(ctx, vm.ID)
	assert.NoError(t, err)
}

func TestRestart_FromStoppedSkipsHalt(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	vm := f.vmIn(t, "web-01", entity.StatusStopped)

	got, err := f.svc.Restart(context.Background(), vm.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRunning, got.Status)
	assert.Zero(t, f.prov.CallCount(memory.OpHalt))
}

func TestDestroy_MachineAlreadyGone(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	vm := f.vmIn(t, "web-01", entity.StatusStopped)

	f.prov.FailNext(memory.OpDestroy, fmt.Errorf("%w: web-01", provisioner.ErrNotFound))
	got, err := f.svc.Destroy(context.Background(), vm.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDestroyed, got.Status)
}

// basicProvisioner 只暴露四个必需能力，不实现 Suspender
type basicProvisioner struct {
	provisioner.Provisioner
}

func TestSuspend_Unsupported(t *testing.T) {
	t.Parallel()
	prov := memory.New()
	st := store.NewMemoryStore()
	svc := service.NewVMService(st, basicProvisioner{prov})
	ctx := context.Background()

	vm, err := svc.CreateVM(ctx, createReq("web-01"))
	require.NoError(t, err)
	_, err = svc.Start(ctx, vm.ID)
	require.NoError(t, err)

	_, err = svc.Suspend(ctx, vm.ID)
	assert.ErrorIs(t, err, apierror.ErrAdapter)
	assert.ErrorIs(t, err, provisioner.ErrUnsupported)

	after, err := svc.GetVM(ctx, vm.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRunning, after.Status)
	assert.Equal(t, entity.ActionSuspend, after.LastAction)
}

// 两个并发的 stop：恰好一个成功，另一个返回 operation in progress
func TestConcurrentStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	vm := f.vmIn(t, "web-01", entity.StatusRunning)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	f.prov.SetHook(memory.OpHalt, func(context.Context, string) error {
		close(entered)
		<-unblock
		return nil
	})

	type result struct {
		vm  *entity.VM
		err error
	}
	first := make(chan result, 1)
	go func() {
		got, err := f.svc.Stop(ctx, vm.ID)
		first <- result{got, err}
	}()
	<-entered

	_, err := f.svc.Stop(ctx, vm.ID)
	assert.ErrorIs(t, err, apierror.ErrConflict)
	assert.ErrorIs(t, err, apierror.ErrOperationInProgress)

	// 进行中的操作同样阻止其他转换和配置修改
	_, err = f.svc.Destroy(ctx, vm.ID)
	assert.ErrorIs(t, err, apierror.ErrOperationInProgress)
	cpu := 4
	_, err = f.svc.UpdateConfig(ctx, &entity.UpdateConfigRequest{ID: vm.ID, CPU: &cpu})
	assert.ErrorIs(t, err, apierror.ErrOperationInProgress)

	close(unblock)
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, entity.StatusStopped, res.vm.Status)
	assert.Equal(t, 1, f.prov.CallCount(memory.OpHalt))
}

// 不同 VM 之间互不阻塞
func TestConcurrentDifferentVMs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := f.vmIn(t, "web-01", entity.StatusRunning)
	b := f.vmIn(t, "web-02", entity.StatusRunning)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	f.prov.SetHook(memory.OpHalt, func(_ context.Context, name string) error {
		if name == "web-01" {
			close(entered)
			<-unblock
		}
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Stop(ctx, a.ID)
		done <- err
	}()
	<-entered

	got, err := f.svc.Stop(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusStopped, got.Status)

	close(unblock)
	assert.NoError(t, <-done)
}

func TestAdapterTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t, service.WithAdapterTimeout(50*time.Millisecond))
	ctx := context.Background()
	vm := f.vmIn(t, "web-01", entity.StatusStopped)

	f.prov.SetHook(memory.OpStart, func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})

	_, err := f.svc.Start(ctx, vm.ID)
	require.Error(t, err)
	apiErr := apierror.From(err)
	assert.Equal(t, apierror.ErrAdapter.Code, apiErr.Code)
	assert.Equal(t, http.StatusGatewayTimeout, apiErr.HTTPStatus)
	assert.True(t, apiErr.Retryable)

	// 超时既不算成功也不算失败，状态保持不变
	after := f.get(t, vm.ID)
	assert.Equal(t, entity.StatusStopped, after.Status)
	assert.Equal(t, entity.ActionStart, after.LastAction)
}

// 调用方取消后，后端的结果仍然要提交
func TestCallerCancelDuringAdapterCall(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	vm := f.vmIn(t, "web-01", entity.StatusStopped)

	ctx, cancel := context.WithCancel(context.Background())
	f.prov.SetHook(memory.OpStart, func(context.Context, string) error {
		cancel()
		return errors.New("interrupted")
	})

	_, err := f.svc.Start(ctx, vm.ID)
	assert.ErrorIs(t, err, apierror.ErrAdapter)
	after := f.get(t, vm.ID)
	assert.Equal(t, entity.ActionStart, after.LastAction)
	assert.Contains(t, after.LastError, "interrupted")
}

func TestClone(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	req := createReq("web-01")
	req.Metadata = map[string]string{"env": "prod"}
	src, err := f.svc.CreateVM(ctx, req)
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, src.ID)
	require.NoError(t, err)

	clone, err := f.svc.Clone(ctx, &entity.CloneVMRequest{ID: src.ID, Name: "web-01-copy"})
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, clone.ID)
	assert.Equal(t, "web-01-copy", clone.Name)
	assert.Equal(t, entity.StatusStopped, clone.Status)
	assert.Equal(t, entity.ActionClone, clone.LastAction)
	assert.Equal(t, src.Config, clone.Config)
	assert.Equal(t, src.Template, clone.Template)
	assert.Equal(t, src.ClientID, clone.ClientID)
	assert.Equal(t, "prod", clone.Metadata["env"])
	assert.Equal(t, src.ID, clone.Metadata["clonedFrom"])

	// 源 VM 不受影响
	assert.Equal(t, entity.StatusRunning, f.get(t, src.ID).Status)

	// 克隆走和创建相同的后端流程
	calls := f.prov.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, memory.OpCreate, last.Op)
	assert.Equal(t, "web-01-copy", last.Name)
	assert.Equal(t, src.Template, last.Box)
}

func TestClone_NameConflict(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	src := f.vmIn(t, "web-01", entity.StatusStopped)
	f.vmIn(t, "web-01-clone", entity.StatusStopped)

	before, err := f.store.List(ctx, store.Filter{})
	require.NoError(t, err)
	creates := f.prov.CallCount(memory.OpCreate)

	_, err = f.svc.Clone(ctx, &entity.CloneVMRequest{ID: src.ID, Name: "web-01-clone"})
	assert.ErrorIs(t, err, apierror.ErrConflict)

	after, err := f.store.List(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, after, len(before), "no record may be inserted")
	assert.Equal(t, creates, f.prov.CallCount(memory.OpCreate))
}

func TestClone_DerivedName(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	src := f.vmIn(t, "web-01", entity.StatusStopped)

	first, err := f.svc.Clone(ctx, &entity.CloneVMRequest{ID: src.ID})
	require.NoError(t, err)
	assert.Equal(t, "web-01-clone", first.Name)

	second, err := f.svc.Clone(ctx, &entity.CloneVMRequest{ID: src.ID})
	require.NoError(t, err)
	assert.Equal(t, "web-01-clone-2", second.Name)

	// 销毁后名称可以再次使用
	_, err = f.svc.Destroy(ctx, first.ID)
	require.NoError(t, err)
	third, err := f.svc.Clone(ctx, &entity.CloneVMRequest{ID: src.ID})
	require.NoError(t, err)
	assert.Equal(t, "web-01-clone", third.Name)
}

func TestClone_Errors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Clone(ctx, &entity.CloneVMRequest{ID: "vm-missing", Name: "x"})
	assert.ErrorIs(t, err, apierror.ErrNotFound)

	src := f.vmIn(t, "web-01", entity.StatusStopped)
	f.prov.FailNext(memory.OpCreate, errors.New("disk full"))
	clone, err := f.svc.Clone(ctx, &entity.CloneVMRequest{ID: src.ID, Name: "web-02"})
	assert.ErrorIs(t, err, apierror.ErrAdapter)
	require.NotNil(t, clone)
	assert.Equal(t, entity.StatusError, clone.Status)
}

func TestUpdateConfig(t *testing.T) {
	t.Parallel()

	intp := func(v int) *int { return &v }

	testcases := []struct {
		name    string
		from    entity.Status
		req     entity.UpdateConfigRequest
		want    entity.VMConfig
		wantErr *apierror.Error
	}{
		{
			name: "cpu only",
			from: entity.StatusRunning,
			req:  entity.UpdateConfigRequest{CPU: intp(4)},
			want: entity.VMConfig{CPU: 4, MemoryMB: 2048, StorageGB: 20},
		},
		{
			name: "all fields while suspended",
			from: entity.StatusSuspended,
			req: entity.UpdateConfigRequest{
				CPU: intp(8), MemoryMB: intp(8192), StorageGB: intp(100),
				Network: &entity.NetworkConfig{IP: "10.0.0.9"},
			},
			want: entity.VMConfig{CPU: 8, MemoryMB: 8192, StorageGB: 100, Network: &entity.NetworkConfig{IP: "10.0.0.9"}},
		},
		{
			name: "error state allowed",
			from: entity.StatusError,
			req:  entity.UpdateConfigRequest{MemoryMB: intp(1024)},
			want: entity.VMConfig{CPU: 2, MemoryMB: 1024, StorageGB: 20},
		},
		{
			name:    "empty update",
			from:    entity.StatusStopped,
			req:     entity.UpdateConfigRequest{},
			wantErr: apierror.ErrValidation,
		},
		{
			name:    "non-positive cpu",
			from:    entity.StatusStopped,
			req:     entity.UpdateConfigRequest{CPU: intp(0)},
			wantErr: apierror.ErrValidation,
		},
		{
			name:    "destroyed",
			from:    entity.StatusDestroyed,
			req:     entity.UpdateConfigRequest{CPU: intp(4)},
			wantErr: apierror.ErrConflict,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			vm := f.vmIn(t, "web-01", tc.from)
			before := f.get(t, vm.ID)
			calls := len(f.prov.Calls())

			req := tc.req
			req.ID = vm.ID
			got, err := f.svc.UpdateConfig(context.Background(), &req)
			// 配置修改只改记录，不调用后端
			assert.Len(t, f.prov.Calls(), calls)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Equal(t, before, f.get(t, vm.ID))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Config)
			assert.Equal(t, tc.from, got.Status)
			assert.Equal(t, entity.ActionUpdateConfig, got.LastAction)
		})
	}
}

func TestUpdateConfig_NotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	cpu := 2
	_, err := f.svc.UpdateConfig(context.Background(), &entity.UpdateConfigRequest{ID: "vm-missing", CPU: &cpu})
	assert.ErrorIs(t, err, apierror.ErrNotFound)
}

func TestListVMs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for i := range 25 {
		req := createReq(fmt.Sprintf("web-%02d", i))
		if i%5 == 0 {
			req.ClientID = "client-2"
		}
		vm, err := f.svc.CreateVM(ctx, req)
		require.NoError(t, err)
		if i%2 == 0 {
			_, err = f.svc.Start(ctx, vm.ID)
			require.NoError(t, err)
		}
	}

	testcases := []struct {
		name      string
		req       entity.ListVMsRequest
		wantLen   int
		wantPage  entity.Pagination
		wantFirst string
		wantErr   *apierror.Error
	}{
		{
			name:      "defaults",
			req:       entity.ListVMsRequest{},
			wantLen:   10,
			wantPage:  entity.Pagination{Page: 1, Limit: 10, Total: 25, TotalPages: 3},
			wantFirst: "web-00",
		},
		{
			name:      "last page",
			req:       entity.ListVMsRequest{Page: 3},
			wantLen:   5,
			wantPage:  entity.Pagination{Page: 3, Limit: 10, Total: 25, TotalPages: 3},
			wantFirst: "web-20",
		},
		{
			name:     "past the end",
			req:      entity.ListVMsRequest{Page: 9, Limit: 10},
			wantLen:  0,
			wantPage: entity.Pagination{Page: 9, Limit: 10, Total: 25, TotalPages: 3},
		},
		{
			name:     "huge page",
			req:      entity.ListVMsRequest{Page: math.MaxInt, Limit: 10},
			wantLen:  0,
			wantPage: entity.Pagination{Page: math.MaxInt, Limit: 10, Total: 25, TotalPages: 3},
		},
		{
			name:     "huge page with max limit",
			req:      entity.ListVMsRequest{Page: math.MaxInt / 2, Limit: 1000},
			wantLen:  0,
			wantPage: entity.Pagination{Page: math.MaxInt / 2, Limit: 100, Total: 25, TotalPages: 1},
		},
		{
			name:      "limit clamped",
			req:       entity.ListVMsRequest{Limit: 1000},
			wantLen:   25,
			wantPage:  entity.Pagination{Page: 1, Limit: 100, Total: 25, TotalPages: 1},
			wantFirst: "web-00",
		},
		{
			name:      "status filter",
			req:       entity.ListVMsRequest{Status: entity.StatusRunning},
			wantLen:   10,
			wantPage:  entity.Pagination{Page: 1, Limit: 10, Total: 13, TotalPages: 2},
			wantFirst: "web-00",
		},
		{
			name:      "client filter",
			req:       entity.ListVMsRequest{ClientID: "client-2"},
			wantLen:   5,
			wantPage:  entity.Pagination{Page: 1, Limit: 10, Total: 5, TotalPages: 1},
			wantFirst: "web-00",
		},
		{
			name:      "status and client",
			req:       entity.ListVMsRequest{Status: entity.StatusStopped, ClientID: "client-2"},
			wantLen:   2,
			wantPage:  entity.Pagination{Page: 1, Limit: 10, Total: 2, TotalPages: 1},
			wantFirst: "web-05",
		},
		{
			name:    "unknown status",
			req:     entity.ListVMsRequest{Status: "paused"},
			wantErr: apierror.ErrValidation,
		},
		{
			name:    "negative page",
			req:     entity.ListVMsRequest{Page: -1},
			wantErr: apierror.ErrValidation,
		},
		{
			name:    "negative limit",
			req:     entity.ListVMsRequest{Limit: -5},
			wantErr: apierror.ErrValidation,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			resp, err := f.svc.ListVMs(ctx, &tc.req)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, resp.VMs, tc.wantLen)
			assert.Equal(t, tc.wantPage, resp.Pagination)
			if tc.wantFirst != "" {
				assert.Equal(t, tc.wantFirst, resp.VMs[0].Name)
			}
		})
	}
}

func TestSnapshots(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	vm := f.vmIn(t, "web-01", entity.StatusRunning)
	other := f.vmIn(t, "web-02", entity.StatusStopped)

	snap, err := f.svc.CreateSnapshot(ctx, &entity.CreateSnapshotRequest{ID: vm.ID, Name: "before-upgrade"})
	require.NoError(t, err)
	assert.Regexp(t, `^snap-\d+$`, snap.ID)
	assert.Equal(t, vm.ID, snap.VMID)
	assert.Equal(t, "before-upgrade", snap.Name)
	assert.False(t, snap.CreatedAt.IsZero())

	// 创建快照不改变 VM
	assert.Equal(t, vm, f.get(t, vm.ID))

	list, err := f.svc.ListSnapshots(ctx, vm.ID)
	require.NoError(t, err)
	require.Len(t, list.Snapshots, 1)
	assert.Equal(t, snap.ID, list.Snapshots[0].ID)

	restored, err := f.svc.RestoreSnapshot(ctx, &entity.RestoreSnapshotRequest{ID: vm.ID, SnapshotID: snap.ID})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRunning, restored.Status)
	assert.Equal(t, entity.ActionRestoreSnapshot, restored.LastAction)
	assert.True(t, restored.UpdatedAt.After(vm.UpdatedAt))

	// 快照属于另一个 VM
	_, err = f.svc.RestoreSnapshot(ctx, &entity.RestoreSnapshotRequest{ID: other.ID, SnapshotID: snap.ID})
	assert.ErrorIs(t, err, apierror.ErrNotFound)
	_, err = f.svc.RestoreSnapshot(ctx, &entity.RestoreSnapshotRequest{ID: vm.ID, SnapshotID: "snap-missing"})
	assert.ErrorIs(t, err, apierror.ErrNotFound)

	_, err = f.svc.CreateSnapshot(ctx, &entity.CreateSnapshotRequest{ID: vm.ID, Name: ""})
	assert.ErrorIs(t, err, apierror.ErrValidation)
	_, err = f.svc.CreateSnapshot(ctx, &entity.CreateSnapshotRequest{ID: "vm-missing", Name: "x"})
	assert.ErrorIs(t, err, apierror.ErrNotFound)
	_, err = f.svc.ListSnapshots(ctx, "vm-missing")
	assert.ErrorIs(t, err, apierror.ErrNotFound)

	_, err = f.svc.Destroy(ctx, vm.ID)
	require.NoError(t, err)
	_, err = f.svc.CreateSnapshot(ctx, &entity.CreateSnapshotRequest{ID: vm.ID, Name: "late"})
	assert.ErrorIs(t, err, apierror.ErrConflict)
	_, err = f.svc.RestoreSnapshot(ctx, &entity.RestoreSnapshotRequest{ID: vm.ID, SnapshotID: snap.ID})
	assert.ErrorIs(t, err, apierror.ErrConflict)

	// 快照不调用后端
	assert.Zero(t, f.prov.CallCount(memory.OpSuspend))
}

// 销毁进行中时不能创建或恢复快照
func TestSnapshots_DuringDestroy(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	vm := f.vmIn(t, "web-01", entity.StatusRunning)
	snap, err := f.svc.CreateSnapshot(ctx, &entity.CreateSnapshotRequest{ID: vm.ID, Name: "base"})
	require.NoError(t, err)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	f.prov.SetHook(memory.OpDestroy, func(context.Context, string) error {
		close(entered)
		<-unblock
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Destroy(ctx, vm.ID)
		done <- err
	}()
	<-entered

	_, err = f.svc.CreateSnapshot(ctx, &entity.CreateSnapshotRequest{ID: vm.ID, Name: "late"})
	assert.ErrorIs(t, err, apierror.ErrOperationInProgress)
	_, err = f.svc.RestoreSnapshot(ctx, &entity.RestoreSnapshotRequest{ID: vm.ID, SnapshotID: snap.ID})
	assert.ErrorIs(t, err, apierror.ErrOperationInProgress)

	close(unblock)
	require.NoError(t, <-done)
	assert.Equal(t, entity.StatusDestroyed, f.get(t, vm.ID).Status)

	list, err := f.svc.ListSnapshots(ctx, vm.ID)
	require.NoError(t, err)
	require.Len(t, list.Snapshots, 1)
	assert.Equal(t, snap.ID, list.Snapshots[0].ID)
}

func TestEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	vm := f.vmIn(t, "web-01", entity.StatusRunning)
	_, err := f.svc.Start(ctx, vm.ID)
	require.Error(t, err)
	f.prov.FailNext(memory.OpHalt, errors.New("halt refused"))
	_, err = f.svc.Stop(ctx, vm.ID)
	require.Error(t, err)

	evs := f.recorder.Events()
	require.Len(t, evs, 3)

	assert.Equal(t, events.TypeVMCreated, evs[0].Type)
	assert.Equal(t, entity.StatusCreating, evs[0].FromStatus)
	assert.Equal(t, entity.StatusStopped, evs[0].Status)

	assert.Equal(t, events.TypeVMStarted, evs[1].Type)
	assert.Equal(t, entity.StatusStopped, evs[1].FromStatus)
	assert.Equal(t, entity.StatusRunning, evs[1].Status)

	// 非法转换不发布事件，后端失败发布失败事件
	assert.Equal(t, events.TypeVMActionFailed, evs[2].Type)
	assert.Equal(t, entity.ActionStop, evs[2].Action)
	assert.Equal(t, entity.StatusRunning, evs[2].Status)
	assert.Contains(t, evs[2].Error, "halt refused")
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	vm := f.vmIn(t, "web-01", entity.StatusRunning)
	_, err := f.svc.Start(ctx, vm.ID)
	require.Error(t, err)
	f.prov.FailNext(memory.OpHalt, errors.New("halt refused"))
	_, err = f.svc.Stop(ctx, vm.ID)
	require.Error(t, err)

	assert.Equal(t, 1.0, counterValue(t, f.metrics, "vmhost_operations_total", map[string]string{"action": "create", "code": "success"}))
	assert.Equal(t, 1.0, counterValue(t, f.metrics, "vmhost_operations_total", map[string]string{"action": "start", "code": "success"}))
	assert.Equal(t, 1.0, counterValue(t, f.metrics, "vmhost_operations_total", map[string]string{"action": "start", "code": "Conflict"}))
	assert.Equal(t, 1.0, counterValue(t, f.metrics, "vmhost_operations_total", map[string]string{"action": "stop", "code": "AdapterError"}))
	assert.Equal(t, 1.0, counterValue(t, f.metrics, "vmhost_adapter_calls_total", map[string]string{"backend": "memory", "op": "halt", "result": "error"}))
	assert.Equal(t, 1.0, counterValue(t, f.metrics, "vmhost_adapter_calls_total", map[string]string{"backend": "memory", "op": "start", "result": "success"}))
	assert.Equal(t, 0.0, gaugeValue(t, f.metrics, "vmhost_operations_in_flight"))
}
