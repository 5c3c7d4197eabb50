package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jimyag/vmhost/pkg/provisioner"
	"github.com/jimyag/vmhost/pkg/provisioner/memory"
)

func TestProvisioner_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := memory.New()

	require.NoError(t, p.Create(ctx, "web-01", "ubuntu/jammy64", provisioner.WithResources(2, 2048, 20)))
	state, ok := p.State("web-01")
	require.True(t, ok)
	assert.Equal(t, memory.MachinePoweroff, state)

	require.NoError(t, p.Start(ctx, "web-01"))
	state, _ = p.State("web-01")
	assert.Equal(t, memory.MachineRunning, state)

	require.NoError(t, p.Suspend(ctx, "web-01"))
	state, _ = p.State("web-01")
	assert.Equal(t, memory.MachineSuspended, state)

	require.NoError(t, p.Resume(ctx, "web-01"))
	require.NoError(t, p.Halt(ctx, "web-01"))
	require.NoError(t, p.Destroy(ctx, "web-01"))
	_, ok = p.State("web-01")
	assert.False(t, ok)

	calls := p.Calls()
	require.Len(t, calls, 6)
	assert.Equal(t, memory.OpCreate, calls[0].Op)
	assert.Equal(t, "ubuntu/jammy64", calls[0].Box)
	assert.Equal(t, 2048, calls[0].Opts.MemoryMB)
	assert.Equal(t, memory.OpDestroy, calls[5].Op)
}

func TestProvisioner_Errors(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")

	testcases := []struct {
		name  string
		setup func(p *memory.Provisioner)
		run   func(ctx context.Context, p *memory.Provisioner) error
		want  error
	}{
		{
			name: "start unknown machine",
			run: func(ctx context.Context, p *memory.Provisioner) error {
				return p.Start(ctx, "missing")
			},
			want: provisioner.ErrNotFound,
		},
		{
			name: "duplicate create",
			setup: func(p *memory.Provisioner) {
				_ = p.Create(context.Background(), "web-01", "box")
			},
			run: func(ctx context.Context, p *memory.Provisioner) error {
				return p.Create(ctx, "web-01", "box")
			},
		},
		{
			name: "fail on",
			setup: func(p *memory.Provisioner) {
				p.FailOn(memory.OpCreate, errBoom)
			},
			run: func(ctx context.Context, p *memory.Provisioner) error {
				return p.Create(ctx, "web-01", "box")
			},
			want: errBoom,
		},
		{
			name: "fail next",
			setup: func(p *memory.Provisioner) {
				_ = p.Create(context.Background(), "web-01", "box")
				p.FailNext(memory.OpStart, errBoom)
			},
			run: func(ctx context.Context, p *memory.Provisioner) error {
				return p.Start(ctx, "web-01")
			},
			want: errBoom,
		},
		{
			name: "hook error",
			setup: func(p *memory.Provisioner) {
				p.SetHook(memory.OpDestroy, func(context.Context, string) error { return errBoom })
			},
			run: func(ctx context.Context, p *memory.Provisioner) error {
				return p.Destroy(ctx, "web-01")
			},
			want: errBoom,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := memory.New()
			if tc.setup != nil {
				tc.setup(p)
			}
			err := tc.run(context.Background(), p)
			require.Error(t, err)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestProvisioner_FailNextOnlyOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := memory.New()
	require.NoError(t, p.Create(ctx, "web-01", "box"))

	p.FailNext(memory.OpStart, errors.New("flaky"))
	require.Error(t, p.Start(ctx, "web-01"))
	require.NoError(t, p.Start(ctx, "web-01"))
	assert.Equal(t, 2, p.CallCount(memory.OpStart))
}

func TestProvisioner_HookHonorsContext(t *testing.T) {
	t.Parallel()

	p := memory.New()
	p.SetHook(memory.OpCreate, func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := p.Create(ctx, "web-01", "box")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, ok := p.State("web-01")
	assert.False(t, ok)
}
