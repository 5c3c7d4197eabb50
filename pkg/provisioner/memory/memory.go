// Package memory 内存中的 provisioning 后端，用于测试和本地开发
//
// 支持按操作注入失败、记录调用顺序，以及通过 hook 阻塞某个操作（用于并发和超时测试）。
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jimyag/vmhost/pkg/provisioner"
)

// Op 后端操作
type Op string

const (
	OpCreate  Op = "create"
	OpStart   Op = "start"
	OpHalt    Op = "halt"
	OpDestroy Op = "destroy"
	OpSuspend Op = "suspend"
	OpResume  Op = "resume"
)

// MachineState 后端记录的机器状态
type MachineState string

const (
	MachinePoweroff  MachineState = "poweroff"
	MachineRunning   MachineState = "running"
	MachineSuspended MachineState = "suspended"
)

// Call 一次调用记录
type Call struct {
	Op   Op
	Name string
	Box  string
	Opts provisioner.CreateOptions
}

// Hook 在操作真正执行前调用，返回 error 时操作失败
type Hook func(ctx context.Context, name string) error

type machine struct {
	box   string
	state MachineState
}

// Provisioner 内存实现
type Provisioner struct {
	mu       sync.Mutex
	machines map[string]*machine
	calls    []Call
	failures map[Op]error
	once     map[Op][]error
	hooks    map[Op]Hook
}

var (
	_ provisioner.Provisioner = (*Provisioner)(nil)
	_ provisioner.Suspender   = (*Provisioner)(nil)
)

// New 创建内存后端
func New() *Provisioner {
	return &Provisioner{
		machines: make(map[string]*machine),
		failures: make(map[Op]error),
		once:     make(map[Op][]error),
		hooks:    make(map[Op]Hook),
	}
}

// Name 实现 provisioner.Provisioner
func (p *Provisioner) Name() string {
	return "memory"
}

// FailOn 之后所有 op 调用都返回 err，err 为 nil 时取消
func (p *Provisioner) FailOn(op Op, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

// FailNext 下一次 op 调用返回 err，可以多次调用排队
func (p *Provisioner) FailNext(op Op, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.once[op] = append(p.once[op], err)
}

// SetHook 设置 op 的 hook，hook 为 nil 时取消
func (p *Provisioner) SetHook(op Op, hook Hook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if hook == nil {
		delete(p.hooks, op)
		return
	}
	p.hooks[op] = hook
}

// Calls 返回调用记录的副本
func (p *Provisioner) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount 返回某个操作被调用的次数
func (p *Provisioner) CallCount(op Op) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// State 返回机器状态，机器不存在时 ok 为 false
func (p *Provisioner) State(name string) (MachineState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.machines[name]
	if !ok {
		return "", false
	}
	return m.state, true
}

// Create 实现 provisioner.Provisioner
func (p *Provisioner) Create(ctx context.Context, name, box string, opts ...provisioner.CreateOption) error {
	call := Call{Op: OpCreate, Name: name, Box: box, Opts: provisioner.ApplyOptions(opts...)}
	return p.do(ctx, call, func() error {
		if _, ok := p.machines[name]; ok {
			return fmt.Errorf("machine %s already exists", name)
		}
		p.machines[name] = &machine{box: box, state: MachinePoweroff}
		return nil
	})
}

// Start 实现 provisioner.Provisioner
func (p *Provisioner) Start(ctx context.Context, name string) error {
	return p.do(ctx, Call{Op: OpStart, Name: name}, func() error {
		return p.setState(name, MachineRunning)
	})
}

// Halt 实现 provisioner.Provisioner
func (p *Provisioner) Halt(ctx context.Context, name string) error {
	return p.do(ctx, Call{Op: OpHalt, Name: name}, func() error {
		return p.setState(name, MachinePoweroff)
	})
}

// Destroy 实现 provisioner.Provisioner
func (p *Provisioner) Destroy(ctx context.Context, name string) error {
	return p.do(ctx, Call{Op: OpDestroy, Name: name}, func() error {
		if _, ok := p.machines[name]; !ok {
			return fmt.Errorf("%w: %s", provisioner.ErrNotFound, name)
		}
		delete(p.machines, name)
		return nil
	})
}

// Suspend 实现 provisioner.Suspender
func (p *Provisioner) Suspend(ctx context.Context, name string) error {
	return p.do(ctx, Call{Op: OpSuspend, Name: name}, func() error {
		return p.setState(name, MachineSuspended)
	})
}

// Resume 实现 provisioner.Suspender
func (p *Provisioner) Resume(ctx context.Context, name string) error {
	return p.do(ctx, Call{Op: OpResume, Name: name}, func() error {
		return p.setState(name, MachineRunning)
	})
}

// do 记录调用，执行 hook 和注入的失败，最后在锁内执行 apply
// hook 在锁外执行，阻塞的 hook 不会影响其他机器
func (p *Provisioner) do(ctx context.Context, call Call, apply func() error) error {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	hook := p.hooks[call.Op]
	p.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call.Name); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if queued := p.once[call.Op]; len(queued) > 0 {
		p.once[call.Op] = queued[1:]
		if queued[0] != nil {
			return queued[0]
		}
	}
	if err := p.failures[call.Op]; err != nil {
		return err
	}
	return apply()
}

// setState 调用方持有锁
func (p *Provisioner) setState(name string, state MachineState) error {
	m, ok := p.machines[name]
	if !ok {
		return fmt.Errorf("%w: %s", provisioner.ErrNotFound, name)
	}
	m.state = state
	return nil
}
