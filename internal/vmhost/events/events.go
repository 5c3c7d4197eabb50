// Package events 发布 VM 生命周期事件（活动流）
package events

import (
	"context"
	"sync"
	"time"

	"github.com/jimyag/vmhost/internal/vmhost/entity"
)

// 事件类型
const (
	TypeVMCreated         = "vm_created"
	TypeVMStarted         = "vm_started"
	TypeVMStopped         = "vm_stopped"
	TypeVMSuspended       = "vm_suspended"
	TypeVMResumed         = "vm_resumed"
	TypeVMRestarted       = "vm_restarted"
	TypeVMDestroyed       = "vm_destroyed"
	TypeVMCloned          = "vm_cloned"
	TypeVMConfigUpdated   = "vm_config_updated"
	TypeSnapshotCreated   = "vm_snapshot_created"
	TypeSnapshotRestored  = "vm_snapshot_restored"
	TypeVMActionFailed    = "vm_action_failed"
	typeUnknownTransition = "vm_updated"
)

var successTypes = map[entity.Action]string{
	entity.ActionCreate:          TypeVMCreated,
	entity.ActionStart:           TypeVMStarted,
	entity.ActionStop:            TypeVMStopped,
	entity.ActionSuspend:         TypeVMSuspended,
	entity.ActionResume:          TypeVMResumed,
	entity.ActionRestart:         TypeVMRestarted,
	entity.ActionDestroy:         TypeVMDestroyed,
	entity.ActionClone:           TypeVMCloned,
	entity.ActionUpdateConfig:    TypeVMConfigUpdated,
	entity.ActionCreateSnapshot:  TypeSnapshotCreated,
	entity.ActionRestoreSnapshot: TypeSnapshotRestored,
}

// Event 一条生命周期事件
type Event struct {
	Type       string        `json:"type"`
	Action     entity.Action `json:"action"`
	VMID       string        `json:"vmId"`
	VMName     string        `json:"vmName"`
	ClientID   string        `json:"clientId,omitempty"`
	FromStatus entity.Status `json:"fromStatus,omitempty"`
	Status     entity.Status `json:"status"`
	Error      string        `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Failed 是否是失败事件
func (e Event) Failed() bool {
	return e.Error != ""
}

// NewEvent 根据操作结果构造事件，cause 不为 nil 表示操作失败
func NewEvent(action entity.Action, from entity.Status, vm *entity.VM, cause error) Event {
	ev := Event{
		Action:     action,
		VMID:       vm.ID,
		VMName:     vm.Name,
		ClientID:   vm.ClientID,
		FromStatus: from,
		Status:     vm.Status,
		Timestamp:  vm.UpdatedAt,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if cause != nil {
		ev.Type = TypeVMActionFailed
		ev.Error = cause.Error()
		return ev
	}
	if t, ok := successTypes[action]; ok {
		ev.Type = t
	} else {
		ev.Type = typeUnknownTransition
	}
	return ev
}

// Publisher 事件发布
// 发布失败不影响 VM 操作本身，调用方只记录日志
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop 丢弃所有事件
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder 在内存中保存最近的事件，用于测试和本地查看
type Recorder struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewRecorder limit <= 0 表示不限制
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
	return nil
}

// Events 返回事件副本，按发布顺序
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Close() error { return nil }
