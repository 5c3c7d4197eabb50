package service

import (
	"slices"

	"github.com/jimyag/vmhost/internal/vmhost/entity"
)

// transition 一个操作允许的起始状态和成功后的目标状态
type transition struct {
	from []entity.Status
	to   entity.Status
}

// transitions 状态机
//
//	stopped   --start-->   running
//	running   --stop-->    stopped
//	running   --suspend--> suspended
//	suspended --resume-->  running
//	running|stopped --restart--> running
//	任意非终态 --destroy--> destroyed
var transitions = map[entity.Action]transition{
	entity.ActionStart: {
		from: []entity.Status{entity.StatusStopped},
		to:   entity.StatusRunning,
	},
	entity.ActionStop: {
		from: []entity.Status{entity.StatusRunning},
		to:   entity.StatusStopped,
	},
	entity.ActionSuspend: {
		from: []entity.Status{entity.StatusRunning},
		to:   entity.StatusSuspended,
	},
	entity.ActionResume: {
		from: []entity.Status{entity.StatusSuspended},
		to:   entity.StatusRunning,
	},
	entity.ActionRestart: {
		from: []entity.Status{entity.StatusRunning, entity.StatusStopped},
		to:   entity.StatusRunning,
	},
	entity.ActionDestroy: {
		from: []entity.Status{
			entity.StatusCreating,
			entity.StatusRunning,
			entity.StatusStopped,
			entity.StatusSuspended,
			entity.StatusError,
		},
		to: entity.StatusDestroyed,
	},
}

// configMutableStatuses 允许修改配置的状态
var configMutableStatuses = []entity.Status{
	entity.StatusRunning,
	entity.StatusStopped,
	entity.StatusSuspended,
	entity.StatusError,
}

// allowed 判断 action 是否可以从 from 发起
func allowed(action entity.Action, from entity.Status) bool {
	t, ok := transitions[action]
	return ok && slices.Contains(t.from, from)
}
