package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/jimyag/vmhost/internal/vmhost/entity"
	"github.com/jimyag/vmhost/pkg/provisioner"
)

// Start 启动 VM：stopped -> running
func (s *VMService) Start(ctx context.Context, id string) (*entity.VM, error) {
	return s.runTransition(ctx, entity.ActionStart, id, func(ctx context.Context, vm *entity.VM) (entity.Status, error) {
		return "", s.callAdapter(ctx, "start", vm.Name, func(ctx context.Context) error {
			return s.provisioner.Start(ctx, vm.Name)
		})
	})
}

// Stop 关闭 VM：running -> stopped
func (s *VMService) Stop(ctx context.Context, id string) (*entity.VM, error) {
	return s.runTransition(ctx, entity.ActionStop, id, func(ctx context.Context, vm *entity.VM) (entity.Status, error) {
		return "", s.callAdapter(ctx, "halt", vm.Name, func(ctx context.Context) error {
			return s.provisioner.Halt(ctx, vm.Name)
		})
	})
}

// Suspend 挂起 VM：running -> suspended
// 后端未实现 provisioner.Suspender 时返回 AdapterError
func (s *VMService) Suspend(ctx context.Context, id string) (*entity.VM, error) {
	return s.runTransition(ctx, entity.ActionSuspend, id, func(ctx context.Context, vm *entity.VM) (entity.Status, error) {
		return "", s.callAdapter(ctx, "suspend", vm.Name, func(ctx context.Context) error {
			sp, ok := s.provisioner.(provisioner.Suspender)
			if !ok {
				return provisioner.ErrUnsupported
			}
			return sp.Suspend(ctx, vm.Name)
		})
	})
}

// Resume 恢复 VM：suspended -> running
func (s *VMService) Resume(ctx context.Context, id string) (*entity.VM, error) {
	return s.runTransition(ctx, entity.ActionResume, id, func(ctx context.Context, vm *entity.VM) (entity.Status, error) {
		return "", s.callAdapter(ctx, "resume", vm.Name, func(ctx context.Context) error {
			sp, ok := s.provisioner.(provisioner.Suspender)
			if !ok {
				return provisioner.ErrUnsupported
			}
			return sp.Resume(ctx, vm.Name)
		})
	})
}

// Restart 重启 VM：先 halt 再 start
//   - halt 失败：不再 start，状态保持不变
//   - halt 成功但 start 失败：状态置为 error，机器处于未知的非运行状态
//   - 从 stopped 发起时跳过 halt
func (s *VMService) Restart(ctx context.Context, id string) (*entity.VM, error) {
	return s.runTransition(ctx, entity.ActionRestart, id, func(ctx context.Context, vm *entity.VM) (entity.Status, error) {
		if vm.Status == entity.StatusRunning {
			err := s.callAdapter(ctx, "halt", vm.Name, func(ctx context.Context) error {
				return s.provisioner.Halt(ctx, vm.Name)
			})
			if err != nil {
				return "", err
			}
			err = s.callAdapter(ctx, "start", vm.Name, func(ctx context.Context) error {
				return s.provisioner.Start(ctx, vm.Name)
			})
			if err != nil {
				return entity.StatusError, err
			}
			return "", nil
		}
		return "", s.callAdapter(ctx, "start", vm.Name, func(ctx context.Context) error {
			return s.provisioner.Start(ctx, vm.Name)
		})
	})
}

// Destroy 销毁 VM：任意非 destroyed 状态 -> destroyed
// 后端返回机器不存在时视为已经销毁；其他失败不标记 destroyed，需要重试
func (s *VMService) Destroy(ctx context.Context, id string) (*entity.VM, error) {
	return s.runTransition(ctx, entity.ActionDestroy, id, func(ctx context.Context, vm *entity.VM) (entity.Status, error) {
		return "", s.callAdapter(ctx, "destroy", vm.Name, func(ctx context.Context) error {
			err := s.provisioner.Destroy(ctx, vm.Name)
			if errors.Is(err, provisioner.ErrNotFound) {
				zerolog.Ctx(ctx).Warn().
					Str("vm_id", vm.ID).
					Str("machine", vm.Name).
					Msg("Machine already gone, marking VM destroyed")
				return nil
			}
			return err
		})
	})
}

// transitionFunc 调用后端完成一次转换
// 失败时返回需要提交的状态，为空表示状态保持不变
type transitionFunc func(ctx context.Context, vm *entity.VM) (failStatus entity.Status, err error)

// runTransition 状态转换的公共流程：
// 读取 -> 加锁 -> 校验转换 -> 调用后端（不持有 store 锁）-> 校验状态未变 -> 提交
func (s *VMService) runTransition(ctx context.Context, action entity.Action, id string, run transitionFunc) (*entity.VM, error) {
	defer s.track()()
	logger := zerolog.Ctx(ctx).With().
		Str("vm_id", id).
		Str("action", string(action)).
		Logger()
	ctx = logger.WithContext(ctx)

	if _, err := s.store.Get(ctx, id); err != nil {
		err = wrapStoreError(err, "Failed to get VM")
		s.finish(ctx, action, "", nil, err)
		return nil, err
	}

	release, ok := s.guard.tryAcquire(vmKey(id))
	if !ok {
		err := inProgress(id)
		logger.Warn().Msg("Rejected, another operation is in progress")
		s.finish(ctx, action, "", nil, err)
		return nil, err
	}
	defer release()

	// 加锁后重新读取，上一个操作可能刚刚提交
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		err = wrapStoreError(err, "Failed to get VM")
		s.finish(ctx, action, "", nil, err)
		return nil, err
	}
	from := cur.Status

	if !allowed(action, from) {
		err := illegalTransition(action, cur)
		logger.Warn().Str("status", string(from)).Msg("Illegal transition")
		s.finish(ctx, action, from, nil, err)
		return nil, err
	}

	logger.Info().
		Str("name", cur.Name).
		Str("status", string(from)).
		Msg("Transition started")

	failStatus, adapterErr := run(ctx, cur)

	commitCtx := context.WithoutCancel(ctx)
	if adapterErr != nil {
		if failStatus == "" {
			failStatus = from
		}
		failed, err := s.store.Update(commitCtx, id, func(v *entity.VM) error {
			if v.Status != from {
				return statusChanged(id, from, v.Status)
			}
			v.Status = failStatus
			v.LastAction = action
			v.LastError = failureReason(adapterErr)
			v.UpdatedAt = s.now()
			return nil
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to record failed transition")
			failed = cur
		}
		s.finish(ctx, action, from, failed, adapterErr)
		return nil, adapterErr
	}

	to := transitions[action].to
	updated, err := s.store.Update(commitCtx, id, func(v *entity.VM) error {
		if v.Status != from {
			return statusChanged(id, from, v.Status)
		}
		v.Status = to
		v.LastAction = action
		v.LastError = ""
		v.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		err = wrapStoreError(err, "Failed to update VM")
		logger.Error().Err(err).Msg("Backend call succeeded but commit failed")
		s.finish(ctx, action, from, nil, err)
		return nil, err
	}

	logger.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Transition committed")
	s.finish(ctx, action, from, updated, nil)
	return updated, nil
}
