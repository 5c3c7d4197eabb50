package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jimyag/vmhost/internal/vmhost/entity"
	"github.com/jimyag/vmhost/pkg/apierror"
)

// CreateSnapshot 为 VM 创建快照描述，不改变 VM 状态
func (s *VMService) CreateSnapshot(ctx context.Context, req *entity.CreateSnapshotRequest) (*entity.Snapshot, error) {
	defer s.track()()
	action := entity.ActionCreateSnapshot
	logger := zerolog.Ctx(ctx)

	if err := req.IsValid(); err != nil {
		err = apierror.WrapError(apierror.ErrValidation, err.Error(), err)
		s.finish(ctx, action, "", nil, err)
		return nil, err
	}

	if _, err := s.store.Get(ctx, req.ID); err != nil {
		err = wrapStoreError(err, "Failed to get VM")
		s.finish(ctx, action, "", nil, err)
		return nil, err
	}

	release, ok := s.guard.tryAcquire(vmKey(req.ID))
	if !ok {
		err := inProgress(req.ID)
		s.finish(ctx, action, "", nil, err)
		return nil, err
	}
	defer release()

	vm, err := s.store.Get(ctx, req.ID)
	if err != nil {
		err = wrapStoreError(err, "Failed to get VM")
		s.finish(ctx, action, "", nil, err)
		return nil, err
	}
	if vm.Status.IsTerminal() {
		err := apierror.Errorf(apierror.ErrConflict, "cannot snapshot vm %s in status %s", vm.ID, vm.Status)
		s.finish(ctx, action, vm.Status, nil, err)
		return nil, err
	}

	id, err := s.idGen.GenerateSnapshotID()
	if err != nil {
		err = apierror.WrapError(apierror.ErrInternal, "Failed to generate snapshot ID", err)
		s.finish(ctx, action, vm.Status, nil, err)
		return nil, err
	}

	snap := &entity.Snapshot{
		ID:        id,
		Name:      req.Name,
		VMID:      vm.ID,
		CreatedAt: s.now(),
	}
	if err := s.store.InsertSnapshot(ctx, snap); err != nil {
		err = wrapStoreError(err, "Failed to save snapshot")
		s.finish(ctx, action, vm.Status, nil, err)
		return nil, err
	}

	logger.Info().
		Str("vm_id", vm.ID).
		Str("snapshot_id", snap.ID).
		Str("snapshot_name", snap.Name).
		Msg("Snapshot created")
	s.finish(ctx, action, vm.Status, vm, nil)
	return snap, nil
}

// RestoreSnapshot 从快照恢复
// 只更新 LastAction 和 UpdatedAt，不改变状态
func (s *VMService) RestoreSnapshot(ctx context.Context, req *entity.RestoreSnapshotRequest) (*entity.VM, error) {
	defer s.track()()
	action := entity.ActionRestoreSnapshot
	logger := zerolog.Ctx(ctx)

	if _, err := s.store.Get(ctx, req.ID); err != nil {
		err = wrapStoreError(err, "Failed to get VM")
		s.finish(ctx, action, "", nil, err)
		return nil, err
	}

	snap, err := s.store.GetSnapshot(ctx, req.SnapshotID)
	if err == nil && snap.VMID != req.ID {
		err = apierror.Errorf(apierror.ErrNotFound, "snapshot %s not found on vm %s", req.SnapshotID, req.ID)
	}
	if err != nil {
		err = wrapStoreError(err, "Failed to get snapshot")
		s.finish(ctx, action, "", nil, err)
		return nil, err
	}

	release, ok := s.guard.tryAcquire(vmKey(req.ID))
	if !ok {
		err := inProgress(req.ID)
		s.finish(ctx, action, "", nil, err)
		return nil, err
	}
	defer release()

	cur, err := s.store.Get(ctx, req.ID)
	if err != nil {
		err = wrapStoreError(err, "Failed to get VM")
		s.finish(ctx, action, "", nil, err)
		return nil, err
	}
	if cur.Status.IsTerminal() {
		err := apierror.Errorf(apierror.ErrConflict, "cannot restore vm %s in status %s", cur.ID, cur.Status)
		s.finish(ctx, action, cur.Status, nil, err)
		return nil, err
	}

	updated, err := s.store.Update(ctx, req.ID, func(v *entity.VM) error {
		if v.Status != cur.Status {
			return statusChanged(v.ID, cur.Status, v.Status)
		}
		v.LastAction = action
		v.LastError = ""
		v.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		err = wrapStoreError(err, "Failed to update VM")
		s.finish(ctx, action, cur.Status, nil, err)
		return nil, err
	}

	logger.Info().
		Str("vm_id", updated.ID).
		Str("snapshot_id", snap.ID).
		Msg("Snapshot restored")
	s.finish(ctx, action, cur.Status, updated, nil)
	return updated, nil
}

// ListSnapshots 列出 VM 的快照
func (s *VMService) ListSnapshots(ctx context.Context, id string) (*entity.ListSnapshotsResponse, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, wrapStoreError(err, "Failed to get VM")
	}
	snaps, err := s.store.ListSnapshots(ctx, id)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternal, "Failed to list snapshots", err)
	}
	return &entity.ListSnapshotsResponse{Snapshots: snaps}, nil
}
