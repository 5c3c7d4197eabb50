package service

import (
	"context"
	"fmt"
	"maps"

	"github.com/rs/zerolog"

	"github.com/jimyag/vmhost/internal/vmhost/entity"
	"github.com/jimyag/vmhost/internal/vmhost/store"
	"github.com/jimyag/vmhost/pkg/apierror"
	"github.com/jimyag/vmhost/pkg/provisioner"
)

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100

	// 派生克隆名称时最多尝试的后缀数
	maxCloneNameAttempts = 100

	metadataClonedFrom = "clonedFrom"
)

// CreateVM 创建 VM
// 同步调用后端：成功后状态为 stopped；失败时状态为 error，返回该 VM 和 AdapterError
func (s *VMService) CreateVM(ctx context.Context, req *entity.CreateVMRequest) (*entity.VM, error) {
	defer s.track()()
	vm, err := s.createVM(ctx, entity.ActionCreate, req)
	s.finish(ctx, entity.ActionCreate, entity.StatusCreating, vm, err)
	return vm, err
}

func (s *VMService) createVM(ctx context.Context, action entity.Action, req *entity.CreateVMRequest) (*entity.VM, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("name", req.Name).
		Str("client_id", req.ClientID).
		Str("template", req.Template).
		Str("action", string(action)).
		Msg("Creating VM")

	if err := req.IsValid(); err != nil {
		return nil, apierror.WrapError(apierror.ErrValidation, err.Error(), err)
	}

	if s.clients != nil && req.ClientID != "" {
		exists, err := s.clients.ClientExists(ctx, req.ClientID)
		if err != nil {
			return nil, apierror.WrapError(apierror.ErrInternal, "Failed to check client", err)
		}
		if !exists {
			return nil, apierror.Errorf(apierror.ErrValidation, "client %s does not exist", req.ClientID)
		}
	}

	// 名称锁：防止两个并发创建同时通过唯一性检查
	releaseName, ok := s.guard.tryAcquire(nameKey(req.Name))
	if !ok {
		return nil, apierror.WrapError(apierror.ErrOperationInProgress,
			fmt.Sprintf("vm named %s is being created", req.Name), nil)
	}
	defer releaseName()

	if err := s.checkNameAvailable(ctx, req.Name); err != nil {
		return nil, err
	}

	id, err := s.idGen.GenerateVMID()
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternal, "Failed to generate VM ID", err)
	}
	releaseVM, ok := s.guard.tryAcquire(vmKey(id))
	if !ok {
		return nil, apierror.WrapError(apierror.ErrOperationInProgress, "operation already in progress", nil)
	}
	defer releaseVM()

	now := s.now()
	vm := &entity.VM{
		ID:         id,
		Name:       req.Name,
		ClientID:   req.ClientID,
		Template:   req.Template,
		Config:     req.Config.Clone(),
		Status:     entity.StatusCreating,
		LastAction: action,
		Metadata:   maps.Clone(req.Metadata),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Insert(ctx, vm); err != nil {
		return nil, wrapStoreError(err, "Failed to save VM")
	}
	logger.Info().Str("vm_id", id).Str("name", vm.Name).Msg("VM record created, provisioning")

	opts := []provisioner.CreateOption{
		provisioner.WithResources(vm.Config.CPU, vm.Config.MemoryMB, vm.Config.StorageGB),
	}
	if n := vm.Config.Network; n != nil {
		opts = append(opts, provisioner.WithNetwork(&provisioner.Network{IP: n.IP, Subnet: n.Subnet, Gateway: n.Gateway}))
	}
	adapterErr := s.callAdapter(ctx, "create", vm.Name, func(actx context.Context) error {
		return s.provisioner.Create(actx, vm.Name, vm.Template, opts...)
	})

	// 后端调用之后 ctx 可能已经被取消，结果仍然要落盘
	commitCtx := context.WithoutCancel(ctx)
	if adapterErr != nil {
		failed, err := s.store.Update(commitCtx, id, func(v *entity.VM) error {
			v.Status = entity.StatusError
			v.LastError = failureReason(adapterErr)
			v.UpdatedAt = s.now()
			return nil
		})
		if err != nil {
			logger.Error().Err(err).Str("vm_id", id).Msg("Failed to record provisioning failure")
			return nil, wrapStoreError(err, "Failed to update VM")
		}
		return failed, adapterErr
	}

	created, err := s.store.Update(commitCtx, id, func(v *entity.VM) error {
		if v.Status != entity.StatusCreating {
			return apierror.Errorf(apierror.ErrConflict, "vm %s changed to %s during provisioning", id, v.Status)
		}
		v.Status = entity.StatusStopped
		v.LastError = ""
		v.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, wrapStoreError(err, "Failed to update VM")
	}

	logger.Info().
		Str("vm_id", id).
		Str("name", created.Name).
		Str("status", string(created.Status)).
		Msg("VM created successfully")
	return created, nil
}

func (s *VMService) checkNameAvailable(ctx context.Context, name string) error {
	taken, err := s.store.ExistsByName(ctx, name, entity.StatusDestroyed)
	if err != nil {
		return apierror.WrapError(apierror.ErrInternal, "Failed to check VM name", err)
	}
	if taken {
		return apierror.Errorf(apierror.ErrConflict, "vm named %s already exists", name)
	}
	return nil
}

// GetVM 获取 VM
func (s *VMService) GetVM(ctx context.Context, id string) (*entity.VM, error) {
	vm, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, wrapStoreError(err, "Failed to get VM")
	}
	return vm, nil
}

// ListVMs 分页列出 VM
func (s *VMService) ListVMs(ctx context.Context, req *entity.ListVMsRequest) (*entity.ListVMsResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, apierror.Errorf(apierror.ErrValidation, "unknown status %q", req.Status)
	}
	page, limit := req.Page, req.Limit
	if page < 0 || limit < 0 {
		return nil, apierror.Errorf(apierror.ErrValidation, "page and limit must not be negative")
	}
	if page == 0 {
		page = defaultPage
	}
	if limit == 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	vms, err := s.store.List(ctx, store.Filter{Status: req.Status, ClientID: req.ClientID})
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternal, "Failed to list VMs", err)
	}

	total := len(vms)
	// 先比较页号再相乘，超大页号不会溢出
	start := total
	if page-1 < (total+limit-1)/limit {
		start = (page - 1) * limit
	}
	end := min(start+limit, total)

	return &entity.ListVMsResponse{
		VMs: vms[start:end],
		Pagination: entity.Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + limit - 1) / limit,
		},
	}, nil
}

// UpdateConfig 修改 VM 配置
// 只修改记录，不调用后端；只允许在 running、stopped、suspended、error 状态下修改
func (s *VMService) UpdateConfig(ctx context.Context, req *entity.UpdateConfigRequest) (*entity.VM, error) {
	defer s.track()()
	action := entity.ActionUpdateConfig
	logger := zerolog.Ctx(ctx)

	if req.IsEmpty() {
		err := apierror.Errorf(apierror.ErrValidation, "no config fields to update")
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

	next := req.Apply(cur.Config)
	if err := next.Validate(); err != nil {
		err = apierror.WrapError(apierror.ErrValidation, err.Error(), err)
		s.finish(ctx, action, cur.Status, nil, err)
		return nil, err
	}

	if !isConfigMutable(cur.Status) {
		err := apierror.Errorf(apierror.ErrConflict, "cannot update config of vm %s in status %s", cur.ID, cur.Status)
		s.finish(ctx, action, cur.Status, nil, err)
		return nil, err
	}

	updated, err := s.store.Update(ctx, req.ID, func(v *entity.VM) error {
		if v.Status != cur.Status {
			return statusChanged(v.ID, cur.Status, v.Status)
		}
		v.Config = next
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
		Int("cpu", updated.Config.CPU).
		Int("memory_mb", updated.Config.MemoryMB).
		Int("storage_gb", updated.Config.StorageGB).
		Msg("VM config updated")
	s.finish(ctx, action, cur.Status, updated, nil)
	return updated, nil
}

// Clone 克隆 VM：新 ID、creating 状态、复制配置和模板，走和 CreateVM 相同的创建流程
// newName 为空时派生为 <name>-clone、<name>-clone-2 ...
func (s *VMService) Clone(ctx context.Context, req *entity.CloneVMRequest) (*entity.VM, error) {
	defer s.track()()
	action := entity.ActionClone

	src, err := s.store.Get(ctx, req.ID)
	if err != nil {
		err = wrapStoreError(err, "Failed to get source VM")
		s.finish(ctx, action, "", nil, err)
		return nil, err
	}

	name := req.Name
	if name == "" {
		name, err = s.deriveCloneName(ctx, src.Name)
		if err != nil {
			s.finish(ctx, action, "", nil, err)
			return nil, err
		}
	}

	metadata := maps.Clone(src.Metadata)
	if metadata == nil {
		metadata = make(map[string]string, 1)
	}
	metadata[metadataClonedFrom] = src.ID

	zerolog.Ctx(ctx).Info().
		Str("source_vm_id", src.ID).
		Str("name", name).
		Msg("Cloning VM")

	vm, err := s.createVM(ctx, action, &entity.CreateVMRequest{
		Name:     name,
		ClientID: src.ClientID,
		Template: src.Template,
		Config:   src.Config.Clone(),
		Metadata: metadata,
	})
	s.finish(ctx, action, entity.StatusCreating, vm, err)
	return vm, err
}

func (s *VMService) deriveCloneName(ctx context.Context, base string) (string, error) {
	for i := 1; i <= maxCloneNameAttempts; i++ {
		name := base + "-clone"
		if i > 1 {
			name = fmt.Sprintf("%s-clone-%d", base, i)
		}
		taken, err := s.store.ExistsByName(ctx, name, entity.StatusDestroyed)
		if err != nil {
			return "", apierror.WrapError(apierror.ErrInternal, "Failed to check VM name", err)
		}
		if !taken {
			return name, nil
		}
	}
	return "", apierror.Errorf(apierror.ErrConflict, "no free clone name for %s", base)
}
