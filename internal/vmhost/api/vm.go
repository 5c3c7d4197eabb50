package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jimyag/vmhost/internal/vmhost/entity"
	"github.com/jimyag/vmhost/pkg/ginx"
)

// VMServiceInterface 定义 VM 服务的接口
type VMServiceInterface interface {
	CreateVM(ctx context.Context, req *entity.CreateVMRequest) (*entity.VM, error)
	GetVM(ctx context.Context, id string) (*entity.VM, error)
	ListVMs(ctx context.Context, req *entity.ListVMsRequest) (*entity.ListVMsResponse, error)
	UpdateConfig(ctx context.Context, req *entity.UpdateConfigRequest) (*entity.VM, error)
	Start(ctx context.Context, id string) (*entity.VM, error)
	Stop(ctx context.Context, id string) (*entity.VM, error)
	Suspend(ctx context.Context, id string) (*entity.VM, error)
	Resume(ctx context.Context, id string) (*entity.VM, error)
	Restart(ctx context.Context, id string) (*entity.VM, error)
	Destroy(ctx context.Context, id string) (*entity.VM, error)
	Clone(ctx context.Context, req *entity.CloneVMRequest) (*entity.VM, error)
	CreateSnapshot(ctx context.Context, req *entity.CreateSnapshotRequest) (*entity.Snapshot, error)
	RestoreSnapshot(ctx context.Context, req *entity.RestoreSnapshotRequest) (*entity.VM, error)
	ListSnapshots(ctx context.Context, id string) (*entity.ListSnapshotsResponse, error)
}

type VM struct {
	vmService VMServiceInterface
}

func NewVM(vmService VMServiceInterface) *VM {
	return &VM{
		vmService: vmService,
	}
}

func (v *VM) RegisterRoutes(router *gin.RouterGroup) {
	vmRouter := router.Group("/vms")
	vmRouter.POST("", ginx.Adapt5(v.CreateVM))
	vmRouter.GET("", ginx.Adapt5(v.ListVMs))
	vmRouter.GET("/:id", ginx.Adapt5(v.GetVM))
	vmRouter.DELETE("/:id", ginx.Adapt5(v.transition(entity.ActionDestroy, v.vmService.Destroy)))
	vmRouter.PATCH("/:id/config", ginx.Adapt5(v.UpdateConfig))
	vmRouter.POST("/:id/start", ginx.Adapt5(v.transition(entity.ActionStart, v.vmService.Start)))
	vmRouter.POST("/:id/stop", ginx.Adapt5(v.transition(entity.ActionStop, v.vmService.Stop)))
	vmRouter.POST("/:id/suspend", ginx.Adapt5(v.transition(entity.ActionSuspend, v.vmService.Suspend)))
	vmRouter.POST("/:id/resume", ginx.Adapt5(v.transition(entity.ActionResume, v.vmService.Resume)))
	vmRouter.POST("/:id/restart", ginx.Adapt5(v.transition(entity.ActionRestart, v.vmService.Restart)))
	vmRouter.POST("/:id/clone", ginx.Adapt5(v.Clone))
	vmRouter.GET("/:id/snapshots", ginx.Adapt5(v.ListSnapshots))
	vmRouter.POST("/:id/snapshots", ginx.Adapt5(v.CreateSnapshot))
	vmRouter.POST("/:id/snapshots/:snapshotId/restore", ginx.Adapt5(v.RestoreSnapshot))
}

func (v *VM) CreateVM(ctx *gin.Context, req *entity.CreateVMRequest) (*entity.VM, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("name", req.Name).
		Str("template", req.Template).
		Msg("CreateVM called")

	vm, err := v.vmService.CreateVM(ctx, req)
	if err != nil {
		logger.Error().
			Err(err).
			Str("name", req.Name).
			Msg("Failed to create VM")
		return nil, err
	}

	ctx.Status(http.StatusCreated)
	return vm, nil
}

func (v *VM) GetVM(ctx *gin.Context, req *entity.VMRequest) (*entity.VM, error) {
	return v.vmService.GetVM(ctx, req.ID)
}

func (v *VM) ListVMs(ctx *gin.Context, req *entity.ListVMsRequest) (*entity.ListVMsResponse, error) {
	return v.vmService.ListVMs(ctx, req)
}

func (v *VM) UpdateConfig(ctx *gin.Context, req *entity.UpdateConfigRequest) (*entity.VM, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("vm_id", req.ID).
		Msg("UpdateConfig called")

	vm, err := v.vmService.UpdateConfig(ctx, req)
	if err != nil {
		logger.Error().
			Err(err).
			Str("vm_id", req.ID).
			Msg("Failed to update VM config")
		return nil, err
	}
	return vm, nil
}

// transition 状态转换类的 handler 结构相同，只有调用的方法不同
func (v *VM) transition(action entity.Action, fn func(context.Context, string) (*entity.VM, error)) func(*gin.Context, *entity.VMRequest) (*entity.VM, error) {
	return func(ctx *gin.Context, req *entity.VMRequest) (*entity.VM, error) {
		logger := zerolog.Ctx(ctx)
		logger.Info().
			Str("vm_id", req.ID).
			Str("action", string(action)).
			Msg("Transition called")

		vm, err := fn(ctx, req.ID)
		if err != nil {
			logger.Error().
				Err(err).
				Str("vm_id", req.ID).
				Str("action", string(action)).
				Msg("Transition failed")
			return nil, err
		}
		return vm, nil
	}
}

func (v *VM) Clone(ctx *gin.Context, req *entity.CloneVMRequest) (*entity.VM, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("vm_id", req.ID).
		Str("name", req.Name).
		Msg("Clone called")

	vm, err := v.vmService.Clone(ctx, req)
	if err != nil {
		logger.Error().
			Err(err).
			Str("vm_id", req.ID).
			Msg("Failed to clone VM")
		return nil, err
	}

	ctx.Status(http.StatusCreated)
	return vm, nil
}

func (v *VM) CreateSnapshot(ctx *gin.Context, req *entity.CreateSnapshotRequest) (*entity.Snapshot, error) {
	snap, err := v.vmService.CreateSnapshot(ctx, req)
	if err != nil {
		return nil, err
	}
	ctx.Status(http.StatusCreated)
	return snap, nil
}

func (v *VM) RestoreSnapshot(ctx *gin.Context, req *entity.RestoreSnapshotRequest) (*entity.VM, error) {
	return v.vmService.RestoreSnapshot(ctx, req)
}

func (v *VM) ListSnapshots(ctx *gin.Context, req *entity.VMRequest) (*entity.ListSnapshotsResponse, error) {
	return v.vmService.ListSnapshots(ctx, req.ID)
}
