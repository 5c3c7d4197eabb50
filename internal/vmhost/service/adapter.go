package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jimyag/vmhost/pkg/apierror"
)

// callAdapter 在超时控制下调用后端
// 后端错误统一包装为 AdapterError（Retryable），超时使用 ErrAdapterTimeout
func (s *VMService) callAdapter(ctx context.Context, op, machine string, fn func(ctx context.Context) error) error {
	logger := zerolog.Ctx(ctx)
	backend := s.provisioner.Name()

	actx, cancel := context.WithTimeout(ctx, s.adapterTimeout)
	defer cancel()

	started := time.Now()
	err := fn(actx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded) {
			err = apierror.WrapError(apierror.ErrAdapterTimeout,
				fmt.Sprintf("%s %s on %s timed out after %s, check the machine state before retrying", op, machine, backend, s.adapterTimeout),
				err)
		} else {
			err = apierror.WrapError(apierror.ErrAdapter,
				fmt.Sprintf("%s %s on %s failed: %v", op, machine, backend, err),
				err)
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveAdapterCall(backend, op, started, err)
	}

	if err != nil {
		logger.Error().
			Err(err).
			Str("backend", backend).
			Str("op", op).
			Str("machine", machine).
			Dur("elapsed", time.Since(started)).
			Msg("Provisioner call failed")
		return err
	}

	logger.Debug().
		Str("backend", backend).
		Str("op", op).
		Str("machine", machine).
		Dur("elapsed", time.Since(started)).
		Msg("Provisioner call succeeded")
	return nil
}
