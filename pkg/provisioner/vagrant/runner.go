package vagrant

import (
	"context"
	"os/exec"
)

// Runner 执行外部命令，便于测试时替换
type Runner interface {
	// Run 在 dir 目录下执行命令，返回合并后的 stdout 和 stderr
	Run(ctx context.Context, dir, bin string, args ...string) ([]byte, error)
}

// ExecRunner 使用 os/exec 执行命令，ctx 取消或超时时进程会被杀掉
type ExecRunner struct{}

// Run 实现 Runner
func (ExecRunner) Run(ctx context.Context, dir, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}
