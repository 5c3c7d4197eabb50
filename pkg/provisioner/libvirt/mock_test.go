package libvirt

import (
	"context"

	"github.com/digitalocean/go-libvirt"
	"github.com/stretchr/testify/mock"

	"github.com/jimyag/vmhost/pkg/cloudinit"
)

// mockConn domainConn 的 mock 实现
type mockConn struct {
	mock.Mock
}

func (m *mockConn) DomainLookupByName(name string) (libvirt.Domain, error) {
	args := m.Called(name)
	return args.Get(0).(libvirt.Domain), args.Error(1)
}

func (m *mockConn) DomainDefineXML(xml string) (libvirt.Domain, error) {
	args := m.Called(xml)
	return args.Get(0).(libvirt.Domain), args.Error(1)
}

func (m *mockConn) DomainCreate(dom libvirt.Domain) error {
	return m.Called(dom).Error(0)
}

func (m *mockConn) DomainGetState(dom libvirt.Domain, flags uint32) (int32, int32, error) {
	args := m.Called(dom, flags)
	return args.Get(0).(int32), args.Get(1).(int32), args.Error(2)
}

func (m *mockConn) DomainShutdown(dom libvirt.Domain) error {
	return m.Called(dom).Error(0)
}

func (m *mockConn) DomainDestroy(dom libvirt.Domain) error {
	return m.Called(dom).Error(0)
}

func (m *mockConn) DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error {
	return m.Called(dom, flags).Error(0)
}

func (m *mockConn) DomainSuspend(dom libvirt.Domain) error {
	return m.Called(dom).Error(0)
}

func (m *mockConn) DomainResume(dom libvirt.Domain) error {
	return m.Called(dom).Error(0)
}

// fakeSeeder 记录种子的生成和清理
type fakeSeeder struct {
	path     string
	buildErr error
	built    []*cloudinit.Seed
	removed  []string
}

func (f *fakeSeeder) Build(_ context.Context, _ string, seed *cloudinit.Seed) (string, error) {
	if f.buildErr != nil {
		return "", f.buildErr
	}
	f.built = append(f.built, seed)
	return f.path, nil
}

func (f *fakeSeeder) Remove(vmName string) error {
	f.removed = append(f.removed, vmName)
	return nil
}
