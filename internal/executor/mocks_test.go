package executor

import (
	"context"
	"io"
	"sync"

	"github.com/forgeci/vmrunner/internal/libvirt"
)

// mockMachineManager is a mock implementation of the machineManager
// interface for testing.
type mockMachineManager struct {
	mu sync.Mutex

	// Configurable behavior
	createOverlayFunc  func(ctx context.Context, basePath, overlayPath string) error
	writeSeedISOFunc   func(path string, data []byte) error
	defineAndStartFunc func(ctx context.Context, spec libvirt.DomainSpec) error
	addressFunc        func(ctx context.Context, name string) (string, bool, error)
	stopFunc           func(ctx context.Context, name string) error
	undefineFunc       func(ctx context.Context, name string) error
	removeDiskFunc     func(path string) error

	// Call tracking
	createOverlayCalls  [][2]string // base, overlay
	writeSeedISOCalls   []string
	defineAndStartCalls []libvirt.DomainSpec
	addressCalls        []string
	stopCalls           []string
	undefineCalls       []string
	removeDiskCalls     []string
}

// newMockMachineManager returns a mock where everything succeeds and the VM
// has an address immediately.
func newMockMachineManager() *mockMachineManager {
	m := &mockMachineManager{}

	m.createOverlayFunc = func(ctx context.Context, basePath, overlayPath string) error {
		return nil
	}
	m.writeSeedISOFunc = func(path string, data []byte) error {
		return nil
	}
	m.defineAndStartFunc = func(ctx context.Context, spec libvirt.DomainSpec) error {
		return nil
	}
	m.addressFunc = func(ctx context.Context, name string) (string, bool, error) {
		return "192.168.122.50", true, nil
	}
	m.stopFunc = func(ctx context.Context, name string) error {
		return nil
	}
	m.undefineFunc = func(ctx context.Context, name string) error {
		return nil
	}
	m.removeDiskFunc = func(path string) error {
		return nil
	}

	return m
}

func (m *mockMachineManager) CreateOverlay(ctx context.Context, basePath, overlayPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createOverlayCalls = append(m.createOverlayCalls, [2]string{basePath, overlayPath})
	return m.createOverlayFunc(ctx, basePath, overlayPath)
}

func (m *mockMachineManager) WriteSeedISO(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeSeedISOCalls = append(m.writeSeedISOCalls, path)
	return m.writeSeedISOFunc(path, data)
}

func (m *mockMachineManager) DefineAndStart(ctx context.Context, spec libvirt.DomainSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defineAndStartCalls = append(m.defineAndStartCalls, spec)
	return m.defineAndStartFunc(ctx, spec)
}

func (m *mockMachineManager) Address(ctx context.Context, name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addressCalls = append(m.addressCalls, name)
	return m.addressFunc(ctx, name)
}

func (m *mockMachineManager) Stop(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls = append(m.stopCalls, name)
	return m.stopFunc(ctx, name)
}

func (m *mockMachineManager) Undefine(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undefineCalls = append(m.undefineCalls, name)
	return m.undefineFunc(ctx, name)
}

func (m *mockMachineManager) RemoveDisk(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeDiskCalls = append(m.removeDiskCalls, path)
	return m.removeDiskFunc(path)
}

// mockShellRunner is a mock implementation of the shellRunner interface.
type mockShellRunner struct {
	mu sync.Mutex

	probeFunc     func(ctx context.Context, host string) error
	runScriptFunc func(ctx context.Context, host string, script io.Reader, stdout, stderr io.Writer) (int, error)

	probeCalls     []string
	runScriptCalls []string
}

// newMockShellRunner returns a mock where the probe succeeds and scripts
// exit 0.
func newMockShellRunner() *mockShellRunner {
	m := &mockShellRunner{}

	m.probeFunc = func(ctx context.Context, host string) error {
		return nil
	}
	m.runScriptFunc = func(ctx context.Context, host string, script io.Reader, stdout, stderr io.Writer) (int, error) {
		return 0, nil
	}

	return m
}

func (m *mockShellRunner) Probe(ctx context.Context, host string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeCalls = append(m.probeCalls, host)
	return m.probeFunc(ctx, host)
}

func (m *mockShellRunner) RunScript(ctx context.Context, host string, script io.Reader, stdout, stderr io.Writer) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runScriptCalls = append(m.runScriptCalls, host)
	return m.runScriptFunc(ctx, host, script, stdout, stderr)
}
