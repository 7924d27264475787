package machine

import (
	"fmt"
	"sync"

	"github.com/digitalocean/go-libvirt"
)

// mockLibvirtClient is a mock implementation of the libvirtClient interface.
type mockLibvirtClient struct {
	mu sync.Mutex

	// Configurable behavior
	domainLookupByNameFunc       func(name string) (libvirt.Domain, error)
	domainDefineXMLFunc          func(xml string) (libvirt.Domain, error)
	domainCreateFunc             func(dom libvirt.Domain) error
	domainDestroyFunc            func(dom libvirt.Domain) error
	domainUndefineFlagsFunc      func(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error
	domainInterfaceAddressesFunc func(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error)

	// Call tracking
	domainLookupByNameCalls       []string
	domainDefineXMLCalls          []string
	domainCreateCalls             []libvirt.Domain
	domainDestroyCalls            []libvirt.Domain
	domainUndefineFlagsCalls      []libvirt.Domain
	domainInterfaceAddressesCalls []libvirt.Domain
}

// newMockLibvirtClient returns a mock where the domain exists and every
// operation succeeds.
func newMockLibvirtClient() *mockLibvirtClient {
	m := &mockLibvirtClient{}

	m.domainLookupByNameFunc = func(name string) (libvirt.Domain, error) {
		return libvirt.Domain{Name: name}, nil
	}
	m.domainDefineXMLFunc = func(xml string) (libvirt.Domain, error) {
		return libvirt.Domain{Name: "mock-domain"}, nil
	}
	m.domainCreateFunc = func(dom libvirt.Domain) error {
		return nil
	}
	m.domainDestroyFunc = func(dom libvirt.Domain) error {
		return nil
	}
	m.domainUndefineFlagsFunc = func(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error {
		return nil
	}
	m.domainInterfaceAddressesFunc = func(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error) {
		return nil, fmt.Errorf("no lease yet")
	}

	return m
}

func (m *mockLibvirtClient) DomainLookupByName(name string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainLookupByNameCalls = append(m.domainLookupByNameCalls, name)
	return m.domainLookupByNameFunc(name)
}

func (m *mockLibvirtClient) DomainDefineXML(xml string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainDefineXMLCalls = append(m.domainDefineXMLCalls, xml)
	return m.domainDefineXMLFunc(xml)
}

func (m *mockLibvirtClient) DomainCreate(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainCreateCalls = append(m.domainCreateCalls, dom)
	return m.domainCreateFunc(dom)
}

func (m *mockLibvirtClient) DomainDestroy(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainDestroyCalls = append(m.domainDestroyCalls, dom)
	return m.domainDestroyFunc(dom)
}

func (m *mockLibvirtClient) DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainUndefineFlagsCalls = append(m.domainUndefineFlagsCalls, dom)
	return m.domainUndefineFlagsFunc(dom, flags)
}

func (m *mockLibvirtClient) DomainInterfaceAddresses(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainInterfaceAddressesCalls = append(m.domainInterfaceAddressesCalls, dom)
	return m.domainInterfaceAddressesFunc(dom, source, flags)
}

// notFoundError returns the libvirt error for a missing domain.
func notFoundError() error {
	return libvirt.Error{Code: uint32(libvirt.ErrNoDomain), Message: "Domain not found"}
}

// notRunningError returns the libvirt error for destroying a stopped domain.
func notRunningError() error {
	return libvirt.Error{Code: uint32(libvirt.ErrOperationInvalid), Message: "domain is not running"}
}
