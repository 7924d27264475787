// Package libvirt provides a client wrapper for interacting with libvirt.
//
// This package wraps github.com/digitalocean/go-libvirt to provide:
//   - Connection management (connect, disconnect)
//   - Domain XML generation for headless runner VMs
//
// The Client type manages the connection while exposing the underlying
// *libvirt.Libvirt for direct API access.
//
// Consumer-Side Interfaces:
//
// This package does not define interfaces. Consumers (internal/machine)
// define their own interfaces specifying only the operations they need;
// *libvirt.Libvirt satisfies them implicitly, enabling clean dependency
// injection in tests.
package libvirt
