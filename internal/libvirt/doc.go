// Package libvirt provides a client wrapper for interacting with libvirt.
//
// This package wraps github.com/digitalocean/go-libvirt to provide:
//   - Connection management (connect, disconnect, ping, version)
//   - Lookup of the guest disks that reference an image
//   - Destination XML for block copy jobs
//
// Connection Management:
//
// The package establishes connections to the local libvirt daemon via Unix socket:
//
//	client, err := libvirt.Connect(libvirt.Options{Timeout: 5 * time.Second})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Consumer-Side Interfaces:
//
// This package does not define interfaces. Consumers such as
// internal/storage define their own LibvirtClient interfaces specifying
// only the operations they need. The *libvirt.Libvirt returned by
// Client.Libvirt satisfies them implicitly.
package libvirt
