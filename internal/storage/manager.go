package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/vdisk/internal/vdisk"
)

// LibvirtClient is the interface for libvirt operations.
// This allows for dependency injection and testing.
type LibvirtClient interface {
	StoragePoolLookupByName(Name string) (libvirt.StoragePool, error)
	StoragePoolDefineXML(XML string, Flags uint32) (libvirt.StoragePool, error)
	StoragePoolCreate(Pool libvirt.StoragePool, Flags libvirt.StoragePoolCreateFlags) error
	StoragePoolBuild(Pool libvirt.StoragePool, Flags libvirt.StoragePoolBuildFlags) error
	StoragePoolSetAutostart(Pool libvirt.StoragePool, Autostart int32) error
	StoragePoolUndefine(Pool libvirt.StoragePool) error
	StoragePoolGetInfo(Pool libvirt.StoragePool) (rState uint8, rCapacity uint64, rAllocation uint64, rAvailable uint64, err error)
	StoragePoolGetXMLDesc(Pool libvirt.StoragePool, Flags libvirt.StorageXMLFlags) (string, error)
	StoragePoolRefresh(Pool libvirt.StoragePool, Flags uint32) error
	StorageVolLookupByName(Pool libvirt.StoragePool, Name string) (libvirt.StorageVol, error)
	StorageVolLookupByPath(Path string) (libvirt.StorageVol, error)
	StorageVolCreateXML(Pool libvirt.StoragePool, XML string, Flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error)
	StorageVolCreateXMLFrom(Pool libvirt.StoragePool, XML string, Clonevol libvirt.StorageVol, Flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error)
	StorageVolGetPath(Vol libvirt.StorageVol) (string, error)
	StorageVolGetInfo(Vol libvirt.StorageVol) (rType int8, rCapacity uint64, rAllocation uint64, err error)
	StorageVolGetXMLDesc(Vol libvirt.StorageVol, Flags uint32) (string, error)
	StorageVolResize(Vol libvirt.StorageVol, Capacity uint64, Flags libvirt.StorageVolResizeFlags) error

	// Used by mirror to find a running guest that has the image attached.
	ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)
	DomainGetXMLDesc(Dom libvirt.Domain, Flags libvirt.DomainXMLFlags) (string, error)
	DomainBlockCopy(Dom libvirt.Domain, Path string, Destxml string, Params []libvirt.TypedParam, Flags libvirt.DomainBlockCopyFlags) error
	DomainGetBlockJobInfo(Dom libvirt.Domain, Path string, Flags uint32) (rFound int32, rType int32, rBandwidth uint64, rCur uint64, rEnd uint64, err error)
	DomainBlockJobAbort(Dom libvirt.Domain, Path string, Flags libvirt.DomainBlockJobAbortFlags) error
}

// MetadataStore is the sidecar holding what libvirt volumes cannot carry:
// user metadata blobs and disk identifiers.
type MetadataStore interface {
	Set(volume string, key uuid.UUID, data []byte) error
	Get(volume string, key uuid.UUID) ([]byte, error)
	Delete(volume string, key uuid.UUID) error
	Keys(volume string) ([]uuid.UUID, error)
	SetIdentity(volume, field string, id uuid.UUID) error
	Identity(volume, field string) (uuid.UUID, error)
	Copy(from, to string) error
}

// Manager implements vdisk.Platform on top of a libvirt storage pool.
//
// Images live as volumes of a single pool; the path given to create or
// open names the volume by its base name. Mirroring uses a block copy
// job when a running guest has the image attached and a volume clone
// otherwise.
type Manager struct {
	client LibvirtClient
	meta   MetadataStore
	pool   string
	log    *logrus.Entry

	mu      sync.Mutex
	next    uintptr
	handles map[vdisk.Handle]*openVolume
	ops     map[vdisk.Operation]*operation
}

// Option configures a Manager.
type Option func(*Manager)

// WithPool selects the storage pool holding the images.
func WithPool(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.pool = name
		}
	}
}

// WithMetadataStore attaches the sidecar used for metadata and identifiers.
// Without one, metadata calls report StatusNotSupported.
func WithMetadataStore(store MetadataStore) Option {
	return func(m *Manager) { m.meta = store }
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager creates a new storage manager.
func NewManager(client LibvirtClient, opts ...Option) *Manager {
	m := &Manager{
		client:  client,
		pool:    DefaultPool,
		log:     logrus.NewEntry(logrus.StandardLogger()),
		handles: make(map[vdisk.Handle]*openVolume),
		ops:     make(map[vdisk.Operation]*operation),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithFields(logrus.Fields{"backend": "libvirt", "pool": m.pool})
	return m
}

// Pool returns the name of the pool the manager works in.
func (m *Manager) Pool() string {
	return m.pool
}

// EnsureDefaultPool ensures that the configured pool exists, creating it
// as a directory pool at path when it does not.
func (m *Manager) EnsureDefaultPool(ctx context.Context, path string) error {
	if path == "" {
		path = DefaultPoolPath
	}
	if err := m.EnsurePool(ctx, m.pool, PoolTypeDir, path); err != nil {
		return fmt.Errorf("failed to ensure pool %s: %w", m.pool, err)
	}
	return nil
}

var _ vdisk.Platform = (*Manager)(nil)
