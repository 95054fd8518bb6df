package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	libvirtxml "libvirt.org/go/libvirtxml"
)

// EnsurePool ensures a storage pool exists, creating it if necessary.
// If the pool already exists, this is a no-op.
func (m *Manager) EnsurePool(ctx context.Context, name string, poolType PoolType, path string) error {
	if _, err := m.client.StoragePoolLookupByName(name); err == nil {
		return nil
	}

	m.log.WithFields(logrus.Fields{"name": name, "path": path}).Info("Creating storage pool")
	return m.CreatePool(ctx, name, poolType, path)
}

// CreatePool defines, builds and starts a new storage pool.
// Returns an error if the pool already exists.
func (m *Manager) CreatePool(ctx context.Context, name string, poolType PoolType, path string) error {
	var poolXML string
	var err error

	switch poolType {
	case PoolTypeDir:
		poolXML, err = generateDirPoolXML(name, path)
	default:
		return fmt.Errorf("unsupported pool type: %s", poolType)
	}
	if err != nil {
		return fmt.Errorf("failed to generate pool XML: %w", err)
	}

	pool, err := m.client.StoragePoolDefineXML(poolXML, 0)
	if err != nil {
		return fmt.Errorf("failed to define pool: %w", err)
	}

	// Build creates the directory.
	if err := m.client.StoragePoolBuild(pool, 0); err != nil {
		_ = m.client.StoragePoolUndefine(pool)
		return fmt.Errorf("failed to build pool: %w", err)
	}

	if err := m.client.StoragePoolCreate(pool, 0); err != nil {
		_ = m.client.StoragePoolUndefine(pool)
		return fmt.Errorf("failed to start pool: %w", err)
	}

	if err := m.client.StoragePoolSetAutostart(pool, 1); err != nil {
		return fmt.Errorf("pool created but failed to set autostart: %w", err)
	}

	return nil
}

// GetPoolInfo gets detailed information about a storage pool.
func (m *Manager) GetPoolInfo(ctx context.Context, name string) (*PoolInfo, error) {
	pool, err := m.client.StoragePoolLookupByName(name)
	if err != nil {
		return nil, fmt.Errorf("pool not found: %w", err)
	}

	poolState, capacity, allocation, available, err := m.client.StoragePoolGetInfo(pool)
	if err != nil {
		return nil, fmt.Errorf("failed to get pool info: %w", err)
	}

	poolDef, err := m.poolDescriptor(pool)
	if err != nil {
		return nil, err
	}

	poolPath := ""
	if poolDef.Target != nil {
		poolPath = poolDef.Target.Path
	}

	stateStr := "unknown"
	switch libvirt.StoragePoolState(poolState) {
	case libvirt.StoragePoolInactive:
		stateStr = "inactive"
	case libvirt.StoragePoolBuilding:
		stateStr = "building"
	case libvirt.StoragePoolRunning:
		stateStr = "running"
	case libvirt.StoragePoolDegraded:
		stateStr = "degraded"
	case libvirt.StoragePoolInaccessible:
		stateStr = "inaccessible"
	}

	return &PoolInfo{
		Name:       pool.Name,
		Type:       PoolType(poolDef.Type),
		Path:       poolPath,
		UUID:       uuid.UUID(pool.UUID).String(),
		State:      stateStr,
		Capacity:   capacity,
		Allocation: allocation,
		Available:  available,
	}, nil
}

// RefreshPool rescans a storage pool so that files created behind
// libvirt's back become visible as volumes.
func (m *Manager) RefreshPool(ctx context.Context, name string) error {
	pool, err := m.client.StoragePoolLookupByName(name)
	if err != nil {
		return fmt.Errorf("pool not found: %w", err)
	}

	if err := m.client.StoragePoolRefresh(pool, 0); err != nil {
		return fmt.Errorf("failed to refresh pool: %w", err)
	}

	return nil
}

func (m *Manager) poolDescriptor(pool libvirt.StoragePool) (*libvirtxml.StoragePool, error) {
	xmlDesc, err := m.client.StoragePoolGetXMLDesc(pool, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get pool XML: %w", err)
	}

	var poolDef libvirtxml.StoragePool
	if err := poolDef.Unmarshal(xmlDesc); err != nil {
		return nil, fmt.Errorf("failed to parse pool XML: %w", err)
	}
	return &poolDef, nil
}

// poolPath returns the target directory of the manager's pool.
func (m *Manager) poolPath(pool libvirt.StoragePool) (string, error) {
	poolDef, err := m.poolDescriptor(pool)
	if err != nil {
		return "", err
	}
	if poolDef.Target == nil || poolDef.Target.Path == "" {
		return "", fmt.Errorf("pool %s has no target path", pool.Name)
	}
	return poolDef.Target.Path, nil
}

// generateDirPoolXML generates XML for a directory-based storage pool.
func generateDirPoolXML(name, path string) (string, error) {
	owner := currentQEMUOwner()

	pool := &libvirtxml.StoragePool{
		Type: "dir",
		Name: name,
		Target: &libvirtxml.StoragePoolTarget{
			Path: path,
			Permissions: &libvirtxml.StoragePoolTargetPermissions{
				Owner: owner.UID,
				Group: owner.GID,
				Mode:  "0755",
			},
		},
	}

	xml, err := pool.Marshal()
	if err != nil {
		return "", err
	}

	return trimXMLHeader(xml), nil
}

func trimXMLHeader(xml string) string {
	xml = strings.TrimPrefix(xml, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>")
	return strings.TrimSpace(xml)
}
