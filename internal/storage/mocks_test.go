package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/digitalocean/go-libvirt"
	libvirtxml "libvirt.org/go/libvirtxml"
)

// mockLibvirtClient is a mock implementation of LibvirtClient for testing.
type mockLibvirtClient struct {
	pools   map[string]*mockPool
	volumes map[string]map[string]*mockVolume // pool name -> volume name -> volume
	domains []*mockDomain

	// unlisted holds files present in a pool directory that libvirt has
	// not picked up yet; StoragePoolRefresh adopts them.
	unlisted map[string][]*mockVolume

	calls []string
	fail  map[string]error // method name -> injected error
}

type mockPool struct {
	name      string
	uuid      [16]byte
	path      string
	state     libvirt.StoragePoolState
	capacity  uint64
	allocated uint64
	available uint64
	xmlDesc   string
}

type mockVolume struct {
	name       string
	path       string
	format     string
	capacity   uint64
	allocation uint64
	backing    string
}

type mockDomain struct {
	dom  libvirt.Domain
	xml  string
	jobs map[string]*mockBlockJob // target -> job

	copies []string // destination XML of every block copy
	aborts []libvirt.DomainBlockJobAbortFlags
}

type mockBlockJob struct {
	cur, end, step uint64
	destPath       string
	destFormat     string
}

func newMockLibvirtClient() *mockLibvirtClient {
	return &mockLibvirtClient{
		pools:    make(map[string]*mockPool),
		volumes:  make(map[string]map[string]*mockVolume),
		unlisted: make(map[string][]*mockVolume),
		fail:     make(map[string]error),
	}
}

func libvirtErr(code libvirt.ErrorNumber, format string, args ...any) error {
	return libvirt.Error{Code: uint32(code), Message: fmt.Sprintf(format, args...)}
}

func (m *mockLibvirtClient) record(name string) error {
	m.calls = append(m.calls, name)
	return m.fail[name]
}

func (m *mockLibvirtClient) called(name string) int {
	n := 0
	for _, c := range m.calls {
		if c == name {
			n++
		}
	}
	return n
}

// addPool registers a running dir pool at path.
func (m *mockLibvirtClient) addPool(name, path string) {
	xml, err := generateDirPoolXML(name, path)
	if err != nil {
		panic(err)
	}
	p := &mockPool{
		name:      name,
		path:      path,
		state:     libvirt.StoragePoolRunning,
		capacity:  1 << 40,
		available: 1 << 40,
		xmlDesc:   xml,
	}
	copy(p.uuid[:], "0123456789abcdef")
	m.pools[name] = p
	m.volumes[name] = make(map[string]*mockVolume)
}

// addVolume registers an existing volume.
func (m *mockLibvirtClient) addVolume(pool string, vol *mockVolume) {
	if vol.path == "" {
		vol.path = filepath.Join(m.pools[pool].path, vol.name)
	}
	m.volumes[pool][vol.name] = vol
}

// addDomain registers a running guest with the given disks (target -> file).
func (m *mockLibvirtClient) addDomain(name string, disks map[string]string) *mockDomain {
	domain := libvirtxml.Domain{
		Type:    "kvm",
		Name:    name,
		Devices: &libvirtxml.DomainDeviceList{},
	}
	targets := make([]string, 0, len(disks))
	for target := range disks {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	for _, target := range targets {
		domain.Devices.Disks = append(domain.Devices.Disks, libvirtxml.DomainDisk{
			Device: "disk",
			Driver: &libvirtxml.DomainDiskDriver{Name: "qemu", Type: "qcow2"},
			Source: &libvirtxml.DomainDiskSource{
				File: &libvirtxml.DomainDiskSourceFile{File: disks[target]},
			},
			Target: &libvirtxml.DomainDiskTarget{Dev: target, Bus: "virtio"},
		})
	}
	xml, err := domain.Marshal()
	if err != nil {
		panic(err)
	}

	d := &mockDomain{
		dom:  libvirt.Domain{Name: name, ID: int32(len(m.domains) + 1)},
		xml:  xml,
		jobs: make(map[string]*mockBlockJob),
	}
	m.domains = append(m.domains, d)
	return d
}

func (m *mockLibvirtClient) domain(dom libvirt.Domain) (*mockDomain, error) {
	for _, d := range m.domains {
		if d.dom.Name == dom.Name {
			return d, nil
		}
	}
	return nil, libvirtErr(libvirt.ErrNoDomain, "domain not found: %s", dom.Name)
}

func (m *mockLibvirtClient) volume(vol libvirt.StorageVol) (*mockVolume, error) {
	vols, ok := m.volumes[vol.Pool]
	if !ok {
		return nil, libvirtErr(libvirt.ErrNoStoragePool, "storage pool not found: %s", vol.Pool)
	}
	v, ok := vols[vol.Name]
	if !ok {
		return nil, libvirtErr(libvirt.ErrNoStorageVol, "storage volume not found: %s", vol.Name)
	}
	return v, nil
}

func storageVol(pool string, v *mockVolume) libvirt.StorageVol {
	return libvirt.StorageVol{Pool: pool, Name: v.name, Key: v.path}
}

func (m *mockLibvirtClient) StoragePoolLookupByName(name string) (libvirt.StoragePool, error) {
	if err := m.record("StoragePoolLookupByName"); err != nil {
		return libvirt.StoragePool{}, err
	}
	pool, ok := m.pools[name]
	if !ok {
		return libvirt.StoragePool{}, libvirtErr(libvirt.ErrNoStoragePool, "storage pool not found: %s", name)
	}
	return libvirt.StoragePool{Name: pool.name, UUID: libvirt.UUID(pool.uuid)}, nil
}

func (m *mockLibvirtClient) StoragePoolDefineXML(xml string, flags uint32) (libvirt.StoragePool, error) {
	if err := m.record("StoragePoolDefineXML"); err != nil {
		return libvirt.StoragePool{}, err
	}

	var def libvirtxml.StoragePool
	if err := def.Unmarshal(xml); err != nil {
		return libvirt.StoragePool{}, fmt.Errorf("invalid pool XML: %w", err)
	}
	if _, ok := m.pools[def.Name]; ok {
		return libvirt.StoragePool{}, fmt.Errorf("storage pool already exists: %s", def.Name)
	}

	p := &mockPool{
		name:      def.Name,
		state:     libvirt.StoragePoolInactive,
		capacity:  1 << 40,
		available: 1 << 40,
		xmlDesc:   xml,
	}
	if def.Target != nil {
		p.path = def.Target.Path
	}
	copy(p.uuid[:], def.Name)
	m.pools[def.Name] = p
	m.volumes[def.Name] = make(map[string]*mockVolume)

	return libvirt.StoragePool{Name: p.name, UUID: libvirt.UUID(p.uuid)}, nil
}

func (m *mockLibvirtClient) StoragePoolCreate(pool libvirt.StoragePool, flags libvirt.StoragePoolCreateFlags) error {
	if err := m.record("StoragePoolCreate"); err != nil {
		return err
	}
	p, ok := m.pools[pool.Name]
	if !ok {
		return libvirtErr(libvirt.ErrNoStoragePool, "storage pool not found: %s", pool.Name)
	}
	p.state = libvirt.StoragePoolRunning
	return nil
}

func (m *mockLibvirtClient) StoragePoolBuild(pool libvirt.StoragePool, flags libvirt.StoragePoolBuildFlags) error {
	return m.record("StoragePoolBuild")
}

func (m *mockLibvirtClient) StoragePoolSetAutostart(pool libvirt.StoragePool, autostart int32) error {
	return m.record("StoragePoolSetAutostart")
}

func (m *mockLibvirtClient) StoragePoolUndefine(pool libvirt.StoragePool) error {
	if err := m.record("StoragePoolUndefine"); err != nil {
		return err
	}
	delete(m.pools, pool.Name)
	delete(m.volumes, pool.Name)
	return nil
}

func (m *mockLibvirtClient) StoragePoolGetInfo(pool libvirt.StoragePool) (rState uint8, rCapacity uint64, rAllocation uint64, rAvailable uint64, err error) {
	if err := m.record("StoragePoolGetInfo"); err != nil {
		return 0, 0, 0, 0, err
	}
	p, ok := m.pools[pool.Name]
	if !ok {
		return 0, 0, 0, 0, libvirtErr(libvirt.ErrNoStoragePool, "storage pool not found: %s", pool.Name)
	}
	return uint8(p.state), p.capacity, p.allocated, p.available, nil
}

func (m *mockLibvirtClient) StoragePoolGetXMLDesc(pool libvirt.StoragePool, flags libvirt.StorageXMLFlags) (string, error) {
	if err := m.record("StoragePoolGetXMLDesc"); err != nil {
		return "", err
	}
	p, ok := m.pools[pool.Name]
	if !ok {
		return "", libvirtErr(libvirt.ErrNoStoragePool, "storage pool not found: %s", pool.Name)
	}
	return p.xmlDesc, nil
}

func (m *mockLibvirtClient) StoragePoolRefresh(pool libvirt.StoragePool, flags uint32) error {
	if err := m.record("StoragePoolRefresh"); err != nil {
		return err
	}
	if _, ok := m.pools[pool.Name]; !ok {
		return libvirtErr(libvirt.ErrNoStoragePool, "storage pool not found: %s", pool.Name)
	}
	for _, v := range m.unlisted[pool.Name] {
		m.volumes[pool.Name][v.name] = v
	}
	delete(m.unlisted, pool.Name)

	// Adopt files written into the pool directory on disk.
	dir := m.pools[pool.Name].path
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := m.volumes[pool.Name][e.Name()]; ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		format, _ := FormatForPath(e.Name())
		m.volumes[pool.Name][e.Name()] = &mockVolume{
			name:       e.Name(),
			path:       filepath.Join(dir, e.Name()),
			format:     string(format),
			capacity:   uint64(fi.Size()),
			allocation: uint64(fi.Size()),
		}
	}
	return nil
}

func (m *mockLibvirtClient) StorageVolLookupByName(pool libvirt.StoragePool, name string) (libvirt.StorageVol, error) {
	if err := m.record("StorageVolLookupByName"); err != nil {
		return libvirt.StorageVol{}, err
	}
	v, err := m.volume(libvirt.StorageVol{Pool: pool.Name, Name: name})
	if err != nil {
		return libvirt.StorageVol{}, err
	}
	return storageVol(pool.Name, v), nil
}

func (m *mockLibvirtClient) StorageVolLookupByPath(path string) (libvirt.StorageVol, error) {
	if err := m.record("StorageVolLookupByPath"); err != nil {
		return libvirt.StorageVol{}, err
	}
	for pool, vols := range m.volumes {
		for _, v := range vols {
			if v.path == path {
				return storageVol(pool, v), nil
			}
		}
	}
	return libvirt.StorageVol{}, libvirtErr(libvirt.ErrNoStorageVol, "no storage vol with matching path '%s'", path)
}

func (m *mockLibvirtClient) newVolume(pool libvirt.StoragePool, xml string) (*mockVolume, error) {
	vols, ok := m.volumes[pool.Name]
	if !ok {
		return nil, libvirtErr(libvirt.ErrNoStoragePool, "storage pool not found: %s", pool.Name)
	}

	var def libvirtxml.StorageVolume
	if err := def.Unmarshal(xml); err != nil {
		return nil, fmt.Errorf("invalid volume XML: %w", err)
	}
	if def.Name == "" {
		return nil, fmt.Errorf("invalid volume XML: missing name")
	}
	if _, ok := vols[def.Name]; ok {
		return nil, libvirtErr(libvirt.ErrStorageVolExist, "storage volume already exists: %s", def.Name)
	}

	v := &mockVolume{
		name: def.Name,
		path: filepath.Join(m.pools[pool.Name].path, def.Name),
	}
	if def.Capacity != nil {
		v.capacity = def.Capacity.Value
	}
	if def.Allocation != nil {
		v.allocation = def.Allocation.Value
	}
	if def.Target != nil && def.Target.Format != nil {
		v.format = def.Target.Format.Type
	}
	if def.BackingStore != nil {
		v.backing = def.BackingStore.Path
	}
	vols[v.name] = v
	return v, nil
}

func (m *mockLibvirtClient) StorageVolCreateXML(pool libvirt.StoragePool, xml string, flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error) {
	if err := m.record("StorageVolCreateXML"); err != nil {
		return libvirt.StorageVol{}, err
	}
	v, err := m.newVolume(pool, xml)
	if err != nil {
		return libvirt.StorageVol{}, err
	}
	return storageVol(pool.Name, v), nil
}

func (m *mockLibvirtClient) StorageVolCreateXMLFrom(pool libvirt.StoragePool, xml string, clone libvirt.StorageVol, flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error) {
	if err := m.record("StorageVolCreateXMLFrom"); err != nil {
		return libvirt.StorageVol{}, err
	}
	src, err := m.volume(clone)
	if err != nil {
		return libvirt.StorageVol{}, err
	}
	v, err := m.newVolume(pool, xml)
	if err != nil {
		return libvirt.StorageVol{}, err
	}
	v.allocation = src.allocation
	return storageVol(pool.Name, v), nil
}

func (m *mockLibvirtClient) StorageVolGetPath(vol libvirt.StorageVol) (string, error) {
	if err := m.record("StorageVolGetPath"); err != nil {
		return "", err
	}
	v, err := m.volume(vol)
	if err != nil {
		return "", err
	}
	return v.path, nil
}

func (m *mockLibvirtClient) StorageVolGetInfo(vol libvirt.StorageVol) (rType int8, rCapacity uint64, rAllocation uint64, err error) {
	if err := m.record("StorageVolGetInfo"); err != nil {
		return 0, 0, 0, err
	}
	v, err := m.volume(vol)
	if err != nil {
		return 0, 0, 0, err
	}
	return 0, v.capacity, v.allocation, nil
}

func (m *mockLibvirtClient) StorageVolGetXMLDesc(vol libvirt.StorageVol, flags uint32) (string, error) {
	if err := m.record("StorageVolGetXMLDesc"); err != nil {
		return "", err
	}
	v, err := m.volume(vol)
	if err != nil {
		return "", err
	}

	def := libvirtxml.StorageVolume{
		Type:       "file",
		Name:       v.name,
		Key:        v.path,
		Capacity:   &libvirtxml.StorageVolumeSize{Value: v.capacity, Unit: "bytes"},
		Allocation: &libvirtxml.StorageVolumeSize{Value: v.allocation, Unit: "bytes"},
		Target: &libvirtxml.StorageVolumeTarget{
			Path:   v.path,
			Format: &libvirtxml.StorageVolumeTargetFormat{Type: v.format},
		},
	}
	if v.backing != "" {
		def.BackingStore = &libvirtxml.StorageVolumeBackingStore{
			Path:   v.backing,
			Format: &libvirtxml.StorageVolumeTargetFormat{Type: "qcow2"},
		}
	}
	return def.Marshal()
}

func (m *mockLibvirtClient) StorageVolResize(vol libvirt.StorageVol, capacity uint64, flags libvirt.StorageVolResizeFlags) error {
	if err := m.record("StorageVolResize"); err != nil {
		return err
	}
	v, err := m.volume(vol)
	if err != nil {
		return err
	}
	if capacity < v.capacity && flags&libvirt.StorageVolResizeShrink == 0 {
		return libvirtErr(libvirt.ErrInvalidArg, "can't shrink capacity below existing capacity unless shrink flag explicitly specified")
	}
	v.capacity = capacity
	return nil
}

func (m *mockLibvirtClient) ConnectListAllDomains(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
	if err := m.record("ConnectListAllDomains"); err != nil {
		return nil, 0, err
	}
	var result []libvirt.Domain
	for _, d := range m.domains {
		result = append(result, d.dom)
	}
	return result, uint32(len(result)), nil
}

func (m *mockLibvirtClient) DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error) {
	if err := m.record("DomainGetXMLDesc"); err != nil {
		return "", err
	}
	d, err := m.domain(dom)
	if err != nil {
		return "", err
	}
	return d.xml, nil
}

func (m *mockLibvirtClient) DomainBlockCopy(dom libvirt.Domain, path string, destxml string, params []libvirt.TypedParam, flags libvirt.DomainBlockCopyFlags) error {
	if err := m.record("DomainBlockCopy"); err != nil {
		return err
	}
	d, err := m.domain(dom)
	if err != nil {
		return err
	}

	var disk libvirtxml.DomainDisk
	if err := disk.Unmarshal(destxml); err != nil {
		return fmt.Errorf("invalid destination XML: %w", err)
	}
	if disk.Source == nil || disk.Source.File == nil {
		return libvirtErr(libvirt.ErrInvalidArg, "destination has no file source")
	}

	job := &mockBlockJob{end: 100, step: 50, destPath: disk.Source.File.File}
	if disk.Driver != nil {
		job.destFormat = disk.Driver.Type
	}
	d.jobs[path] = job
	d.copies = append(d.copies, destxml)
	return nil
}

func (m *mockLibvirtClient) DomainGetBlockJobInfo(dom libvirt.Domain, path string, flags uint32) (rFound int32, rType int32, rBandwidth uint64, rCur uint64, rEnd uint64, err error) {
	if err := m.record("DomainGetBlockJobInfo"); err != nil {
		return 0, 0, 0, 0, 0, err
	}
	d, err := m.domain(dom)
	if err != nil {
		return 0, 0, 0, 0, 0, err
	}
	job, ok := d.jobs[path]
	if !ok {
		return 0, 0, 0, 0, 0, nil
	}
	cur := job.cur
	if job.cur < job.end {
		job.cur += job.step
	}
	return 1, 2, 0, cur, job.end, nil
}

func (m *mockLibvirtClient) DomainBlockJobAbort(dom libvirt.Domain, path string, flags libvirt.DomainBlockJobAbortFlags) error {
	if err := m.record("DomainBlockJobAbort"); err != nil {
		return err
	}
	d, err := m.domain(dom)
	if err != nil {
		return err
	}
	job, ok := d.jobs[path]
	if !ok {
		return libvirtErr(libvirt.ErrOperationInvalid, "no block job on %s", path)
	}
	d.aborts = append(d.aborts, flags)
	delete(d.jobs, path)

	if flags&libvirt.DomainBlockJobAbortPivot != 0 {
		for name, p := range m.pools {
			if p.path == filepath.Dir(job.destPath) {
				m.unlisted[name] = append(m.unlisted[name], &mockVolume{
					name:     filepath.Base(job.destPath),
					path:     job.destPath,
					format:   job.destFormat,
					capacity: 1 << 30,
				})
			}
		}
	}
	return nil
}
