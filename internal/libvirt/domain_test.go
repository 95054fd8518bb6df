package libvirt

import (
	"strings"
	"testing"
)

const testDomainXML = `<domain type="kvm">
  <name>web01</name>
  <devices>
    <disk type="file" device="disk">
      <driver name="qemu" type="qcow2"/>
      <source file="/var/lib/libvirt/images/vdisk/web01.qcow2"/>
      <target dev="vda" bus="virtio"/>
    </disk>
    <disk type="volume" device="disk">
      <driver name="qemu" type="raw"/>
      <source pool="vdisk" volume="data.raw"/>
      <target dev="vdb" bus="virtio"/>
    </disk>
    <disk type="file" device="cdrom">
      <target dev="sda" bus="sata"/>
    </disk>
  </devices>
</domain>`

func TestFindDisk(t *testing.T) {
	tests := []struct {
		name       string
		ref        DiskRef
		wantFound  bool
		wantTarget string
		wantFormat string
	}{
		{
			name:       "file source",
			ref:        DiskRef{Path: "/var/lib/libvirt/images/vdisk/web01.qcow2"},
			wantFound:  true,
			wantTarget: "vda",
			wantFormat: "qcow2",
		},
		{
			name:       "file source with unclean path",
			ref:        DiskRef{Path: "/var/lib/libvirt/images/vdisk/../vdisk/web01.qcow2"},
			wantFound:  true,
			wantTarget: "vda",
			wantFormat: "qcow2",
		},
		{
			name:       "volume source",
			ref:        DiskRef{Pool: "vdisk", Volume: "data.raw"},
			wantFound:  true,
			wantTarget: "vdb",
			wantFormat: "raw",
		},
		{
			name: "volume in another pool",
			ref:  DiskRef{Pool: "other", Volume: "data.raw"},
		},
		{
			name: "unrelated image",
			ref:  DiskRef{Path: "/tmp/other.qcow2", Pool: "vdisk", Volume: "other.qcow2"},
		},
		{
			name: "empty reference never matches",
			ref:  DiskRef{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disk, found, err := FindDisk(testDomainXML, tt.ref)
			if err != nil {
				t.Fatalf("FindDisk() error = %v", err)
			}
			if found != tt.wantFound {
				t.Fatalf("FindDisk() found = %v, want %v", found, tt.wantFound)
			}
			if !found {
				return
			}
			if disk.Domain != "web01" {
				t.Errorf("Domain = %q, want web01", disk.Domain)
			}
			if disk.Target != tt.wantTarget {
				t.Errorf("Target = %q, want %q", disk.Target, tt.wantTarget)
			}
			if disk.Format != tt.wantFormat {
				t.Errorf("Format = %q, want %q", disk.Format, tt.wantFormat)
			}
		})
	}
}

func TestFindDisk_NoDevices(t *testing.T) {
	_, found, err := FindDisk(`<domain type="kvm"><name>empty</name></domain>`, DiskRef{Path: "/x"})
	if err != nil {
		t.Fatalf("FindDisk() error = %v", err)
	}
	if found {
		t.Error("expected no disk in a domain without devices")
	}
}

func TestFindDisk_InvalidXML(t *testing.T) {
	if _, _, err := FindDisk("<domain", DiskRef{Path: "/x"}); err == nil {
		t.Fatal("expected error for invalid XML")
	}
}

func TestBlockCopyDestXML(t *testing.T) {
	xml, err := BlockCopyDestXML("/var/lib/libvirt/images/vdisk/web01-mirror.qcow2", "qcow2")
	if err != nil {
		t.Fatalf("BlockCopyDestXML() error = %v", err)
	}

	required := []string{
		`<disk `,
		`type="file"`,
		`device="disk"`,
		`type="qcow2"`,
		`file="/var/lib/libvirt/images/vdisk/web01-mirror.qcow2"`,
	}
	for _, elem := range required {
		if !strings.Contains(xml, elem) {
			t.Errorf("XML missing element: %s\n\nGenerated XML:\n%s", elem, xml)
		}
	}
}
