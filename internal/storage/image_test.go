package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_ImportImage(t *testing.T) {
	srcDir := t.TempDir()

	writeQCOW2 := func(path string) {
		data := []byte{0x51, 0x46, 0x49, 0xfb, 0x00, 0x00, 0x00, 0x03}
		data = append(data, make([]byte, 504)...)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("Failed to create QCOW2 test file: %v", err)
		}
	}

	qcow2Path := filepath.Join(srcDir, "base.qcow2")
	writeQCOW2(qcow2Path)

	rawPath := filepath.Join(srcDir, "boot.raw")
	raw := make([]byte, 512)
	raw[510], raw[511] = 0x55, 0xaa
	if err := os.WriteFile(rawPath, raw, 0o644); err != nil {
		t.Fatalf("Failed to create RAW test file: %v", err)
	}

	misnamedPath := filepath.Join(srcDir, "misnamed.raw")
	writeQCOW2(misnamedPath)

	tests := []struct {
		name       string
		filePath   string
		imageName  string
		setup      func(*mockLibvirtClient)
		wantName   string
		wantFormat VolumeFormat
		errMsg     string
	}{
		{
			name:       "import qcow2 image",
			filePath:   qcow2Path,
			wantName:   "base.qcow2",
			wantFormat: VolumeFormatQCOW2,
		},
		{
			name:       "import raw image under new name",
			filePath:   rawPath,
			imageName:  "ubuntu.raw",
			wantName:   "ubuntu.raw",
			wantFormat: VolumeFormatRaw,
		},
		{
			name:     "reject content mismatch",
			filePath: misnamedPath,
			errMsg:   "contains qcow2 data",
		},
		{
			name:      "reject extension change",
			filePath:  qcow2Path,
			imageName: "base.raw",
			errMsg:    "must keep the extension",
		},
		{
			name:     "reject unknown extension",
			filePath: filepath.Join(srcDir, "disk.vmdk"),
			errMsg:   "cannot derive image format",
		},
		{
			name:     "reject existing volume",
			filePath: qcow2Path,
			setup: func(m *mockLibvirtClient) {
				m.addVolume("vdisk", &mockVolume{name: "base.qcow2", format: "qcow2", capacity: 1})
			},
			errMsg: "already exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poolDir := t.TempDir()
			mockClient := newMockLibvirtClient()
			mockClient.addPool("vdisk", poolDir)
			if tt.setup != nil {
				tt.setup(mockClient)
			}

			mgr := NewManager(mockClient, WithPool("vdisk"))
			info, err := mgr.ImportImage(context.Background(), tt.filePath, tt.imageName)

			if tt.errMsg != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
					t.Fatalf("ImportImage() error = %v, want %q", err, tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("ImportImage() error = %v", err)
			}

			if info.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", info.Name, tt.wantName)
			}
			if info.Format != tt.wantFormat {
				t.Errorf("Format = %q, want %q", info.Format, tt.wantFormat)
			}
			if info.Path != filepath.Join(poolDir, tt.wantName) {
				t.Errorf("Path = %q", info.Path)
			}
			if _, err := os.Stat(info.Path); err != nil {
				t.Errorf("image not copied into pool: %v", err)
			}
		})
	}
}

func TestManager_ImportImage_InPlace(t *testing.T) {
	poolDir := t.TempDir()
	path := filepath.Join(poolDir, "boot.raw")
	raw := make([]byte, 1024)
	raw[510], raw[511] = 0x55, 0xaa
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	mockClient := newMockLibvirtClient()
	mockClient.addPool("vdisk", poolDir)

	mgr := NewManager(mockClient, WithPool("vdisk"))
	info, err := mgr.ImportImage(context.Background(), path, "")
	if err != nil {
		t.Fatalf("ImportImage() error = %v", err)
	}
	if info.Capacity != 1024 {
		t.Errorf("Capacity = %d, want 1024", info.Capacity)
	}
}
