package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ImportImage makes an existing image file available as a volume of the
// manager's pool. The file is copied into the pool directory unless it
// already lives there. Its content must match the format named by its
// extension.
func (m *Manager) ImportImage(ctx context.Context, filePath, imageName string) (*VolumeInfo, error) {
	want, err := FormatForPath(filePath)
	if err != nil {
		return nil, err
	}
	got, err := DetectImageFormat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect image format: %w", err)
	}
	if got != want {
		return nil, fmt.Errorf("image %s contains %s data but its extension says %s", filePath, got, want)
	}

	if imageName == "" {
		imageName = filepath.Base(filePath)
	}
	if ext := filepath.Ext(imageName); ext != filepath.Ext(filePath) {
		return nil, fmt.Errorf("image name %q must keep the extension %s", imageName, filepath.Ext(filePath))
	}

	pool, err := m.client.StoragePoolLookupByName(m.pool)
	if err != nil {
		return nil, fmt.Errorf("pool not found: %w", err)
	}
	if _, err := m.client.StorageVolLookupByName(pool, imageName); err == nil {
		return nil, fmt.Errorf("volume %s already exists in pool %s", imageName, m.pool)
	}

	dir, err := m.poolPath(pool)
	if err != nil {
		return nil, err
	}
	dest := filepath.Join(dir, imageName)
	if filepath.Clean(filePath) != dest {
		if err := copyFile(ctx, filePath, dest); err != nil {
			return nil, fmt.Errorf("failed to copy image into pool: %w", err)
		}
	}

	if err := m.RefreshPool(ctx, m.pool); err != nil {
		return nil, err
	}
	vol, err := m.client.StorageVolLookupByName(pool, imageName)
	if err != nil {
		return nil, fmt.Errorf("imported image not visible in pool: %w", err)
	}

	m.log.WithField("volume", imageName).Infof("Imported %s image", got)
	return m.describeVolume(vol)
}

func copyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
