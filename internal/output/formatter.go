// Package output provides formatters for displaying virtual disks, disk
// information and dependency reports in various formats (table, YAML, JSON).
package output

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/jbweber/vdisk/api/v1alpha1"
	"github.com/jbweber/vdisk/internal/storage"
	"github.com/jbweber/vdisk/internal/vdisk"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable table format.
	FormatTable Format = "table"
	// FormatYAML is a YAML format for declarative configs.
	FormatYAML Format = "yaml"
	// FormatJSON is a JSON format for machine consumption.
	FormatJSON Format = "json"
)

// MetadataItem is one metadata entry of a disk as listed by the CLI.
type MetadataItem struct {
	ID   uuid.UUID `json:"id" yaml:"id"`
	Size uint32    `json:"size" yaml:"size"`
}

// Pool is the printable form of a storage pool.
type Pool struct {
	Name       string `json:"name" yaml:"name"`
	Type       string `json:"type" yaml:"type"`
	Path       string `json:"path" yaml:"path"`
	UUID       string `json:"uuid" yaml:"uuid"`
	State      string `json:"state" yaml:"state"`
	Capacity   uint64 `json:"capacity" yaml:"capacity"`
	Allocation uint64 `json:"allocation" yaml:"allocation"`
	Available  uint64 `json:"available" yaml:"available"`
}

// PoolFrom converts pool information reported by the storage backend.
func PoolFrom(info *storage.PoolInfo) Pool {
	return Pool{
		Name:       info.Name,
		Type:       string(info.Type),
		Path:       info.Path,
		UUID:       info.UUID,
		State:      info.State,
		Capacity:   info.Capacity,
		Allocation: info.Allocation,
		Available:  info.Available,
	}
}

// Formatter formats vdisk resources for output.
type Formatter interface {
	// FormatDisk formats a single VirtualDisk resource.
	FormatDisk(vd *v1alpha1.VirtualDisk) (string, error)

	// FormatDiskList formats a list of VirtualDisk resources.
	FormatDiskList(vds []*v1alpha1.VirtualDisk) (string, error)

	// FormatInfo formats the result of one disk information query.
	FormatInfo(info *vdisk.DiskInfo) (string, error)

	// FormatDependencies formats a storage dependency report.
	FormatDependencies(entries []vdisk.DependencyEntry) (string, error)

	// FormatMetadata formats the metadata entries of a disk.
	FormatMetadata(items []MetadataItem) (string, error)

	// FormatPool formats a storage pool.
	FormatPool(pool Pool) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	switch Format(format) {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
	}
}
