package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/vdisk/api/v1alpha1"
	"github.com/jbweber/vdisk/internal/vdisk"
)

// YAMLFormatter formats resources as YAML.
type YAMLFormatter struct{}

func marshalYAML(v any, what string) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to YAML: %w", what, err)
	}
	return string(data), nil
}

// FormatDisk formats a single VirtualDisk as YAML.
func (f *YAMLFormatter) FormatDisk(vd *v1alpha1.VirtualDisk) (string, error) {
	v1alpha1.SetDefaultAPIVersion(vd)
	return marshalYAML(vd, "disk")
}

// FormatDiskList formats a list of VirtualDisks as a YAML stream (multiple
// documents separated by ---).
func (f *YAMLFormatter) FormatDiskList(vds []*v1alpha1.VirtualDisk) (string, error) {
	var buf bytes.Buffer

	for i, vd := range vds {
		v1alpha1.SetDefaultAPIVersion(vd)

		data, err := yaml.Marshal(vd)
		if err != nil {
			return "", fmt.Errorf("failed to marshal disk %s to YAML: %w", vd.Name, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}

	return buf.String(), nil
}

// FormatInfo formats disk information as YAML.
func (f *YAMLFormatter) FormatInfo(info *vdisk.DiskInfo) (string, error) {
	return marshalYAML(infoView(info), "disk info")
}

// FormatDependencies formats a dependency report as a YAML sequence.
func (f *YAMLFormatter) FormatDependencies(entries []vdisk.DependencyEntry) (string, error) {
	if len(entries) == 0 {
		return "[]\n", nil
	}
	return marshalYAML(entries, "dependencies")
}

// FormatMetadata formats metadata entries as a YAML sequence.
func (f *YAMLFormatter) FormatMetadata(items []MetadataItem) (string, error) {
	if len(items) == 0 {
		return "[]\n", nil
	}
	return marshalYAML(items, "metadata")
}

// FormatPool formats a pool as YAML.
func (f *YAMLFormatter) FormatPool(pool Pool) (string, error) {
	return marshalYAML(pool, "pool")
}
