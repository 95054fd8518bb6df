package output

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jbweber/vdisk/api/v1alpha1"
	"github.com/jbweber/vdisk/internal/vdisk"
)

// JSONFormatter formats resources as JSON.
type JSONFormatter struct{}

func marshalJSON(v any, what string) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to JSON: %w", what, err)
	}
	return string(data) + "\n", nil
}

// FormatDisk formats a single VirtualDisk as JSON.
func (f *JSONFormatter) FormatDisk(vd *v1alpha1.VirtualDisk) (string, error) {
	v1alpha1.SetDefaultAPIVersion(vd)
	return marshalJSON(vd, "disk")
}

// FormatDiskList formats a list of VirtualDisks as a JSON array.
func (f *JSONFormatter) FormatDiskList(vds []*v1alpha1.VirtualDisk) (string, error) {
	if len(vds) == 0 {
		return "[]\n", nil
	}
	for _, vd := range vds {
		v1alpha1.SetDefaultAPIVersion(vd)
	}
	return marshalJSON(vds, "disks")
}

// FormatDiskListAsItems formats a list of VirtualDisks as a JSON object with
// an items array, mimicking the Kubernetes List format:
//
//	{
//	  "apiVersion": "vdisk.cofront.xyz/v1alpha1",
//	  "kind": "VirtualDiskList",
//	  "items": [...]
//	}
func (f *JSONFormatter) FormatDiskListAsItems(vds []*v1alpha1.VirtualDisk) (string, error) {
	for _, vd := range vds {
		v1alpha1.SetDefaultAPIVersion(vd)
	}
	if vds == nil {
		vds = []*v1alpha1.VirtualDisk{}
	}

	wrapper := map[string]interface{}{
		"apiVersion": v1alpha1.APIVersion(),
		"kind":       v1alpha1.VirtualDiskKind + "List",
		"items":      vds,
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(wrapper); err != nil {
		return "", fmt.Errorf("failed to marshal disk list to JSON: %w", err)
	}

	return buf.String(), nil
}

// FormatInfo formats disk information as JSON, keeping only the fields of
// the queried version.
func (f *JSONFormatter) FormatInfo(info *vdisk.DiskInfo) (string, error) {
	return marshalJSON(infoView(info), "disk info")
}

// FormatDependencies formats a dependency report as a JSON array.
func (f *JSONFormatter) FormatDependencies(entries []vdisk.DependencyEntry) (string, error) {
	if len(entries) == 0 {
		return "[]\n", nil
	}
	return marshalJSON(entries, "dependencies")
}

// FormatMetadata formats metadata entries as a JSON array.
func (f *JSONFormatter) FormatMetadata(items []MetadataItem) (string, error) {
	if len(items) == 0 {
		return "[]\n", nil
	}
	return marshalJSON(items, "metadata")
}

// FormatPool formats a pool as JSON.
func (f *JSONFormatter) FormatPool(pool Pool) (string, error) {
	return marshalJSON(pool, "pool")
}
