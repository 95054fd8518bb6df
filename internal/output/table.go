package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jbweber/vdisk/api/v1alpha1"
	"github.com/jbweber/vdisk/internal/vdisk"
)

// TableFormatter formats resources as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

func newTabWriter(buf *bytes.Buffer) *tabwriter.Writer {
	return tabwriter.NewWriter(buf, 0, 0, 2, ' ', 0)
}

// FormatDisk formats a single VirtualDisk as a table row.
func (f *TableFormatter) FormatDisk(vd *v1alpha1.VirtualDisk) (string, error) {
	return f.FormatDiskList([]*v1alpha1.VirtualDisk{vd})
}

// FormatDiskList formats a list of VirtualDisks as a table.
func (f *TableFormatter) FormatDiskList(vds []*v1alpha1.VirtualDisk) (string, error) {
	if len(vds) == 0 {
		return "No disks found\n", nil
	}

	var buf bytes.Buffer
	w := newTabWriter(&buf)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tTYPE\tPHASE\tPATH\tSIZE\tAGE")
	}

	for _, vd := range vds {
		phase := string(vd.Status.Phase)
		if phase == "" {
			phase = "-"
		}

		path := vd.Status.Path
		if path == "" {
			path = vd.Spec.Path
		}

		size := "-"
		if vd.Status.VirtualSize > 0 {
			size = v1alpha1.FormatSize(vd.Status.VirtualSize)
		} else if vd.Spec.Size != "" {
			size = vd.Spec.Size
		}

		age := "-"
		if !vd.CreationTimestamp.IsZero() {
			age = formatAge(time.Since(vd.CreationTimestamp.Time))
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			vd.Name, vd.Spec.Type, phase, path, size, age)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatInfo formats disk information as FIELD/VALUE rows.
func (f *TableFormatter) FormatInfo(info *vdisk.DiskInfo) (string, error) {
	var buf bytes.Buffer
	w := newTabWriter(&buf)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "FIELD\tVALUE")
	}
	_, _ = fmt.Fprintf(w, "VERSION\t%s\n", info.Version)
	for _, field := range infoFields(info) {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", field.label, formatValue(field.value))
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatDependencies formats a dependency report as a table.
func (f *TableFormatter) FormatDependencies(entries []vdisk.DependencyEntry) (string, error) {
	if len(entries) == 0 {
		return "No dependencies found\n", nil
	}

	var buf bytes.Buffer
	w := newTabWriter(&buf)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "LEVEL\tDEVICE TYPE\tHOST VOLUME\tRELATIVE PATH\tDEVICE")
	}
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n",
			e.AncestorLevel,
			e.StorageType.DeviceID,
			formatValue(e.HostVolumeName),
			formatValue(e.DependentVolumeRelativePath),
			formatValue(e.DependencyDeviceName))
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatMetadata formats metadata entries as a table.
func (f *TableFormatter) FormatMetadata(items []MetadataItem) (string, error) {
	if len(items) == 0 {
		return "No metadata found\n", nil
	}

	var buf bytes.Buffer
	w := newTabWriter(&buf)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "ID\tSIZE")
	}
	for _, item := range items {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", item.ID, item.Size)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatPool formats a pool as a single table row.
func (f *TableFormatter) FormatPool(pool Pool) (string, error) {
	var buf bytes.Buffer
	w := newTabWriter(&buf)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tTYPE\tSTATE\tPATH\tCAPACITY\tALLOCATION\tAVAILABLE")
	}
	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
		pool.Name, formatValue(pool.Type), formatValue(pool.State), formatValue(pool.Path),
		v1alpha1.FormatSize(pool.Capacity),
		v1alpha1.FormatSize(pool.Allocation),
		v1alpha1.FormatSize(pool.Available))

	_ = w.Flush()
	return buf.String(), nil
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	weeks := days / 7
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}

	if years := days / 365; years > 0 {
		return fmt.Sprintf("%dy", years)
	}

	return fmt.Sprintf("%dd", days)
}
