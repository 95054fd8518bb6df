// Package status provides utilities for managing VirtualDisk status fields,
// including conditions and phase transitions.
package status

import (
	"time"

	"github.com/jbweber/vdisk/api/v1alpha1"
)

// SetCondition adds or updates a condition in the disk status.
// The LastTransitionTime is only updated if the status changes.
func SetCondition(vd *v1alpha1.VirtualDisk, condType string, status v1alpha1.ConditionStatus, reason, message string) {
	now := v1alpha1.Time{Time: time.Now()}

	for i := range vd.Status.Conditions {
		if vd.Status.Conditions[i].Type == condType {
			existing := &vd.Status.Conditions[i]
			if existing.Status != status {
				existing.LastTransitionTime = now
			}
			existing.Status = status
			existing.Reason = reason
			existing.Message = message
			existing.ObservedGeneration = vd.Generation
			return
		}
	}

	vd.Status.Conditions = append(vd.Status.Conditions, v1alpha1.Condition{
		Type:               condType,
		Status:             status,
		ObservedGeneration: vd.Generation,
		LastTransitionTime: now,
		Reason:             reason,
		Message:            message,
	})
}

// GetCondition returns a condition by type, or nil if not found.
func GetCondition(vd *v1alpha1.VirtualDisk, condType string) *v1alpha1.Condition {
	for i := range vd.Status.Conditions {
		if vd.Status.Conditions[i].Type == condType {
			return &vd.Status.Conditions[i]
		}
	}
	return nil
}

// IsConditionTrue returns true if the condition exists and has status True.
func IsConditionTrue(vd *v1alpha1.VirtualDisk, condType string) bool {
	cond := GetCondition(vd, condType)
	return cond != nil && cond.Status == v1alpha1.ConditionTrue
}

// IsConditionFalse returns true if the condition exists and has status False.
func IsConditionFalse(vd *v1alpha1.VirtualDisk, condType string) bool {
	cond := GetCondition(vd, condType)
	return cond != nil && cond.Status == v1alpha1.ConditionFalse
}

// RemoveCondition removes a condition by type.
func RemoveCondition(vd *v1alpha1.VirtualDisk, condType string) {
	filtered := make([]v1alpha1.Condition, 0, len(vd.Status.Conditions))
	for _, c := range vd.Status.Conditions {
		if c.Type != condType {
			filtered = append(filtered, c)
		}
	}
	vd.Status.Conditions = filtered
}

// MarkProvisioned records that the image exists on the host.
func MarkProvisioned(vd *v1alpha1.VirtualDisk, created bool) {
	if created {
		SetCondition(vd, v1alpha1.ConditionProvisioned, v1alpha1.ConditionTrue, "ImageCreated", "Virtual disk image created")
		return
	}
	SetCondition(vd, v1alpha1.ConditionProvisioned, v1alpha1.ConditionTrue, "ImageOpened", "Existing virtual disk image opened")
}

// MarkMetadataApplied records that every metadata entry was written.
func MarkMetadataApplied(vd *v1alpha1.VirtualDisk) {
	SetCondition(vd, v1alpha1.ConditionMetadataApplied, v1alpha1.ConditionTrue, "MetadataWritten", "All metadata entries written")
}

// MarkMetadataFailed sets the metadata condition to False.
func MarkMetadataFailed(vd *v1alpha1.VirtualDisk, err error) {
	SetCondition(vd, v1alpha1.ConditionMetadataApplied, v1alpha1.ConditionFalse, "MetadataFailed", err.Error())
}

// MarkMirrored records a completed mirror to dest.
func MarkMirrored(vd *v1alpha1.VirtualDisk, dest string) {
	SetCondition(vd, v1alpha1.ConditionMirrored, v1alpha1.ConditionTrue, "MirrorComplete", "Mirrored to "+dest)
}

// MarkMirrorFailed sets the mirror condition to False.
func MarkMirrorFailed(vd *v1alpha1.VirtualDisk, err error) {
	SetCondition(vd, v1alpha1.ConditionMirrored, v1alpha1.ConditionFalse, "MirrorFailed", err.Error())
}

// MarkFailed sets the Ready condition to False and phase to Failed.
func MarkFailed(vd *v1alpha1.VirtualDisk, reason, message string) {
	SetCondition(vd, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, reason, message)
	vd.SetPhase(v1alpha1.DiskPhaseFailed)
}
