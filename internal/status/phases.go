package status

import (
	"fmt"

	"github.com/jbweber/vdisk/api/v1alpha1"
)

// TransitionToCreating moves a Pending disk to Creating.
func TransitionToCreating(vd *v1alpha1.VirtualDisk) error {
	if vd.GetPhase() != v1alpha1.DiskPhasePending {
		return fmt.Errorf("cannot transition to Creating from phase %s", vd.GetPhase())
	}

	vd.SetPhase(v1alpha1.DiskPhaseCreating)
	SetCondition(vd, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, "Creating", "Virtual disk provisioning in progress")
	return nil
}

// TransitionToReady moves a disk to Ready once provisioning or a mirror
// has finished.
func TransitionToReady(vd *v1alpha1.VirtualDisk) error {
	phase := vd.GetPhase()
	if phase != v1alpha1.DiskPhaseCreating && phase != v1alpha1.DiskPhaseMirroring {
		return fmt.Errorf("cannot transition to Ready from phase %s", phase)
	}

	vd.SetPhase(v1alpha1.DiskPhaseReady)
	SetCondition(vd, v1alpha1.ConditionReady, v1alpha1.ConditionTrue, "DiskReady", "Virtual disk is available")
	vd.UpdateObservedGeneration()
	return nil
}

// TransitionToMirroring moves a Ready disk to Mirroring.
func TransitionToMirroring(vd *v1alpha1.VirtualDisk) error {
	if vd.GetPhase() != v1alpha1.DiskPhaseReady {
		return fmt.Errorf("cannot transition to Mirroring from phase %s", vd.GetPhase())
	}

	vd.SetPhase(v1alpha1.DiskPhaseMirroring)
	SetCondition(vd, v1alpha1.ConditionMirrored, v1alpha1.ConditionFalse, "Mirroring", "Mirror in progress")
	return nil
}

// TransitionToFailed moves a disk to Failed from any phase.
func TransitionToFailed(vd *v1alpha1.VirtualDisk, reason, message string) {
	MarkFailed(vd, reason, message)
}

// IsTerminal reports whether no further transition happens without a new
// apply.
func IsTerminal(phase v1alpha1.DiskPhase) bool {
	return phase == v1alpha1.DiskPhaseReady || phase == v1alpha1.DiskPhaseFailed
}

// IsTransitioning returns true if the disk is in a transitional state.
func IsTransitioning(phase v1alpha1.DiskPhase) bool {
	return phase == v1alpha1.DiskPhaseCreating || phase == v1alpha1.DiskPhaseMirroring
}
