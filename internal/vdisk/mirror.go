package vdisk

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Mirror copies the disk to destination and then breaks the mirror, which
// promotes destination to the active backing store of the handle.
//
// Each phase runs on its own operation, released on every exit path.
// There is no rollback: a failure in the break phase leaves the mirror
// running for the caller to resolve.
func (d *Disk) Mirror(ctx context.Context, destination string) error {
	if destination == "" {
		return invalidArgument("mirror destination is required")
	}
	if !d.IsOpen() {
		return fmt.Errorf("mirror: %w", ErrNotOpen)
	}

	log := d.log.WithFields(logrus.Fields{"path": d.path, "destination": destination})
	log.Info("Starting mirror")

	if err := d.runPhase(ctx, "MirrorVirtualDisk", MirrorSteadyState, func(op Operation) Status {
		return d.platform.MirrorVirtualDisk(d.handle, destination, op)
	}); err != nil {
		return err
	}
	log.Info("Mirror reached steady state, breaking mirror")

	if err := d.runPhase(ctx, "BreakMirrorVirtualDisk", Completed, func(op Operation) Status {
		return d.platform.BreakMirrorVirtualDisk(d.handle, op)
	}); err != nil {
		return err
	}

	d.path = destination
	d.info = nil
	log.Info("Mirror complete")
	return nil
}

// runPhase issues one asynchronous request on a fresh operation and waits
// for pred when the request was accepted as pending.
func (d *Disk) runPhase(ctx context.Context, name string, pred Predicate, issue func(Operation) Status) (err error) {
	op, st := d.platform.CreateOperation()
	if st != StatusSuccess {
		return platformError("CreateOperation", d.path, st)
	}
	defer func() {
		if st := d.platform.ReleaseOperation(op); st != StatusSuccess {
			relErr := platformError("ReleaseOperation", d.path, st)
			if err == nil {
				d.log.WithError(relErr).Warn("Failed to release operation")
				return
			}
			err = multierror.Append(err, relErr)
		}
	}()

	switch st := issue(op); st {
	case StatusSuccess:
		return nil
	case StatusIOPending:
		return d.waiter.Wait(ctx, name, d.handle, op, pred)
	default:
		return platformError(name, d.path, st)
	}
}
