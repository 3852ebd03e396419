package dist

import (
	"time"

	"k8s.io/klog/v2"
)

// SetGroupTimeouts changes the collective timeout of the
// default group and of every group in mesh.
//
// All ranks first pass a barrier under the old timeout
// and synchronize their device. Otherwise a fast rank
// could switch to a shorter timeout and give up on a slow
// rank that is still running under the old one.
//
// A nil mesh only changes the default group.
func SetGroupTimeouts(p *Process, timeout time.Duration, mesh *Mesh) error {
	if err := checkTimeout(timeout); err != nil {
		return err
	}
	klog.Infof("Synchronizing and adjusting timeout for all ProcessGroups to %s", timeout)

	def, err := p.DefaultGroup()
	if err != nil {
		return err
	}
	if err := def.Barrier(); err != nil {
		return err
	}
	if err := p.SynchronizeDevice(); err != nil {
		return err
	}

	var groups []*Group
	if mesh != nil {
		groups = mesh.Groups()
	}
	groups = append(groups, def)
	for _, g := range groups {
		if err := g.SetTimeout(timeout); err != nil {
			return err
		}
		klog.V(2).Infof("rank %d: group %s (%s) timeout is now %s", p.Rank(), g.Name(), g.ID(), timeout)
	}
	return nil
}
