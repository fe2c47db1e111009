package cloud

import "context"

// Checker is the slice of the cloud store the probe needs.
type Checker interface {
	Check(ctx context.Context) error
}

// Probe tracks cloud reachability across cycles and detects the
// Offline->Online transition that triggers a queue drain.
//
// The probe starts in the Offline state, so the first successful check
// after startup counts as a restoration. Records queued during a previous
// run are therefore drained even if the agent restarts with the network up.
type Probe struct {
	checker Checker
	online  bool
}

// NewProbe creates a probe over the given store.
func NewProbe(checker Checker) *Probe {
	return &Probe{checker: checker}
}

// Check runs one reachability check. online reports the current state;
// restored is true only on an Offline->Online edge. Online->Offline and
// steady states never set restored.
func (p *Probe) Check(ctx context.Context) (online, restored bool) {
	wasOffline := !p.online
	p.online = p.checker.Check(ctx) == nil
	return p.online, wasOffline && p.online
}

// Online reports the state observed by the last Check.
func (p *Probe) Online() bool {
	return p.online
}

// MarkOffline forces the probe offline. The scheduler calls this when a
// publish fails on connectivity mid-cycle, so the next successful check
// registers as a restoration.
func (p *Probe) MarkOffline() {
	p.online = false
}
