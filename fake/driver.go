// File: fake/driver.go
// License: Apache-2.0
//
// Scriptable reactor.Driver for deterministic engine tests. Nothing completes
// on its own: tests pick in-flight Ops and finish them with Complete.

package fake

import (
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-net/reactor"
)

// Driver is an in-memory reactor.Driver.
type Driver struct {
	mu         sync.Mutex
	associated map[int]bool
	inFlight   []*reactor.Op
	ready      *queue.Queue // reactor.Completion
	held       []*reactor.Op
	notify     chan struct{}
	closed     bool
	started    int

	// HoldCancel keeps canceled Ops in flight without a confirmation until
	// ReleaseCanceled is called.
	HoldCancel bool

	// StartErr, when set, is consulted by Start; a non-nil result is
	// returned and the Op is not started.
	StartErr func(op *reactor.Op) error
}

var _ reactor.Driver = (*Driver)(nil)

// NewDriver returns an empty fake driver.
func NewDriver() *Driver {
	return &Driver{
		associated: make(map[int]bool),
		ready:      queue.New(),
		notify:     make(chan struct{}, 1),
	}
}

// Factory returns a reactor.Factory handing out d.
func (d *Driver) Factory() reactor.Factory {
	return func() (reactor.Driver, error) { return d, nil }
}

func (d *Driver) Associate(fd int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.associated[fd] = true
	return nil
}

func (d *Driver) Dissociate(fd int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.associated, fd)
	kept := d.inFlight[:0]
	for _, op := range d.inFlight {
		if op.FD != fd {
			kept = append(kept, op)
		}
	}
	d.inFlight = kept
	return nil
}

func (d *Driver) Start(op *reactor.Op) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.associated[op.FD] {
		return reactor.ErrNotAssociated
	}
	if d.StartErr != nil {
		if err := d.StartErr(op); err != nil {
			return err
		}
	}
	for _, cur := range d.inFlight {
		if cur == op {
			return fmt.Errorf("fake: op already started")
		}
	}
	d.inFlight = append(d.inFlight, op)
	d.started++
	return nil
}

func (d *Driver) Cancel(op *reactor.Op) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.removeLocked(op) {
		return
	}
	if d.HoldCancel {
		d.held = append(d.held, op)
		return
	}
	d.pushLocked(reactor.Completion{Op: op, Err: reactor.ErrCanceled})
}

func (d *Driver) WaitOne(timeout time.Duration) (reactor.Outcome, error) {
	var expire <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}
	for {
		d.mu.Lock()
		if d.ready.Length() > 0 {
			c := d.ready.Remove().(reactor.Completion)
			d.mu.Unlock()
			return reactor.Outcome{Kind: reactor.Completed, Completion: c}, nil
		}
		d.mu.Unlock()

		select {
		case <-d.notify:
			d.mu.Lock()
			empty := d.ready.Length() == 0
			d.mu.Unlock()
			if empty {
				return reactor.Outcome{Kind: reactor.Woken}, nil
			}
		case <-expire:
			return reactor.Outcome{Kind: reactor.Expired}, nil
		}
	}
}

func (d *Driver) Wake() error {
	d.signal()
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Complete finishes an in-flight Op with n transferred bytes. For OpRecv and
// OpRecvFrom the caller writes into op.Buf first; the driver only counts.
func (d *Driver) Complete(op *reactor.Op, n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(op)
	d.pushLocked(reactor.Completion{Op: op, N: n, Err: err})
}

// Deliver copies data into a recv Op's buffer and completes it.
func (d *Driver) Deliver(op *reactor.Op, data []byte) {
	n := copy(op.Buf[op.Off:], data)
	d.Complete(op, n, nil)
}

// ReleaseCanceled confirms every held cancellation.
func (d *Driver) ReleaseCanceled() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range d.held {
		d.pushLocked(reactor.Completion{Op: op, Err: reactor.ErrCanceled})
	}
	d.held = nil
}

// InFlight lists started Ops of kind that have not completed.
func (d *Driver) InFlight(kind reactor.OpKind) []*reactor.Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*reactor.Op
	for _, op := range d.inFlight {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

// Held lists canceled Ops still waiting for ReleaseCanceled.
func (d *Driver) Held() []*reactor.Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*reactor.Op(nil), d.held...)
}

// Started counts successful Start calls.
func (d *Driver) Started() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Associated reports whether fd is registered.
func (d *Driver) Associated(fd int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.associated[fd]
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Driver) removeLocked(op *reactor.Op) bool {
	for i, cur := range d.inFlight {
		if cur == op {
			d.inFlight = append(d.inFlight[:i], d.inFlight[i+1:]...)
			return true
		}
	}
	return false
}

func (d *Driver) pushLocked(c reactor.Completion) {
	d.ready.Add(c)
	d.signal()
}

func (d *Driver) signal() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}
