// File: engine/udp.go
// License: Apache-2.0
//
// Connectionless mode: a ring of pre-armed receives plus one in-flight send
// with a FIFO behind it.

package engine

import (
	"bytes"
	"errors"
	"net/netip"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/socket"
	"github.com/momentics/hioload-net/reactor"
)

const udpRingSize = 4

type udpState struct {
	sock    *socket.Socket
	session uuid.UUID

	ring [udpRingSize]*reactor.Op
	busy [udpRingSize]bool

	send     *reactor.Op
	sendBusy bool
	sendTo   api.Address
	pending  *queue.Queue // request
}

func (e *Engine) launchUDP() error {
	s, err := socket.New(socket.Datagram, e.cfg.Family)
	if err != nil {
		return err
	}
	u := &udpState{sock: s, session: uuid.New(), pending: queue.New()}
	e.udp = u
	if err := s.SetReuseAddr(true); err != nil {
		return err
	}
	if err := s.Bind(e.bindAddr()); err != nil {
		return err
	}
	local, err := s.LocalAddr()
	if err != nil {
		return err
	}
	e.local = api.NewAddress(local)
	if err := e.driver.Associate(s.FD()); err != nil {
		return api.OSError("associate udp socket", err)
	}
	u.send = &reactor.Op{Kind: reactor.OpSendTo, FD: s.FD(), Slot: -1}
	for i := range u.ring {
		u.ring[i] = &reactor.Op{
			Kind: reactor.OpRecvFrom,
			FD:   s.FD(),
			Buf:  e.pool.Acquire(e.cfg.BufferSize),
			Slot: i,
		}
		if err := u.arm(e, i); err != nil {
			return err
		}
	}
	return nil
}

func (u *udpState) arm(e *Engine, i int) error {
	op := u.ring[i]
	op.Off = 0
	if err := e.driver.Start(op); err != nil {
		e.log.Warnf("engine: arm udp recv %d: %s", i, err)
		return api.OSError("recvfrom", err)
	}
	u.busy[i] = true
	return nil
}

func (u *udpState) emit(e *Engine, ev api.Event) {
	ev.Session = u.session
	e.emit(nil, ev)
}

func (u *udpState) complete(e *Engine, comp reactor.Completion) {
	if comp.Op == u.send {
		u.onSend(e, comp)
		return
	}
	i := comp.Op.Slot
	if i < 0 || i >= udpRingSize || u.ring[i] != comp.Op {
		return
	}
	u.busy[i] = false
	if e.stopping || errors.Is(comp.Err, reactor.ErrCanceled) {
		return
	}
	op := u.ring[i]
	if comp.Err != nil {
		u.emit(e, api.Event{Kind: api.EventRecv, Err: api.OSError("recvfrom", comp.Err)})
	} else {
		e.metrics.BytesIn.Add(float64(comp.N))
		u.emit(e, api.Event{
			Kind:    api.EventRecv,
			Peer:    api.NewAddress(op.Peer),
			Payload: bytes.Clone(op.Buf[:comp.N]),
		})
	}
	_ = u.arm(e, i)
}

func (u *udpState) enqueue(e *Engine, r request) {
	if e.stopping {
		u.emit(e, api.Event{Kind: api.EventSend, Peer: r.to, Payload: r.payload, Err: errNotRunning})
		return
	}
	u.pending.Add(r)
	e.metrics.PendingOps.WithLabelValues("send").Inc()
	u.pump(e)
}

func (u *udpState) pump(e *Engine) {
	for !u.sendBusy && !e.stopping && u.pending.Length() > 0 {
		r := u.pending.Remove().(request)
		e.metrics.PendingOps.WithLabelValues("send").Dec()
		to, err := e.target(r.to)
		if err == nil {
			u.send.Buf, u.send.Off, u.send.To = r.payload, 0, to
			if serr := e.driver.Start(u.send); serr != nil {
				err = api.OSError("sendto", serr)
			}
		}
		if err != nil {
			u.emit(e, api.Event{Kind: api.EventSend, Peer: r.to, Payload: r.payload, Err: err})
			continue
		}
		u.sendBusy = true
		u.sendTo = r.to
	}
}

func (u *udpState) onSend(e *Engine, comp reactor.Completion) {
	u.sendBusy = false
	ev := api.Event{Kind: api.EventSend, Peer: u.sendTo, Payload: u.send.Buf}
	u.send.Buf, u.send.To, u.sendTo = nil, netip.AddrPort{}, api.Address{}
	if errors.Is(comp.Err, reactor.ErrCanceled) {
		ev.Err = errNotRunning
	} else if comp.Err != nil {
		ev.Err = api.OSError("sendto", comp.Err)
	} else {
		e.metrics.BytesOut.Add(float64(comp.N))
	}
	u.emit(e, ev)
	u.pump(e)
}

func (u *udpState) cancel(e *Engine) {
	for i, op := range u.ring {
		if u.busy[i] {
			e.driver.Cancel(op)
		}
	}
	if u.sendBusy {
		e.driver.Cancel(u.send)
	}
	e.metrics.PendingOps.WithLabelValues("send").Sub(float64(u.pending.Length()))
	for u.pending.Length() > 0 {
		r := u.pending.Remove().(request)
		u.emit(e, api.Event{Kind: api.EventSend, Peer: r.to, Payload: r.payload, Err: errNotRunning})
	}
}

func (u *udpState) idle() bool {
	if u.sendBusy {
		return false
	}
	for _, b := range u.busy {
		if b {
			return false
		}
	}
	return true
}

// close releases the socket; ring buffers go back to the pool only when
// their Ops have retired.
func (u *udpState) close(e *Engine) {
	if u.sock == nil {
		return
	}
	_ = e.driver.Dissociate(u.sock.FD())
	u.sock.Shutdown()
	u.sock = nil
	for i, op := range u.ring {
		if op != nil && !u.busy[i] {
			e.pool.Release(op.Buf)
		}
	}
}
