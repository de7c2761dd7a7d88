// File: engine/connection.go
// License: Apache-2.0
//
// Connection state machine: accept, connect, recv/send pumps with their
// pending FIFOs, shutdown and reclaim.

package engine

import (
	"bytes"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/framing"
	"github.com/momentics/hioload-net/internal/socket"
	"github.com/momentics/hioload-net/reactor"
)

// overlapped is the per-direction record of a connection. busy is true from
// Start until the matching completion has been seen; buf is untouchable while
// it is set.
type overlapped struct {
	op   *reactor.Op
	busy bool

	// active is true while a request is being served.
	active bool
	want   int

	// recv side: owned buffer and fill level. off can be non-zero between
	// requests on HTTP connections (pipelined bytes).
	buf []byte
	off int

	// send side: the bytes being written.
	payload []byte
}

type connection struct {
	slot    int
	id      api.ConnID
	state   api.ConnState
	sock    *socket.Socket
	session uuid.UUID
	local   api.Address
	peer    api.Address

	accept     *reactor.Op
	acceptBusy bool
	// rearmAt is set while a failed accept arm waits to be retried.
	rearmAt time.Time

	recv        overlapped
	send        overlapped
	pendingRecv *queue.Queue // request
	pendingSend *queue.Queue // request
	framer      *framing.Framer

	deadline time.Time
	cause    error
}

func newConnection(slot int, id api.ConnID) *connection {
	c := &connection{
		slot:        slot,
		id:          id,
		state:       api.StateIdle,
		pendingRecv: queue.New(),
		pendingSend: queue.New(),
	}
	c.resetOps()
	return c
}

// resetOps installs fresh Op records. Old ones may still be referenced by
// the driver after a forced reclaim and are never reused.
func (c *connection) resetOps() {
	c.recv = overlapped{op: &reactor.Op{Kind: reactor.OpRecv, Slot: c.slot}}
	c.send = overlapped{op: &reactor.Op{Kind: reactor.OpSend, Slot: c.slot}}
}

// acceptRetryDelay spaces out retries of an accept that could not be armed.
const acceptRetryDelay = 100 * time.Millisecond

// armAccept starts the slot's accept. On failure the slot stays Idle and is
// retried from LoopTick after acceptRetryDelay.
func (e *Engine) armAccept(c *connection) error {
	c.accept.Accepted = socket.Invalid
	if err := e.driver.Start(c.accept); err != nil {
		c.state = api.StateIdle
		c.rearmAt = time.Now().Add(acceptRetryDelay)
		e.metrics.AcceptFailures.Inc()
		e.log.Warnf("engine: arm accept on %d: %s", c.id, err)
		return api.OSError("accept", err)
	}
	c.rearmAt = time.Time{}
	c.acceptBusy = true
	c.state = api.StateAccepting
	return nil
}

// rearmAccepts retries accepts whose arm failed earlier.
func (e *Engine) rearmAccepts(now time.Time) {
	if e.stopping {
		return
	}
	for _, c := range e.conns {
		if c.accept != nil && c.state == api.StateIdle && !c.acceptBusy &&
			!c.rearmAt.IsZero() && !now.Before(c.rearmAt) {
			_ = e.armAccept(c)
		}
	}
}

func (e *Engine) onAccept(c *connection, comp reactor.Completion) {
	c.acceptBusy = false
	c.state = api.StateIdle
	op := comp.Op
	if e.stopping {
		if comp.Err == nil && op.Accepted != socket.Invalid {
			socket.Close(op.Accepted)
		}
		return
	}
	if comp.Err != nil {
		e.metrics.AcceptFailures.Inc()
		e.log.Warnf("engine: accept on %d: %s", c.id, comp.Err)
		e.emit(c, api.Event{Kind: api.EventConnect, Err: api.OSError("accept", comp.Err)})
		_ = e.armAccept(c)
		return
	}
	fd := op.Accepted
	op.Accepted = socket.Invalid
	if err := e.driver.Associate(fd); err != nil {
		socket.Close(fd)
		e.metrics.AcceptFailures.Inc()
		e.emit(c, api.Event{Kind: api.EventConnect, Err: api.OSError("associate", err)})
		_ = e.armAccept(c)
		return
	}
	c.sock = socket.Adopt(fd, e.cfg.Family, socket.Stream)
	c.local = api.NewAddress(op.Local)
	c.peer = api.NewAddress(op.Peer)
	e.metrics.Accepted.Inc()
	e.establish(c, framing.Request)
}

// adopt takes over a socket connected by Connect.
func (e *Engine) adopt(cmd command) {
	c := e.conns[0]
	a := cmd.adopt
	var err error
	switch {
	case e.kind != api.KindTCPClient:
		err = api.NewError(api.CodeInvalidArgument, "connect: engine is not a client")
	case e.stopping:
		err = errNotRunning
	case c.state != api.StateIdle:
		err = api.NewError(api.CodeResource, "connect: client slot busy").WithContext("state", c.state)
	}
	if err == nil {
		if aerr := e.driver.Associate(a.fd); aerr != nil {
			err = api.OSError("associate", aerr)
		}
	}
	if err != nil {
		socket.Close(a.fd)
		e.emit(c, api.Event{Kind: api.EventConnect, Peer: a.peer, Err: err})
		return
	}
	c.sock = socket.Adopt(a.fd, e.cfg.Family, socket.Stream)
	c.local = api.NewAddress(a.local)
	c.peer = a.peer
	if len(cmd.payload) > 0 {
		c.pendingSend.Add(request{payload: cmd.payload})
		e.metrics.PendingOps.WithLabelValues("send").Inc()
	}
	e.establish(c, framing.Response)
}

// establish moves c to Connected, emits connect and starts the pumps.
func (e *Engine) establish(c *connection, dir framing.Direction) {
	c.state = api.StateConnected
	c.session = uuid.New()
	c.cause = nil
	if e.cfg.IsHTTP {
		c.framer = framing.New(dir, framing.Limits{
			MaxHeaderBytes: e.cfg.MaxHeaderBytes,
			MaxBodyBytes:   e.cfg.MaxBodyBytes,
		})
	}
	e.metrics.Active.Inc()
	e.log.Debugf("engine: %d connected %s <- %s", c.id, c.local, c.peer)
	e.emit(c, api.Event{Kind: api.EventConnect, Local: c.local, Peer: c.peer})
	e.pumpSend(c)
	e.pumpRecv(c)
}

func (e *Engine) autoRecv() bool { return e.cfg.AutoRecv || e.cfg.IsHTTP }

// pumpRecv starts the next recv when none is in flight. HTTP connections may
// satisfy requests from already buffered bytes without touching the socket.
func (e *Engine) pumpRecv(c *connection) {
	for c.state == api.StateConnected && !c.recv.busy {
		if !c.recv.active {
			switch {
			case c.pendingRecv.Length() > 0:
				r := c.pendingRecv.Remove().(request)
				e.metrics.PendingOps.WithLabelValues("recv").Dec()
				c.recv.want = r.want
			case e.autoRecv():
				c.recv.want = 0
			default:
				return
			}
			c.recv.active = true
		}
		if c.framer != nil && c.recv.off > 0 {
			delivered, err := e.frame(c)
			if err != nil {
				e.shutdown(c, err)
				return
			}
			if delivered {
				continue
			}
		}
		op := c.recv.op
		op.FD = c.sock.FD()
		op.Buf = c.recv.buf[:e.recvLimit(c)]
		op.Off = c.recv.off
		if err := e.driver.Start(op); err != nil {
			e.shutdown(c, api.OSError("recv", err))
			return
		}
		c.recv.busy = true
	}
}

// recvLimit sizes the recv buffer for the current request, growing it
// through the pool when needed. Only called while no recv is in flight.
func (e *Engine) recvLimit(c *connection) int {
	need := e.cfg.BufferSize
	switch {
	case c.framer != nil:
		if c.framer.Need() > need {
			need = c.framer.Need()
		}
		for need <= c.recv.off {
			need *= 2
		}
	case c.recv.want > 0:
		need = c.recv.want
	}
	if cap(c.recv.buf) < need {
		buf := e.pool.Acquire(need)
		copy(buf, c.recv.buf[:c.recv.off])
		if c.recv.buf != nil {
			e.pool.Release(c.recv.buf)
		}
		c.recv.buf = buf[:cap(buf)]
	}
	return need
}

// frame delivers one HTTP message if the buffered bytes hold a complete one.
func (e *Engine) frame(c *connection) (bool, error) {
	n, err := c.framer.Feed(c.recv.buf[:c.recv.off])
	if err != nil || n == 0 {
		return false, err
	}
	raw := bytes.Clone(c.recv.buf[:n])
	c.recv.off = copy(c.recv.buf, c.recv.buf[n:c.recv.off])
	c.framer.Reset()
	msg, err := framing.Parse(c.framer.Direction(), raw)
	if err != nil {
		return false, err
	}
	c.recv.active = false
	e.emit(c, api.Event{
		Kind:     api.EventRecv,
		Payload:  raw,
		Request:  msg.Request,
		Response: msg.Response,
	})
	return true, nil
}

func (e *Engine) onRecv(c *connection, comp reactor.Completion) {
	c.recv.busy = false
	if c.state == api.StateShuttingDown {
		e.retire(c)
		return
	}
	switch {
	case comp.Err != nil:
		e.shutdown(c, api.OSError("recv", comp.Err))
		return
	case comp.N == 0:
		e.shutdown(c, api.ErrPeerClosed)
		return
	}
	e.metrics.BytesIn.Add(float64(comp.N))
	c.recv.off += comp.N

	if c.framer == nil && (c.recv.want == 0 || c.recv.off >= c.recv.want) {
		payload := bytes.Clone(c.recv.buf[:c.recv.off])
		c.recv.off = 0
		c.recv.active = false
		e.emit(c, api.Event{Kind: api.EventRecv, Payload: payload})
	}
	e.pumpRecv(c)
}

// pumpSend starts the oldest pending send when none is in flight.
func (e *Engine) pumpSend(c *connection) {
	if c.state != api.StateConnected || c.send.busy || c.pendingSend.Length() == 0 {
		return
	}
	r := c.pendingSend.Remove().(request)
	e.metrics.PendingOps.WithLabelValues("send").Dec()
	c.send.active = true
	c.send.payload = r.payload
	op := c.send.op
	op.FD = c.sock.FD()
	op.Buf = r.payload
	op.Off = 0
	e.startSend(c)
}

func (e *Engine) startSend(c *connection) {
	if err := e.driver.Start(c.send.op); err != nil {
		e.shutdown(c, api.OSError("send", err))
		return
	}
	c.send.busy = true
}

func (e *Engine) onSend(c *connection, comp reactor.Completion) {
	c.send.busy = false
	if c.state == api.StateShuttingDown {
		e.retire(c)
		return
	}
	switch {
	case comp.Err != nil:
		e.shutdown(c, api.OSError("send", comp.Err))
		return
	case comp.N == 0:
		e.shutdown(c, api.ErrPeerClosed)
		return
	}
	e.metrics.BytesOut.Add(float64(comp.N))
	op := c.send.op
	op.Off += comp.N
	if op.Off < len(op.Buf) {
		e.startSend(c)
		return
	}
	payload := c.send.payload
	c.send.payload = nil
	c.send.active = false
	op.Buf = nil
	e.emit(c, api.Event{Kind: api.EventSend, Payload: payload})
	e.pumpSend(c)
}

// shutdown moves a connected c to ShuttingDown, drops its pending requests
// and cancels in-flight Ops. cause nil means a local disconnect.
func (e *Engine) shutdown(c *connection, cause error) {
	if c.state != api.StateConnected {
		return
	}
	e.log.Debugf("engine: %d shutting down: %v", c.id, cause)
	c.state = api.StateShuttingDown
	c.cause = cause
	c.deadline = time.Now().Add(e.cfg.Timeout)
	e.metrics.PendingOps.WithLabelValues("recv").Sub(float64(c.pendingRecv.Length()))
	e.metrics.PendingOps.WithLabelValues("send").Sub(float64(c.pendingSend.Length()))
	c.pendingRecv = queue.New()
	c.pendingSend = queue.New()
	if c.recv.busy {
		e.driver.Cancel(c.recv.op)
	}
	if c.send.busy {
		e.driver.Cancel(c.send.op)
	}
	e.retire(c)
}

// retire finalizes c once no Op of it is outstanding.
func (e *Engine) retire(c *connection) {
	if c.state == api.StateShuttingDown && !c.recv.busy && !c.send.busy {
		e.finalize(c, false)
	}
}

// finalize closes the socket, emits the single disconnect event and returns
// the slot to service. forced abandons Ops the driver never confirmed
// together with their buffers.
func (e *Engine) finalize(c *connection, forced bool) {
	if c.sock != nil {
		if err := e.driver.Dissociate(c.sock.FD()); err != nil {
			e.log.Warnf("engine: dissociate %d: %s", c.id, err)
		}
		c.sock.Shutdown()
		c.sock = nil
	}
	cause := c.cause
	if forced {
		cause = api.Wrap(api.CodeTimedOut, "cancellation not confirmed", c.cause)
	} else if c.recv.buf != nil {
		e.pool.Release(c.recv.buf)
	}
	c.resetOps()
	c.framer = nil
	c.cause = nil
	c.state = api.StateIdle
	e.metrics.Active.Dec()

	e.emit(c, api.Event{Kind: api.EventDisconnect, Local: c.local, Peer: c.peer, Err: cause})
	c.local, c.peer = api.Address{}, api.Address{}

	if c.accept != nil && !e.stopping {
		_ = e.armAccept(c)
	}
}
