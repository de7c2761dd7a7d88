// File: engine/engine.go
// License: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-net/affinity"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/core/concurrency"
	"github.com/momentics/hioload-net/internal/socket"
	"github.com/momentics/hioload-net/reactor"
)

// ErrStopped is returned by LoopTick once a Cancel has been flushed.
var ErrStopped = errors.New("engine: stopped")

var errNotRunning = api.NewError(api.CodeNotConnected, "engine not running")

// MaxRecvLength bounds the exact length PostRecv may ask for.
const MaxRecvLength = 256 << 20

// Engine is the reactor. All exported methods except LoopTick and Run are
// safe for concurrent use.
type Engine struct {
	opts    options
	log     api.Logger
	metrics *control.Metrics
	pool    api.BytePool

	// lifecycle guards launch and teardown against concurrent submitters.
	lifecycle sync.RWMutex
	running   bool
	done      chan struct{}

	// Fixed between Launch and stop.
	kind     api.Kind
	cfg      api.Config
	driver   reactor.Driver
	commands *concurrency.LockFreeQueue[command]
	local    api.Address

	cancelRequested atomic.Bool

	// Reactor-goroutine state.
	listener     *socket.Socket
	conns        []*connection
	udp          *udpState
	consumer     api.Consumer
	stopping     bool
	stopDeadline time.Time
}

// New builds an idle engine; call Launch before anything else.
func New(opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.fill()
	done := make(chan struct{})
	close(done)
	return &Engine{
		opts:    o,
		log:     o.logger,
		metrics: o.metrics,
		pool:    o.pool,
		done:    done,
	}
}

// Launch copies cfg and prepares the engine for kind. Servers bind, listen
// and arm an accept on every slot; UDP engines bind and arm the receive ring;
// clients do nothing until Connect. A stopped engine may be launched again.
func (e *Engine) Launch(cfg api.Config, kind api.Kind) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if kind != api.KindTCPServer && kind != api.KindTCPClient && kind != api.KindUDP {
		return api.NewError(api.CodeInvalidArgument, "launch: unknown kind").WithContext("kind", kind)
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.running {
		return api.NewError(api.CodeInvalidArgument, "launch: engine already running")
	}

	driver, err := e.opts.factory()
	if err != nil {
		return fmt.Errorf("launch: driver: %w", err)
	}
	e.kind = kind
	e.cfg = cfg
	e.driver = driver
	e.commands = concurrency.NewLockFreeQueue[command](e.opts.queueSize)
	e.cancelRequested.Store(false)
	e.stopping = false
	e.listener, e.udp, e.conns, e.local = nil, nil, nil, api.Address{}

	switch kind {
	case api.KindTCPServer:
		err = e.launchServer()
	case api.KindTCPClient:
		e.conns = []*connection{newConnection(0, api.ClientConn)}
	case api.KindUDP:
		err = e.launchUDP()
	}
	if err != nil {
		e.teardown()
		return err
	}

	e.done = make(chan struct{})
	e.running = true
	e.log.Infof("engine: launched %s on %s", kind, e.local)
	return nil
}

func (e *Engine) bindAddr() netip.AddrPort {
	if e.cfg.BindAddress.IsValid() {
		return netip.AddrPortFrom(e.cfg.BindAddress, e.cfg.Port)
	}
	return socket.Wildcard(e.cfg.Family, e.cfg.Port)
}

func (e *Engine) launchServer() error {
	ls, err := socket.New(socket.Stream, e.cfg.Family)
	if err != nil {
		return err
	}
	e.listener = ls
	if err := ls.SetReuseAddr(true); err != nil {
		return err
	}
	if err := ls.Bind(e.bindAddr()); err != nil {
		return err
	}
	if err := ls.Listen(e.cfg.Backlog); err != nil {
		return err
	}
	local, err := ls.LocalAddr()
	if err != nil {
		return err
	}
	e.local = api.NewAddress(local)
	if err := e.driver.Associate(ls.FD()); err != nil {
		return api.OSError("associate listener", err)
	}

	e.conns = make([]*connection, e.cfg.Capacity)
	for i := range e.conns {
		c := newConnection(i, api.ConnID(i+1))
		c.accept = &reactor.Op{Kind: reactor.OpAccept, FD: ls.FD(), Slot: i, Accepted: socket.Invalid}
		e.conns[i] = c
		if err := e.armAccept(c); err != nil {
			return err
		}
	}
	return nil
}

// teardown releases every OS resource; the reactor goroutine must not be
// inside LoopTick.
func (e *Engine) teardown() {
	for _, c := range e.conns {
		if c.sock != nil {
			_ = e.driver.Dissociate(c.sock.FD())
			c.sock.Shutdown()
			c.sock = nil
		}
	}
	if e.listener != nil {
		_ = e.driver.Dissociate(e.listener.FD())
		e.listener.Shutdown()
		e.listener = nil
	}
	if e.udp != nil {
		e.udp.close(e)
		e.udp = nil
	}
	if e.driver != nil {
		if err := e.driver.Close(); err != nil {
			e.log.Warnf("engine: close driver: %s", err)
		}
	}
}

// Kind returns the launched kind.
func (e *Engine) Kind() api.Kind {
	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	return e.kind
}

// LocalAddr returns the bound address of a server or UDP engine.
func (e *Engine) LocalAddr() api.Address {
	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	return e.local.Clone()
}

// Connect performs a blocking connect on the caller's goroutine and hands the
// connected socket to the reactor, which emits the connect event and starts
// sending payload, if any. timeout <= 0 uses Config.Timeout.
func (e *Engine) Connect(addr api.Address, payload []byte, timeout time.Duration) (api.ConnID, error) {
	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	if !e.running {
		return api.NoConn, errNotRunning
	}
	if e.kind != api.KindTCPClient {
		return api.NoConn, api.NewError(api.CodeInvalidArgument, "connect: engine is not a client").WithContext("kind", e.kind)
	}
	to, err := e.target(addr)
	if err != nil {
		return api.NoConn, err
	}
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}

	sock, err := socket.New(socket.Stream, e.cfg.Family)
	if err != nil {
		return api.NoConn, err
	}
	if err := sock.ConnectAndWait(to, timeout); err != nil {
		sock.Shutdown()
		return api.NoConn, err
	}
	local, err := sock.LocalAddr()
	if err != nil {
		sock.Shutdown()
		return api.NoConn, err
	}
	fd := sock.Release()
	cmd := command{
		id:      api.ClientConn,
		op:      api.OpConnect,
		payload: payload,
		adopt:   &adoption{fd: fd, local: local, peer: addr.Clone()},
	}
	if !e.commands.Enqueue(cmd) {
		socket.Close(fd)
		return api.NoConn, api.NewError(api.CodeResource, "connect: command queue full")
	}
	e.wake()
	return api.ClientConn, nil
}

// target converts addr to something the engine's sockets can reach.
func (e *Engine) target(addr api.Address) (netip.AddrPort, error) {
	if !addr.IsValid() {
		return netip.AddrPort{}, api.NewError(api.CodeInvalidArgument, "invalid address")
	}
	ap := addr.AddrPort()
	ip := ap.Addr().Unmap()
	switch {
	case e.cfg.Family == api.FamilyIPv6 && ip.Is4():
		ip = netip.AddrFrom16(ip.As16())
	case e.cfg.Family == api.FamilyIPv4 && !ip.Is4():
		return netip.AddrPort{}, api.NewError(api.CodeInvalidArgument, "v6 address on a v4 engine").
			WithContext("address", addr.String())
	}
	return netip.AddrPortFrom(ip, ap.Port()), nil
}

// Post submits a Command for connection id. Send needs a non-empty payload,
// recv and disconnect an empty one. to is only used by UDP sends, where it
// is required. The payload is owned by the engine after a successful Post.
func (e *Engine) Post(id api.ConnID, op api.OpKind, payload []byte, to *api.Address) error {
	cmd := command{id: id, op: op, payload: payload}
	if to != nil {
		cmd.to = to.Clone()
	}
	return e.submit(cmd, to != nil)
}

// PostRecv asks for exactly n bytes on a TCP connection; the recv event is
// emitted once all of them have arrived. HTTP connections ignore n and
// deliver one framed message per request.
func (e *Engine) PostRecv(id api.ConnID, n int) error {
	if n <= 0 || n > MaxRecvLength {
		return api.NewError(api.CodeInvalidArgument, "recv length out of range").
			WithContext("n", n).
			WithContext("max", MaxRecvLength)
	}
	return e.submit(command{id: id, op: api.OpRecv, want: n}, false)
}

func (e *Engine) submit(cmd command, hasTarget bool) error {
	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	if !e.running {
		return errNotRunning
	}
	if err := e.validate(cmd, hasTarget); err != nil {
		return err
	}
	if !e.commands.Enqueue(cmd) {
		return api.NewError(api.CodeResource, "command queue full").WithContext("capacity", e.commands.Cap())
	}
	e.wake()
	return nil
}

func (e *Engine) validate(cmd command, hasTarget bool) error {
	switch cmd.op {
	case api.OpSend:
		if len(cmd.payload) == 0 {
			return api.NewError(api.CodeInvalidArgument, "send requires a payload")
		}
	case api.OpRecv, api.OpDisconnect:
		if len(cmd.payload) != 0 {
			return api.NewError(api.CodeInvalidArgument, "unexpected payload").WithContext("op", cmd.op)
		}
	default:
		return api.NewError(api.CodeInvalidArgument, "unsupported op").WithContext("op", cmd.op)
	}

	switch e.kind {
	case api.KindTCPServer:
		if cmd.id < 1 || int(cmd.id) > e.cfg.Capacity {
			return api.NewError(api.CodeInvalidArgument, "connection id out of range").WithContext("id", cmd.id)
		}
	case api.KindTCPClient:
		if cmd.id != api.NoConn && cmd.id != api.ClientConn {
			return api.NewError(api.CodeInvalidArgument, "connection id out of range").WithContext("id", cmd.id)
		}
	case api.KindUDP:
		if cmd.id != api.NoConn {
			return api.NewError(api.CodeInvalidArgument, "udp uses connection id 0").WithContext("id", cmd.id)
		}
		if cmd.op != api.OpSend {
			return api.NewError(api.CodeInvalidArgument, "udp supports send only").WithContext("op", cmd.op)
		}
		if !cmd.to.IsValid() {
			return api.NewError(api.CodeInvalidArgument, "udp send requires a target address")
		}
		return nil
	}
	if hasTarget {
		return api.NewError(api.CodeInvalidArgument, "target address is only valid for udp")
	}
	return nil
}

// wake interrupts a blocked LoopTick. Callers hold lifecycle for reading.
func (e *Engine) wake() {
	if err := e.driver.Wake(); err != nil {
		e.log.Warnf("engine: wake: %s", err)
	}
}

// Cancel asks the reactor to stop. Live connections are disconnected, the
// listener is closed, and LoopTick returns ErrStopped once that is flushed.
func (e *Engine) Cancel() {
	e.cancelRequested.Store(true)
	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	if e.running {
		e.wake()
	}
}

// Wait blocks until the launched engine has stopped.
func (e *Engine) Wait() {
	e.lifecycle.RLock()
	done := e.done
	e.lifecycle.RUnlock()
	<-done
}

// Run drives LoopTick until the engine stops, with the calling goroutine
// locked to its OS thread. Cancelling ctx cancels the engine. With WithCPU
// the goroutine stays wired to the pinned thread after Run returns.
func (e *Engine) Run(ctx context.Context, consumer api.Consumer) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if e.opts.cpu >= 0 {
		if err := affinity.Pin(e.opts.cpu); err != nil {
			runtime.UnlockOSThread()
			e.log.Warnf("engine: pin reactor to cpu %d: %s", e.opts.cpu, err)
		}
	}
	stop := context.AfterFunc(ctx, e.Cancel)
	defer stop()
	for {
		if err := e.LoopTick(consumer); err != nil {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		}
	}
}

// LoopTick drains the command queue once, waits for one completion and
// retires it. It must only ever run on the reactor goroutine. Per-connection
// failures become events; only a failing completion wait is returned.
func (e *Engine) LoopTick(consumer api.Consumer) error {
	e.lifecycle.RLock()
	running := e.running
	e.lifecycle.RUnlock()
	if !running {
		return ErrStopped
	}
	e.consumer = consumer

	e.drainCommands()
	if e.cancelRequested.Load() && !e.stopping {
		e.beginStop()
	}
	if e.stopping && e.quiescent() {
		return e.finish()
	}

	out, err := e.driver.WaitOne(e.waitTimeout())
	if err != nil {
		return fmt.Errorf("engine: wait: %w", err)
	}
	if out.Kind == reactor.Completed {
		e.dispatch(out.Completion)
	}

	now := time.Now()
	e.reclaimExpired(now)
	e.rearmAccepts(now)
	if e.stopping && (e.quiescent() || !now.Before(e.stopDeadline)) {
		return e.finish()
	}
	return nil
}

// drainCommands consumes what was queued when the pass started.
func (e *Engine) drainCommands() {
	for n := e.commands.Len(); n > 0; n-- {
		cmd, ok := e.commands.Dequeue()
		if !ok {
			return
		}
		e.metrics.Commands.WithLabelValues(cmd.op.String()).Inc()
		e.handle(cmd)
	}
}

func (e *Engine) handle(cmd command) {
	if cmd.adopt != nil {
		e.adopt(cmd)
		return
	}
	if e.kind == api.KindUDP {
		e.udp.enqueue(e, request{payload: cmd.payload, to: cmd.to})
		return
	}

	c := e.connFor(cmd.id)
	if c.state != api.StateConnected {
		ev := api.Event{Kind: eventFor(cmd.op), Payload: cmd.payload, Err: api.ErrNotConnected}
		e.emit(c, ev)
		return
	}
	switch cmd.op {
	case api.OpSend:
		c.pendingSend.Add(request{payload: cmd.payload})
		e.metrics.PendingOps.WithLabelValues("send").Inc()
		e.pumpSend(c)
	case api.OpRecv:
		c.pendingRecv.Add(request{want: cmd.want})
		e.metrics.PendingOps.WithLabelValues("recv").Inc()
		e.pumpRecv(c)
	case api.OpDisconnect:
		e.log.Debugf("engine: disconnect requested on %d", c.id)
		e.shutdown(c, nil)
	}
}

func (e *Engine) connFor(id api.ConnID) *connection {
	if e.kind == api.KindTCPClient {
		return e.conns[0]
	}
	return e.conns[id-1]
}

func eventFor(op api.OpKind) api.EventKind {
	switch op {
	case api.OpSend:
		return api.EventSend
	case api.OpRecv:
		return api.EventRecv
	case api.OpConnect:
		return api.EventConnect
	default:
		return api.EventDisconnect
	}
}

// dispatch routes one completion to its owner. Completions of Ops that were
// abandoned by a forced reclaim are dropped.
func (e *Engine) dispatch(comp reactor.Completion) {
	op := comp.Op
	if e.udp != nil {
		e.udp.complete(e, comp)
		return
	}
	if op.Slot < 0 || op.Slot >= len(e.conns) {
		e.log.Debugf("engine: completion for unknown slot %d", op.Slot)
		return
	}
	c := e.conns[op.Slot]
	switch op {
	case c.accept:
		e.onAccept(c, comp)
	case c.recv.op:
		e.onRecv(c, comp)
	case c.send.op:
		e.onSend(c, comp)
	default:
		e.log.Debugf("engine: dropping late %s completion on %d", op.Kind, c.id)
	}
}

// emit hands one event to the consumer.
func (e *Engine) emit(c *connection, ev api.Event) {
	if c != nil {
		ev.ConnID = c.id
		ev.Session = c.session
	}
	e.metrics.Event(ev.Kind.String(), ev.Err)
	if e.consumer != nil {
		e.consumer.Deliver(ev.ConnID, ev.Kind, ev)
	}
}

func (e *Engine) beginStop() {
	e.log.Infof("engine: stopping %s", e.kind)
	e.stopping = true
	e.stopDeadline = time.Now().Add(e.cfg.Timeout)
	for _, c := range e.conns {
		switch {
		case c.state == api.StateConnected:
			e.shutdown(c, nil)
		case c.acceptBusy:
			e.driver.Cancel(c.accept)
		}
	}
	if e.udp != nil {
		e.udp.cancel(e)
	}
}

func (e *Engine) quiescent() bool {
	for _, c := range e.conns {
		if c.acceptBusy || c.state == api.StateConnected || c.state == api.StateShuttingDown {
			return false
		}
	}
	return e.udp == nil || e.udp.idle()
}

func (e *Engine) finish() error {
	// Whatever is still outstanding is abandoned with its buffer.
	for _, c := range e.conns {
		if c.state == api.StateShuttingDown {
			e.finalize(c, true)
		}
	}
	e.lifecycle.Lock()
	late := e.lateEvents()
	e.teardown()
	e.running = false
	close(e.done)
	kind := e.kind
	e.lifecycle.Unlock()

	for _, l := range late {
		e.emit(l.conn, l.ev)
	}
	e.log.Infof("engine: stopped %s", kind)
	return ErrStopped
}

type lateEvent struct {
	conn *connection
	ev   api.Event
}

// lateEvents empties the command queue after the last drain. Commands that
// slipped in get an errNotRunning event; sockets connected for adoption are
// closed. Callers hold lifecycle.
func (e *Engine) lateEvents() []lateEvent {
	var late []lateEvent
	for {
		cmd, ok := e.commands.Dequeue()
		if !ok {
			return late
		}
		l := lateEvent{ev: api.Event{Kind: eventFor(cmd.op), Payload: cmd.payload, Err: errNotRunning}}
		switch {
		case cmd.adopt != nil:
			socket.Close(cmd.adopt.fd)
			l.ev.Peer = cmd.adopt.peer
			l.conn = e.conns[0]
		case e.kind == api.KindUDP:
			l.ev.Peer = cmd.to
		default:
			l.conn = e.connFor(cmd.id)
		}
		late = append(late, l)
	}
}

// waitTimeout bounds the completion wait by the nearest reclaim deadline.
func (e *Engine) waitTimeout() time.Duration {
	timeout := e.opts.pollInterval
	var next time.Time
	for _, c := range e.conns {
		if c.state == api.StateShuttingDown && (next.IsZero() || c.deadline.Before(next)) {
			next = c.deadline
		}
		if !e.stopping && !c.rearmAt.IsZero() && (next.IsZero() || c.rearmAt.Before(next)) {
			next = c.rearmAt
		}
	}
	if e.stopping && (next.IsZero() || e.stopDeadline.Before(next)) {
		next = e.stopDeadline
	}
	if next.IsZero() {
		return timeout
	}
	left := time.Until(next)
	if left < 0 {
		left = 0
	}
	if timeout < 0 || left < timeout {
		return left
	}
	return timeout
}

// reclaimExpired force-reclaims connections whose cancellation was not
// confirmed in time.
func (e *Engine) reclaimExpired(now time.Time) {
	for _, c := range e.conns {
		if c.state == api.StateShuttingDown && !now.Before(c.deadline) {
			e.log.Warnf("engine: connection %d: cancellation not confirmed within %s, reclaiming", c.id, e.cfg.Timeout)
			e.metrics.ForcedReclaims.Inc()
			e.finalize(c, true)
		}
	}
}

// JoinGroup joins a multicast group on the UDP socket. ifi may be nil.
func (e *Engine) JoinGroup(group netip.Addr, ifi *net.Interface) error {
	return e.withUDPSocket(func(s *socket.Socket) error { return s.JoinGroup(group, ifi) })
}

// LeaveGroup leaves a multicast group on the UDP socket.
func (e *Engine) LeaveGroup(group netip.Addr, ifi *net.Interface) error {
	return e.withUDPSocket(func(s *socket.Socket) error { return s.LeaveGroup(group, ifi) })
}

// SetMulticastLoopback toggles local delivery of multicast sends.
func (e *Engine) SetMulticastLoopback(on bool) error {
	return e.withUDPSocket(func(s *socket.Socket) error { return s.SetMulticastLoopback(on) })
}

// withUDPSocket runs fn against the bound UDP socket. Socket options do not
// touch reactor state, so no command round-trip is needed.
func (e *Engine) withUDPSocket(fn func(*socket.Socket) error) error {
	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	if !e.running || e.kind != api.KindUDP {
		return api.NewError(api.CodeInvalidArgument, "multicast requires a running udp engine")
	}
	return fn(e.udp.sock)
}
