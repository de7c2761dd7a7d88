//go:build linux

// File: reactor/reactor_linux.go
// License: Apache-2.0
//
// Linux completion driver: edge-triggered epoll(7) plus an eventfd for
// wake-ups. Ops are attempted as soon as they are started; those that would
// block wait in a per-descriptor FIFO and are retried when epoll reports the
// descriptor ready. Every finished attempt becomes a Completion on the ready
// FIFO that WaitOne hands out one at a time.

package reactor

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/socket"
	"golang.org/x/sys/unix"
)

const maxEvents = 128

// fdState holds the Ops waiting for readiness on one descriptor.
type fdState struct {
	readers *queue.Queue // *Op
	writers *queue.Queue // *Op
}

// epollDriver implements Driver on Linux.
type epollDriver struct {
	epfd   int
	efd    int
	fds    map[int]*fdState
	ready  *queue.Queue // Completion
	events []unix.EpollEvent

	wakePending atomic.Bool
}

// NewDriver constructs the platform Driver for Linux.
func NewDriver() (Driver, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(efd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &ev); err != nil {
		_ = unix.Close(efd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	return &epollDriver{
		epfd:   epfd,
		efd:    efd,
		fds:    make(map[int]*fdState),
		ready:  queue.New(),
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Associate adds fd to the epoll interest set in edge-triggered mode.
func (d *epollDriver) Associate(fd int) error {
	if _, ok := d.fds[fd]; ok {
		return nil
	}
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	d.fds[fd] = &fdState{readers: queue.New(), writers: queue.New()}
	return nil
}

// Dissociate removes fd; Ops still waiting on it are dropped without a Completion.
func (d *epollDriver) Dissociate(fd int) error {
	st, ok := d.fds[fd]
	if !ok {
		return nil
	}
	delete(d.fds, fd)
	for _, q := range []*queue.Queue{st.readers, st.writers} {
		for q.Length() > 0 {
			q.Remove().(*Op).queued = false
		}
	}
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Start attempts op immediately when nothing is queued ahead of it.
func (d *epollDriver) Start(op *Op) error {
	st, ok := d.fds[op.FD]
	if !ok {
		return ErrNotAssociated
	}
	if op.queued {
		return fmt.Errorf("reactor: op already started")
	}
	if op.Kind != OpAccept && op.Off >= len(op.Buf) && op.Kind != OpSendTo {
		return fmt.Errorf("reactor: empty %s buffer", op.Kind)
	}
	q := st.writers
	if op.Kind.isRead() {
		q = st.readers
	}
	if q.Length() == 0 {
		if c, done := d.perform(op); done {
			d.ready.Add(c)
			return nil
		}
	}
	op.queued = true
	q.Add(op)
	return nil
}

// Cancel retires a queued op with ErrCanceled. An op that already finished
// keeps its real Completion, which is still waiting on the ready FIFO.
func (d *epollDriver) Cancel(op *Op) {
	if !op.queued {
		return
	}
	st, ok := d.fds[op.FD]
	if !ok {
		return
	}
	q := st.writers
	if op.Kind.isRead() {
		q = st.readers
	}
	n := q.Length()
	for i := 0; i < n; i++ {
		cur := q.Remove().(*Op)
		if cur != op {
			q.Add(cur)
		}
	}
	op.queued = false
	d.ready.Add(Completion{Op: op, Err: ErrCanceled})
}

// WaitOne returns the oldest ready Completion, waiting on epoll when there is none.
func (d *epollDriver) WaitOne(timeout time.Duration) (Outcome, error) {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if d.ready.Length() > 0 {
			return Outcome{Kind: Completed, Completion: d.ready.Remove().(Completion)}, nil
		}

		ms := -1
		if timeout >= 0 {
			left := time.Until(deadline)
			if left <= 0 {
				return Outcome{Kind: Expired}, nil
			}
			ms = int((left + time.Millisecond - 1) / time.Millisecond)
		}
		n, err := unix.EpollWait(d.epfd, d.events, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("epoll wait: %w", err)
		}

		woken := false
		for i := 0; i < n; i++ {
			ev := d.events[i]
			fd := int(ev.Fd)
			if fd == d.efd {
				d.drainWake()
				woken = true
				continue
			}
			st, ok := d.fds[fd]
			if !ok {
				continue
			}
			if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				d.drain(st.readers)
			}
			if ev.Events&(unix.EPOLLOUT|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				d.drain(st.writers)
			}
		}

		if d.ready.Length() > 0 {
			return Outcome{Kind: Completed, Completion: d.ready.Remove().(Completion)}, nil
		}
		if woken {
			return Outcome{Kind: Woken}, nil
		}
	}
}

// Wake posts to the eventfd unless a wake-up is already pending.
func (d *epollDriver) Wake() error {
	if !d.wakePending.CompareAndSwap(false, true) {
		return nil
	}
	var one = [8]byte{1, 0, 0, 0, 0, 0, 0, 0}
	if _, err := unix.Write(d.efd, one[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		d.wakePending.Store(false)
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

// Close releases the epoll and eventfd descriptors.
func (d *epollDriver) Close() error {
	err1 := unix.Close(d.efd)
	err2 := unix.Close(d.epfd)
	return errors.Join(err1, err2)
}

func (d *epollDriver) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(d.efd, buf[:])
	d.wakePending.Store(false)
}

// drain retries queued Ops in FIFO order until one would block.
func (d *epollDriver) drain(q *queue.Queue) {
	for q.Length() > 0 {
		op := q.Peek().(*Op)
		c, done := d.perform(op)
		if !done {
			return
		}
		q.Remove()
		op.queued = false
		d.ready.Add(c)
	}
}

// perform runs one non-blocking attempt. done is false when the call would block.
func (d *epollDriver) perform(op *Op) (c Completion, done bool) {
	c.Op = op
	for {
		var err error
		switch op.Kind {
		case OpAccept:
			var nfd int
			var sa unix.Sockaddr
			nfd, sa, err = unix.Accept4(op.FD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
			if err == nil {
				op.Accepted = nfd
				op.Peer = socket.FromSockaddr(sa)
				if err = socket.SetNoDelay(nfd); err == nil {
					op.Local, err = socket.Sockname(nfd)
				}
				if err != nil {
					socket.Close(nfd)
					op.Accepted = socket.Invalid
				}
			}
		case OpRecv:
			c.N, err = unix.Read(op.FD, op.Buf[op.Off:])
		case OpSend:
			c.N, err = unix.SendmsgN(op.FD, op.Buf[op.Off:], nil, nil, unix.MSG_NOSIGNAL)
		case OpRecvFrom:
			var sa unix.Sockaddr
			c.N, sa, err = unix.Recvfrom(op.FD, op.Buf[op.Off:], 0)
			if err == nil {
				op.Peer = socket.FromSockaddr(sa)
			}
		case OpSendTo:
			err = d.sendTo(op)
			if err == nil {
				c.N = len(op.Buf) - op.Off
			}
		default:
			err = fmt.Errorf("reactor: unknown op kind %d", op.Kind)
		}

		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return Completion{}, false
		case err != nil:
			if c.N < 0 {
				c.N = 0
			}
			c.Err = err
		}
		return c, true
	}
}

// sendTo expects op.To to be v4-mapped already when the socket is v6.
func (d *epollDriver) sendTo(op *Op) error {
	family := api.FamilyIPv6
	if op.To.Addr().Is4() {
		family = api.FamilyIPv4
	}
	sa, err := socket.ToSockaddr(op.To, family)
	if err != nil {
		return err
	}
	return unix.Sendto(op.FD, op.Buf[op.Off:], unix.MSG_NOSIGNAL, sa)
}
