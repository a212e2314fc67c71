//go:build linux

package poller

import (
	"golang.org/x/sys/unix"

	"github.com/evh/evh/errs"
)

// epollPoller wraps a single epoll instance. Token is a 64-bit value packed
// across the two int32 fields the kernel epoll_event union exposes as
// Fd/Pad, the same trick gotcp-epoll's listen.go uses (there, with just the
// fd) generalized to carry a full 64-bit connection id.
type epollPoller struct {
	epfd   int
	events []unix.EpollEvent
	tokens map[int]uint64 // fd -> last-registered token, needed by Modify
	wakeFd int
}

func newPlatformPoller(maxEvents int) (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errs.Wrap(errs.KindPoller, err, "epoll_create1")
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, errs.Wrap(errs.KindPoller, err, "eventfd")
	}
	p := &epollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, maxEvents),
		tokens: make(map[int]uint64),
		wakeFd: wakeFd,
	}
	if err := p.ctl(unix.EPOLL_CTL_ADD, wakeFd, Readable, WakeToken); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, errs.Wrap(errs.KindPoller, err, "register eventfd")
	}
	return p, nil
}

// Wake implements poller.Waker via the registered eventfd (spec §9: "on
// Linux, use eventfd").
func (p *epollPoller) Wake() error {
	var one [8]byte
	one[0] = 1
	_, err := unix.Write(p.wakeFd, one[:])
	if err != nil && err != unix.EAGAIN {
		return errs.Wrap(errs.KindPoller, err, "eventfd write")
	}
	return nil
}

func toEpollEvents(interest Interest) uint32 {
	ev := uint32(unix.EPOLLET | unix.EPOLLRDHUP)
	if interest&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func packToken(token uint64) (fd, pad int32) {
	return int32(token & 0xffffffff), int32(token >> 32)
}

func unpackToken(fd, pad int32) uint64 {
	return uint64(uint32(pad))<<32 | uint64(uint32(fd))
}

func (p *epollPoller) ctl(op int, fd int, interest Interest, token uint64) error {
	lo, hi := packToken(token)
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: lo, Pad: hi}
	var err error
	for {
		err = unix.EpollCtl(p.epfd, op, fd, &ev)
		if err != unix.EINTR {
			break
		}
	}
	return err
}

func (p *epollPoller) Register(fd int, interest Interest, token uint64) error {
	if err := p.ctl(unix.EPOLL_CTL_ADD, fd, interest, token); err != nil {
		return errs.Wrap(errs.KindPoller, err, "epoll_ctl add fd=%d", fd)
	}
	p.tokens[fd] = token
	return nil
}

func (p *epollPoller) Modify(fd int, interest Interest) error {
	if err := p.ctl(unix.EPOLL_CTL_MOD, fd, interest, p.tokens[fd]); err != nil {
		return errs.Wrap(errs.KindPoller, err, "epoll_ctl mod fd=%d", fd)
	}
	return nil
}

func (p *epollPoller) Deregister(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(p.tokens, fd)
	if err != nil && err != unix.ENOENT && err != unix.EBADF {
		return errs.Wrap(errs.KindPoller, err, "epoll_ctl del fd=%d", fd)
	}
	return nil
}

func (p *epollPoller) Wait(timeoutMillis int, out []Event) (int, error) {
	var n int
	var err error
	for {
		n, err = unix.EpollWait(p.epfd, p.events, timeoutMillis)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return 0, errs.Wrap(errs.KindPoller, err, "epoll_wait")
	}
	limit := n
	if limit > len(out) {
		limit = len(out)
	}
	for i := 0; i < limit; i++ {
		e := p.events[i]
		token := unpackToken(e.Fd, e.Pad)
		if token == WakeToken {
			var buf [8]byte
			unix.Read(p.wakeFd, buf[:])
		}
		out[i] = Event{
			Token:    token,
			Readable: e.Events&(unix.EPOLLIN|unix.EPOLLERR) != 0,
			Writable: e.Events&unix.EPOLLOUT != 0,
			Hangup:   e.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0,
		}
	}
	return limit, nil
}

func (p *epollPoller) Close() error {
	unix.Close(p.wakeFd)
	return unix.Close(p.epfd)
}
