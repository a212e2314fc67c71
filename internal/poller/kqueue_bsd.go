//go:build darwin || freebsd || netbsd || openbsd

package poller

import (
	"syscall"

	"github.com/evh/evh/errs"
)

// kqueuePoller wraps a single kqueue instance. Grounded on
// searchktools-fast-server/core/poller/kqueue.go, extended to map each fd to
// a caller-supplied token (kept in the tokens map) and to track both EVFILT_READ and
// EVFILT_WRITE per spec §4.1's readable/writable interest mask.
// wakeIdent is the EVFILT_USER identifier used for cross-thread wakeups
// (spec §9: "on BSD/macOS, a user-event on the kqueue itself"). EVFILT_USER
// has its own identifier namespace separate from EVFILT_READ/WRITE's fd
// space, so this never collides with a real socket fd.
const wakeIdent = 1

type kqueuePoller struct {
	kqfd   int
	events []syscall.Kevent_t
	tokens map[int]uint64
}

func newPlatformPoller(maxEvents int) (Poller, error) {
	kqfd, err := syscall.Kqueue()
	if err != nil {
		return nil, errs.Wrap(errs.KindPoller, err, "kqueue")
	}
	p := &kqueuePoller{
		kqfd:   kqfd,
		events: make([]syscall.Kevent_t, maxEvents),
		tokens: make(map[int]uint64),
	}
	wake := syscall.Kevent_t{Ident: wakeIdent, Filter: syscall.EVFILT_USER, Flags: syscall.EV_ADD | syscall.EV_CLEAR}
	if _, err := syscall.Kevent(kqfd, []syscall.Kevent_t{wake}, nil, nil); err != nil {
		syscall.Close(kqfd)
		return nil, errs.Wrap(errs.KindPoller, err, "register EVFILT_USER wake event")
	}
	return p, nil
}

// Wake implements poller.Waker by triggering the EVFILT_USER event.
func (p *kqueuePoller) Wake() error {
	trigger := syscall.Kevent_t{Ident: wakeIdent, Filter: syscall.EVFILT_USER, Fflags: syscall.NOTE_TRIGGER}
	if _, err := syscall.Kevent(p.kqfd, []syscall.Kevent_t{trigger}, nil, nil); err != nil {
		return errs.Wrap(errs.KindPoller, err, "trigger EVFILT_USER")
	}
	return nil
}

func (p *kqueuePoller) changes(fd int, interest Interest, add bool) []syscall.Kevent_t {
	var flags uint16 = syscall.EV_ADD | syscall.EV_CLEAR
	if !add {
		flags = syscall.EV_DELETE
	}
	changes := make([]syscall.Kevent_t, 0, 2)
	if add && interest&Readable != 0 || !add {
		changes = append(changes, syscall.Kevent_t{Ident: uint64(fd), Filter: syscall.EVFILT_READ, Flags: flags})
	}
	if add && interest&Writable != 0 {
		changes = append(changes, syscall.Kevent_t{Ident: uint64(fd), Filter: syscall.EVFILT_WRITE, Flags: flags})
	} else if !add {
		changes = append(changes, syscall.Kevent_t{Ident: uint64(fd), Filter: syscall.EVFILT_WRITE, Flags: syscall.EV_DELETE})
	}
	return changes
}

func (p *kqueuePoller) Register(fd int, interest Interest, token uint64) error {
	p.tokens[fd] = token
	changes := p.changes(fd, interest, true)
	if _, err := syscall.Kevent(p.kqfd, changes, nil, nil); err != nil {
		return errs.Wrap(errs.KindPoller, err, "kevent register fd=%d", fd)
	}
	return nil
}

func (p *kqueuePoller) Modify(fd int, interest Interest) error {
	// Remove both filters then re-add the requested set; kqueue has no
	// single "modify mask" call the way epoll does.
	syscall.Kevent(p.kqfd, p.changes(fd, 0, false), nil, nil)
	changes := p.changes(fd, interest, true)
	if _, err := syscall.Kevent(p.kqfd, changes, nil, nil); err != nil {
		return errs.Wrap(errs.KindPoller, err, "kevent modify fd=%d", fd)
	}
	return nil
}

func (p *kqueuePoller) Deregister(fd int) error {
	delete(p.tokens, fd)
	_, err := syscall.Kevent(p.kqfd, p.changes(fd, 0, false), nil, nil)
	if err != nil && err != syscall.ENOENT && err != syscall.EBADF {
		return errs.Wrap(errs.KindPoller, err, "kevent deregister fd=%d", fd)
	}
	return nil
}

func (p *kqueuePoller) Wait(timeoutMillis int, out []Event) (int, error) {
	var ts *syscall.Timespec
	if timeoutMillis >= 0 {
		ts = &syscall.Timespec{
			Sec:  int64(timeoutMillis / 1000),
			Nsec: int64((timeoutMillis % 1000) * 1e6),
		}
	}
	var n int
	var err error
	for {
		n, err = syscall.Kevent(p.kqfd, nil, p.events, ts)
		if err == syscall.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return 0, errs.Wrap(errs.KindPoller, err, "kevent wait")
	}
	limit := n
	if limit > len(out) {
		limit = len(out)
	}
	// kqueue can report read and write readiness for the same fd as two
	// separate events in one Wait call; merge them so the worker sees one
	// Event per fd, matching epoll's single-notification-per-fd contract.
	merged := make(map[int]*Event, limit)
	order := make([]int, 0, limit)
	for i := 0; i < limit; i++ {
		e := p.events[i]
		if e.Filter == syscall.EVFILT_USER {
			if count := len(order); count < len(out) {
				merged[-1] = &Event{Token: WakeToken, Readable: true}
				order = append(order, -1)
			}
			continue
		}
		fd := int(e.Ident)
		token, ok := p.tokens[fd]
		if !ok {
			continue
		}
		ev, seen := merged[fd]
		if !seen {
			ev = &Event{Token: token}
			merged[fd] = ev
			order = append(order, fd)
		}
		switch e.Filter {
		case syscall.EVFILT_READ:
			ev.Readable = true
			if e.Flags&syscall.EV_EOF != 0 {
				ev.Hangup = true
			}
		case syscall.EVFILT_WRITE:
			ev.Writable = true
		}
	}
	count := 0
	for _, fd := range order {
		if count >= len(out) {
			break
		}
		out[count] = *merged[fd]
		count++
	}
	return count, nil
}

func (p *kqueuePoller) Close() error {
	return syscall.Close(p.kqfd)
}
