//go:build darwin

package msgloop

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ioPump is the TYPE_IO MessagePump for Darwin, backed by kqueue. The wake
// mechanism uses a pipe registered as a read filter, the same shape as the
// Linux epoll pump, since kqueue has no built-in eventfd equivalent.
type ioPump struct {
	kq       int
	wakeR    int
	wakeW    int
	eventBuf [256]unix.Kevent_t

	mu      sync.RWMutex
	fds     map[int]*fdEntry
	version uint64

	quit    chan struct{}
	quitted bool
}

type fdEntry struct {
	events IOEvents
	cb     IOCallback
}

// NewMessagePumpIO constructs the kqueue-backed IO pump.
func NewMessagePumpIO() (MessagePumpIO, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		unix.Close(kq)
		return nil, err
	}
	unix.SetNonblock(fds[0], true)
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	p := &ioPump{
		kq:    kq,
		wakeR: fds[0],
		wakeW: fds[1],
		fds:   make(map[int]*fdEntry),
		quit:  make(chan struct{}),
	}
	_, err = unix.Kevent(kq, []unix.Kevent_t{{
		Ident:  uint64(p.wakeR),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	}}, nil, nil)
	if err != nil {
		unix.Close(kq)
		unix.Close(p.wakeR)
		unix.Close(p.wakeW)
		return nil, err
	}
	return p, nil
}

func eventsToKevents(fd int, e IOEvents, flags uint16) []unix.Kevent_t {
	var out []unix.Kevent_t
	if e&EventRead != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if e&EventWrite != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return out
}

func (p *ioPump) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	p.mu.Lock()
	if _, ok := p.fds[fd]; ok {
		p.mu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = &fdEntry{events: events, cb: cb}
	p.version++
	p.mu.Unlock()

	kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) == 0 {
		return nil
	}
	if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
		p.mu.Lock()
		delete(p.fds, fd)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *ioPump) ModifyFD(fd int, events IOEvents) error {
	p.mu.Lock()
	e, ok := p.fds[fd]
	if !ok {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	old := e.events
	e.events = events
	p.version++
	p.mu.Unlock()

	if del := eventsToKevents(fd, old&^events, unix.EV_DELETE); len(del) > 0 {
		unix.Kevent(p.kq, del, nil, nil)
	}
	if add := eventsToKevents(fd, events&^old, unix.EV_ADD|unix.EV_ENABLE); len(add) > 0 {
		if _, err := unix.Kevent(p.kq, add, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (p *ioPump) UnregisterFD(fd int) error {
	p.mu.Lock()
	e, ok := p.fds[fd]
	if !ok {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	delete(p.fds, fd)
	p.version++
	p.mu.Unlock()

	if kevents := eventsToKevents(fd, e.events, unix.EV_DELETE); len(kevents) > 0 {
		unix.Kevent(p.kq, kevents, nil, nil)
	}
	return nil
}

func (p *ioPump) ScheduleWork() {
	var b [1]byte
	unix.Write(p.wakeW, b[:])
}

func (p *ioPump) ScheduleDelayedWork(time.Time) {
	p.ScheduleWork()
}

func (p *ioPump) Quit() {
	if p.quitted {
		return
	}
	p.quitted = true
	close(p.quit)
	p.ScheduleWork()
}

func (p *ioPump) Run(delegate Delegate) {
	p.quit = make(chan struct{})
	p.quitted = false
	for {
		select {
		case <-p.quit:
			return
		default:
		}

		if delegate.DoWork() {
			continue
		}

		var next time.Time
		if delegate.DoDelayedWork(&next) {
			continue
		}

		if delegate.DoIdleWork() {
			continue
		}

		var timeout *unix.Timespec
		if !next.IsZero() {
			d := time.Until(next)
			if d <= 0 {
				continue
			}
			ts := unix.NsecToTimespec(int64(d))
			timeout = &ts
		}

		p.pollOnce(timeout)
	}
}

func (p *ioPump) pollOnce(timeout *unix.Timespec) {
	v := p.version
	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], timeout)
	if err != nil {
		if err == unix.EINTR {
			return
		}
		logf(LevelError, "pump", "kevent failed", err, nil)
		return
	}
	if p.version != v {
		return
	}
	for i := 0; i < n; i++ {
		ev := &p.eventBuf[i]
		fd := int(ev.Ident)
		if fd == p.wakeR {
			var buf [64]byte
			for {
				if _, err := unix.Read(p.wakeR, buf[:]); err != nil {
					break
				}
			}
			continue
		}
		p.mu.RLock()
		e, ok := p.fds[fd]
		p.mu.RUnlock()
		if !ok || e.cb == nil {
			continue
		}
		var got IOEvents
		switch ev.Filter {
		case unix.EVFILT_READ:
			got = EventRead
		case unix.EVFILT_WRITE:
			got = EventWrite
		}
		if ev.Flags&unix.EV_EOF != 0 {
			got |= EventHangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			got |= EventError
		}
		e.cb(got)
	}
}
