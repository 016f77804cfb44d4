//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based readiness multiplexer. Registrations are
// level-triggered: an interest that stays actionable is reported again on the
// next Wait. An eventfd is registered internally so other goroutines can
// interrupt a blocked Wait.

package reactor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/momentics/hioload-relay/api"
	"golang.org/x/sys/unix"
)

// epollPoller is an epoll-based Poller.
type epollPoller struct {
	epfd      int
	wakefd    int
	interests map[int]api.Interest
	raw       []unix.EpollEvent

	mu     sync.Mutex // guards wakefd against Close
	closed bool
}

// New constructs the epoll Poller.
func New() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakeup: %w", err)
	}
	return &epollPoller{
		epfd:      epfd,
		wakefd:    wakefd,
		interests: make(map[int]api.Interest),
	}, nil
}

func epollEvents(interest api.Interest) uint32 {
	var events uint32
	if interest&(api.InterestAccept|api.InterestRead) != 0 {
		events |= unix.EPOLLIN
	}
	if interest&(api.InterestConnect|api.InterestWrite) != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

// Add registers fd with epoll.
func (p *epollPoller) Add(fd int, interest api.Interest) error {
	if p.closed {
		return api.ErrLoopCancelled
	}
	if _, ok := p.interests[fd]; ok {
		return fmt.Errorf("epoll add fd %d: %w", fd, api.ErrAlreadyExists)
	}
	ev := unix.EpollEvent{Events: epollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	p.interests[fd] = interest
	return nil
}

// Modify swaps the interest set of fd.
func (p *epollPoller) Modify(fd int, interest api.Interest) error {
	if p.closed {
		return api.ErrLoopCancelled
	}
	if _, ok := p.interests[fd]; !ok {
		return fmt.Errorf("epoll mod fd %d: %w", fd, api.ErrNotFound)
	}
	ev := unix.EpollEvent{Events: epollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	p.interests[fd] = interest
	return nil
}

// Remove removes fd from the epoll watch list.
func (p *epollPoller) Remove(fd int) error {
	if _, ok := p.interests[fd]; !ok {
		return nil
	}
	delete(p.interests, fd)
	if p.closed {
		return nil
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Interest reports the registration of fd.
func (p *epollPoller) Interest(fd int) (api.Interest, bool) {
	i, ok := p.interests[fd]
	return i, ok
}

// Wait blocks in epoll_wait and translates the ready set.
func (p *epollPoller) Wait(events []Event) (int, error) {
	if p.closed {
		return 0, api.ErrLoopCancelled
	}
	if len(events) == 0 {
		return 0, fmt.Errorf("epoll wait: %w", api.ErrInvalidArgument)
	}
	if cap(p.raw) < len(events) {
		p.raw = make([]unix.EpollEvent, len(events))
	}
	raw := p.raw[:len(events)]

	n, err := unix.EpollWait(p.epfd, raw, -1)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil // interrupted by signal, normal
		}
		if p.closed {
			return 0, api.ErrLoopCancelled
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	out := 0
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		if fd == p.wakefd {
			p.drainWakeup()
			continue
		}
		interest, ok := p.interests[fd]
		if !ok {
			continue
		}
		var ready api.Interest
		flags := raw[i].Events
		if flags&unix.EPOLLIN != 0 {
			ready |= interest & (api.InterestAccept | api.InterestRead)
		}
		if flags&unix.EPOLLOUT != 0 {
			ready |= interest & (api.InterestConnect | api.InterestWrite)
		}
		hup := flags&(unix.EPOLLERR|unix.EPOLLHUP) != 0
		if hup {
			// let the handler observe the failure through its own syscall
			ready |= interest
		}
		if ready == 0 {
			continue
		}
		events[out] = Event{FD: fd, Ready: ready, Hup: hup}
		out++
	}
	return out, nil
}

func (p *epollPoller) drainWakeup() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != nil {
			return
		}
	}
}

// Wakeup writes to the eventfd so a blocked Wait returns.
func (p *epollPoller) Wakeup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return api.ErrLoopCancelled
	}
	one := [8]byte{1}
	if _, err := unix.Write(p.wakefd, one[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

// Close releases the epoll and eventfd descriptors. Registered descriptors
// are not closed; they belong to their connections.
func (p *epollPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.interests = make(map[int]api.Interest)
	werr := unix.Close(p.wakefd)
	if err := unix.Close(p.epfd); err != nil {
		return fmt.Errorf("epoll close: %w", err)
	}
	if werr != nil {
		return fmt.Errorf("eventfd close: %w", werr)
	}
	return nil
}
