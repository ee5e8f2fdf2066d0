package testutil

import (
	"context"
	"sync"

	"clocktrack/internal/tracker"
)

// FakePermission is a PermissionSurface whose Request grants up to a
// configured level.
type FakePermission struct {
	mu        sync.Mutex
	level     tracker.PermissionLevel
	grantable tracker.PermissionLevel
	requests  int
}

func NewFakePermission(level, grantable tracker.PermissionLevel) *FakePermission {
	return &FakePermission{level: level, grantable: grantable}
}

func (p *FakePermission) Level(context.Context) (tracker.PermissionLevel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level, nil
}

func (p *FakePermission) Request(_ context.Context, want tracker.PermissionLevel) (tracker.PermissionLevel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++
	granted := want
	if granted > p.grantable {
		granted = p.grantable
	}
	if granted > p.level {
		p.level = granted
	}
	return p.level, nil
}

// Requests returns how many times Request was called.
func (p *FakePermission) Requests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

// CountingTrigger counts DataPending notifications.
type CountingTrigger struct {
	mu    sync.Mutex
	count int
}

func (c *CountingTrigger) DataPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
}

// Count returns the number of notifications received.
func (c *CountingTrigger) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// StaticConnectivity reports a fixed status.
type StaticConnectivity struct {
	mu     sync.Mutex
	status tracker.ConnectivityStatus
}

func NewStaticConnectivity(s tracker.ConnectivityStatus) *StaticConnectivity {
	return &StaticConnectivity{status: s}
}

func (c *StaticConnectivity) Status() tracker.ConnectivityStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Set changes the reported status.
func (c *StaticConnectivity) Set(s tracker.ConnectivityStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

var (
	_ tracker.PermissionSurface = (*FakePermission)(nil)
	_ tracker.SyncTrigger       = (*CountingTrigger)(nil)
	_ tracker.Connectivity      = (*StaticConnectivity)(nil)
)
