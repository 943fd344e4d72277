// Package driverfake provides an in-memory driver implementation for tests.
// Tests emit lifecycle events directly through the Events sink a driver was
// constructed with, simulating the platform side of the connection.
package driverfake

import (
	"context"
	"sync"

	"github.com/chatwire/whatsapp-gateway/driver"
)

// Factory creates fake drivers and records every construction.
type Factory struct {
	mu      sync.Mutex
	drivers []*Driver

	// NewErr, when set, makes New fail.
	NewErr error
	// InitErr is copied onto every constructed driver.
	InitErr error
}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) New(tenantID string, events driver.Events) (driver.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.NewErr != nil {
		return nil, f.NewErr
	}
	d := &Driver{
		TenantID: tenantID,
		Events:   events,
		InitErr:  f.InitErr,
	}
	f.drivers = append(f.drivers, d)
	return d, nil
}

// Created returns the number of drivers constructed so far.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.drivers)
}

// Last returns the most recently constructed driver, or nil.
func (f *Factory) Last() *Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.drivers) == 0 {
		return nil
	}
	return f.drivers[len(f.drivers)-1]
}

// SentMessage records one SendMessage call.
type SentMessage struct {
	To   string
	Body string
}

// Driver is a scripted driver. Zero value fields mean "succeed".
type Driver struct {
	TenantID string
	Events   driver.Events

	// InitErr makes Initialize fail. InitFunc, when set, runs inside
	// Initialize before the error check (e.g. to emit events mid-init).
	InitErr  error
	InitFunc func(ctx context.Context)

	SendErr    error
	DestroyErr error

	mu          sync.Mutex
	initialized bool
	destroyed   bool
	sent        []SentMessage
	info        *driver.Info
}

var _ driver.Driver = (*Driver)(nil)

func (d *Driver) Initialize(ctx context.Context) error {
	d.mu.Lock()
	d.initialized = true
	d.mu.Unlock()
	if d.InitFunc != nil {
		d.InitFunc(ctx)
	}
	return d.InitErr
}

func (d *Driver) SendMessage(ctx context.Context, to, body string) error {
	if d.SendErr != nil {
		return d.SendErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, SentMessage{To: to, Body: body})
	return nil
}

func (d *Driver) Destroy(ctx context.Context) error {
	d.mu.Lock()
	d.destroyed = true
	d.mu.Unlock()
	return d.DestroyErr
}

func (d *Driver) Info() (driver.Info, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.info == nil {
		return driver.Info{}, false
	}
	return *d.info, true
}

// SetInfo sets the account snapshot returned by Info.
func (d *Driver) SetInfo(info driver.Info) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = &info
}

// Initialized reports whether Initialize was called.
func (d *Driver) Initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

// Destroyed reports whether Destroy was called.
func (d *Driver) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

// Sent returns a copy of all recorded SendMessage calls.
func (d *Driver) Sent() []SentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SentMessage, len(d.sent))
	copy(out, d.sent)
	return out
}
