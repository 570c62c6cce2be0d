// Package camera relays still frames from a collector's device to the
// collection workflow.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownHandle is returned for handles that were never opened or are closed.
	ErrUnknownHandle = errors.New("camera: unknown handle")
	// ErrTooManyDevices is returned when the relay is at capacity.
	ErrTooManyDevices = errors.New("camera: too many open devices")
	// ErrNoFrame is returned when no frame arrived before the capture timeout.
	ErrNoFrame = errors.New("camera: no frame received")
	// ErrDeviceFailed is returned once the client reported a device failure.
	ErrDeviceFailed = errors.New("camera: device failed")
)

type device struct {
	facing  string
	frame   []byte
	failure string
	// ready is closed and replaced whenever a frame or failure arrives.
	ready chan struct{}
}

// Relay implements collection.Camera over frames pushed by the client.
type Relay struct {
	mu             sync.Mutex
	devices        map[string]*device
	maxDevices     int
	captureTimeout time.Duration
}

// NewRelay builds a Relay.
func NewRelay(maxDevices int, captureTimeout time.Duration) *Relay {
	if maxDevices <= 0 {
		maxDevices = 64
	}
	if captureTimeout <= 0 {
		captureTimeout = 10 * time.Second
	}
	return &Relay{
		devices:        make(map[string]*device),
		maxDevices:     maxDevices,
		captureTimeout: captureTimeout,
	}
}

// Open allocates a device handle.
func (r *Relay) Open(ctx context.Context, facing string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.devices) >= r.maxDevices {
		return "", ErrTooManyDevices
	}
	handle := uuid.NewString()
	r.devices[handle] = &device{facing: facing, ready: make(chan struct{})}
	return handle, nil
}

// PushFrame stores the latest frame for handle and wakes pending captures.
func (r *Relay) PushFrame(handle string, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[handle]
	if !ok {
		return ErrUnknownHandle
	}
	d.frame = append([]byte(nil), frame...)
	d.failure = ""
	close(d.ready)
	d.ready = make(chan struct{})
	return nil
}

// Fail marks the device failed, e.g. after a denied permission.
func (r *Relay) Fail(handle, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[handle]
	if !ok {
		return ErrUnknownHandle
	}
	if reason == "" {
		reason = "unavailable"
	}
	d.failure = reason
	close(d.ready)
	d.ready = make(chan struct{})
	return nil
}

// Capture returns the latest frame, waiting up to the capture timeout for one.
func (r *Relay) Capture(ctx context.Context, handle string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.captureTimeout)
	defer cancel()
	for {
		r.mu.Lock()
		d, ok := r.devices[handle]
		if !ok {
			r.mu.Unlock()
			return nil, ErrUnknownHandle
		}
		if d.failure != "" {
			reason := d.failure
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrDeviceFailed, reason)
		}
		if d.frame != nil {
			frame := d.frame
			r.mu.Unlock()
			return frame, nil
		}
		ready := d.ready
		r.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrNoFrame
			}
			return nil, ctx.Err()
		}
	}
}

// Close releases handle. Closing an unknown handle is a no-op.
func (r *Relay) Close(ctx context.Context, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[handle]; ok {
		close(d.ready)
		delete(r.devices, handle)
	}
	return nil
}

// Len returns the number of open devices.
func (r *Relay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}
