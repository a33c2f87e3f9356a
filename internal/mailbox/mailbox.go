// Package mailbox is a process-wide registry of single-delivery result
// slots. A consumer registers a token and waits on the returned Receiver; a
// producer running elsewhere delivers exactly one Artifact to that token.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrUnknownToken: the slot was already delivered to, or its receiver
	// was dropped.
	ErrUnknownToken = errors.New("mailbox: unknown token")
	// ErrDuplicateToken: a live slot already exists for the token.
	ErrDuplicateToken = errors.New("mailbox: token already registered")
	// ErrClaimed: the receiver already took its artifact.
	ErrClaimed = errors.New("mailbox: artifact already received")
)

// NewToken returns a fresh random token. Tokens for leaf producers are
// namespaced under their parent's token.
func NewToken(namespace string) string {
	id := uuid.NewString()
	if namespace == "" {
		return id
	}
	return namespace + "/" + id
}

// Registry holds the pending slots. Tokens only contend on the map lock;
// each slot has its own channel.
type Registry struct {
	mu    sync.Mutex
	slots map[string]chan Artifact
	log   *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		slots: make(map[string]chan Artifact),
		log:   log,
	}
}

// Register opens a slot for token.
func (r *Registry) Register(token string) (*Receiver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.slots[token]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateToken, token)
	}
	ch := make(chan Artifact, 1)
	r.slots[token] = ch
	return &Receiver{token: token, reg: r, ch: ch}, nil
}

// Deliver hands a to the receiver of token. The slot is closed to further
// deliveries whether or not the receiver has read it yet.
func (r *Registry) Deliver(token string, a Artifact) error {
	r.mu.Lock()
	ch, ok := r.slots[token]
	if ok {
		delete(r.slots, token)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	ch <- a
	return nil
}

// Cancel delivers a Cancelled artifact so the consumer stops waiting.
func (r *Registry) Cancel(token, reason string) error {
	return r.Deliver(token, Cancelled(reason))
}

// Produce runs fn and delivers its artifact to token. An error or panic in fn
// is delivered as Cancelled and returned. A receiver that is gone is logged
// and otherwise ignored.
func (r *Registry) Produce(token string, fn func() (Artifact, error)) error {
	a, err := r.run(fn)
	if err != nil {
		a = Cancelled(err.Error())
	}
	if derr := r.Deliver(token, a); derr != nil {
		if !errors.Is(derr, ErrUnknownToken) {
			return errors.Join(err, derr)
		}
		r.log.Warn("mailbox receiver gone, dropping artifact", "token", token, "kind", a.Kind.String())
		for _, leaf := range a.Leaves {
			leaf.Close()
		}
	}
	return err
}

func (r *Registry) run(fn func() (Artifact, error)) (a Artifact, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("producer panic: %v", p)
		}
	}()
	return fn()
}

// Pending returns the number of slots not yet delivered to.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

func (r *Registry) drop(token string, ch chan Artifact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.slots[token]; ok && cur == ch {
		delete(r.slots, token)
	}
}

// Receiver is the consuming end of one slot.
type Receiver struct {
	token   string
	reg     *Registry
	ch      chan Artifact
	claimed atomic.Bool
}

// Token returns the token the receiver was registered under.
func (rc *Receiver) Token() string {
	return rc.token
}

// Receive waits for the artifact and takes it. It can succeed only once.
func (rc *Receiver) Receive(ctx context.Context) (Artifact, error) {
	if rc.claimed.Load() {
		return Artifact{}, ErrClaimed
	}
	select {
	case a := <-rc.ch:
		rc.claimed.Store(true)
		return a, nil
	case <-ctx.Done():
		return Artifact{}, ctx.Err()
	}
}

// Close drops the receiver. Later deliveries fail with ErrUnknownToken.
func (rc *Receiver) Close() {
	rc.reg.drop(rc.token, rc.ch)
}
