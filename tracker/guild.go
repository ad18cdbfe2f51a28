package tracker

import "context"

type State int

const (
	StateUninitialized State = iota
	StateSynced
	StateDiffing
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSynced:
		return "synced"
	case StateDiffing:
		return "diffing"
	case StateRefreshing:
		return "refreshing"
	}
	return "unknown"
}

type task struct {
	ctx  context.Context
	run  func(ctx context.Context)
	done chan error
}

// guild serializes every operation on one guild's snapshot. The fields below
// tasks are owned by the worker goroutine.
type guild struct {
	id    string
	tasks chan task
	stop  chan struct{}
	done  chan struct{}
	// removed is set under Tracker.mu before stop is closed by GuildRemove
	removed bool

	state   State
	stale   bool
	credits creditQueue
}

func newGuild(id string) *guild {
	return &guild{
		id: id,
		// unbuffered: blocked senders are served in arrival order
		tasks: make(chan task),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// work runs the tasks of g. A guild added again after GuildRemove waits for
// the worker of its removed predecessor, so the two never share a snapshot.
func (t *Tracker) work(g, prev *guild) {
	defer t.wg.Done()
	defer close(g.done)
	defer t.retire(g)

	if prev != nil {
		<-prev.done
	}
	for {
		select {
		case <-g.stop:
			return
		case tk := <-g.tasks:
			if err := tk.ctx.Err(); err != nil {
				tk.done <- err
				continue
			}
			tk.run(tk.ctx)
			tk.done <- nil
		}
	}
}

// retire drops the snapshot of a removed guild once its worker is done
func (t *Tracker) retire(g *guild) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.retiring[g.id] == g {
		delete(t.retiring, g.id)
	}
	if !g.removed {
		return
	}
	if g.stale {
		staleGuildGauge.Dec()
	}
	t.snapshots.Remove(g.id)
	untrackedUsesGauge.DeleteLabelValues(g.id)
}

// do runs fn on the guild's worker and waits for it. When ctx ends first the
// task may still run, its result is dropped.
func (t *Tracker) do(ctx context.Context, g *guild, fn func(ctx context.Context)) error {
	done := make(chan error, 1)
	select {
	case g.tasks <- task{ctx: ctx, run: fn, done: done}:
	case <-g.stop:
		if t.isClosed() {
			return ErrClosed
		}
		return ErrUnknownGuild
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
