package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/panjf2000/ants/v2"

	"github.com/roach88/tablet/internal/datastore"
	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/schema"
)

// Scheduler defaults.
const (
	DefaultWorkers = 4
	DefaultTick    = 100 * time.Millisecond
)

// errRowGone aborts a firing whose row was deleted after it became due.
var errRowGone = errors.New("scheduled row no longer exists")

// scheduledTable caches what the scheduler needs about one scheduled table.
type scheduledTable struct {
	def     *schema.TableDef
	pk      int
	pkType  ir.Type
	at      int
	reducer string
}

// timer is the arming state of one scheduled row.
type timer struct {
	table *scheduledTable
	key   ir.Value
	at    ir.ScheduleAt
	due   time.Time
	seq   uint64 // Changes on every arm; identifies the current due entry
	armed bool
}

type dueEntry struct {
	due time.Time
	seq uint64
	id  string
}

func lessDue(a, b dueEntry) bool {
	if !a.due.Equal(b.due) {
		return a.due.Before(b.due)
	}
	return a.seq < b.seq
}

// Timer describes one armed scheduled row.
type Timer struct {
	Table string
	Key   ir.Value
	Due   time.Time
}

// Scheduler fires scheduled reducers when their rows come due.
//
// Each scheduled row is a timer: Armed until due, then Firing, then Armed
// again or disarmed. Interval(d) rows fire at insert time + d and every d
// after each firing while the row exists. Time(t) rows fire once at t and
// are re-armed only when a write changes their schedule column. Deleting
// the row disarms it.
//
// The scheduler learns about scheduled rows from commit events. The
// datastore listener only enqueues; events are applied at the start and
// end of every Tick, so timer state changes only inside Tick and the Run
// loop.
//
// Firing is at-least-once: a firing whose commit conflicts is retried up
// to the engine's attempt budget. A Time(t) row whose firing exhausts that
// budget or is cancelled is re-armed one tick later; one whose reducer
// fails is not.
type Scheduler struct {
	engine *Engine
	queue  *commitQueue
	pool   *ants.Pool
	tick   time.Duration

	tables map[string]*scheduledTable

	mu     sync.Mutex
	timers map[string]*timer
	due    *btree.BTreeG[dueEntry]
	seq    uint64
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*schedulerConfig)

type schedulerConfig struct {
	workers int
	tick    time.Duration
}

// WithWorkers bounds how many firings run concurrently in one tick.
func WithWorkers(n int) SchedulerOption {
	return func(c *schedulerConfig) {
		c.workers = n
	}
}

// WithTick sets the Run loop's tick interval.
func WithTick(d time.Duration) SchedulerOption {
	return func(c *schedulerConfig) {
		c.tick = d
	}
}

// NewScheduler subscribes to the engine's commits and arms every
// scheduled row already in the datastore. Interval rows found this way are
// due one interval from now.
func NewScheduler(e *Engine, opts ...SchedulerOption) (*Scheduler, error) {
	cfg := schedulerConfig{workers: DefaultWorkers, tick: DefaultTick}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers < 1 {
		return nil, fmt.Errorf("scheduler workers must be positive, got %d", cfg.workers)
	}
	if cfg.tick <= 0 {
		return nil, fmt.Errorf("scheduler tick must be positive, got %s", cfg.tick)
	}

	pool, err := ants.NewPool(cfg.workers, ants.WithPanicHandler(func(v any) {
		slog.Error("scheduler worker panic", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	s := &Scheduler{
		engine: e,
		queue:  newCommitQueue(),
		pool:   pool,
		tick:   cfg.tick,
		tables: make(map[string]*scheduledTable),
		timers: make(map[string]*timer),
		due:    btree.NewG(32, lessDue),
	}
	for _, def := range e.module.ScheduledTables() {
		pk := def.PrimaryKeyIndex()
		s.tables[def.Name] = &scheduledTable{
			def:     def,
			pk:      pk,
			pkType:  def.Columns[pk].Type,
			at:      def.ColumnIndex(def.Schedule.AtColumn),
			reducer: def.Schedule.Reducer,
		}
	}

	e.ds.Subscribe(func(ev datastore.CommitEvent) {
		if len(s.tables) > 0 {
			s.queue.Enqueue(ev)
		}
	})

	now := e.clock.Now()
	tx := e.ds.BeginRead()
	defer tx.Abort()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.tables {
		h, err := tx.Table(st.def.Name)
		if err != nil {
			s.Close()
			return nil, err
		}
		for row := range h.Iter() {
			s.arm(st, row, now)
		}
	}
	return s, nil
}

// Close stops accepting commit events and releases the worker pool.
func (s *Scheduler) Close() {
	s.queue.Close()
	s.pool.Release()
}

// Pending returns the armed timers in due order.
func (s *Scheduler) Pending() []Timer {
	s.drain()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Timer
	s.due.Ascend(func(d dueEntry) bool {
		t := s.timers[d.id]
		out = append(out, Timer{Table: t.table.def.Name, Key: t.key, Due: d.due})
		return true
	})
	return out
}

// Tick fires every timer due at or before now and waits for the firings
// to finish. Returns how many reducers committed. Firing errors are
// joined; a row deleted before its firing ran is skipped silently.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	s.drain()

	type job struct {
		id  string
		t   *timer
		seq uint64
		key ir.Value
	}
	var jobs []job

	s.mu.Lock()
	for {
		d, ok := s.due.Min()
		if !ok || d.due.After(now) {
			break
		}
		s.due.Delete(d)
		t := s.timers[d.id]
		t.armed = false
		jobs = append(jobs, job{id: d.id, t: t, seq: t.seq, key: t.key})
	}
	s.mu.Unlock()

	if len(jobs) == 0 {
		return 0, nil
	}

	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		fired   int
		errs    []error
		gone    = make(map[string]bool)
		retry   = make(map[string]bool)
		results = func(id string, err error) {
			resMu.Lock()
			defer resMu.Unlock()
			switch {
			case err == nil:
				fired++
			case errors.Is(err, errRowGone):
				gone[id] = true
			default:
				retry[id] = retryable(err)
				errs = append(errs, err)
			}
		}
	)
	for _, j := range jobs {
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			results(j.id, s.fire(ctx, j.t.table, j.key, now))
		})
		if err != nil {
			wg.Done()
			results(j.id, fmt.Errorf("submit firing: %w", err))
		}
	}
	wg.Wait()

	// Apply the firings' own writes before deciding what to re-arm, so a
	// reducer that rewrote or deleted its row wins.
	s.drain()

	s.mu.Lock()
	for _, j := range jobs {
		t, ok := s.timers[j.id]
		if !ok || t.seq != j.seq {
			continue
		}
		if gone[j.id] {
			delete(s.timers, j.id)
			continue
		}
		switch {
		case t.at.Interval:
			s.schedule(j.id, t, now.Add(t.at.Duration()))
		case retry[j.id]:
			// The reducer never committed; try the one-shot row again.
			s.schedule(j.id, t, now.Add(s.tick))
		}
	}
	s.mu.Unlock()

	if len(errs) > 0 {
		return fired, errors.Join(errs...)
	}
	return fired, nil
}

// retryable reports firing failures that say nothing about the reducer:
// persistent conflicts and cancellation.
func retryable(err error) bool {
	return IsAttemptsExhausted(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Run ticks until ctx is cancelled or the scheduler is closed.
//
// ERROR HANDLING: firing errors are logged and the loop continues. A
// failed firing is not retried beyond the attempt budget; interval rows
// come due again one interval later.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler starting", "tick", s.tick)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopping: context cancelled")
			return ctx.Err()

		case <-ticker.C:
			fired, err := s.Tick(ctx, s.engine.clock.Now())
			if err != nil {
				slog.Error("scheduled firing failed", "error", err)
			}
			if fired > 0 {
				slog.Debug("scheduled reducers fired", "count", fired)
			}

		case <-s.queue.Wait():
			if s.queue.Closed() {
				slog.Info("scheduler stopping: closed")
				return nil
			}
			s.drain()
		}
	}
}

// fire runs the table's reducer with the row's current contents.
func (s *Scheduler) fire(ctx context.Context, st *scheduledTable, key ir.Value, now time.Time) error {
	fn := s.engine.registry.reducers[st.reducer]
	owner := Identified(s.engine.owner)

	_, err := s.engine.runTx(ctx, st.reducer, ErrCodeReducerFailed, func(tx *datastore.Tx) error {
		h, err := tx.Table(st.def.Name)
		if err != nil {
			return err
		}
		row, ok := h.Find(key)
		if !ok {
			return errRowGone
		}
		return fn(&ReducerContext{
			Context:   ctx,
			DB:        &DB{tx: tx},
			Sender:    owner,
			Timestamp: now,
			TxID:      tx.ID(),
			Reducer:   st.reducer,
		}, []ir.Value{row})
	})
	if err != nil && !errors.Is(err, errRowGone) {
		slog.Debug("scheduled firing failed",
			"table", st.def.Name,
			"reducer", st.reducer,
			"error", err)
	}
	return err
}

// drain applies queued commit events to the timers.
func (s *Scheduler) drain() {
	for {
		ev, ok := s.queue.TryDequeue()
		if !ok {
			return
		}
		s.mu.Lock()
		for _, c := range ev.Changes {
			st, ok := s.tables[c.Table]
			if !ok {
				continue
			}
			switch c.Kind {
			case datastore.ChangeInsert:
				s.arm(st, c.New, ev.Time)
			case datastore.ChangeUpdate:
				if !ir.Equal(c.Old[st.at], c.New[st.at]) {
					s.arm(st, c.New, ev.Time)
				}
			case datastore.ChangeDelete:
				s.disarm(st, c.Old)
			}
		}
		s.mu.Unlock()
	}
}

// arm (re)arms a row's timer from its schedule column. Interval rows are
// due one interval after base. Callers hold s.mu.
func (s *Scheduler) arm(st *scheduledTable, row ir.Struct, base time.Time) {
	at, ok := row[st.at].(ir.ScheduleAt)
	if !ok {
		return
	}
	id, err := timerID(st, row[st.pk])
	if err != nil {
		slog.Error("cannot arm scheduled row", "table", st.def.Name, "error", err)
		return
	}

	t, ok := s.timers[id]
	if !ok {
		t = &timer{table: st, key: row[st.pk]}
		s.timers[id] = t
	}
	t.at = at

	due := at.Time()
	if at.Interval {
		due = base.Add(at.Duration())
	}
	s.schedule(id, t, due)
	slog.Debug("scheduled row armed",
		"table", st.def.Name,
		"key", id,
		"due", due)
}

// schedule moves t's due entry. Callers hold s.mu.
func (s *Scheduler) schedule(id string, t *timer, due time.Time) {
	if t.armed {
		s.due.Delete(dueEntry{due: t.due, seq: t.seq, id: id})
	}
	s.seq++
	t.due = due
	t.seq = s.seq
	t.armed = true
	s.due.ReplaceOrInsert(dueEntry{due: due, seq: t.seq, id: id})
}

// disarm forgets a deleted row. Callers hold s.mu.
func (s *Scheduler) disarm(st *scheduledTable, row ir.Struct) {
	id, err := timerID(st, row[st.pk])
	if err != nil {
		return
	}
	t, ok := s.timers[id]
	if !ok {
		return
	}
	if t.armed {
		s.due.Delete(dueEntry{due: t.due, seq: t.seq, id: id})
	}
	delete(s.timers, id)
}

func timerID(st *scheduledTable, key ir.Value) (string, error) {
	data, err := ir.Encode(st.pkType, key)
	if err != nil {
		return "", err
	}
	return st.def.Name + "\x00" + string(data), nil
}
