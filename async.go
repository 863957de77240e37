package jimi

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// AsyncMode selects how a background subagent runs.
type AsyncMode string

const (
	// AsyncFireAndForget runs the child to completion in the background.
	AsyncFireAndForget AsyncMode = "fire_and_forget"
	// AsyncWatch streams until a regex matches a child tool output.
	AsyncWatch AsyncMode = "watch"
	// AsyncWaitComplete is rejected with a pointer to the sync Task tool.
	AsyncWaitComplete AsyncMode = "wait_complete"
)

// AsyncStatus is the lifecycle state of a background subagent.
type AsyncStatus string

const (
	AsyncPending   AsyncStatus = "pending"
	AsyncRunning   AsyncStatus = "running"
	AsyncCompleted AsyncStatus = "completed"
	AsyncFailed    AsyncStatus = "failed"
	AsyncCancelled AsyncStatus = "cancelled"
	AsyncTimedOut  AsyncStatus = "timeout"
)

// IsTerminal reports whether the status is final. A subagent has an end
// time iff its status is terminal.
func (s AsyncStatus) IsTerminal() bool {
	switch s {
	case AsyncCompleted, AsyncFailed, AsyncCancelled, AsyncTimedOut:
		return true
	}
	return false
}

// Worker pool bounds for background subagents.
const (
	asyncWorkerPoolSize = 10
	asyncQueueCapacity  = 100
)

// completedCacheLimit bounds the in-memory ring of terminal subagents.
// Deliberately smaller than the persisted index (asyncHistoryLimit):
// the cache only serves the live session.
const completedCacheLimit = 50

// asyncTriggerLineLimit trims matched watch lines in trigger events.
const asyncTriggerLineLimit = 200

// AsyncCallback runs at most once after a subagent reaches a terminal
// status. Panics inside the callback are swallowed.
type AsyncCallback func(rec AsyncRecord)

// AsyncSpec describes one background subagent launch.
type AsyncSpec struct {
	Agent   *AgentConfig
	Name    string
	Prompt  string
	Mode    AsyncMode
	Timeout time.Duration

	// Watch mode only.
	WatchTarget          string
	TriggerPattern       string
	OnTrigger            string
	ContinueAfterTrigger bool

	Callback AsyncCallback
}

// asyncSubagent is the live state of one background child. Mutable
// fields are guarded by mu; transitions between the manager's live and
// completed sets are guarded by the manager lock.
type asyncSubagent struct {
	mu sync.Mutex

	id        string
	name      string
	mode      AsyncMode
	status    AsyncStatus
	startTime time.Time
	endTime   time.Time
	prompt    string
	timeout   time.Duration
	pattern   string
	result    string
	errText   string
	cancel    context.CancelFunc
}

// record projects the current state into the persistence shape.
func (a *asyncSubagent) record() AsyncRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec := AsyncRecord{
		ID:             a.id,
		Name:           a.name,
		Mode:           a.mode,
		Status:         a.status,
		StartTime:      a.startTime,
		Prompt:         a.prompt,
		Result:         a.result,
		Error:          a.errText,
		TriggerPattern: a.pattern,
	}
	if !a.endTime.IsZero() {
		end := a.endTime
		rec.EndTime = &end
		rec.DurationMs = end.Sub(a.startTime).Milliseconds()
	}
	return rec
}

// finish sets a terminal status and the end time together.
func (a *asyncSubagent) finish(status AsyncStatus, result, errText string) {
	a.mu.Lock()
	a.status = status
	a.endTime = time.Now()
	if result != "" {
		a.result = result
	}
	if errText != "" {
		a.errText = errText
	}
	a.mu.Unlock()
}

// AsyncManager is the lifecycle registry for background subagents: a
// bounded worker pool runs them, live and completed sets track them,
// and completion is persisted per workdir.
type AsyncManager struct {
	rt          *Runtime
	parentBus   *Wire
	historyBase string
	store       *AsyncStore
	logger      *slog.Logger

	mu        sync.Mutex
	live      map[string]*asyncSubagent
	completed []*asyncSubagent // newest first, at most completedCacheLimit
	closed    bool

	queue chan func()
	wg    sync.WaitGroup
}

// NewAsyncManager creates the manager and starts its worker pool.
// historyBase is the parent history path child stores derive from.
func NewAsyncManager(rt *Runtime, parentBus *Wire, historyBase string) *AsyncManager {
	m := &AsyncManager{
		rt:          rt,
		parentBus:   parentBus,
		historyBase: historyBase,
		store:       NewAsyncStore(rt.Logger),
		logger:      rt.Logger,
		live:        make(map[string]*asyncSubagent),
		queue:       make(chan func(), asyncQueueCapacity),
	}
	m.wg.Add(asyncWorkerPoolSize)
	for range asyncWorkerPoolSize {
		go func() {
			defer m.wg.Done()
			for job := range m.queue {
				job()
			}
		}()
	}
	return m
}

// Start registers a background subagent and schedules it. It returns
// the new 8-hex id immediately; oversubscription of the queue is an
// error.
func (m *AsyncManager) Start(spec AsyncSpec) (string, error) {
	if spec.Agent == nil {
		return "", fmt.Errorf("no subagent config")
	}
	if spec.Mode == AsyncWaitComplete {
		return "", fmt.Errorf("wait_complete is not an async mode; use the Task tool")
	}
	var re *regexp.Regexp
	if spec.Mode == AsyncWatch {
		if spec.TriggerPattern == "" {
			return "", fmt.Errorf("watch mode requires trigger_pattern")
		}
		var err error
		re, err = regexp.Compile(spec.TriggerPattern)
		if err != nil {
			return "", fmt.Errorf("invalid trigger_pattern: %w", err)
		}
	}

	sub := &asyncSubagent{
		name:      spec.Name,
		mode:      spec.Mode,
		status:    AsyncPending,
		startTime: time.Now(),
		prompt:    spec.Prompt,
		timeout:   spec.Timeout,
		pattern:   spec.TriggerPattern,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", fmt.Errorf("async manager is shut down")
	}
	id := NewShortID()
	for m.idTaken(id) {
		id = NewShortID()
	}
	sub.id = id

	// Enqueue while still holding the lock so ShutdownAll cannot close
	// the queue between the closed check and the send.
	job := func() { m.run(sub, spec, re) }
	select {
	case m.queue <- job:
	default:
		m.mu.Unlock()
		return "", fmt.Errorf("async queue is full (%d pending)", asyncQueueCapacity)
	}
	m.live[id] = sub
	m.mu.Unlock()

	m.logger.Info("async subagent queued", "id", id, "name", spec.Name, "mode", string(spec.Mode))
	return id, nil
}

// idTaken reports whether id is in either set. Callers hold m.mu.
func (m *AsyncManager) idTaken(id string) bool {
	if _, ok := m.live[id]; ok {
		return true
	}
	for _, c := range m.completed {
		if c.id == id {
			return true
		}
	}
	return false
}

// run executes one background subagent on a worker goroutine.
func (m *AsyncManager) run(sub *asyncSubagent, spec AsyncSpec, re *regexp.Regexp) {
	ctx, cancel := context.WithCancel(context.Background())
	sub.mu.Lock()
	cancelled := sub.status == AsyncCancelled
	sub.cancel = cancel
	sub.mu.Unlock()
	if cancelled {
		cancel()
		return
	}
	defer cancel()

	runCtx := ctx
	if spec.Timeout > 0 {
		var tcancel context.CancelFunc
		runCtx, tcancel = context.WithTimeout(ctx, spec.Timeout)
		defer tcancel()
	}

	child, cleanup, err := m.spawnChild(spec, sub.id)
	if err != nil {
		sub.finish(AsyncFailed, "", err.Error())
		m.settle(sub, spec, false, err.Error())
		return
	}
	defer cleanup()

	sub.mu.Lock()
	if sub.status == AsyncPending {
		sub.status = AsyncRunning
	}
	sub.mu.Unlock()
	m.parentBus.Publish(Event{Type: EventAsyncStarted, Async: &AsyncEvent{
		ID: sub.id, Name: sub.name, Mode: sub.mode, StartTime: sub.startTime,
	}})

	// Forward child step progress to the parent bus and, in watch mode,
	// scan the latest tool output for the trigger pattern.
	progress := child.Bus().Subscribe()
	var fwd sync.WaitGroup
	fwd.Add(1)
	go func() {
		defer fwd.Done()
		seenTool := 0
		for ev := range progress.C {
			if ev.Type != EventStepBegin {
				continue
			}
			m.parentBus.Publish(Event{Type: EventAsyncProgress, Async: &AsyncEvent{
				ID:   sub.id,
				Name: sub.name,
				Mode: sub.mode,
				Step: ev.Step,
				Info: fmt.Sprintf("step %d", ev.Step),
			}})
			if re == nil {
				continue
			}
			line, idx := latestToolLineMatch(child.Store(), re, seenTool)
			if idx >= 0 {
				seenTool = idx + 1
			}
			if line == "" {
				continue
			}
			m.parentBus.Publish(Event{Type: EventAsyncTrigger, Async: &AsyncEvent{
				ID:          sub.id,
				Name:        sub.name,
				Pattern:     spec.TriggerPattern,
				MatchedLine: trimLine(line, asyncTriggerLineLimit),
				Time:        time.Now(),
			}})
			if !spec.ContinueAfterTrigger {
				go m.Cancel(sub.id)
				return
			}
		}
	}()

	prompt := spec.Prompt
	if spec.Mode == AsyncWatch {
		prompt = watchPrompt(spec)
	}
	runErr := child.Run(runCtx, prompt)

	progress.Close()
	fwd.Wait()

	switch {
	case runErr == nil:
		result := finalAssistantText(child.Store())
		sub.finish(AsyncCompleted, result, "")
		m.settle(sub, spec, true, result)
	case spec.Timeout > 0 && runCtx.Err() == context.DeadlineExceeded:
		sub.finish(AsyncTimedOut, "", "timeout")
		m.settle(sub, spec, false, "timeout")
	case ctx.Err() == context.Canceled:
		// Cancel() already finalized and moved the record.
	default:
		sub.finish(AsyncFailed, "", runErr.Error())
		m.settle(sub, spec, false, runErr.Error())
	}
}

// settle moves a terminal subagent from the live set to the completed
// cache, publishes completion, persists, and runs the callback at most
// once. A subagent that Cancel already moved is left alone.
func (m *AsyncManager) settle(sub *asyncSubagent, spec AsyncSpec, success bool, info string) {
	m.mu.Lock()
	if _, ok := m.live[sub.id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.live, sub.id)
	m.pushCompleted(sub)
	m.mu.Unlock()

	rec := sub.record()
	m.parentBus.Publish(Event{Type: EventAsyncCompleted, Async: &AsyncEvent{
		ID:       sub.id,
		Name:     sub.name,
		Mode:     sub.mode,
		Result:   info,
		Success:  success,
		Duration: time.Duration(rec.DurationMs) * time.Millisecond,
	}})
	m.store.Save(m.rt.WorkDir, rec)
	m.logger.Info("async subagent finished",
		"id", sub.id, "status", string(rec.Status), "duration", FormatDuration(rec.DurationMs))
	runCallback(spec.Callback, rec, m.logger)
}

// runCallback invokes cb once, swallowing panics.
func runCallback(cb AsyncCallback, rec AsyncRecord, logger *slog.Logger) {
	if cb == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			logger.Warn("async callback panic", "id", rec.ID, "panic", fmt.Sprintf("%v", p))
		}
	}()
	cb(rec)
}

// pushCompleted prepends to the ring, evicting past the cache limit.
// Callers hold m.mu.
func (m *AsyncManager) pushCompleted(sub *asyncSubagent) {
	m.completed = append([]*asyncSubagent{sub}, m.completed...)
	if len(m.completed) > completedCacheLimit {
		m.completed = m.completed[:completedCacheLimit]
	}
}

// spawnChild builds the child engine for one async run: its own
// history file, bus, and registry without recursive subagent tools.
func (m *AsyncManager) spawnChild(spec AsyncSpec, id string) (*Engine, func(), error) {
	ext := filepath.Ext(m.historyBase)
	path := fmt.Sprintf("%s_async_%s%s", strings.TrimSuffix(m.historyBase, ext), id, ext)
	store, err := NewContextStore(path, ContextLogger(m.logger))
	if err != nil {
		return nil, nil, err
	}
	childBus := NewWire()
	registry, err := m.rt.Tools(m.rt, childBus, false)
	if err != nil {
		childBus.Close()
		store.Close()
		return nil, nil, err
	}
	child := NewEngine(spec.Agent, m.rt, store, childBus, registry, EngineSub(true))
	cleanup := func() {
		childBus.Close()
		store.Close()
	}
	return child, cleanup, nil
}

// Cancel disposes a live subagent: its context is cancelled, the
// status flips to cancelled with an end time, and the record moves to
// the completed cache and persistence. Returns false for unknown or
// already-terminal ids.
func (m *AsyncManager) Cancel(id string) bool {
	m.mu.Lock()
	sub, ok := m.live[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.live, id)
	sub.finish(AsyncCancelled, "", "")
	m.pushCompleted(sub)
	m.mu.Unlock()

	sub.mu.Lock()
	cancel := sub.cancel
	sub.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.store.Save(m.rt.WorkDir, sub.record())
	m.logger.Info("async subagent cancelled", "id", id)
	return true
}

// List returns snapshots of the live (non-terminal) subagents.
func (m *AsyncManager) List() []AsyncRecord {
	m.mu.Lock()
	subs := make([]*asyncSubagent, 0, len(m.live))
	for _, s := range m.live {
		subs = append(subs, s)
	}
	m.mu.Unlock()
	out := make([]AsyncRecord, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.record())
	}
	return out
}

// Get returns a live or cached-completed subagent by id.
func (m *AsyncManager) Get(id string) (AsyncRecord, bool) {
	m.mu.Lock()
	if s, ok := m.live[id]; ok {
		m.mu.Unlock()
		return s.record(), true
	}
	for _, s := range m.completed {
		if s.id == id {
			m.mu.Unlock()
			return s.record(), true
		}
	}
	m.mu.Unlock()
	return AsyncRecord{}, false
}

// ListCompleted returns the in-memory ring of terminal subagents,
// newest first.
func (m *AsyncManager) ListCompleted() []AsyncRecord {
	m.mu.Lock()
	subs := make([]*asyncSubagent, len(m.completed))
	copy(subs, m.completed)
	m.mu.Unlock()
	out := make([]AsyncRecord, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.record())
	}
	return out
}

// Persistence exposes the per-workdir record store (for UI commands).
func (m *AsyncManager) Persistence() *AsyncStore { return m.store }

// WorkDir returns the workdir records are persisted under.
func (m *AsyncManager) WorkDir() string { return m.rt.WorkDir }

// ShutdownAll cancels every live subagent and stops accepting work.
func (m *AsyncManager) ShutdownAll() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Cancel(id)
	}
	close(m.queue)
	m.wg.Wait()
}

// latestToolLineMatch scans tool-role messages at or after fromIdx for
// a line matching re. It returns the first matching line of the most
// recent tool message that has one ("" when none matches) and the index
// of the last tool message seen.
func latestToolLineMatch(store *ContextStore, re *regexp.Regexp, fromIdx int) (string, int) {
	history := store.History()
	lastTool := -1
	match := ""
	for i := fromIdx; i < len(history); i++ {
		if history[i].Role != RoleTool {
			continue
		}
		lastTool = i
		for _, line := range strings.Split(history[i].Text(), "\n") {
			if re.MatchString(line) {
				match = line
				break
			}
		}
	}
	return match, lastTool
}

func trimLine(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// watchPrompt augments the child's prompt with the watch instructions.
func watchPrompt(spec AsyncSpec) string {
	var b strings.Builder
	b.WriteString(spec.Prompt)
	b.WriteString("\n\nYou are running in watch mode.")
	if spec.WatchTarget != "" {
		b.WriteString(" Watch target: ")
		b.WriteString(spec.WatchTarget)
		b.WriteString(".")
	}
	b.WriteString(" Repeatedly inspect the target and report what you observe. ")
	b.WriteString("A supervisor scans your tool output for the pattern `")
	b.WriteString(spec.TriggerPattern)
	b.WriteString("`.")
	if spec.OnTrigger != "" {
		b.WriteString(" When it fires: ")
		b.WriteString(spec.OnTrigger)
	}
	return b.String()
}
