package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ShayCichocki/foreman/internal/events"
	"github.com/ShayCichocki/foreman/pkg/models"
)

type recordingObserver struct {
	assigned, completed, failed, cancelled []string
}

func (o *recordingObserver) TaskAssigned(t *models.Task)  { o.assigned = append(o.assigned, t.ID) }
func (o *recordingObserver) TaskCompleted(t *models.Task) { o.completed = append(o.completed, t.ID) }
func (o *recordingObserver) TaskFailed(t *models.Task)    { o.failed = append(o.failed, t.ID) }
func (o *recordingObserver) TaskCancelled(t *models.Task) { o.cancelled = append(o.cancelled, t.ID) }

func newTestQueue() (*Queue, *clockwork.FakeClock, *events.Recorder) {
	clock := clockwork.NewFakeClock()
	rec := &events.Recorder{}
	return New(WithClock(clock), WithEmitter(rec)), clock, rec
}

func TestQueue_CreateDefaults(t *testing.T) {
	q, clock, rec := newTestQueue()

	task := q.Create(Spec{Title: "write docs"})

	if task.ID == "" {
		t.Error("expected generated ID")
	}
	if task.Priority != models.PriorityMedium {
		t.Errorf("Priority = %s, want medium", task.Priority)
	}
	if task.MaxRetries != models.DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", task.MaxRetries, models.DefaultMaxRetries)
	}
	if len(task.Dependencies) != 0 {
		t.Errorf("Dependencies = %v, want empty", task.Dependencies)
	}
	if task.Status != models.TaskStatusPending {
		t.Errorf("Status = %s, want pending", task.Status)
	}
	if !task.CreatedAt.Equal(clock.Now()) {
		t.Errorf("CreatedAt = %v, want %v", task.CreatedAt, clock.Now())
	}
	if rec.Count(events.TaskCreated) != 1 {
		t.Error("expected task-created event")
	}

	other := q.Create(Spec{Title: "other"})
	if other.ID == task.ID {
		t.Error("IDs should be unique")
	}
}

func TestQueue_PriorityOrder(t *testing.T) {
	q, _, _ := newTestQueue()

	low := q.Create(Spec{Title: "low", Priority: models.PriorityLow})
	high := q.Create(Spec{Title: "high", Priority: models.PriorityHigh})
	medium := q.Create(Spec{Title: "medium", Priority: models.PriorityMedium})

	want := []string{high.ID, medium.ID, low.ID}
	for i, id := range want {
		next := q.GetNext()
		if next == nil {
			t.Fatalf("GetNext() #%d = nil", i)
		}
		if next.ID != id {
			t.Errorf("GetNext() #%d = %s, want %s", i, next.Title, id)
		}
		if !q.Assign(next.ID, "w1") {
			t.Fatalf("Assign(%s) failed", next.Title)
		}
	}
	if q.GetNext() != nil {
		t.Error("GetNext() should be nil once everything is assigned")
	}
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	q, _, _ := newTestQueue()
	first := q.Create(Spec{Title: "first", Priority: models.PriorityHigh})
	q.Create(Spec{Title: "second", Priority: models.PriorityHigh})

	if next := q.GetNext(); next.ID != first.ID {
		t.Errorf("GetNext() = %s, want first", next.Title)
	}
}

func TestQueue_DependencyGating(t *testing.T) {
	q, _, _ := newTestQueue()
	a := q.Create(Spec{Title: "a"})
	b := q.Create(Spec{Title: "b", Dependencies: []string{a.ID}, Priority: models.PriorityHigh})

	if q.DependenciesMet(b.ID) {
		t.Error("DependenciesMet(b) should be false before a completes")
	}
	if q.Assign(b.ID, "w1") {
		t.Error("Assign(b) should fail while dependencies are unmet")
	}
	if next := q.GetNext(); next.ID != a.ID {
		t.Errorf("GetNext() = %s, want a", next.Title)
	}

	q.Assign(a.ID, "w1")
	q.Complete(a.ID, "done")

	if !q.DependenciesMet(b.ID) {
		t.Error("DependenciesMet(b) should be true after a completes")
	}
	if !q.Assign(b.ID, "w1") {
		t.Error("Assign(b) should succeed after a completes")
	}
	q.Complete(b.ID, "done")
	if !q.DependenciesMet(b.ID) {
		t.Error("DependenciesMet should stay true")
	}
}

func TestQueue_DependenciesMet_Unknown(t *testing.T) {
	q, _, _ := newTestQueue()
	if !q.DependenciesMet("missing") {
		t.Error("unknown task should report dependencies met")
	}
	task := q.Create(Spec{Dependencies: []string{"ghost"}})
	if q.DependenciesMet(task.ID) {
		t.Error("unknown dependency should be unmet")
	}
}

func TestQueue_AssignFailures(t *testing.T) {
	q, _, _ := newTestQueue()
	task := q.Create(Spec{})

	if q.Assign("missing", "w1") {
		t.Error("Assign(missing) should fail")
	}
	if !q.Assign(task.ID, "w1") {
		t.Fatal("first Assign should succeed")
	}
	if q.Assign(task.ID, "w2") {
		t.Error("second Assign should fail")
	}

	got, _ := q.Get(task.ID)
	if got.Status != models.TaskStatusInProgress || got.AssignedTo != "w1" || got.StartedAt == nil {
		t.Errorf("assigned task = %+v", got)
	}
}

func TestQueue_CompleteAndFailRequireInProgress(t *testing.T) {
	q, _, _ := newTestQueue()
	task := q.Create(Spec{})

	if q.Complete(task.ID, "x") {
		t.Error("Complete(pending) should fail")
	}
	if q.Fail(task.ID, "x") {
		t.Error("Fail(pending) should fail")
	}
	if q.Complete("missing", "x") || q.Fail("missing", "x") {
		t.Error("operations on missing tasks should fail")
	}
}

func TestQueue_ExactlyMaxRetries(t *testing.T) {
	q, _, rec := newTestQueue()
	task := q.Create(Spec{MaxRetries: Retries(3)})

	retries := 0
	for i := 0; i < 4; i++ {
		if !q.Assign(task.ID, "w1") {
			t.Fatalf("attempt %d: Assign failed", i)
		}
		if !q.Fail(task.ID, "boom") {
			t.Fatalf("attempt %d: Fail failed", i)
		}
		if q.Retry(task.ID) {
			retries++
		}
	}

	if retries != 3 {
		t.Errorf("retries = %d, want 3", retries)
	}
	got, _ := q.Get(task.ID)
	if got.Status != models.TaskStatusFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
	if got.RetryCount != 4 {
		t.Errorf("RetryCount = %d, want 4", got.RetryCount)
	}
	if rec.Count(events.TaskRetried) != 3 {
		t.Errorf("task-retried events = %d, want 3", rec.Count(events.TaskRetried))
	}
}

func TestQueue_RetryResetsTask(t *testing.T) {
	q, _, _ := newTestQueue()
	task := q.Create(Spec{})
	q.Assign(task.ID, "w1")
	q.Fail(task.ID, "boom")

	if !q.Retry(task.ID) {
		t.Fatal("Retry failed")
	}
	got, _ := q.Get(task.ID)
	if got.Status != models.TaskStatusPending || got.AssignedTo != "" || got.StartedAt != nil || got.Error != "" {
		t.Errorf("retried task not reset: %+v", got)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
	if q.Retry(task.ID) {
		t.Error("Retry(pending) should fail")
	}
}

func TestQueue_Cancel(t *testing.T) {
	q, _, _ := newTestQueue()
	obs := &recordingObserver{}
	q.AddObserver(obs)

	pending := q.Create(Spec{})
	running := q.Create(Spec{})
	done := q.Create(Spec{})
	q.Assign(running.ID, "w1")
	q.Assign(done.ID, "w1")
	q.Complete(done.ID, "ok")

	if !q.Cancel(pending.ID, "stop") || !q.Cancel(running.ID, "stop") {
		t.Error("Cancel should succeed for pending and in-progress tasks")
	}
	if q.Cancel(done.ID, "stop") {
		t.Error("Cancel(completed) should fail")
	}
	if len(obs.cancelled) != 2 {
		t.Errorf("cancelled observer calls = %d, want 2", len(obs.cancelled))
	}
}

func TestQueue_ObserversSeeTransitions(t *testing.T) {
	q, _, _ := newTestQueue()
	obs := &recordingObserver{}
	q.AddObserver(obs)

	a := q.Create(Spec{})
	b := q.Create(Spec{})
	q.Assign(a.ID, "w1")
	q.Assign(b.ID, "w1")
	q.Complete(a.ID, "ok")
	q.Fail(b.ID, "boom")

	if len(obs.assigned) != 2 || len(obs.completed) != 1 || len(obs.failed) != 1 {
		t.Errorf("observer calls = %+v", obs)
	}
}

type reentrantObserver struct {
	q *Queue
	recordingObserver
}

func (o *reentrantObserver) TaskAssigned(t *models.Task) {
	o.q.Complete(t.ID, "instant")
}

func TestQueue_ObserverMayReenter(t *testing.T) {
	q, _, _ := newTestQueue()
	q.AddObserver(&reentrantObserver{q: q})

	task := q.Create(Spec{})
	q.Assign(task.ID, "w1")

	got, _ := q.Get(task.ID)
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
}

func TestQueue_Statistics(t *testing.T) {
	q, clock, _ := newTestQueue()

	empty := q.Statistics()
	if empty.Total != 0 || empty.AverageCompletionTime != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
	for s, n := range empty.ByStatus {
		if n != 0 {
			t.Errorf("ByStatus[%s] = %d, want 0", s, n)
		}
	}

	a := q.Create(Spec{Priority: models.PriorityHigh})
	b := q.Create(Spec{})
	q.Create(Spec{Priority: models.PriorityLow})

	q.Assign(a.ID, "w1")
	clock.Advance(1000 * time.Millisecond)
	q.Complete(a.ID, "ok")

	q.Assign(b.ID, "w1")
	clock.Advance(3000 * time.Millisecond)
	q.Complete(b.ID, "ok")

	stats := q.Statistics()
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.ByStatus[models.TaskStatusCompleted] != 2 || stats.ByStatus[models.TaskStatusPending] != 1 {
		t.Errorf("ByStatus = %v", stats.ByStatus)
	}
	if stats.ByPriority[models.PriorityHigh] != 1 || stats.ByPriority[models.PriorityMedium] != 1 || stats.ByPriority[models.PriorityLow] != 1 {
		t.Errorf("ByPriority = %v", stats.ByPriority)
	}
	if stats.AverageCompletionTime != 2000*time.Millisecond {
		t.Errorf("AverageCompletionTime = %v, want 2s", stats.AverageCompletionTime)
	}
}

func TestQueue_List(t *testing.T) {
	q, _, _ := newTestQueue()
	a := q.Create(Spec{Metadata: map[string]string{models.MetaWorkflowID: "wf1"}})
	q.Create(Spec{})
	q.Assign(a.ID, "w1")

	if got := q.List(Filter{Status: models.TaskStatusInProgress}); len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("List(in_progress) = %v", got)
	}
	if got := q.List(Filter{WorkflowID: "wf1"}); len(got) != 1 {
		t.Errorf("List(workflow) = %d tasks, want 1", len(got))
	}
	if got := q.List(Filter{}); len(got) != 2 {
		t.Errorf("List() = %d tasks, want 2", len(got))
	}
}

func TestQueue_GetUnknown(t *testing.T) {
	q, _, _ := newTestQueue()
	if _, err := q.Get("nope"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Get(unknown) error = %v", err)
	}
}

func TestQueue_ZeroMaxRetriesMeansNoRetry(t *testing.T) {
	q, _, _ := newTestQueue()
	once := q.Create(Spec{MaxRetries: Retries(0)})
	fallback := q.Create(Spec{MaxRetries: Retries(-1)})

	if once.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want 0", once.MaxRetries)
	}
	if fallback.MaxRetries != models.DefaultMaxRetries {
		t.Errorf("negative MaxRetries = %d, want default %d", fallback.MaxRetries, models.DefaultMaxRetries)
	}

	q.Assign(once.ID, "w1")
	q.Fail(once.ID, "boom")
	if q.Retry(once.ID) {
		t.Error("Retry succeeded on a task created with zero retries")
	}
}

func TestQueue_CreateAssigned(t *testing.T) {
	q, clock, rec := newTestQueue()
	obs := &recordingObserver{}
	q.AddObserver(obs)

	task, ok := q.CreateAssigned(Spec{Title: "step"}, "w1")
	if !ok {
		t.Fatal("CreateAssigned failed")
	}
	if task.Status != models.TaskStatusInProgress || task.AssignedTo != "w1" {
		t.Errorf("task = %s on %q, want in_progress on w1", task.Status, task.AssignedTo)
	}
	if task.StartedAt == nil || !task.StartedAt.Equal(clock.Now()) {
		t.Errorf("StartedAt = %v", task.StartedAt)
	}
	if next := q.GetNext(); next != nil {
		t.Errorf("GetNext = %s, want nothing pending", next.ID)
	}
	if len(obs.assigned) != 1 || obs.assigned[0] != task.ID {
		t.Errorf("observer assigned = %v", obs.assigned)
	}
	evs := rec.Events()
	if len(evs) != 2 || evs[0].Type != events.TaskCreated || evs[1].Type != events.TaskAssigned {
		t.Errorf("events = %v, want created then assigned", evs)
	}

	if _, ok := q.CreateAssigned(Spec{Title: "nobody"}, ""); ok {
		t.Error("CreateAssigned with no worker succeeded")
	}
	dep := q.Create(Spec{Title: "dep"})
	if _, ok := q.CreateAssigned(Spec{Title: "blocked", Dependencies: []string{dep.ID}}, "w1"); ok {
		t.Error("CreateAssigned with an unmet dependency succeeded")
	}
	if n := len(q.List(Filter{})); n != 2 {
		t.Errorf("tasks = %d, want 2 after rejected creates", n)
	}
}
