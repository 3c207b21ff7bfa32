package state

import (
	"sync"
	"testing"
	"time"

	"github.com/atelier-dev/atelier/pkg/models"
)

func anyWorker(id string) *models.Worker {
	return &models.Worker{ID: id, RegisteredAt: time.Now()}
}

func TestSelectAndLeasePrefersPriorityThenPhaseThenAge(t *testing.T) {
	db := newTestDB(t)

	now := time.Now()
	design := testTask("t-design", "f1", models.PhaseDesign)
	design.CreatedAt = now

	older := testTask("t-older", "f1", models.PhaseImplement)
	older.CreatedAt = now.Add(1 * time.Millisecond)

	newer := testTask("t-newer", "f1", models.PhaseImplement)
	newer.CreatedAt = now.Add(2 * time.Millisecond)

	urgent := testTask("t-urgent", "f1", models.PhaseTest)
	urgent.Priority = 5
	urgent.CreatedAt = now.Add(3 * time.Millisecond)

	seedFeature(t, db, "f1", design, older, newer, urgent)

	want := []string{"t-urgent", "t-design", "t-older", "t-newer"}
	for i, expected := range want {
		task, lease, err := db.SelectAndLease(anyWorker("w1"), time.Minute)
		if err != nil {
			t.Fatalf("select %d: %v", i, err)
		}
		if task == nil {
			t.Fatalf("select %d: no task, want %s", i, expected)
		}
		if task.ID != expected {
			t.Fatalf("select %d: got %s, want %s", i, task.ID, expected)
		}
		if lease.TaskID != task.ID {
			t.Fatalf("lease is for %s, not %s", lease.TaskID, task.ID)
		}
		// Complete it so the next pick moves on.
		if err := db.UpdateTaskStatus(task.ID, models.TaskStatusInProgress, ""); err != nil {
			t.Fatal(err)
		}
		if err := db.UpdateTaskStatus(task.ID, models.TaskStatusDone, ""); err != nil {
			t.Fatal(err)
		}
	}

	task, _, err := db.SelectAndLease(anyWorker("w1"), time.Minute)
	if err != nil {
		t.Fatalf("final select: %v", err)
	}
	if task != nil {
		t.Errorf("expected no task left, got %s", task.ID)
	}
}

func TestSelectAndLeaseHonorsDependencies(t *testing.T) {
	db := newTestDB(t)

	design := testTask("t1", "f1", models.PhaseDesign)
	impl := testTask("t2", "f1", models.PhaseImplement, "t1")
	seedFeature(t, db, "f1", design, impl)

	task, _, err := db.SelectAndLease(anyWorker("w1"), time.Minute)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if task.ID != "t1" {
		t.Fatalf("got %s, want t1 (t2 is gated)", task.ID)
	}

	// t2 stays gated while t1 is merely leased.
	gated, _, err := db.SelectAndLease(anyWorker("w2"), time.Minute)
	if err != nil {
		t.Fatalf("gated select: %v", err)
	}
	if gated != nil {
		t.Fatalf("t2 assigned before t1 done: %s", gated.ID)
	}

	if err := db.UpdateTaskStatus("t1", models.TaskStatusInProgress, ""); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateTaskStatus("t1", models.TaskStatusDone, ""); err != nil {
		t.Fatal(err)
	}

	unlocked, _, err := db.SelectAndLease(anyWorker("w2"), time.Minute)
	if err != nil {
		t.Fatalf("unlocked select: %v", err)
	}
	if unlocked == nil || unlocked.ID != "t2" {
		t.Fatalf("expected t2 after t1 done, got %+v", unlocked)
	}
}

func TestSelectAndLeaseHonorsCapabilities(t *testing.T) {
	db := newTestDB(t)
	seedFeature(t, db, "f1", testTask("t1", "f1", models.PhaseDesign))

	implOnly := &models.Worker{
		ID:           "w-impl",
		Capabilities: []models.TaskPhase{models.PhaseImplement},
		RegisteredAt: time.Now(),
	}
	task, _, err := db.SelectAndLease(implOnly, time.Minute)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if task != nil {
		t.Fatalf("implement-only worker got design task %s", task.ID)
	}

	designer := &models.Worker{
		ID:           "w-design",
		Capabilities: []models.TaskPhase{models.PhaseDesign},
		RegisteredAt: time.Now(),
	}
	task, _, err = db.SelectAndLease(designer, time.Minute)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if task == nil || task.ID != "t1" {
		t.Fatalf("design worker should get t1, got %+v", task)
	}
}

func TestSelectAndLeaseNeverDoubleAssigns(t *testing.T) {
	db := newTestDB(t)

	now := time.Now()
	var tasks []*models.Task
	for i := 0; i < 4; i++ {
		tk := testTask("t"+string(rune('a'+i)), "f1", models.PhaseDesign)
		tk.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		tasks = append(tasks, tk)
	}
	// Only one design task per feature; spread them over features.
	for i, tk := range tasks {
		tk.FeatureID = "f" + string(rune('1'+i))
		seedFeature(t, db, tk.FeatureID, tk)
	}

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	assigned := make(map[string]string)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w := anyWorker("w" + string(rune('0'+id)))
			task, _, err := db.SelectAndLease(w, time.Minute)
			if err != nil {
				t.Errorf("worker %d: %v", id, err)
				return
			}
			if task == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if prev, dup := assigned[task.ID]; dup {
				t.Errorf("task %s assigned to both %s and %s", task.ID, prev, w.ID)
			}
			assigned[task.ID] = w.ID
		}(i)
	}
	wg.Wait()

	if len(assigned) != len(tasks) {
		t.Errorf("assigned %d of %d tasks", len(assigned), len(tasks))
	}
}
