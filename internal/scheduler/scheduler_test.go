package scheduler

import (
	"testing"
	"time"

	"github.com/hacktisch/mailcow-status-tracker/internal/config"
)

func TestSchedulerRestart(t *testing.T) {
	cfg := &config.SchedulerConfig{CronSpec: "0 0 * * * *"}
	sched := NewScheduler(cfg, nil)

	if err := sched.Start(); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if !sched.IsRunning() {
		t.Fatalf("scheduler should be running after Start")
	}
	if err := sched.Start(); err == nil {
		t.Fatalf("second Start while running should fail")
	}
	if err := sched.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if sched.IsRunning() {
		t.Fatalf("scheduler should not be running after Stop")
	}
	if sched.GetNextRun() != (time.Time{}) {
		t.Fatalf("stopped scheduler should report a zero next run")
	}
	// stopping twice is a no-op
	if err := sched.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
}

func TestSchedulerRejectsBadCronSpec(t *testing.T) {
	cfg := &config.SchedulerConfig{CronSpec: "not a schedule"}
	sched := NewScheduler(cfg, nil)

	if err := sched.Start(); err == nil {
		t.Fatalf("Start with an invalid cron spec should fail")
	}
	if sched.IsRunning() {
		t.Fatalf("scheduler should not be running after a failed Start")
	}
}
