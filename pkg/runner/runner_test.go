package runner_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/plaenen/orderstream/pkg/runner"
)

// journal records lifecycle calls across services.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) contains(entry string) bool {
	for _, e := range j.list() {
		if e == entry {
			return true
		}
	}
	return false
}

type fakeService struct {
	name     string
	startErr error
	stopWait time.Duration
	journal  *journal
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Start(ctx context.Context) error {
	s.journal.add("start " + s.name)
	return s.startErr
}

func (s *fakeService) Stop(ctx context.Context) error {
	if s.stopWait > 0 {
		time.Sleep(s.stopWait)
	}
	s.journal.add("stop " + s.name)
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRunnerStartAndStop(t *testing.T) {
	j := &journal{}
	a := &fakeService{name: "a", journal: j}
	b := &fakeService{name: "b", journal: j}

	r := runner.New([]runner.Service{a, b})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	waitFor(t, func() bool { return j.contains("start a") && j.contains("start b") })

	// Startup order follows registration order.
	entries := j.list()
	if entries[0] != "start a" || entries[1] != "start b" {
		t.Errorf("unexpected start order: %v", entries)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	if !j.contains("stop a") || !j.contains("stop b") {
		t.Errorf("services not stopped: %v", j.list())
	}
}

func TestRunnerStartFailureStopsStartedServices(t *testing.T) {
	j := &journal{}
	a := &fakeService{name: "a", journal: j}
	b := &fakeService{name: "b", journal: j, startErr: errors.New("port in use")}

	r := runner.New([]runner.Service{a, b})

	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("expected run to fail")
	}
	if !strings.Contains(err.Error(), "b") {
		t.Errorf("error does not name the failing service: %v", err)
	}

	// The already-started service was wound down.
	if !j.contains("stop a") {
		t.Errorf("service a not stopped after start failure: %v", j.list())
	}
	if j.contains("stop b") {
		t.Errorf("service b stopped despite never starting: %v", j.list())
	}
}

func TestRunnerShutdownTimeout(t *testing.T) {
	j := &journal{}
	slow := &fakeService{name: "slow", journal: j, stopWait: 500 * time.Millisecond}

	r := runner.New([]runner.Service{slow},
		runner.WithShutdownTimeout(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	waitFor(t, func() bool { return j.contains("start slow") })
	cancel()

	select {
	case err := <-errCh:
		if err == nil || !strings.Contains(err.Error(), "shutdown timeout") {
			t.Errorf("expected shutdown timeout error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}
}
