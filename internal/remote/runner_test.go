package remote

import (
	"strings"
	"testing"
	"time"

	"nasenv/pkg/env"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.Port != 22 {
		t.Errorf("Expected port 22, got %d", cfg.Port)
	}
	if cfg.Username != "root" {
		t.Errorf("Expected username root, got %q", cfg.Username)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Expected 10s timeout, got %v", cfg.Timeout)
	}
	if cfg.RemoteDir != "/tmp/nasenv" {
		t.Errorf("Expected /tmp/nasenv remote dir, got %q", cfg.RemoteDir)
	}
	if cfg.Command != "nasenv-trainer" {
		t.Errorf("Expected nasenv-trainer command, got %q", cfg.Command)
	}

	custom := Config{Port: 2222, Username: "trainer", Timeout: time.Minute}.withDefaults()
	if custom.Port != 2222 || custom.Username != "trainer" || custom.Timeout != time.Minute {
		t.Errorf("Expected explicit values to survive, got %+v", custom)
	}
}

func TestTrainerCommand(t *testing.T) {
	r := NewRunner(Config{Host: "10.0.0.5", Command: "python3 trainer.py"})

	cmd := r.trainerCommand(Job{Task: "clusters-5way-3shot"}, "/tmp/nasenv/a.state.json", "/tmp/nasenv/a.result.json")
	want := "python3 trainer.py --state /tmp/nasenv/a.state.json --task clusters-5way-3shot --result /tmp/nasenv/a.result.json"
	if cmd != want {
		t.Errorf("Expected %q, got %q", want, cmd)
	}

	cmd = r.trainerCommand(Job{Task: "clusters-5way-3shot", Epochs: 8}, "/tmp/s", "/tmp/r")
	if !strings.HasSuffix(cmd, " --epochs 8") {
		t.Errorf("Expected epochs flag appended, got %q", cmd)
	}
}

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{
		PhaseConnect: "connect",
		PhaseUpload:  "upload",
		PhaseTrain:   "train",
		PhaseFetch:   "fetch",
		PhaseCleanup: "cleanup",
		Phase(99):    "unknown",
	}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Errorf("Expected %q for phase %d, got %q", want, int(phase), got)
		}
	}
}

func TestEvaluateValidatesJob(t *testing.T) {
	r := NewRunner(Config{Host: "192.0.2.1"})

	if _, err := r.Evaluate(Job{}); err == nil || !strings.Contains(err.Error(), "no task") {
		t.Errorf("Expected missing task error, got %v", err)
	}
	if _, err := r.Evaluate(Job{Task: "t"}); err == nil || !strings.Contains(err.Error(), "no model state") {
		t.Errorf("Expected missing state error, got %v", err)
	}
}

func TestEvaluateRequiresHost(t *testing.T) {
	r := NewRunner(Config{})

	_, err := r.Evaluate(Job{Task: "t", State: env.ModelState("{}")})
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Errorf("Expected unconfigured host error, got %v", err)
	}
}

func TestCommandsRequireConnection(t *testing.T) {
	r := NewRunner(Config{Host: "192.0.2.1"})

	if _, err := r.RunCommand("true"); err == nil {
		t.Error("Expected RunCommand to fail without a connection")
	}
	if err := r.UploadBytes("/tmp/x", []byte("data")); err == nil {
		t.Error("Expected UploadBytes to fail without a connection")
	}
}

func TestResultsReturnsCopy(t *testing.T) {
	r := NewRunner(Config{Host: "192.0.2.1"})
	r.addResult(PhaseResult{Phase: PhaseUpload, Success: true})
	r.addResult(PhaseResult{Phase: PhaseTrain, Success: false, Error: "boom"})

	results := r.Results()
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	results[0].Success = false

	again := r.Results()
	if !again[0].Success {
		t.Error("Expected internal results to be unaffected by caller mutation")
	}
	if again[1].Error != "boom" {
		t.Errorf("Expected recorded error to survive, got %q", again[1].Error)
	}
}
