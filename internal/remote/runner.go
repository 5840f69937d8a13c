// Package remote runs fine-tune evaluations on a training host over SSH.
//
// The local search model is too small to judge an architecture on its own,
// so the agent can ship a serialized model snapshot to a beefier machine,
// run the trainer there, and read the resulting accuracy back as JSON.
package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"nasenv/internal/config"
	"nasenv/pkg/env"
)

// Phase identifies one step of a remote evaluation.
type Phase int

const (
	PhaseConnect Phase = iota
	PhaseUpload
	PhaseTrain
	PhaseFetch
	PhaseCleanup
)

func (p Phase) String() string {
	switch p {
	case PhaseConnect:
		return "connect"
	case PhaseUpload:
		return "upload"
	case PhaseTrain:
		return "train"
	case PhaseFetch:
		return "fetch"
	case PhaseCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// Config holds the connection settings for the training host.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	Timeout   time.Duration
	RemoteDir string
	// Command is the trainer binary invoked on the remote host. It receives
	// --state, --task, --epochs and --result flags.
	Command string
}

// DefaultConfig reads the trainer host settings from the environment.
func DefaultConfig() Config {
	return Config{
		Host:      config.GetTrainerHost(),
		Port:      config.GetInt("TRAINER_PORT", 22),
		Username:  config.GetTrainerUsername(),
		Password:  config.GetTrainerPassword(),
		Timeout:   config.GetDuration("TRAINER_TIMEOUT", 10*time.Second),
		RemoteDir: config.GetString("TRAINER_REMOTE_DIR", "/tmp/nasenv"),
		Command:   config.GetString("TRAINER_COMMAND", "nasenv-trainer"),
	}
}

func (c Config) withDefaults() Config {
	if c.Port <= 0 {
		c.Port = 22
	}
	if c.Username == "" {
		c.Username = "root"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RemoteDir == "" {
		c.RemoteDir = "/tmp/nasenv"
	}
	if c.Command == "" {
		c.Command = "nasenv-trainer"
	}
	return c
}

// PhaseResult records the outcome of one evaluation phase.
type PhaseResult struct {
	Phase     Phase     `json:"phase"`
	Success   bool      `json:"success"`
	Output    string    `json:"output"`
	Error     string    `json:"error,omitempty"`
	Duration  float64   `json:"duration_seconds"`
	Timestamp time.Time `json:"timestamp"`
}

// Job describes one fine-tune evaluation. The model snapshot is uploaded
// to the training host, the trainer command runs against it, and the
// result file it writes is read back.
type Job struct {
	// Name is used for remote file names. A timestamp is used when empty.
	Name string
	// State is the serialized search model to fine-tune.
	State env.ModelState
	// Task names the task the trainer should fine-tune on.
	Task string
	// Epochs is the number of fine-tune epochs. Zero lets the trainer decide.
	Epochs int
}

// Result is the JSON document the trainer writes when it finishes.
type Result struct {
	Accuracy float64 `json:"accuracy"`
	Loss     float64 `json:"loss,omitempty"`
	Epochs   int     `json:"epochs,omitempty"`
	Seconds  float64 `json:"seconds,omitempty"`
}

// Runner executes evaluation jobs on a single training host.
type Runner struct {
	config    Config
	sshClient *ssh.Client
	mu        sync.Mutex
	results   []PhaseResult
	logWriter io.Writer
}

// NewRunner creates a runner for the given host configuration.
func NewRunner(cfg Config) *Runner {
	return &Runner{config: cfg.withDefaults()}
}

// SetLogWriter directs progress and trainer output to w.
func (r *Runner) SetLogWriter(w io.Writer) {
	r.logWriter = w
}

func (r *Runner) log(format string, args ...interface{}) {
	if r.logWriter != nil {
		fmt.Fprintln(r.logWriter, fmt.Sprintf(format, args...))
	}
}

// Results returns the phase results recorded so far.
func (r *Runner) Results() []PhaseResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PhaseResult, len(r.results))
	copy(out, r.results)
	return out
}

func (r *Runner) addResult(result PhaseResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

// Connect establishes the SSH connection to the training host.
func (r *Runner) Connect() error {
	if r.config.Host == "" {
		return fmt.Errorf("training host is not configured")
	}

	start := time.Now()
	sshConfig := &ssh.ClientConfig{
		User: r.config.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(r.config.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.config.Timeout,
	}

	addr := net.JoinHostPort(r.config.Host, fmt.Sprintf("%d", r.config.Port))
	client, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		r.addResult(PhaseResult{
			Phase:     PhaseConnect,
			Success:   false,
			Error:     err.Error(),
			Duration:  time.Since(start).Seconds(),
			Timestamp: time.Now(),
		})
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	r.sshClient = client
	r.addResult(PhaseResult{
		Phase:     PhaseConnect,
		Success:   true,
		Output:    fmt.Sprintf("connected to %s as %s", addr, r.config.Username),
		Duration:  time.Since(start).Seconds(),
		Timestamp: time.Now(),
	})
	r.log("Connected to training host %s", addr)
	return nil
}

// Disconnect closes the SSH connection.
func (r *Runner) Disconnect() {
	if r.sshClient != nil {
		r.sshClient.Close()
		r.sshClient = nil
	}
}

// RunCommand runs a command on the training host and returns its combined
// output.
func (r *Runner) RunCommand(cmd string) (string, error) {
	if r.sshClient == nil {
		return "", fmt.Errorf("not connected to training host")
	}

	session, err := r.sshClient.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	output, err := session.CombinedOutput(cmd)
	return string(output), err
}

// runStreaming runs a command with its combined output copied to the log
// writer as it arrives, returning the full output once the command exits.
func (r *Runner) runStreaming(cmd string) (string, error) {
	if r.sshClient == nil {
		return "", fmt.Errorf("not connected to training host")
	}

	session, err := r.sshClient.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var buf bytes.Buffer
	var out io.Writer = &buf
	if r.logWriter != nil {
		out = io.MultiWriter(&buf, r.logWriter)
	}
	session.Stdout = out
	session.Stderr = out

	if err := session.Start(cmd); err != nil {
		return "", fmt.Errorf("failed to start command: %w", err)
	}
	err = session.Wait()
	return buf.String(), err
}

// UploadBytes writes content to remotePath on the training host.
func (r *Runner) UploadBytes(remotePath string, content []byte) error {
	if r.sshClient == nil {
		return fmt.Errorf("not connected to training host")
	}

	session, err := r.sshClient.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}

	if err := session.Start(fmt.Sprintf("mkdir -p %s && cat > %s", path.Dir(remotePath), remotePath)); err != nil {
		return fmt.Errorf("failed to start upload: %w", err)
	}
	if _, err := stdin.Write(content); err != nil {
		return fmt.Errorf("failed to write upload data: %w", err)
	}
	stdin.Close()
	return session.Wait()
}

// trainerCommand builds the command line for one job.
func (r *Runner) trainerCommand(job Job, statePath, resultPath string) string {
	cmd := fmt.Sprintf("%s --state %s --task %s --result %s",
		r.config.Command, statePath, job.Task, resultPath)
	if job.Epochs > 0 {
		cmd += fmt.Sprintf(" --epochs %d", job.Epochs)
	}
	return cmd
}

// Evaluate uploads the job's model snapshot, runs the trainer on the
// training host, and returns the parsed result. Phase outcomes are
// recorded and available via Results.
func (r *Runner) Evaluate(job Job) (*Result, error) {
	if job.Task == "" {
		return nil, fmt.Errorf("job has no task")
	}
	if len(job.State) == 0 {
		return nil, fmt.Errorf("job has no model state")
	}
	if r.sshClient == nil {
		if err := r.Connect(); err != nil {
			return nil, err
		}
	}

	name := job.Name
	if name == "" {
		name = fmt.Sprintf("job-%d", time.Now().Unix())
	}
	statePath := path.Join(r.config.RemoteDir, name+".state.json")
	resultPath := path.Join(r.config.RemoteDir, name+".result.json")

	start := time.Now()
	err := r.UploadBytes(statePath, job.State)
	r.addResult(PhaseResult{
		Phase:     PhaseUpload,
		Success:   err == nil,
		Output:    fmt.Sprintf("%d bytes to %s", len(job.State), statePath),
		Error:     errString(err),
		Duration:  time.Since(start).Seconds(),
		Timestamp: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("uploading model state: %w", err)
	}
	r.log("Uploaded model state (%d bytes) to %s", len(job.State), statePath)

	cmd := r.trainerCommand(job, statePath, resultPath)
	r.log("Running %s", cmd)
	start = time.Now()
	output, err := r.runStreaming(cmd)
	r.addResult(PhaseResult{
		Phase:     PhaseTrain,
		Success:   err == nil,
		Output:    output,
		Error:     errString(err),
		Duration:  time.Since(start).Seconds(),
		Timestamp: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("running trainer: %w (output: %s)", err, strings.TrimSpace(output))
	}

	start = time.Now()
	raw, err := r.RunCommand(fmt.Sprintf("cat %s", resultPath))
	var result Result
	if err == nil {
		err = json.Unmarshal([]byte(raw), &result)
	}
	r.addResult(PhaseResult{
		Phase:     PhaseFetch,
		Success:   err == nil,
		Output:    strings.TrimSpace(raw),
		Error:     errString(err),
		Duration:  time.Since(start).Seconds(),
		Timestamp: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("reading trainer result: %w", err)
	}

	start = time.Now()
	cleanupOut, cleanupErr := r.RunCommand(fmt.Sprintf("rm -f %s %s", statePath, resultPath))
	r.addResult(PhaseResult{
		Phase:     PhaseCleanup,
		Success:   cleanupErr == nil,
		Output:    strings.TrimSpace(cleanupOut),
		Error:     errString(cleanupErr),
		Duration:  time.Since(start).Seconds(),
		Timestamp: time.Now(),
	})
	if cleanupErr != nil {
		r.log("Warning: cleanup failed: %v", cleanupErr)
	}

	r.log("Remote evaluation finished: accuracy %.4f", result.Accuracy)
	return &result, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
