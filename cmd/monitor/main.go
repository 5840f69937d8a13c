// NASEnv: Reinforcement Learning Environment for Neural Architecture Search
// Copyright (C) 2026  NASEnv Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"nasenv/internal/client"
	"nasenv/internal/config"
	"nasenv/internal/ui"
)

// portFile is where envd advertises the port it bound
const portFile = "/tmp/envd.port"

// launchTimeout bounds how long a spawned envd gets to become healthy
const launchTimeout = 60 * time.Second

var (
	// Connection flags
	hostURL  = flag.String("url", "", "base URL of the envd host (overrides -port and the port file)")
	hostPort = flag.Int("port", 0, "port of an envd host on localhost")
	interval = flag.Duration("interval", 2*time.Second, "poll interval for session metrics")

	// Launch flags
	launch  = flag.Bool("launch", false, "start an envd host if none is reachable")
	envdBin = flag.String("envd-bin", "envd", "envd binary to run with -launch")
)

// hostState tracks an envd process this monitor launched
type hostState struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	started bool
	port    int
}

func (s *hostState) set(cmd *exec.Cmd, started bool, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmd = cmd
	s.started = started
	s.port = port
}

func (s *hostState) get() (*exec.Cmd, bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd, s.started, s.port
}

func main() {
	flag.Parse()

	filePort, _ := readPortFile(portFile)
	baseURL := resolveBaseURL(*hostURL, *hostPort, filePort, config.GetHostPort())

	api := client.NewAPIClient(baseURL)
	model := ui.NewModel(api, *interval)

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseAllMotion())

	state := &hostState{}
	if *launch {
		logChan := make(chan string, 100)
		go func() {
			for line := range logChan {
				p.Send(ui.AppendLogMsg{Log: line})
			}
		}()

		go func() {
			port, err := ensureEnvd(state, logChan, []int{*hostPort, filePort, config.GetHostPort()})
			if err != nil {
				logChan <- fmt.Sprintf("envd launch failed: %v", err)
				return
			}
			p.Send(ui.HostEndpointMsg{URL: fmt.Sprintf("http://localhost:%d", port)})
		}()

		// The child must be reaped even when the terminal goes away
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			shutdownEnvd(state)
			os.Exit(0)
		}()
	}

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running monitor: %v\n", err)
		shutdownEnvd(state)
		os.Exit(1)
	}

	shutdownEnvd(state)
}

// ensureEnvd reuses a reachable envd host or spawns a fresh one,
// returning the port serving the API.
func ensureEnvd(state *hostState, logChan chan<- string, candidates []int) (int, error) {
	if port := findRunningEnvd(candidates); port > 0 {
		logChan <- fmt.Sprintf("Reusing envd already listening on port %d", port)
		state.set(nil, false, port)
		return port, nil
	}

	logChan <- fmt.Sprintf("Starting %s...", *envdBin)
	cmd, port, err := startEnvd(logChan)
	if err != nil {
		return 0, err
	}
	state.set(cmd, true, port)
	logChan <- fmt.Sprintf("envd ready on port %d", port)
	return port, nil
}

// findRunningEnvd probes candidate ports for a healthy envd host
func findRunningEnvd(candidates []int) int {
	seen := make(map[int]bool)
	for _, port := range candidates {
		if port <= 0 || seen[port] {
			continue
		}
		seen[port] = true
		if isEnvdRunning(port, 2*time.Second) {
			return port
		}
	}
	return 0
}

// isEnvdRunning checks the health endpoint on a local port
func isEnvdRunning(port int, timeout time.Duration) bool {
	httpClient := &http.Client{Timeout: timeout}
	resp, err := httpClient.Get(fmt.Sprintf("http://localhost:%d/api/v1/health", port))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// startEnvd spawns the envd binary, forwards its output to logChan, and
// waits for the advertised port to serve the health endpoint.
func startEnvd(logChan chan<- string) (*exec.Cmd, int, error) {
	bin := *envdBin
	if _, err := exec.LookPath(bin); err != nil && !strings.Contains(bin, "/") {
		// A freshly built binary usually sits in the working directory,
		// which PATH lookup skips.
		if _, statErr := os.Stat("./" + bin); statErr == nil {
			bin = "./" + bin
		}
	}

	cmd := exec.Command(bin)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, 0, fmt.Errorf("capturing envd stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, 0, fmt.Errorf("capturing envd stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, 0, fmt.Errorf("starting %s: %w", bin, err)
	}

	go forwardOutput(stdout, logChan)
	go forwardOutput(stderr, logChan)

	start := time.Now()
	for time.Since(start) < launchTimeout {
		if port, err := readPortFile(portFile); err == nil && isEnvdRunning(port, 5*time.Second) {
			return cmd, port, nil
		}
		time.Sleep(500 * time.Millisecond)
	}

	cmd.Process.Kill()
	return nil, 0, fmt.Errorf("envd not ready after %s", launchTimeout)
}

// forwardOutput streams a child pipe into the event log channel
func forwardOutput(pipe io.Reader, logChan chan<- string) {
	buf := make([]byte, 1024)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			logChan <- strings.TrimRight(string(buf[:n]), "\n")
		}
		if err != nil {
			return
		}
	}
}

// shutdownEnvd stops an envd process this monitor started. Hosts that
// were already running are left alone.
func shutdownEnvd(state *hostState) {
	cmd, started, port := state.get()
	if !started || cmd == nil {
		return
	}

	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Post(fmt.Sprintf("http://localhost:%d/api/v1/shutdown", port), "application/json", nil)
	if err == nil {
		resp.Body.Close()
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		cmd.Process.Kill()
	}
}

// resolveBaseURL picks the envd endpoint: an explicit URL wins, then an
// explicit port, then the advertised port file, then the configured default.
func resolveBaseURL(rawURL string, flagPort, filePort, fallbackPort int) string {
	if rawURL != "" {
		return strings.TrimRight(rawURL, "/")
	}
	if flagPort > 0 {
		return fmt.Sprintf("http://localhost:%d", flagPort)
	}
	if filePort > 0 {
		return fmt.Sprintf("http://localhost:%d", filePort)
	}
	return fmt.Sprintf("http://localhost:%d", fallbackPort)
}

// readPortFile reads the port an envd host wrote on startup
func readPortFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid port file %s: %w", path, err)
	}

	return port, nil
}
