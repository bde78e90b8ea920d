package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dorian/internal/config"
)

func NewDaemonCmd() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background scheduler process (start/stop/restart/status)",
	}

	daemonCmd.AddCommand(&cobra.Command{Use: "start", Short: "Start dorian as daemon", RunE: runDaemonStart})
	daemonCmd.AddCommand(&cobra.Command{Use: "stop", Short: "Stop dorian daemon", RunE: runDaemonStop})
	daemonCmd.AddCommand(&cobra.Command{Use: "restart", Short: "Restart dorian daemon", RunE: runDaemonRestart})
	daemonCmd.AddCommand(&cobra.Command{Use: "status", Short: "Check daemon status", RunE: runDaemonStatus})

	return daemonCmd
}

// daemonFiles locates the pid and log files. The pid file sits next to the
// database so separate deployments on one host do not collide.
func daemonFiles() (pidFile, logFile string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		workDir, werr := os.Getwd()
		if werr != nil {
			workDir = "."
		}
		return filepath.Join(workDir, "dorian.pid"), filepath.Join(workDir, "dorian.log")
	}
	return filepath.Join(filepath.Dir(cfg.Storage.DBPath), "dorian.pid"), cfg.Storage.LogPath
}

func readPid(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	pidFile, logFile := daemonFiles()
	if pid, err := readPid(pidFile); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("daemon is already running (PID: %d)", pid)
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}
	logFileHandle, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFileHandle.Close()

	cmdArgs := []string{"start"}
	if configPath != "" {
		cmdArgs = append(cmdArgs, "--config", configPath)
	}

	processCmd := exec.Command(executable, cmdArgs...)
	processCmd.Stdout = logFileHandle
	processCmd.Stderr = logFileHandle
	processCmd.Dir, _ = os.Getwd()
	processCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := processCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	pid := processCmd.Process.Pid

	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0644); err != nil {
		_ = processCmd.Process.Kill()
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// A bad config makes the child exit immediately; report that here.
	time.Sleep(time.Second)
	if !isProcessRunning(pid) {
		_ = os.Remove(pidFile)
		return fmt.Errorf("daemon exited during startup, see %s", logFile)
	}

	fmt.Printf("Daemon started (PID: %d, Log: %s)\n", pid, logFile)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	pidFile, _ := daemonFiles()
	pid, err := readPid(pidFile)
	if err != nil {
		return fmt.Errorf("daemon is not running (PID file not found)")
	}

	if !isProcessRunning(pid) {
		_ = os.Remove(pidFile)
		return fmt.Errorf("daemon is not running (process not found)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		_ = os.Remove(pidFile)
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	// An in-flight generation can take up to the generator timeout.
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(500 * time.Millisecond)
		if !isProcessRunning(pid) {
			_ = os.Remove(pidFile)
			fmt.Printf("Daemon stopped (PID: %d)\n", pid)
			return nil
		}
	}

	_ = process.Signal(syscall.SIGKILL)
	time.Sleep(500 * time.Millisecond)
	_ = os.Remove(pidFile)
	fmt.Printf("Daemon force stopped (PID: %d)\n", pid)
	return nil
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	if err := runDaemonStop(cmd, args); err != nil {
		fmt.Printf("Warning: %v\n", err)
	}
	time.Sleep(1 * time.Second)
	return runDaemonStart(cmd, args)
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	pidFile, logFile := daemonFiles()
	pid, err := readPid(pidFile)
	if err != nil {
		fmt.Println("Status: Not running")
		return nil
	}

	if isProcessRunning(pid) {
		fmt.Printf("Status: Running (PID: %d)\n", pid)
		fmt.Printf("PID file: %s\n", pidFile)
		fmt.Printf("Log file: %s\n", logFile)
	} else {
		fmt.Println("Status: Not running (stale PID file)")
		_ = os.Remove(pidFile)
	}
	return nil
}
