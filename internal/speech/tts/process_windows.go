//go:build windows

package tts

import "fmt"

// pauseProcess has no SIGSTOP to use on Windows, so the process is killed.
// The utterance is gone afterwards; callers restart it from their own offset.
func pauseProcess(run *processRun) error {
	if run.cmd.Process == nil {
		return fmt.Errorf("no process to pause")
	}
	run.interrupted.Store(true)
	return run.cmd.Process.Kill()
}

// resumeProcess cannot bring a killed process back.
func resumeProcess(run *processRun) error {
	return fmt.Errorf("resume not supported on Windows - process was terminated")
}
