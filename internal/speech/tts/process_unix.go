//go:build unix

package tts

import "syscall"

// pauseProcess stops the synthesizer process in place
func pauseProcess(run *processRun) error {
	return run.cmd.Process.Signal(syscall.SIGSTOP)
}

// resumeProcess continues a stopped synthesizer process
func resumeProcess(run *processRun) error {
	return run.cmd.Process.Signal(syscall.SIGCONT)
}
