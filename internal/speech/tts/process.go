package tts

import (
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// processRun is one utterance being spoken by an external command.
type processRun struct {
	cmd         *exec.Cmd
	u           *Utterance
	clock       *wordClock
	interrupted atomic.Bool
}

// processEngine speaks through a command line synthesizer (espeak, say).
// Such tools report no word events, so boundaries come from a word clock.
type processEngine struct {
	name  string
	path  string
	argv  func(u *Utterance) []string
	run   *processRun
	pause bool
	mutex sync.RWMutex
}

func (p *processEngine) Speak(u *Utterance) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.detach()

	cmd := exec.Command(p.path, p.argv(u)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: start: %w", p.name, err)
	}

	run := &processRun{cmd: cmd, u: u, clock: newWordClock()}
	p.run = run
	p.pause = false

	go func() {
		u.started()
		run.clock.run(u, wordInterval(u.Rate), nil)
	}()
	go p.wait(run)

	return nil
}

func (p *processEngine) wait(run *processRun) {
	err := run.cmd.Wait()
	run.clock.stop()

	p.mutex.Lock()
	if p.run == run {
		p.run = nil
		p.pause = false
	}
	p.mutex.Unlock()

	switch {
	case run.interrupted.Load():
		run.u.failed(ErrInterrupted)
	case err != nil:
		logrus.WithError(err).WithField("engine", p.name).Warn("speech process failed")
		run.u.failed(fmt.Errorf("%s: %w", p.name, err))
	default:
		run.u.ended()
	}
}

// detach kills the active process; callers hold p.mutex. The wait
// goroutine reports ErrInterrupted for it.
func (p *processEngine) detach() {
	run := p.run
	if run == nil {
		return
	}
	p.run = nil
	p.pause = false
	run.interrupted.Store(true)
	run.clock.stop()
	if run.cmd.Process != nil {
		_ = run.cmd.Process.Kill()
	}
}

func (p *processEngine) Cancel() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.detach()
	return nil
}

func (p *processEngine) Pause() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.run == nil || p.pause {
		return nil
	}
	if err := pauseProcess(p.run); err != nil {
		return err
	}
	p.pause = true
	p.run.clock.paused.Store(true)
	return nil
}

func (p *processEngine) Resume() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.run == nil || !p.pause {
		return nil
	}
	if err := resumeProcess(p.run); err != nil {
		return err
	}
	p.pause = false
	p.run.clock.paused.Store(false)
	return nil
}

func (p *processEngine) IsSpeaking() bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.run != nil && !p.pause
}

func (p *processEngine) IsPaused() bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.pause
}
