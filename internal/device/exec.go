package device

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// Pipe streams raw 16-bit little-endian mono PCM to the standard input of an
// external player such as `aplay -q -f S16_LE -r 44100 -c 1`. The pipe paces
// playback: a buffer counts as processed once the command has accepted it.
type Pipe struct {
	q     *queue
	cmd   *exec.Cmd
	stdin io.WriteCloser
	stop  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	err     error
	closing sync.Once
}

// OpenPipe starts command, a shell-style command line, and feeds it queued
// audio.
func OpenPipe(command string, sampleRate int) (*Pipe, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("player command is empty")
	}

	cmd := exec.Command(args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("player stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start player %q: %w", args[0], err)
	}

	p := &Pipe{
		q:     newQueue(sampleRate),
		cmd:   cmd,
		stdin: stdin,
		stop:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.pump()
	return p, nil
}

func (p *Pipe) pump() {
	defer p.wg.Done()
	buf := make([]byte, 4096)
	for {
		n := p.q.read(buf)
		if n == 0 {
			select {
			case <-p.stop:
				return
			case <-p.q.wake:
			}
			continue
		}
		if _, err := p.stdin.Write(buf[:n]); err != nil {
			p.fail(err)
			return
		}
	}
}

func (p *Pipe) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = fmt.Errorf("player pipe: %w", err)
	}
}

func (p *Pipe) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pipe) Submit(id int, samples []int16, sampleRate int) error {
	if err := p.failure(); err != nil {
		return err
	}
	return p.q.submit(id, samples, sampleRate)
}

func (p *Pipe) Playing() (bool, error) {
	if err := p.failure(); err != nil {
		return false, err
	}
	return p.q.playing(), nil
}

func (p *Pipe) Start() error {
	if err := p.failure(); err != nil {
		return err
	}
	p.q.start()
	return nil
}

func (p *Pipe) Release(id int) error { return p.q.release(id) }

func (p *Pipe) Processed() (int, error) {
	if err := p.failure(); err != nil {
		return 0, err
	}
	return p.q.processed(), nil
}

// Close stops feeding the player, closes its input and waits for it to exit.
func (p *Pipe) Close() error {
	var err error
	p.closing.Do(func() {
		close(p.stop)
		if cerr := p.stdin.Close(); cerr != nil {
			err = cerr
		}
		p.wg.Wait()
		p.q.reset()
		if werr := p.cmd.Wait(); werr != nil && err == nil {
			err = werr
		}
	})
	return err
}
