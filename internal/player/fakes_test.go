package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/streamwatch/internal/job"
)

// fakePage answers Evaluate calls by exact script text.
type fakePage struct {
	mu       sync.Mutex
	scripts  map[string]func() (any, error)
	clicks   []string
	clickErr map[string]error
	moves    int
	evals    map[string]int
}

func newFakePage() *fakePage {
	return &fakePage{
		scripts:  map[string]func() (any, error){},
		clickErr: map[string]error{},
		evals:    map[string]int{},
	}
}

func (p *fakePage) on(script string, fn func() (any, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[script] = fn
}

func (p *fakePage) Evaluate(ctx context.Context, script string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	fn, ok := p.scripts[script]
	p.evals[script]++
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("unexpected script: %.40q", script)
	}
	v, err := fn()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p *fakePage) Click(ctx context.Context, selector string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)
	return p.clickErr[selector]
}

func (p *fakePage) Visible(context.Context, string) (bool, error) { return false, nil }

func (p *fakePage) MoveMouse(ctx context.Context, _, _ float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moves++
	return ctx.Err()
}

func (p *fakePage) evalCount(script string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evals[script]
}

// scriptedProbe replays a fixed sequence of ad observations, one per poll.
type scriptedProbe struct {
	polls    []adPoll
	i        int
	skips    int
	skipErr  error
	platform job.Platform
}

type adPoll struct {
	playing   bool
	skippable bool
	timing    AdTiming
	err       error
}

func (s *scriptedProbe) current() adPoll {
	if len(s.polls) == 0 {
		return adPoll{}
	}
	if s.i >= len(s.polls) {
		return s.polls[len(s.polls)-1]
	}
	return s.polls[s.i]
}

func (s *scriptedProbe) Platform() job.Platform {
	if s.platform == "" {
		return job.PlatformYouTube
	}
	return s.platform
}

func (s *scriptedProbe) AdPlaying(context.Context, Page) (bool, error) {
	p := s.current()
	if p.err != nil || !p.playing {
		s.i++
	}
	return p.playing, p.err
}

func (s *scriptedProbe) CanSkip(context.Context, Page) (bool, error) {
	return s.current().skippable, nil
}

func (s *scriptedProbe) AdTiming(context.Context, Page) (AdTiming, error) {
	p := s.current()
	s.i++
	return p.timing, nil
}

func (s *scriptedProbe) Skip(context.Context, Page) error {
	if s.skipErr != nil {
		return s.skipErr
	}
	s.skips++
	return nil
}

func (s *scriptedProbe) PlaySelectors() []string { return []string{".large-play", "video"} }

var errBoom = errors.New("boom")
