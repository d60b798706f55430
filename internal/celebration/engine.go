// Package celebration drives the decorative confetti particles and the
// completion modal.
package celebration

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"abcadventure/internal/clock"
)

// Palette is the set of particle colors.
var Palette = []string{"#ff6b6b", "#4ecdc4", "#45b7d1", "#96ceb4", "#ffeaa7"}

type Config struct {
	NewLetterDelay   time.Duration
	BatchSize        int
	ParticleLifetime time.Duration
	CompletionWaves  int
	WaveInterval     time.Duration
	ModalDuration    time.Duration
}

func DefaultConfig() Config {
	return Config{
		NewLetterDelay:   500 * time.Millisecond,
		BatchSize:        10,
		ParticleLifetime: 3000 * time.Millisecond,
		CompletionWaves:  30,
		WaveInterval:     100 * time.Millisecond,
		ModalDuration:    5000 * time.Millisecond,
	}
}

// Particle is one falling piece of confetti. Left is a viewport-width offset in percent.
type Particle struct {
	ID    string
	Color string
	Left  float64
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg      Config
	sched    clock.Scheduler
	onChange func()

	mu          sync.Mutex
	particles   []Particle
	modal       bool
	modalTimer  uint64
	completions int
	epoch       uint64
	nextTimer   uint64
	timers      map[uint64]clock.Timer
}

type Option func(*Engine)

// WithOnChange registers a callback run after particles or the modal change.
func WithOnChange(fn func()) Option {
	return func(e *Engine) { e.onChange = fn }
}

func NewEngine(sched clock.Scheduler, cfg Config, opts ...Option) *Engine {
	if sched == nil {
		sched = clock.Real{}
	}
	e := &Engine{cfg: cfg, sched: sched, timers: make(map[uint64]clock.Timer)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CelebrateNewLetter spawns one batch of particles after the new-letter delay.
func (e *Engine) CelebrateNewLetter() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.afterLocked(e.cfg.NewLetterDelay, e.spawnLocked)
}

// CelebrateCompletion opens the completion modal and starts the confetti
// waves. It does nothing while the modal is already shown.
func (e *Engine) CelebrateCompletion() bool {
	e.mu.Lock()
	if e.modal {
		e.mu.Unlock()
		return false
	}
	e.modal = true
	e.completions++
	e.modalTimer = e.afterLocked(e.cfg.ModalDuration, e.dismissLocked)
	for i := range e.cfg.CompletionWaves {
		e.afterLocked(time.Duration(i)*e.cfg.WaveInterval, e.spawnLocked)
	}
	e.mu.Unlock()

	e.changed()
	return true
}

// Dismiss closes the modal early. Confetti already falling keeps falling.
func (e *Engine) Dismiss() bool {
	e.mu.Lock()
	if !e.modal {
		e.mu.Unlock()
		return false
	}
	e.dismissLocked()
	e.mu.Unlock()

	e.changed()
	return true
}

// Reset drops all particles, hides the modal and cancels every timer.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.epoch++
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	e.particles = nil
	e.modal = false
	e.modalTimer = 0
	e.mu.Unlock()

	e.changed()
}

// Close cancels every timer without notifying.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.epoch++
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

func (e *Engine) Particles() []Particle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Particle(nil), e.particles...)
}

func (e *Engine) ModalShown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modal
}

// Completions counts how many times the completion modal has opened.
func (e *Engine) Completions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completions
}

func (e *Engine) spawnLocked() {
	for range e.cfg.BatchSize {
		p := Particle{
			ID:    uuid.NewString(),
			Color: Palette[rand.IntN(len(Palette))],
			Left:  rand.Float64() * 100,
		}
		e.particles = append(e.particles, p)
		e.afterLocked(e.cfg.ParticleLifetime, func() {
			e.particles = lo.Reject(e.particles, func(q Particle, _ int) bool { return q.ID == p.ID })
		})
	}
}

func (e *Engine) dismissLocked() {
	e.modal = false
	if t, ok := e.timers[e.modalTimer]; ok {
		t.Stop()
		delete(e.timers, e.modalTimer)
	}
	e.modalTimer = 0
}

// afterLocked schedules fn to run under e.mu, unless a Reset intervenes.
// It returns the key of the timer in e.timers.
func (e *Engine) afterLocked(d time.Duration, fn func()) uint64 {
	e.nextTimer++
	id, epoch := e.nextTimer, e.epoch
	t := e.sched.AfterFunc(d, func() {
		e.mu.Lock()
		delete(e.timers, id)
		live := e.epoch == epoch
		if live {
			fn()
		}
		e.mu.Unlock()
		if live {
			e.changed()
		}
	})
	e.timers[id] = t
	return id
}

func (e *Engine) changed() {
	if e.onChange != nil {
		e.onChange()
	}
}
