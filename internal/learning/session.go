// Package learning implements the per-learner letter selection state:
// which letter is shown, which letters have been learned, and how the
// image load race for the current selection settles.
package learning

import (
	"slices"
	"sync"
	"time"

	"abcadventure/internal/catalog"
	"abcadventure/internal/clock"
)

// Phase is the display mode of the current selection.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseDisplayed
	PhaseFallback
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseDisplayed:
		return "displayed"
	case PhaseFallback:
		return "fallback"
	default:
		return "idle"
	}
}

// Config holds the fixed delays of a selection.
type Config struct {
	ImageTimeout      time.Duration // 0 settles to fallback immediately
	AnimationDuration time.Duration
	SpeechDelay       time.Duration
	CelebrationDelay  time.Duration
	CompletionDelay   time.Duration
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		ImageTimeout:      5000 * time.Millisecond,
		AnimationDuration: 600 * time.Millisecond,
		SpeechDelay:       300 * time.Millisecond,
		CelebrationDelay:  500 * time.Millisecond,
		CompletionDelay:   1000 * time.Millisecond,
	}
}

// Speaker pronounces a letter.
type Speaker interface {
	Speak(letter string)
}

// Celebrator reacts to learning milestones.
type Celebrator interface {
	CelebrateNewLetter()
	CelebrateCompletion() bool
}

// Deps are the collaborators of a Session. Speaker, Celebrator, Pick and
// OnChange are optional.
type Deps struct {
	Catalog    *catalog.Catalog
	Scheduler  clock.Scheduler
	Speaker    Speaker
	Celebrator Celebrator
	// Pick returns a uniform index in [0, n).
	Pick func(n int) int
	// OnChange runs after every visible state change, outside the session lock.
	OnChange func()
}

// Selection identifies one letter-selection event. ID is the token image
// load reports must carry.
type Selection struct {
	ID     uint64
	Letter string
	IsNew  bool
}

// Snapshot is a consistent copy of the session state for rendering.
type Snapshot struct {
	Selection         uint64
	Current           string
	Learned           []string
	Phase             Phase
	IsImageLoading    bool
	ShowEmojiFallback bool
	Animating         bool
	Progress          float64
	AllLearned        bool
}

// Session is one learner's in-memory state. All methods are safe for
// concurrent use; timer callbacks and HTTP handlers serialize on mu.
type Session struct {
	cfg  Config
	deps Deps

	mu         sync.Mutex
	current    string
	learned    map[string]struct{}
	phase      Phase
	animating  bool
	selection  uint64
	epoch      uint64
	timeout    clock.Timer
	selTimers  []clock.Timer
	completion clock.Timer
	closed     bool
}

// NewSession returns an idle session.
func NewSession(cfg Config, deps Deps) *Session {
	if deps.Scheduler == nil {
		deps.Scheduler = clock.Real{}
	}
	if deps.Pick == nil {
		deps.Pick = cryptoIndex
	}
	return &Session{
		cfg:     cfg,
		deps:    deps,
		learned: make(map[string]struct{}, catalog.Size),
	}
}

// HandleKey selects the letter for a key press; every other key is ignored.
func (s *Session) HandleKey(key string) (Selection, bool) {
	letter, ok := catalog.Normalize(key)
	if !ok {
		return Selection{}, false
	}
	return s.SelectLetter(letter)
}

// SelectLetter makes letter current and starts a fresh image load race.
// Letters without a catalog entry are ignored.
func (s *Session) SelectLetter(letter string) (Selection, bool) {
	entry, ok := s.deps.Catalog.Lookup(letter)
	if !ok {
		return Selection{}, false
	}
	letter = entry.Letter

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Selection{}, false
	}
	s.cancelSelectionLocked()

	s.selection++
	id := s.selection
	s.current = letter
	s.animating = true
	s.afterLocked(s.cfg.AnimationDuration, func() {
		s.mu.Lock()
		if s.selection != id {
			s.mu.Unlock()
			return
		}
		s.animating = false
		s.mu.Unlock()
		s.changed()
	})

	s.phase = PhaseLoading
	if s.cfg.ImageTimeout > 0 {
		s.timeout = s.deps.Scheduler.AfterFunc(s.cfg.ImageTimeout, func() {
			s.settle(id, PhaseFallback)
		})
	} else {
		s.phase = PhaseFallback
	}

	_, learned := s.learned[letter]
	isNew := !learned
	if isNew {
		s.learned[letter] = struct{}{}
		if c := s.deps.Celebrator; c != nil {
			s.afterLocked(s.cfg.CelebrationDelay, s.forSelection(id, c.CelebrateNewLetter))
			if len(s.learned) == catalog.Size {
				s.scheduleCompletionLocked()
			}
		}
	}

	if sp := s.deps.Speaker; sp != nil {
		s.afterLocked(s.cfg.SpeechDelay, s.forSelection(id, func() { sp.Speak(letter) }))
	}
	s.mu.Unlock()

	s.changed()
	return Selection{ID: id, Letter: letter, IsNew: isNew}, true
}

// SelectNext selects a random unlearned letter, or any letter once all are learned.
func (s *Session) SelectNext() (Selection, bool) {
	s.mu.Lock()
	learned := make(map[string]struct{}, len(s.learned))
	for l := range s.learned {
		learned[l] = struct{}{}
	}
	s.mu.Unlock()

	return s.SelectLetter(PickNext(learned, s.deps.Pick))
}

// ImageLoaded settles the selection to Displayed if it is still loading.
func (s *Session) ImageLoaded(id uint64) bool {
	return s.settle(id, PhaseDisplayed)
}

// ImageFailed settles the selection to Fallback if it is still loading.
func (s *Session) ImageFailed(id uint64) bool {
	return s.settle(id, PhaseFallback)
}

// settle resolves the load race for selection id. Only the first call for
// the live selection has any effect.
func (s *Session) settle(id uint64, phase Phase) bool {
	s.mu.Lock()
	if id != s.selection || s.phase != PhaseLoading {
		s.mu.Unlock()
		return false
	}
	if s.timeout != nil {
		s.timeout.Stop()
		s.timeout = nil
	}
	s.phase = phase
	s.mu.Unlock()

	s.changed()
	return true
}

// PlaySound repeats the current letter. It reports false when nothing is selected.
func (s *Session) PlaySound() bool {
	s.mu.Lock()
	letter := s.current
	s.mu.Unlock()
	if letter == "" || s.deps.Speaker == nil {
		return false
	}
	s.deps.Speaker.Speak(letter)
	return true
}

// Reset returns the session to its initial state and cancels every timer.
func (s *Session) Reset() {
	s.mu.Lock()
	s.cancelSelectionLocked()
	s.cancelCompletionLocked()
	s.selection++
	s.epoch++
	s.current = ""
	s.learned = make(map[string]struct{}, catalog.Size)
	s.phase = PhaseIdle
	s.animating = false
	s.mu.Unlock()

	s.changed()
}

// Close cancels all timers; the session ignores further selections.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cancelSelectionLocked()
	s.cancelCompletionLocked()
	s.selection++
	s.epoch++
}

// Snapshot copies the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	learned := make([]string, 0, len(s.learned))
	for l := range s.learned {
		learned = append(learned, l)
	}
	slices.Sort(learned)

	return Snapshot{
		Selection:         s.selection,
		Current:           s.current,
		Learned:           learned,
		Phase:             s.phase,
		IsImageLoading:    s.phase == PhaseLoading,
		ShowEmojiFallback: s.phase == PhaseFallback,
		Animating:         s.animating,
		Progress:          CalculateProgress(len(learned)),
		AllLearned:        len(learned) == catalog.Size,
	}
}

// IsLearned reports whether letter has been selected this session.
func (s *Session) IsLearned(letter string) bool {
	letter, ok := catalog.Normalize(letter)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, learned := s.learned[letter]
	return learned
}

func (s *Session) scheduleCompletionLocked() {
	s.cancelCompletionLocked()
	epoch := s.epoch
	c := s.deps.Celebrator
	s.completion = s.deps.Scheduler.AfterFunc(s.cfg.CompletionDelay, func() {
		s.mu.Lock()
		live := s.epoch == epoch && !s.closed
		if live {
			s.completion = nil
		}
		s.mu.Unlock()
		if live {
			c.CelebrateCompletion()
		}
	})
}

func (s *Session) afterLocked(d time.Duration, fn func()) {
	s.selTimers = append(s.selTimers, s.deps.Scheduler.AfterFunc(d, fn))
}

// forSelection wraps fn so it only runs while id is still the live selection.
func (s *Session) forSelection(id uint64, fn func()) func() {
	return func() {
		s.mu.Lock()
		live := s.selection == id && !s.closed
		s.mu.Unlock()
		if live {
			fn()
		}
	}
}

func (s *Session) cancelSelectionLocked() {
	if s.timeout != nil {
		s.timeout.Stop()
		s.timeout = nil
	}
	for _, t := range s.selTimers {
		t.Stop()
	}
	s.selTimers = s.selTimers[:0]
}

func (s *Session) cancelCompletionLocked() {
	if s.completion != nil {
		s.completion.Stop()
		s.completion = nil
	}
}

func (s *Session) changed() {
	if s.deps.OnChange != nil {
		s.deps.OnChange()
	}
}
