package speech

import "sync"

const (
	ActionSpeak  = "speak"
	ActionCancel = "cancel"
)

// Command is an instruction for the browser's speech engine.
type Command struct {
	Action    string     `json:"action"`
	Utterance *Utterance `json:"utterance,omitempty"`
}

// Relay is a Synthesizer backed by the learner's browser: commands are
// handed to emit for delivery, and the page reports its voices back.
type Relay struct {
	emit func(Command)

	mu        sync.Mutex
	available bool
	voices    []Voice
	nextID    uint64
	listeners map[uint64]func()
}

// NewRelay assumes speech is available until the page reports otherwise.
func NewRelay(emit func(Command)) *Relay {
	return &Relay{emit: emit, available: true, listeners: make(map[uint64]func())}
}

func (r *Relay) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.available
}

func (r *Relay) Speak(u Utterance) {
	r.emit(Command{Action: ActionSpeak, Utterance: &u})
}

func (r *Relay) Cancel() {
	r.emit(Command{Action: ActionCancel})
}

func (r *Relay) Voices() []Voice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Voice(nil), r.voices...)
}

func (r *Relay) OnVoicesChanged(fn func()) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

// Report records the page's speech capability and notifies listeners.
func (r *Relay) Report(available bool, voices []Voice) {
	r.mu.Lock()
	r.available = available
	r.voices = append([]Voice(nil), voices...)
	listeners := make([]func(), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
