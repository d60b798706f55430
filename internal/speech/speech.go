// Package speech pronounces letters through a platform text-to-speech
// capability.
package speech

import (
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"abcadventure/internal/catalog"
)

// Voice is a platform voice as reported by the synthesizer.
type Voice struct {
	Name    string `json:"name" binding:"max=200"`
	Lang    string `json:"lang" binding:"max=35"`
	Default bool   `json:"default"`
}

// Utterance is one request to speak. An empty Voice means the platform default.
type Utterance struct {
	Text   string  `json:"text"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
	Voice  string  `json:"voice,omitempty"`
}

// Synthesizer is the narrow contract of a text-to-speech platform.
type Synthesizer interface {
	Available() bool
	Speak(u Utterance)
	Cancel()
	Voices() []Voice
	// OnVoicesChanged registers fn and returns a func that unregisters it.
	OnVoicesChanged(fn func()) func()
}

// Options tune delivery; zero fields fall back to DefaultOptions.
type Options struct {
	Rate   float64
	Pitch  float64
	Volume float64
}

// DefaultOptions is a slow, slightly high-pitched delivery.
var DefaultOptions = Options{Rate: 0.8, Pitch: 1.2, Volume: 0.8}

var preferredVoiceHints = []string{"child", "kid", "female"}

// Lookup resolves a letter to its catalog entry.
type Lookup interface {
	Lookup(letter string) (catalog.Entry, bool)
}

// Adapter speaks "<letter>. <word>" for catalog letters.
type Adapter struct {
	synth  Synthesizer
	lookup Lookup
	log    *zap.Logger

	mu          sync.RWMutex
	voices      []Voice
	unsubscribe func()
}

// NewAdapter loads the current voice list and keeps it fresh as the
// platform reports changes.
func NewAdapter(synth Synthesizer, lookup Lookup, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{synth: synth, lookup: lookup, log: logger}
	a.refreshVoices()
	a.unsubscribe = synth.OnVoicesChanged(a.refreshVoices)
	return a
}

func (a *Adapter) refreshVoices() {
	voices := a.synth.Voices()
	a.mu.Lock()
	a.voices = voices
	a.mu.Unlock()
	a.log.Debug("speech voices loaded", zap.Int("count", len(voices)))
}

// Speak implements learning.Speaker.
func (a *Adapter) Speak(letter string) {
	a.SpeakWith(letter, DefaultOptions)
}

// SpeakWith cancels whatever is being said and speaks letter. It reports
// false when the platform is unavailable or the letter is unknown.
func (a *Adapter) SpeakWith(letter string, opts Options) bool {
	if !a.synth.Available() {
		return false
	}
	entry, ok := a.lookup.Lookup(letter)
	if !ok {
		return false
	}

	a.synth.Cancel()
	a.synth.Speak(Utterance{
		Text:   entry.Letter + ". " + entry.Word,
		Rate:   lo.Ternary(opts.Rate > 0, opts.Rate, DefaultOptions.Rate),
		Pitch:  lo.Ternary(opts.Pitch > 0, opts.Pitch, DefaultOptions.Pitch),
		Volume: lo.Ternary(opts.Volume > 0, opts.Volume, DefaultOptions.Volume),
		Voice:  a.PreferredVoice(),
	})
	return true
}

// Cancel stops any utterance in progress.
func (a *Adapter) Cancel() {
	if a.synth.Available() {
		a.synth.Cancel()
	}
}

// PreferredVoice names the first child-friendly voice, or "" for the default.
func (a *Adapter) PreferredVoice() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := lo.Find(a.voices, func(v Voice) bool {
		name := strings.ToLower(v.Name)
		return lo.SomeBy(preferredVoiceHints, func(h string) bool { return strings.Contains(name, h) })
	})
	if !ok {
		return ""
	}
	return v.Name
}

// Close stops listening for voice changes.
func (a *Adapter) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}
