package main

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"abcadventure/internal/catalog"
	"abcadventure/internal/celebration"
	"abcadventure/internal/clock"
	"abcadventure/internal/images"
	"abcadventure/internal/learning"
	"abcadventure/internal/speech"
)

type contextKey string

// App holds the process-wide state shared by all handlers.
type App struct {
	Config       Config
	IsProduction bool
	StartTime    time.Time
	Logger       *zap.Logger

	Catalog        *catalog.Catalog
	Images         *images.Preloader
	Scheduler      clock.Scheduler
	LearningConfig learning.Config

	Learners     map[string]*Learner
	SessionMutex sync.RWMutex

	LimiterMap   map[string]*clientLimiter
	LimiterMutex sync.Mutex
}

// Learner bundles one browser session's learning state and collaborators.
type Learner struct {
	ID          string
	Session     *learning.Session
	Celebration *celebration.Engine
	Speech      *speech.Adapter
	Relay       *speech.Relay
	Events      *hub

	mu             sync.Mutex
	lastAccessTime time.Time
}

// GridCell is one of the 26 letter buttons.
type GridCell struct {
	Letter  string
	Learned bool
	Current bool
}

// LearningView is everything the page renders for a learner.
type LearningView struct {
	Snapshot        learning.Snapshot
	Entry           catalog.Entry
	HasLetter       bool
	Grid            []GridCell
	LearnedCount    int
	Total           int
	ProgressPercent float64
	Particles       []celebration.Particle
	ShowCelebration bool
}

// VoicesReport is the page's speech capability report.
type VoicesReport struct {
	Available bool          `json:"available"`
	Voices    []speech.Voice `json:"voices" binding:"max=500,dive"`
}
