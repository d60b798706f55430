package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"abcadventure/internal/celebration"
	"abcadventure/internal/learning"
	"abcadventure/internal/speech"
)

// getOrCreateSession retrieves the session ID from the cookie or creates a new one.
func (app *App) getOrCreateSession(c *gin.Context) string {
	sessionID, err := c.Cookie(SessionCookieName)
	if err != nil || len(sessionID) < 10 {
		sessionID = uuid.NewString()
		c.SetSameSite(http.SameSiteStrictMode)
		secure := app.IsProduction
		c.SetCookie(SessionCookieName, sessionID, int(app.Config.CookieMaxAge.Seconds()), "/", "", secure, true)
		logInfo("Created new session: %s", sessionID)
	}
	return sessionID
}

// getLearner retrieves or creates the Learner for a session.
func (app *App) getLearner(sessionID string) *Learner {
	app.SessionMutex.RLock()
	l, exists := app.Learners[sessionID]
	app.SessionMutex.RUnlock()
	if exists {
		l.touch()
		return l
	}

	app.SessionMutex.Lock()
	defer app.SessionMutex.Unlock()
	if l, exists = app.Learners[sessionID]; exists {
		l.touch()
		return l
	}
	logInfo("Creating learning session: %s", sessionID)
	l = app.newLearner(sessionID)
	app.Learners[sessionID] = l
	return l
}

// learnerFromRequest resolves the calling browser's Learner.
func (app *App) learnerFromRequest(c *gin.Context) *Learner {
	return app.getLearner(app.getOrCreateSession(c))
}

func (app *App) newLearner(sessionID string) *Learner {
	l := &Learner{ID: sessionID, Events: newHub(), lastAccessTime: time.Now()}
	notify := func() { l.Events.Publish(Event{Name: EventState}) }

	l.Relay = speech.NewRelay(func(cmd speech.Command) {
		l.Events.Publish(Event{Name: EventSpeech, Data: cmd})
	})
	l.Speech = speech.NewAdapter(l.Relay, app.Catalog, app.Logger.Named("speech"))
	l.Celebration = celebration.NewEngine(app.Scheduler, celebration.DefaultConfig(), celebration.WithOnChange(notify))
	l.Session = learning.NewSession(app.LearningConfig, learning.Deps{
		Catalog:    app.Catalog,
		Scheduler:  app.Scheduler,
		Speaker:    l.Speech,
		Celebrator: l.Celebration,
		OnChange:   notify,
	})
	return l
}

func (l *Learner) touch() {
	l.mu.Lock()
	l.lastAccessTime = time.Now()
	l.mu.Unlock()
}

func (l *Learner) LastAccessTime() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastAccessTime
}

// Reset clears progress and any celebration in flight.
func (l *Learner) Reset() {
	l.Session.Reset()
	l.Celebration.Reset()
}

// Close stops every timer and disconnects open pages.
func (l *Learner) Close() {
	l.Session.Close()
	l.Celebration.Close()
	l.Speech.Close()
	l.Events.Close()
}

// sessionCount returns the number of live learners.
func (app *App) sessionCount() int {
	app.SessionMutex.RLock()
	defer app.SessionMutex.RUnlock()
	return len(app.Learners)
}

// cleanupIdleSessions discards learners idle for longer than maxAge and
// returns how many were removed.
func (app *App) cleanupIdleSessions(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	app.SessionMutex.Lock()
	var stale []*Learner
	for id, l := range app.Learners {
		if l.LastAccessTime().Before(cutoff) {
			stale = append(stale, l)
			delete(app.Learners, id)
		}
	}
	app.SessionMutex.Unlock()

	for _, l := range stale {
		l.Close()
		logInfo("Removed idle session: %s (idle: %v)", l.ID, time.Since(l.LastAccessTime()).Round(time.Second))
	}
	if len(stale) > 0 {
		logInfo("Session cleanup completed: removed %d sessions, %d remaining", len(stale), app.sessionCount())
	}
	return len(stale)
}

// runSessionJanitor sweeps idle sessions and rate limiters until ctx is done.
func (app *App) runSessionJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.cleanupIdleSessions(app.Config.SessionTimeout)
			if n := app.pruneLimiters(app.Config.SessionTimeout); n > 0 {
				logInfo("Pruned %d idle rate limiters", n)
			}
		}
	}
}

// closeAllSessions is called on shutdown.
func (app *App) closeAllSessions() {
	app.SessionMutex.Lock()
	learners := app.Learners
	app.Learners = make(map[string]*Learner)
	app.SessionMutex.Unlock()
	for _, l := range learners {
		l.Close()
	}
}
