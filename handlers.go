package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"abcadventure/internal/catalog"
	"abcadventure/internal/images"
	"abcadventure/internal/learning"
)

// sseKeepAlive is how often an idle event stream is pinged. Each ping
// also counts as activity for the idle-session janitor.
var sseKeepAlive = 25 * time.Second

// homeHandler renders the full learning page for the current session.
func (app *App) homeHandler(c *gin.Context) {
	l := app.learnerFromRequest(c)
	app.triggerPreload()

	c.HTML(http.StatusOK, pageTemplate, gin.H{
		"title":   pageTitle,
		"message": pageIntroduction,
		"view":    app.buildView(l),
	})
}

// stateHandler renders the learning area as an HTML fragment.
func (app *App) stateHandler(c *gin.Context) {
	l := app.learnerFromRequest(c)
	c.HTML(http.StatusOK, contentTemplate, app.buildView(l))
}

// letterHandler selects the clicked letter.
func (app *App) letterHandler(c *gin.Context) {
	l := app.learnerFromRequest(c)
	if sel, ok := l.Session.SelectLetter(c.Param("letter")); ok {
		logSelection(c, l, sel)
	}
	app.respond(c, l)
}

// keyHandler selects the letter for a key press; other keys change nothing.
func (app *App) keyHandler(c *gin.Context) {
	l := app.learnerFromRequest(c)
	if sel, ok := l.Session.HandleKey(c.PostForm("key")); ok {
		logSelection(c, l, sel)
	}
	app.respond(c, l)
}

// nextHandler selects a random letter the learner has not seen yet.
func (app *App) nextHandler(c *gin.Context) {
	l := app.learnerFromRequest(c)
	if sel, ok := l.Session.SelectNext(); ok {
		logSelection(c, l, sel)
	}
	app.respond(c, l)
}

// resetHandler clears the learner's progress.
func (app *App) resetHandler(c *gin.Context) {
	l := app.learnerFromRequest(c)
	l.Reset()
	logInfo("[request_id=%v] Session %s reset progress", requestID(c), l.ID)
	app.respond(c, l)
}

// speakHandler repeats the current letter.
func (app *App) speakHandler(c *gin.Context) {
	l := app.learnerFromRequest(c)
	l.Session.PlaySound()
	c.Status(http.StatusNoContent)
}

// imageLoadedHandler reports that the page finished loading the selection's image.
func (app *App) imageLoadedHandler(c *gin.Context) {
	app.settleImage(c, (*learning.Session).ImageLoaded)
}

// imageFailedHandler reports that the selection's image could not be loaded.
func (app *App) imageFailedHandler(c *gin.Context) {
	app.settleImage(c, (*learning.Session).ImageFailed)
}

func (app *App) settleImage(c *gin.Context, settle func(*learning.Session, uint64) bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid selection"})
		return
	}
	l := app.learnerFromRequest(c)
	if !settle(l.Session, id) {
		logInfo("[request_id=%v] Ignored late image report for selection %d in session %s", requestID(c), id, l.ID)
	}
	c.Status(http.StatusNoContent)
}

// dismissHandler closes the completion modal.
func (app *App) dismissHandler(c *gin.Context) {
	l := app.learnerFromRequest(c)
	l.Celebration.Dismiss()
	app.respond(c, l)
}

// voicesHandler records the page's speech availability and voice list.
func (app *App) voicesHandler(c *gin.Context) {
	var report VoicesReport
	if err := c.ShouldBindJSON(&report); err != nil {
		logWarn("[request_id=%v] Rejected voices report: %v", requestID(c), err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid voices report"})
		return
	}
	l := app.learnerFromRequest(c)
	l.Relay.Report(report.Available, report.Voices)
	logInfo("Session %s reported %d voices (speech available: %v)", l.ID, len(report.Voices), report.Available)
	c.Status(http.StatusNoContent)
}

// eventsHandler streams state and speech events to the page.
func (app *App) eventsHandler(c *gin.Context) {
	l := app.learnerFromRequest(c)
	events, unsubscribe := l.Events.Subscribe()
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-keepAlive.C:
			l.touch()
			c.SSEvent("ping", "")
			return true
		case e, ok := <-events:
			if !ok {
				return false
			}
			data := e.Data
			if data == nil {
				data = "refresh"
			}
			c.SSEvent(e.Name, data)
			return true
		}
	})
}

// imageHandler serves an alphabet picture from the preload cache, falling
// back to the asset directory or the remote asset host.
func (app *App) imageHandler(c *gin.Context) {
	file := filepath.Base(c.Param("file"))
	url := imageRoutePrefix + file
	if img, ok := app.Images.Get(url); ok {
		c.Data(http.StatusOK, img.ContentType, img.Data)
		return
	}
	if app.Config.AssetBaseURL != "" {
		c.Redirect(http.StatusTemporaryRedirect, app.Config.AssetBaseURL+url)
		return
	}
	path := filepath.Join(app.Config.AssetDir, "images", "alphabet", file)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		c.Status(http.StatusNotFound)
		return
	}
	c.File(path)
}

// healthzHandler returns a JSON health check with server stats.
func (app *App) healthzHandler(c *gin.Context) {
	uptime := time.Since(app.StartTime)
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"env":       map[bool]string{true: "production", false: "development"}[app.IsProduction],
		"letters":   app.Catalog.Len(),
		"sessions":  app.sessionCount(),
		"images":    app.Images.Stats(),
		"uptime":    formatUptime(uptime),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// respond renders the learning fragment for htmx requests and redirects
// plain form posts back to the page.
func (app *App) respond(c *gin.Context, l *Learner) {
	if c.GetHeader("HX-Request") == "true" {
		c.HTML(http.StatusOK, contentTemplate, app.buildView(l))
		return
	}
	c.Redirect(http.StatusSeeOther, RouteHome)
}

// buildView assembles the page model from the learner's current state.
func (app *App) buildView(l *Learner) LearningView {
	snap := l.Session.Snapshot()
	entry, has := app.Catalog.Lookup(snap.Current)
	learned := lo.Associate(snap.Learned, func(letter string) (string, bool) { return letter, true })

	grid := lo.Map(app.Catalog.Entries(), func(e catalog.Entry, _ int) GridCell {
		return GridCell{Letter: e.Letter, Learned: learned[e.Letter], Current: e.Letter == snap.Current}
	})

	return LearningView{
		Snapshot:        snap,
		Entry:           entry,
		HasLetter:       has,
		Grid:            grid,
		LearnedCount:    len(snap.Learned),
		Total:           catalog.Size,
		ProgressPercent: snap.Progress,
		Particles:       l.Celebration.Particles(),
		ShowCelebration: l.Celebration.ModalShown(),
	}
}

// triggerPreload starts a background preload pass unless one is running.
func (app *App) triggerPreload() {
	if stats := app.Images.Stats(); stats.IsPreloading || stats.Preloaded == stats.Total {
		return
	}
	go func() {
		err := app.Images.PreloadAll(context.Background())
		if err != nil && !errors.Is(err, images.ErrPreloadInProgress) {
			logWarn("Image preload failed: %v", err)
		}
	}()
}

func logSelection(c *gin.Context, l *Learner, sel learning.Selection) {
	logInfo("[request_id=%v] Session %s selected %s (selection %d, new: %v)", requestID(c), l.ID, sel.Letter, sel.ID, sel.IsNew)
}

func requestID(c *gin.Context) string {
	id, _ := c.Request.Context().Value(requestIDKey).(string)
	return id
}
