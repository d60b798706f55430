package main

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"abcadventure/internal/catalog"
	"abcadventure/internal/clock"
	"abcadventure/internal/images"
	"abcadventure/internal/learning"
	"abcadventure/internal/speech"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

// TestMain puts gin in test mode for all HTTP tests
func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// newTestApp builds an App on a fake clock with one preloadable image.
func newTestApp(t *testing.T) (*App, *clock.Fake) {
	t.Helper()
	cat, err := catalog.New(catalog.AssetPath("/"))
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	assets := fstest.MapFS{"images/alphabet/A-apple.jpg": {Data: pngBytes}}
	fake := clock.NewFake()

	cfg := Config{
		Port:               "0",
		Env:                "test",
		LogLevel:           "info",
		SessionTimeout:     time.Hour,
		CookieMaxAge:       time.Hour,
		StaticCacheAge:     time.Minute,
		RateLimitRPS:       100,
		RateLimitBurst:     100,
		ImageTimeout:       5 * time.Second,
		PreloadConcurrency: 2,
		AssetDir:           t.TempDir(),
	}
	lc := learning.DefaultConfig()
	lc.ImageTimeout = cfg.ImageTimeout

	app := &App{
		Config:         cfg,
		StartTime:      time.Now(),
		Logger:         zap.NewNop(),
		Catalog:        cat,
		Images:         images.NewPreloader(images.DirFetcher{FS: assets}, cat.ImagePaths(), 2, zap.NewNop()),
		Scheduler:      fake,
		LearningConfig: lc,
		Learners:       make(map[string]*Learner),
		LimiterMap:     make(map[string]*clientLimiter),
	}
	t.Cleanup(app.closeAllSessions)
	return app, fake
}

// testClient carries the session cookie between requests like a browser.
type testClient struct {
	router *gin.Engine
	cookie *http.Cookie
}

func newTestClient(app *App) *testClient {
	return &testClient{router: app.setupRouter()}
}

func (tc *testClient) do(req *http.Request) *httptest.ResponseRecorder {
	if tc.cookie != nil {
		req.AddCookie(tc.cookie)
	}
	w := httptest.NewRecorder()
	tc.router.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName {
			tc.cookie = c
		}
	}
	return w
}

func (tc *testClient) get(path string) *httptest.ResponseRecorder {
	return tc.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (tc *testClient) post(path string) *httptest.ResponseRecorder {
	return tc.do(httptest.NewRequest(http.MethodPost, path, nil))
}

func (tc *testClient) htmx(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("HX-Request", "true")
	return tc.do(req)
}

func (tc *testClient) postJSON(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return tc.do(req)
}

// learner returns the Learner behind the client's cookie.
func (tc *testClient) learner(t *testing.T, app *App) *Learner {
	t.Helper()
	if tc.cookie == nil {
		t.Fatal("client has no session cookie")
	}
	app.SessionMutex.RLock()
	defer app.SessionMutex.RUnlock()
	l, ok := app.Learners[tc.cookie.Value]
	if !ok {
		t.Fatalf("no learner for session %s", tc.cookie.Value)
	}
	return l
}

// TestHomeHandler checks home page renders the learning area and sets a cookie
func TestHomeHandler(t *testing.T) {
	app, _ := newTestApp(t)
	tc := newTestClient(app)

	w := tc.get("/")
	if w.Code != http.StatusOK {
		t.Fatalf("GET / returned status %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{pageTitle, `id="learning-content"`, "Press any letter key", "0 / 26 letters learned (0%)"} {
		if !strings.Contains(body, want) {
			t.Errorf("GET / body missing %q", want)
		}
	}
	if tc.cookie == nil {
		t.Error("Expected session_id cookie to be set")
	}
	if got := strings.Count(body, `class="grid-letter`); got != catalog.Size {
		t.Errorf("grid has %d letters, want %d", got, catalog.Size)
	}
}

// TestSessionReuse checks a returning browser keeps its learner
func TestSessionReuse(t *testing.T) {
	app, _ := newTestApp(t)
	tc := newTestClient(app)
	tc.get("/")
	tc.get(RouteState)
	tc.htmx("/letters/A", nil)
	if n := app.sessionCount(); n != 1 {
		t.Errorf("sessionCount = %d, want 1", n)
	}
}

// TestLetterHandlerHTMX checks a clicked letter renders the loading state
func TestLetterHandlerHTMX(t *testing.T) {
	app, _ := newTestApp(t)
	tc := newTestClient(app)

	w := tc.htmx("/letters/A", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /letters/A returned status %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`data-phase="loading"`,
		`letter-display animate`,
		`alt="Apple"`,
		`src="/images/alphabet/A-apple.jpg"`,
		"loading-spinner",
		"1 / 26 letters learned (3.8%)",
		`grid-letter learned current`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("fragment missing %q", want)
		}
	}
	if strings.Contains(body, "<html") {
		t.Error("htmx request should get a fragment, not the full page")
	}

	snap := tc.learner(t, app).Session.Snapshot()
	if snap.Current != "A" || snap.Phase != learning.PhaseLoading {
		t.Errorf("snapshot = %+v, want A loading", snap)
	}
}

// TestLetterHandlerPlainPostRedirects checks non-htmx posts redirect home
func TestLetterHandlerPlainPostRedirects(t *testing.T) {
	app, _ := newTestApp(t)
	tc := newTestClient(app)

	w := tc.post("/letters/b")
	if w.Code != http.StatusSeeOther {
		t.Fatalf("POST /letters/b returned status %d, want 303", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != RouteHome {
		t.Errorf("Location = %q, want /", loc)
	}
	if got := tc.learner(t, app).Session.Snapshot().Current; got != "B" {
		t.Errorf("current = %q, want B", got)
	}
}

// TestKeyHandler checks letter keys select and other keys are ignored
func TestKeyHandler(t *testing.T) {
	app, _ := newTestApp(t)
	tc := newTestClient(app)

	tc.htmx(RouteKey, url.Values{"key": {"c"}})
	l := tc.learner(t, app)
	if got := l.Session.Snapshot().Current; got != "C" {
		t.Fatalf("current = %q, want C", got)
	}

	for _, key := range []string{"1", "Enter", " ", "", "é"} {
		w := tc.htmx(RouteKey, url.Values{"key": {key}})
		if w.Code != http.StatusOK {
			t.Errorf("key %q returned status %d, want 200", key, w.Code)
		}
	}
	snap := l.Session.Snapshot()
	if snap.Current != "C" || len(snap.Learned) != 1 {
		t.Errorf("non-letter keys changed state: %+v", snap)
	}
}

// TestNextHandler checks next picks an unlearned letter
func TestNextHandler(t *testing.T) {
	app, _ := newTestApp(t)
	tc := newTestClient(app)

	tc.htmx("/letters/A", nil)
	tc.htmx(RouteNext, nil)
	snap := tc.learner(t, app).Session.Snapshot()
	if snap.Current == "A" || snap.Current == "" {
		t.Errorf("next selected %q, want an unlearned letter", snap.Current)
	}
	if len(snap.Learned) != 2 {
		t.Errorf("learned = %v, want 2 letters", snap.Learned)
	}
}

// TestResetHandler checks reset clears progress
func TestResetHandler(t *testing.T) {
	app, fake := newTestApp(t)
	tc := newTestClient(app)

	tc.htmx("/letters/A", nil)
	tc.htmx("/letters/B", nil)
	w := tc.htmx(RouteReset, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /reset returned status %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "0 / 26 letters learned (0%)") {
		t.Error("reset fragment should show zero progress")
	}
	snap := tc.learner(t, app).Session.Snapshot()
	if snap.Current != "" || len(snap.Learned) != 0 || snap.Phase != learning.PhaseIdle {
		t.Errorf("snapshot after reset = %+v", snap)
	}
	if n := fake.Pending(); n != 0 {
		t.Errorf("%d timers still pending after reset", n)
	}
}

// TestSpeakHandler checks the current letter is relayed to the page
func TestSpeakHandler(t *testing.T) {
	app, _ := newTestApp(t)
	tc := newTestClient(app)

	tc.htmx("/letters/D", nil)
	l := tc.learner(t, app)
	events, unsubscribe := l.Events.Subscribe()
	defer unsubscribe()

	w := tc.post(RouteSpeak)
	if w.Code != http.StatusNoContent {
		t.Fatalf("POST /speak returned status %d, want 204", w.Code)
	}

	var cmds []speech.Command
	for len(events) > 0 {
		e := <-events
		if e.Name == EventSpeech {
			cmds = append(cmds, e.Data.(speech.Command))
		}
	}
	if len(cmds) != 2 || cmds[0].Action != speech.ActionCancel || cmds[1].Action != speech.ActionSpeak {
		t.Fatalf("speech commands = %+v, want cancel then speak", cmds)
	}
	if got := cmds[1].Utterance.Text; got != "D. Dog" {
		t.Errorf("utterance = %q, want \"D. Dog\"", got)
	}
}

// TestImageLoadedReport checks the page's load report shows the image
func TestImageLoadedReport(t *testing.T) {
	app, _ := newTestApp(t)
	tc := newTestClient(app)

	tc.htmx("/letters/A", nil)
	l := tc.learner(t, app)
	id := l.Session.Snapshot().Selection

	w := tc.post(fmt.Sprintf("/selections/%d/loaded", id))
	if w.Code != http.StatusNoContent {
		t.Fatalf("loaded report returned status %d, want 204", w.Code)
	}
	if phase := l.Session.Snapshot().Phase; phase != learning.PhaseDisplayed {
		t.Errorf("phase = %v, want displayed", phase)
	}

	// a late failure report changes nothing
	tc.post(fmt.Sprintf("/selections/%d/failed", id))
	if phase := l.Session.Snapshot().Phase; phase != learning.PhaseDisplayed {
		t.Errorf("phase after late failure = %v, want displayed", phase)
	}
}

// TestImageFailedReport checks a failed image shows the emoji fallback
func TestImageFailedReport(t *testing.T) {
	app, _ := newTestApp(t)
	tc := newTestClient(app)

	tc.htmx("/letters/B", nil)
	id := tc.learner(t, app).Session.Snapshot().Selection
	tc.post(fmt.Sprintf("/selections/%d/failed", id))

	w := tc.get(RouteState)
	body := w.Body.String()
	if !strings.Contains(body, "emoji-fallback") || !strings.Contains(body, "⚽") {
		t.Error("state fragment should show the emoji fallback")
	}
	if strings.Contains(body, "loading-spinner") {
		t.Error("fallback and loading spinner must never show together")
	}
}

// TestStaleImageReportIgnored checks reports for an old selection are ignored
func TestStaleImageReportIgnored(t *testing.T) {
	app, _ := newTestApp(t)
	tc := newTestClient(app)

	tc.htmx("/letters/A", nil)
	l := tc.learner(t, app)
	first := l.Session.Snapshot().Selection
	tc.htmx("/letters/B", nil)

	if w := tc.post(fmt.Sprintf("/selections/%d/loaded", first)); w.Code != http.StatusNoContent {
		t.Errorf("stale report returned status %d, want 204", w.Code)
	}
	snap := l.Session.Snapshot()
	if snap.Current != "B" || snap.Phase != learning.PhaseLoading {
		t.Errorf("stale report changed state: %+v", snap)
	}
}

// TestImageReportBadID checks malformed selection ids are rejected
func TestImageReportBadID(t *testing.T) {
	app, _ := newTestApp(t)
	tc := newTestClient(app)
	for _, path := range []string{"/selections/abc/loaded", "/selections/-1/failed"} {
		if w := tc.post(path); w.Code != http.StatusBadRequest {
			t.Errorf("POST %s returned status %d, want 400", path, w.Code)
		}
	}
}

// TestImageTimeoutFallsBack checks the timeout settles to the emoji fallback
func TestImageTimeoutFallsBack(t *testing.T) {
	app, fake := newTestApp(t)
	tc := newTestClient(app)

	tc.htmx("/letters/E", nil)
	fake.Advance(app.LearningConfig.ImageTimeout)

	body := tc.get(RouteState).Body.String()
	if !strings.Contains(body, `data-phase="fallback"`) || !strings.Contains(body, "🐘") {
		t.Error("timeout should show the emoji fallback")
	}
}

// TestCompletionModal checks the modal appears after the last letter and can be dismissed
func TestCompletionModal(t *testing.T) {
	app, fake := newTestApp(t)
	tc := newTestClient(app)

	for _, letter := range catalog.Letters() {
		tc.htmx("/letters/"+letter, nil)
	}
	fake.Advance(app.LearningConfig.CompletionDelay)

	body := tc.get(RouteState).Body.String()
	if !strings.Contains(body, "celebration-modal") || !strings.Contains(body, "26 / 26 letters learned (100%)") {
		t.Fatal("completion modal should be shown with full progress")
	}
	if !strings.Contains(body, `class="confetti"`) {
		t.Error("completion should spawn confetti")
	}

	w := tc.htmx(RouteDismiss, nil)
	if strings.Contains(w.Body.String(), "celebration-modal") {
		t.Error("dismiss should hide the modal")
	}
	if n := tc.learner(t, app).Celebration.Completions(); n != 1 {
		t.Errorf("completions = %d, want 1", n)
	}
}

// TestVoicesHandler checks voice reports reach the speech adapter
func TestVoicesHandler(t *testing.T) {
	app, _ := newTestApp(t)
	tc := newTestClient(app)

	w := tc.postJSON(RouteVoices, `{"available":true,"voices":[{"name":"Daniel","lang":"en-GB"},{"name":"Samantha Female","lang":"en-US","default":true}]}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("POST /voices returned status %d, want 204", w.Code)
	}
	if got := tc.learner(t, app).Speech.PreferredVoice(); got != "Samantha Female" {
		t.Errorf("PreferredVoice = %q, want Samantha Female", got)
	}

	if w := tc.postJSON(RouteVoices, `{"available":`); w.Code != http.StatusBadRequest {
		t.Errorf("malformed report returned status %d, want 400", w.Code)
	}
}

// TestVoicesUnavailableSilencesSpeech checks no commands are sent without speech support
func TestVoicesUnavailableSilencesSpeech(t *testing.T) {
	app, _ := newTestApp(t)
	tc := newTestClient(app)

	tc.postJSON(RouteVoices, `{"available":false,"voices":[]}`)
	tc.htmx("/letters/F", nil)
	l := tc.learner(t, app)
	events, unsubscribe := l.Events.Subscribe()
	defer unsubscribe()

	tc.post(RouteSpeak)
	for len(events) > 0 {
		if e := <-events; e.Name == EventSpeech {
			t.Fatalf("unexpected speech command %+v", e.Data)
		}
	}
}

// closeNotifyingRecorder lets gin stream into a recorder.
type closeNotifyingRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *closeNotifyingRecorder) CloseNotify() <-chan bool {
	return r.closed
}

// TestEventsHandler checks state changes are streamed as server-sent events
func TestEventsHandler(t *testing.T) {
	app, _ := newTestApp(t)
	tc := newTestClient(app)
	tc.get("/")
	l := tc.learner(t, app)

	req := httptest.NewRequest(http.MethodGet, RouteEvents, nil)
	req.AddCookie(tc.cookie)
	w := &closeNotifyingRecorder{httptest.NewRecorder(), make(chan bool, 1)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		tc.router.ServeHTTP(w, req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for l.Events.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	l.Events.Publish(Event{Name: EventState})
	l.Events.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not end after the hub closed")
	}
	if body := w.Body.String(); !strings.Contains(body, "event:state") || !strings.Contains(body, "data:refresh") {
		t.Errorf("stream body = %q, want a state refresh event", body)
	}
}

// TestEventsKeepAliveKeepsSessionActive checks an open page is not idled out
func TestEventsKeepAliveKeepsSessionActive(t *testing.T) {
	saved := sseKeepAlive
	sseKeepAlive = 10 * time.Millisecond
	t.Cleanup(func() { sseKeepAlive = saved })

	app, _ := newTestApp(t)
	tc := newTestClient(app)
	tc.get("/")
	l := tc.learner(t, app)

	req := httptest.NewRequest(http.MethodGet, RouteEvents, nil)
	req.AddCookie(tc.cookie)
	w := &closeNotifyingRecorder{httptest.NewRecorder(), make(chan bool, 1)}
	done := make(chan struct{})
	go func() {
		defer close(done)
		tc.router.ServeHTTP(w, req)
	}()

	stale := time.Now().Add(-2 * time.Hour)
	deadline := time.Now().Add(2 * time.Second)
	for l.Events.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	l.mu.Lock()
	l.lastAccessTime = stale
	l.mu.Unlock()

	for !l.LastAccessTime().After(stale) {
		if time.Now().After(deadline) {
			t.Fatal("keepalive never refreshed the session")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := app.cleanupIdleSessions(time.Hour); n != 0 {
		t.Errorf("cleanupIdleSessions removed %d sessions with an open stream, want 0", n)
	}

	l.Events.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not end after the hub closed")
	}
	if !strings.Contains(w.Body.String(), "event:ping") {
		t.Error("stream should carry keepalive pings")
	}
}

// TestHealthzFields checks /healthz reports the expected fields
func TestHealthzFields(t *testing.T) {
	app, _ := newTestApp(t)
	tc := newTestClient(app)

	w := tc.get(RouteHealthz)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /healthz returned status %d, want 200", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal /healthz response: %v", err)
	}
	for _, field := range []string{"status", "env", "letters", "sessions", "images", "uptime", "timestamp"} {
		if _, ok := resp[field]; !ok {
			t.Errorf("Expected '%s' field in /healthz response", field)
		}
	}
	if resp["letters"] != float64(catalog.Size) {
		t.Errorf("letters = %v, want 26", resp["letters"])
	}
	if env, ok := resp["env"].(string); !ok || env != "development" {
		t.Errorf("env = %v, want development", resp["env"])
	}
}

// TestImageHandler checks pictures come from the preload cache
func TestImageHandler(t *testing.T) {
	app, _ := newTestApp(t)
	tc := newTestClient(app)

	if w := tc.get("/images/alphabet/A-apple.jpg"); w.Code != http.StatusNotFound {
		t.Errorf("uncached image returned status %d, want 404", w.Code)
	}

	if err := app.Images.PreloadAll(t.Context()); err != nil {
		t.Fatalf("PreloadAll: %v", err)
	}
	w := tc.get("/images/alphabet/A-apple.jpg")
	if w.Code != http.StatusOK {
		t.Fatalf("cached image returned status %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), pngBytes) {
		t.Error("image body does not match the cached bytes")
	}
}

// TestRateLimitMiddleware checks rate limiting blocks excessive requests
func TestRateLimitMiddleware(t *testing.T) {
	app, _ := newTestApp(t)
	app.Config.RateLimitRPS = 1
	app.Config.RateLimitBurst = 3
	tc := newTestClient(app)

	for i := range 3 {
		if w := tc.post(RouteSpeak); w.Code != http.StatusNoContent {
			t.Errorf("Request %d: expected 204, got %d", i+1, w.Code)
		}
	}

	w := tc.htmx(RouteSpeak, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("4th request: expected 429 Too Many Requests, got %d", w.Code)
	}
	if w.Header().Get("HX-Reswap") != "none" {
		t.Error("rate limited htmx request should not swap content")
	}

	// reads are not limited
	if w := tc.get(RouteState); w.Code != http.StatusOK {
		t.Errorf("GET /state while limited returned %d, want 200", w.Code)
	}
}

// TestRequestIDMiddleware checks request ids are echoed or assigned
func TestRequestIDMiddleware(t *testing.T) {
	app, _ := newTestApp(t)
	tc := newTestClient(app)

	req := httptest.NewRequest(http.MethodGet, RouteHealthz, nil)
	req.Header.Set("X-Request-Id", "abc-123")
	if got := tc.do(req).Header().Get("X-Request-Id"); got != "abc-123" {
		t.Errorf("X-Request-Id = %q, want abc-123", got)
	}

	req = httptest.NewRequest(http.MethodGet, RouteHealthz, nil)
	req.Header.Set("X-Request-Id", strings.Repeat("x", maxRequestIDLength+1))
	if got := tc.do(req).Header().Get("X-Request-Id"); len(got) == 0 || len(got) > maxRequestIDLength {
		t.Errorf("oversized request id was not replaced: %q", got)
	}
}

// TestCacheHeaders checks static assets are cacheable only in production
func TestCacheHeaders(t *testing.T) {
	app, _ := newTestApp(t)
	if cc := newTestClient(app).get("/static/app.css").Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("development Cache-Control = %q, want no-store", cc)
	}

	app.IsProduction = true
	if cc := newTestClient(app).get("/static/app.css").Header().Get("Cache-Control"); !strings.Contains(cc, "max-age=60") {
		t.Errorf("production Cache-Control = %q, want max-age=60", cc)
	}
}

func TestCleanupIdleSessions(t *testing.T) {
	app, _ := newTestApp(t)
	fresh := app.getLearner("fresh-session-id")
	stale := app.getLearner("stale-session-id")
	stale.mu.Lock()
	stale.lastAccessTime = time.Now().Add(-2 * time.Hour)
	stale.mu.Unlock()

	if n := app.cleanupIdleSessions(time.Hour); n != 1 {
		t.Fatalf("cleanupIdleSessions removed %d, want 1", n)
	}
	if app.sessionCount() != 1 || app.getLearner("fresh-session-id") != fresh {
		t.Error("fresh session should survive cleanup")
	}
	if _, ok := <-mustSubscribe(stale); ok {
		t.Error("stale session's event hub should be closed")
	}
}

func mustSubscribe(l *Learner) <-chan Event {
	ch, _ := l.Events.Subscribe()
	return ch
}

func TestPruneLimiters(t *testing.T) {
	app, _ := newTestApp(t)
	app.allow("192.0.2.10")
	app.allow("192.0.2.11")
	app.LimiterMutex.Lock()
	app.LimiterMap["192.0.2.10"].lastSeen = time.Now().Add(-time.Hour)
	app.LimiterMutex.Unlock()

	if n := app.pruneLimiters(time.Minute); n != 1 {
		t.Errorf("pruneLimiters removed %d, want 1", n)
	}
	if _, ok := app.LimiterMap["192.0.2.11"]; !ok {
		t.Error("recent limiter should be kept")
	}
}

func TestHubFanOut(t *testing.T) {
	h := newHub()
	a, unsubA := h.Subscribe()
	b, unsubB := h.Subscribe()
	defer unsubB()

	h.Publish(Event{Name: EventState})
	if e := <-a; e.Name != EventState {
		t.Errorf("subscriber a got %q", e.Name)
	}
	if e := <-b; e.Name != EventState {
		t.Errorf("subscriber b got %q", e.Name)
	}

	unsubA()
	unsubA()
	if h.Subscribers() != 1 {
		t.Errorf("Subscribers = %d, want 1", h.Subscribers())
	}
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	h := newHub()
	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	for range subscriberBuffer + 10 {
		h.Publish(Event{Name: EventState})
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("buffered %d events, want %d", len(ch), subscriberBuffer)
	}
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	h := newHub()
	ch, unsubscribe := h.Subscribe()
	h.Close()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	unsubscribe()
	if _, ok := <-mustSubscribeHub(h); ok {
		t.Error("subscribing to a closed hub should yield a closed channel")
	}
}

func mustSubscribeHub(h *hub) <-chan Event {
	ch, _ := h.Subscribe()
	return ch
}

func isGzipped(w *httptest.ResponseRecorder) bool {
	return w.Header().Get("Content-Encoding") == "gzip"
}

func decompressGzip(data []byte) (string, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	return string(out), err
}

func gzipRequest(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Accept-Encoding", "gzip")
	return req
}

func TestGzipMiddleware_CompressesCSS(t *testing.T) {
	app, _ := newTestApp(t)
	w := newTestClient(app).do(gzipRequest("/static/app.css"))
	if !isGzipped(w) {
		t.Fatalf("Expected gzip Content-Encoding for .css file")
	}
	body, err := decompressGzip(w.Body.Bytes())
	if err != nil || !strings.Contains(body, ".letter-display") {
		t.Errorf("Failed to decompress gzipped CSS: %v", err)
	}
}

func TestGzipMiddleware_CompressesJSON(t *testing.T) {
	app, _ := newTestApp(t)
	w := newTestClient(app).do(gzipRequest(RouteHealthz))
	if !isGzipped(w) {
		t.Fatalf("Expected gzip Content-Encoding for /healthz")
	}
	body, err := decompressGzip(w.Body.Bytes())
	if err != nil || !strings.Contains(body, `"status":"ok"`) {
		t.Errorf("Failed to decompress gzipped JSON: %v, got: %q", err, body)
	}
}

func TestGzipMiddleware_SkipsImages(t *testing.T) {
	app, _ := newTestApp(t)
	if err := app.Images.PreloadAll(t.Context()); err != nil {
		t.Fatalf("PreloadAll: %v", err)
	}
	w := newTestClient(app).do(gzipRequest("/images/alphabet/A-apple.jpg"))
	if isGzipped(w) {
		t.Errorf("Did not expect gzip Content-Encoding for alphabet images")
	}
	if !bytes.Equal(w.Body.Bytes(), pngBytes) {
		t.Errorf("Unexpected body for image: %q", w.Body.String())
	}
}
