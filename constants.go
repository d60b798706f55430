package main

// Session configuration constants
const (
	SessionCookieName = "session_id"
)

// Route constants
const (
	RouteHome        = "/"
	RouteState       = "/state"
	RouteLetter      = "/letters/:letter"
	RouteKey         = "/key"
	RouteNext        = "/next"
	RouteReset       = "/reset"
	RouteSpeak       = "/speak"
	RouteImageLoaded = "/selections/:id/loaded"
	RouteImageFailed = "/selections/:id/failed"
	RouteDismiss     = "/celebration/dismiss"
	RouteVoices      = "/voices"
	RouteEvents      = "/events"
	RouteImages      = "/images/alphabet/:file"
	RouteHealthz     = "/healthz"
	imageRoutePrefix = "/images/alphabet/"
)

// Template constants
const (
	pageTemplate     = "index.html"
	contentTemplate  = "learning-content"
	pageTitle        = "Alphabet Learning Adventure"
	pageIntroduction = "Type any letter on your keyboard to see its picture!"
)

// Server-sent event names
const (
	EventState  = "state"
	EventSpeech = "speech"
)

// Context key constants
const (
	requestIDKey contextKey = "request_id"
)
