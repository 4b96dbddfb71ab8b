package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"

	"github.com/uttop/campusmap/internal/geo"
	"github.com/uttop/campusmap/internal/routing"
	"github.com/uttop/campusmap/internal/storage"
)

// sessionQuery names the query parameter that ties a REST call to a live
// WebSocket session, whose Position then fills in missing coordinates.
const sessionQuery = "session"

// Request body limits. An info point carries its image as base64, which is
// 4/3 of the file size.
const (
	maxPOIBody  = 64 << 10
	maxInfoBody = storage.MaxImageBytes/3*4 + 64<<10
)

// limitBody caps the bytes a handler may read from the request body.
func limitBody(c *gin.Context, n int64) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
}

// badBody answers a body that could not be read or decoded.
func badBody(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), cors())

	api := r.Group("/api")
	api.GET("/health", s.health)
	api.GET("/pois", s.listPOIs)
	api.POST("/pois", s.createPOI)
	api.GET("/infos", s.listInfos)
	api.POST("/infos", s.createInfo)
	api.DELETE("/infos/:id", s.deleteInfo)
	api.GET("/campus", s.listCampus)
	api.GET("/route", s.route)

	r.GET("/ws", s.serveWS)
	r.NoRoute(s.fallback)
	return r
}

// cors allows any origin and answers preflight requests directly.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Request-Method", "*")
		h.Set("Access-Control-Allow-Methods", "OPTIONS, GET, POST, PUT, DELETE")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": s.Sessions(),
		"clients":  s.hub.Count(),
	})
}

func (s *Server) listPOIs(c *gin.Context) {
	pois, err := s.store.ListPOIs(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, pois)
}

// createPOI accepts any JSON object with name, lat and lng. Other fields are
// kept as extra attributes.
func (s *Server) createPOI(c *gin.Context) {
	limitBody(c, maxPOIBody)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badBody(c, err)
		return
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	name, _ := raw["name"].(string)
	lat, latOK := raw["lat"].(float64)
	lng, lngOK := raw["lng"].(float64)
	if strings.TrimSpace(name) == "" || !latOK || !lngOK {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}

	for _, k := range []string{"id", "name", "lat", "lng", "createdAt", "extra"} {
		delete(raw, k)
	}
	poi := storage.POI{
		ID:        uuid.NewString(),
		Name:      name,
		Latitude:  lat,
		Longitude: lng,
		CreatedAt: time.Now().UTC(),
	}
	if len(raw) > 0 {
		poi.Extra = raw
	}

	if err := s.store.CreatePOI(c.Request.Context(), &poi); err != nil {
		if errors.Is(err, storage.ErrInvalidPOI) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
			return
		}
		s.internalError(c, err)
		return
	}

	s.hub.Broadcast(poiMessage{Type: msgPOIAdded, Data: poi}, nil)
	c.JSON(http.StatusCreated, poi)
}

type infoRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	MarkerType  string   `json:"markerType"`
	Image       string   `json:"image"`
	Latitude    *float64 `json:"lat"`
	Longitude   *float64 `json:"lng"`
}

func (s *Server) listInfos(c *gin.Context) {
	infos, err := s.store.ListInfos(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, infos)
}

// createInfo pins an information point. Missing coordinates default to the
// Position of the calling session, or the campus entrance without one.
func (s *Server) createInfo(c *gin.Context) {
	limitBody(c, maxInfoBody)
	var req infoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	p := storage.InfoPoint{
		Title:       req.Title,
		Description: req.Description,
		MarkerType:  req.MarkerType,
		Image:       req.Image,
	}
	if req.Latitude != nil && req.Longitude != nil {
		p.Latitude, p.Longitude = *req.Latitude, *req.Longitude
	} else {
		cur := s.currentPosition(c)
		p.Latitude, p.Longitude = cur.Latitude, cur.Longitude
	}
	if err := geo.Validate(p.Latitude, p.Longitude); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.CreateInfo(c.Request.Context(), &p); err != nil {
		switch {
		case errors.Is(err, storage.ErrImageTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image too large. Maximum size is 5MB."})
		case errors.Is(err, storage.ErrInvalidImage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Please select a valid image file"})
		default:
			s.internalError(c, err)
		}
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) deleteInfo(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := s.store.DeleteInfo(c.Request.Context(), uint(id)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		s.internalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listCampus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"center":    s.catalog.Center(),
		"locations": s.catalog.List(),
	})
}

// route answers GET /api/route?from=..&to=.. with the same payload as the
// WebSocket route message, without drawing it.
func (s *Server) route(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to are required"})
		return
	}

	var current *geo.Position
	if sess, ok := s.session(c.Query(sessionQuery)); ok {
		if p, ok := sess.current(c.Request.Context()); ok {
			current = &p
		}
	}

	msg, err := s.findRoute(c.Request.Context(), from, to, current)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, msg)
	case errors.Is(err, routing.ErrNoRoute):
		c.JSON(http.StatusNotFound, gin.H{"error": "No route found between the selected points"})
	case errors.Is(err, routing.ErrUnknownLocation), errors.Is(err, geo.ErrInvalidCoordinate):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Warn("Route request failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": MsgRouteFailed})
	}
}

func (s *Server) currentPosition(c *gin.Context) geo.Position {
	if sess, ok := s.session(c.Query(sessionQuery)); ok {
		if p, ok := sess.current(c.Request.Context()); ok {
			return p
		}
	}
	return geo.Position{Latitude: geo.DefaultLatitude, Longitude: geo.DefaultLongitude}
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Error("API error", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

// fallback handles everything that is not an API route: WebSocket upgrades
// on any path, unknown API paths, then static files.
func (s *Server) fallback(c *gin.Context) {
	if ws.IsWebSocketUpgrade(c.Request) {
		s.serveWS(c)
		return
	}
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.String(http.StatusNotFound, "404 Not Found")
		return
	}
	s.serveStatic(c)
}

func (s *Server) serveStatic(c *gin.Context) {
	name := path.Clean("/" + c.Request.URL.Path)
	if name == "/" {
		name = "/index.html"
	}

	notFound := func() {
		c.Data(http.StatusNotFound, "text/html", []byte("404 Not Found"))
	}
	if s.cfg.StaticDir == "" {
		notFound()
		return
	}

	f, err := http.Dir(s.cfg.StaticDir).Open(name)
	if err != nil {
		notFound()
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		notFound()
		return
	}
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}
