// Package server exposes the engine over HTTP: status and device info as
// JSON, start/stop control, and a PNG preview of the most recent frame.
package server

import (
	"context"
	"image"
	"image/png"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/image/draw"

	"github.com/gigekit/evtcam/internal/logging"
	"github.com/gigekit/evtcam/pkg/engine"
	"github.com/gigekit/evtcam/pkg/sink"
)

const previewMaxWidth = 640

var log = logging.NewLogger("server")

// Server wraps one engine. It implements sink.Sink so it can be chained
// in front of (or instead of) the application's real sink to keep the
// latest frame available for preview.
type Server struct {
	eng  *engine.Engine
	next sink.Sink

	mu     sync.RWMutex
	latest *sink.Image

	httpServer *http.Server
}

// New builds a Server forwarding published images to next, which may be
// nil when the preview endpoint is the only consumer.
func New(eng *engine.Engine, next sink.Sink) *Server {
	return &Server{eng: eng, next: next}
}

// Publish retains the image for preview and forwards it. The retained
// pointer is safe because the engine relinquishes ownership on publish.
func (s *Server) Publish(im *sink.Image) error {
	s.mu.Lock()
	s.latest = im
	s.mu.Unlock()

	if s.next == nil {
		return nil
	}
	return s.next.Publish(im)
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/api/status", s.handleStatus)
	router.GET("/api/device", s.handleDevice)
	router.POST("/api/start", s.handleStart)
	router.POST("/api/stop", s.handleStop)
	router.GET("/preview.png", s.handlePreview)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	log.Infof("listening on %s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	st := s.eng.SnapshotStatus()
	c.JSON(http.StatusOK, gin.H{
		"state":     st.State,
		"connected": st.Connected,
		"acquiring": st.Acquiring,
		"captured":  st.Captured,
		"published": st.Published,
		"dropped":   st.Dropped,
		"lastError": st.LastError,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleDevice(c *gin.Context) {
	desc := s.eng.Descriptor()
	if desc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not connected"})
		return
	}
	c.JSON(http.StatusOK, desc)
}

func (s *Server) handleStart(c *gin.Context) {
	if err := s.eng.Start(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.eng.Stop(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePreview(c *gin.Context) {
	s.mu.RLock()
	im := s.latest
	s.mu.RUnlock()
	if im == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame captured yet"})
		return
	}

	img, err := im.Decode()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "image/png")
	c.Status(http.StatusOK)
	if err := png.Encode(c.Writer, shrink(img)); err != nil {
		log.Warnf("preview encode: %v", err)
	}
}

// shrink scales the preview down to a browser-friendly width.
func shrink(img image.Image) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() <= previewMaxWidth {
		return img
	}
	h := bounds.Dy() * previewMaxWidth / bounds.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, previewMaxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
