package main

import (
	"net/http"

	"github.com/LingByte/LingSFU/pkg/metrics"
	"github.com/LingByte/LingSFU/pkg/sfu"
	"github.com/LingByte/LingSFU/pkg/signaling"
	"github.com/gin-gonic/gin"
)

// newRouter mounts the signaling endpoint plus health, metrics and a
// read-only room listing.
func newRouter(node *sfu.CentralNode, sig *signaling.Server, m *metrics.Metrics) *gin.Engine {
	r := gin.New()        // gin.New avoids the default redirect middleware
	r.Use(gin.Recovery()) // Manually add Recovery middleware
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	r.GET("/ws", sig.HandleWebSocket)
	r.GET("/healthz", func(c *gin.Context) {
		snap := node.Snapshot()
		status := http.StatusOK
		if snap.WorkersAlive == 0 {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"node":    node.ID,
			"clients": sig.ClientCount(),
			"stats":   snap,
		})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	api := r.Group("/api")
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, node.Rooms())
	})
	api.GET("/rooms/:id", func(c *gin.Context) {
		for _, room := range node.Rooms() {
			if room.ID == c.Param("id") {
				c.JSON(http.StatusOK, room)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	})
	return r
}
