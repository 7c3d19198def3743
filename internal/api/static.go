package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// ServeStaticFiles serves the web frontend from distPath. Unknown /api paths
// always get a JSON 404 instead of the SPA shell.
func ServeStaticFiles(router *gin.Engine, distPath string) {
	index := filepath.Join(distPath, "index.html")
	_, err := os.Stat(index)
	built := err == nil

	if built {
		router.StaticFile("/", index)
		router.Static("/assets", filepath.Join(distPath, "assets"))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") || !built {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		// Catch-all for SPA routing
		c.File(index)
	})
}
