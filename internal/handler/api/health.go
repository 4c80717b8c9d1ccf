package api

import (
	"net/http"

	"github.com/dukerupert/cartsync/internal/handler"
)

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	handler.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
