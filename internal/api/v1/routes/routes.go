package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	v1handlers "github.com/deepgram/colloquy/internal/api/v1/handlers"
	"github.com/deepgram/colloquy/internal/connections"
	"github.com/deepgram/colloquy/internal/services"
	"github.com/deepgram/colloquy/pkg/httpext"
)

// NewRouter builds the full HTTP surface: the public health probe and the
// authenticated v1 API.
func NewRouter(services *services.Services, manager *connections.Manager) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		v1handlers.HandleHealth(services.GetChatService(), w, r)
	}).Methods("GET")

	v1handlers.RegisterV1Routes(router, services, manager)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpext.JsonError(w, "Not found", http.StatusNotFound)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpext.JsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	return router
}
