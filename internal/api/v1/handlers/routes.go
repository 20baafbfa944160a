package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/deepgram/colloquy/internal/api/v1/handlers/conversations"
	"github.com/deepgram/colloquy/internal/api/v1/handlers/documents"
	"github.com/deepgram/colloquy/internal/api/v1/handlers/websocket"
	v1mware "github.com/deepgram/colloquy/internal/api/v1/middleware"
	"github.com/deepgram/colloquy/internal/connections"
	"github.com/deepgram/colloquy/internal/services"
)

func RegisterV1Routes(router *mux.Router, services *services.Services, manager *connections.Manager) {
	chatService := services.GetChatService()

	// v1 routes, all require a bearer token
	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(v1mware.RequireAuth)
	v1.Use(v1mware.RateLimit("global"))

	// Conversation routes
	v1.HandleFunc("/conversations", func(w http.ResponseWriter, r *http.Request) {
		conversations.HandleCreate(chatService, w, r)
	}).Methods("POST")
	v1.HandleFunc("/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		conversations.HandleListMessages(chatService, w, r)
	}).Methods("GET")

	chatStream := v1mware.RateLimit("chat_stream")
	v1.Handle("/conversations/{id}/messages", chatStream(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conversations.HandleSend(chatService, w, r)
	}))).Methods("POST")
	v1.Handle("/conversations/{id}/retry", chatStream(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conversations.HandleRetry(chatService, w, r)
	}))).Methods("POST")

	// Document routes
	v1.Handle("/documents", v1mware.RateLimit("documents")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		documents.HandleIndex(services.GetRetrievalService(), w, r)
	}))).Methods("POST")

	// Websocket chat
	v1.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.HandleChat(chatService, manager, w, r)
	}).Methods("GET")
}
