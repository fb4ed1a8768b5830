package server

import (
	"net/http"

	"KaraFM/core/splash"
	"KaraFM/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Splash screens run on the local network; origin checks are the
	// admin secret's job, not the websocket's.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SplashSocketHandler upgrades a splash screen connection and attaches it
// to the hub. The client immediately receives a full state snapshot.
func SplashSocketHandler(hub *splash.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("websocket upgrade failed", logger.ErrorField(err))
			return
		}

		client := splash.NewClient(hub, conn, uuid.NewString())
		hub.Register(client)

		go client.WritePump()
		go client.ReadPump()
	}
}
