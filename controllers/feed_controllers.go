package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yeremiapane/pos-backend/feed"
	"github.com/yeremiapane/pos-backend/utils"
)

type FeedController struct {
	Hub      *feed.Hub
	upgrader websocket.Upgrader
}

// NewFeedController accepts upgrades from the listed origins; "*" or an empty
// list accepts any origin.
func NewFeedController(hub *feed.Hub, origins []string) *FeedController {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &FeedController{
		Hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
			},
		},
	}
}

// Subscribe -> websocket endpoint; the client only listens
func (fc *FeedController) Subscribe(c *gin.Context) {
	ws, err := fc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.ErrorLogger.Warnf("websocket upgrade failed: %v", err)
		return
	}

	fc.Hub.Register(ws, c.ClientIP())

	// read until the client goes away
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	fc.Hub.Unregister(ws)
}
