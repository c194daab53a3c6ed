package controller

import (
	"net/http"
)

type healthResponse struct {
	Status        string   `json:"status"`
	Error         string   `json:"error,omitempty"`
	LatestSession *uint32  `json:"latestSession,omitempty"`
	Sessions      []uint32 `json:"sessions"`
	Redis         string   `json:"redis"`
}

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := healthResponse{
		Status:   "ok",
		Sessions: c.App.Sessions.Sessions(),
		Redis:    "disabled",
	}
	if latest, ok := c.App.Sessions.CachedLatest(); ok {
		resp.LatestSession = &latest
	}

	if c.App.RedisClient != nil {
		if err := c.App.RedisClient.Health(ctx); err != nil {
			resp.Status = "errored"
			resp.Error = "redis connection error"
			resp.Redis = "unreachable"
			writeJSON(w, http.StatusInternalServerError, resp)
			return
		}
		resp.Redis = "ok"
	}

	writeJSON(w, http.StatusOK, resp)
}
