package handlers

import "net/http"

func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":  "ok",
		"version": api.cfg.Version,
	}
	if api.queue != nil {
		response["queue_depth"] = api.queue.Depth()
		response["queue_capacity"] = api.queue.Capacity()
	}
	writeJSON(w, http.StatusOK, response)
}
