package controllers

import (
	"net/http"

	"github.com/ferramas/ferramas-backend/api/middleware"
	"github.com/ferramas/ferramas-backend/api/responses"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

func AdminPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]string{"scope": "admin", "status": "ok"}
		if staff := middleware.StaffIDFromContext(r.Context()); staff != "" {
			payload["staff_id"] = staff
		}
		responses.WriteSuccess(w, payload)
	}
}
