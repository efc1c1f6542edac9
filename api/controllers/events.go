package controllers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ferramas/ferramas-backend/api/responses"
	"github.com/ferramas/ferramas-backend/internal/alerts"
	pkgerrors "github.com/ferramas/ferramas-backend/pkg/errors"
	"github.com/ferramas/ferramas-backend/pkg/logger"
)

const defaultHeartbeat = 20 * time.Second

type alertSubscriber interface {
	Subscribe() (uint64, <-chan alerts.Event)
	Unsubscribe(id uint64)
}

// Events streams operator alerts as server-sent events until the client disconnects.
func Events(broker alertSubscriber, heartbeat time.Duration, logg *logger.Logger) http.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if broker == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "alerts broker unavailable"))
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		id, events := broker.Subscribe()
		defer broker.Unsubscribe(id)

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithField(ctx, "subscriber_id", id)
			logg.Info(ctx, "alerts subscriber connected")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: connected\n\n")
		flusher.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				if logg != nil {
					logg.Info(ctx, "alerts subscriber disconnected")
				}
				return
			case <-ticker.C:
				fmt.Fprint(w, ": heartbeat\n\n")
				flusher.Flush()
			case evt, open := <-events:
				if !open {
					return
				}
				writeEvent(w, evt)
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, evt alerts.Event) {
	if evt.Name != "" {
		fmt.Fprintf(w, "event: %s\n", evt.Name)
	}
	for _, line := range strings.Split(evt.Data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}
