package instance

import "github.com/ferramas/ferramas-backend/pkg/env"

const (
	envInstanceID = "FERRAMAS_INSTANCE_ID"
	envHostname   = "HOSTNAME"
	defaultID     = "local"
)

// ID names this process in logs and lock owners. An explicit instance id wins over the container hostname.
func ID() string {
	return env.First(defaultID, envInstanceID, envHostname)
}
