package guard

import (
	"fmt"
	"time"

	"github.com/ferramas/ferramas-backend/pkg/logger"
	pkgredis "github.com/ferramas/ferramas-backend/pkg/redis"
)

// Build assembles the confirm guard for one process. A nil client keeps the guard in-process only.
func Build(client *pkgredis.Client, ttl time.Duration, logg *logger.Logger) (*Chain, error) {
	var remote *Redis
	if client != nil {
		r, err := NewRedis(client, ttl)
		if err != nil {
			return nil, fmt.Errorf("redis confirm guard: %w", err)
		}
		remote = r
	}
	return NewChain(NewLocal(), remote, logg)
}
