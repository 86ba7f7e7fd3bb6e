package infra

import (
	_ "embed"

	"github.com/redis/go-redis/v9"
)

var (
	//go:embed scripts/swap.lua
	swapSource string
	//go:embed scripts/release_lock.lua
	releaseLockSource string
	//go:embed scripts/claim.lua
	claimSource string

	swapScript        = redis.NewScript(swapSource)
	releaseLockScript = redis.NewScript(releaseLockSource)
	claimScript       = redis.NewScript(claimSource)
)
