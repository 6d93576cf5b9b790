package hybridcache

import "github.com/unkn0wn-root/hybridcache/log"

type (
	Logger = log.Logger
	Fields = log.Fields
)

// NopLogger discards everything.
type NopLogger = log.Nop
