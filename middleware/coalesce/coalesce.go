package coalesce

import (
	"coalescing-gateway/middleware/coalesce/application"
	"coalescing-gateway/middleware/coalesce/infra"
)

// NewCoalescer cria um Coalescer sobre o relógio do sistema.
func NewCoalescer(opts ...application.Option) *application.Coalescer {
	return application.NewCoalescer(infra.SystemClock{}, opts...)
}
