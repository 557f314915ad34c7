package platform

import (
	"fmt"

	"shopbot/internal/domain"
)

// Resolver maps page kinds to connectors. Built once at startup.
type Resolver struct {
	connectors map[string]domain.Connector
}

func NewResolver(connectors ...domain.Connector) *Resolver {
	m := make(map[string]domain.Connector, len(connectors))
	for _, c := range connectors {
		m[c.Kind()] = c
	}
	return &Resolver{connectors: m}
}

func (r *Resolver) ForKind(kind string) (domain.Connector, error) {
	c, ok := r.connectors[kind]
	if !ok {
		return nil, fmt.Errorf("no connector for page kind %q", kind)
	}
	return c, nil
}
