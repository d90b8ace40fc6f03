package postgis

import (
	"context"

	"github.com/enmeshed-analytics/gridwalk-core/pkg/config"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/connector/core"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/connector/registry"
)

func init() {
	// Register the PostGIS vector connector
	_ = registry.Register(Name, func(ctx context.Context, cfg *config.Config) (*core.Connector, error) {
		conn, err := New(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return core.NewVector(conn), nil
	})

	_ = registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:         Name,
		Description:  "PostGIS vector layer storage with MVT tile synthesis",
		Capabilities: []string{"vector"},
	})
}
