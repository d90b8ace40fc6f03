// Package schema extracts backend-ready layer schemas from file datasets.
//
// Extraction is a one-shot introspection of a dataset layer followed by the
// target connector's field type mapping; the mapping step is why an
// extraction needs a connector instance and not just the dataset.
package schema

import (
	"context"

	"go.uber.org/zap"

	"github.com/enmeshed-analytics/gridwalk-core/internal/blocking"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/connector/core"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/dataset"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/logger"
)

// rawSchema is the dataset-reported layer description, before backend type
// mapping.
type rawSchema struct {
	name         string
	geometryType string
	srid         int
	featureCount int64
	fields       []dataset.FieldDef
}

// Extract introspects the first layer of the dataset and maps each raw field
// type through the connector's MapFieldType into a schema ready for layer
// creation. The native introspection runs as one unit of work on the blocking
// boundary.
func Extract(ctx context.Context, ds dataset.Dataset, conn core.Vector) (*core.LayerSchema, error) {
	return extract(ctx, conn, func() (dataset.Layer, error) {
		return ds.Layer(0)
	})
}

// ExtractLayer is Extract for a specific named layer. Imports that target a
// layer other than the first use it.
func ExtractLayer(ctx context.Context, ds dataset.Dataset, name string, conn core.Vector) (*core.LayerSchema, error) {
	return extract(ctx, conn, func() (dataset.Layer, error) {
		return ds.LayerByName(name)
	})
}

func extract(ctx context.Context, conn core.Vector, resolve func() (dataset.Layer, error)) (*core.LayerSchema, error) {
	raw, err := blocking.Do(ctx, func() (*rawSchema, error) {
		layer, err := resolve()
		if err != nil {
			return nil, err
		}
		return introspect(layer)
	})
	if err != nil {
		return nil, err
	}

	geometryType, err := core.ParseGeometryType(raw.geometryType)
	if err != nil {
		return nil, err
	}

	schema := &core.LayerSchema{
		Name:         raw.name,
		GeometryType: geometryType,
		SRID:         raw.srid,
		FeatureCount: raw.featureCount,
		Fields:       make([]core.FieldDefinition, 0, len(raw.fields)),
	}
	for _, def := range raw.fields {
		schema.Fields = append(schema.Fields, core.FieldDefinition{
			Name:      def.Name,
			Type:      conn.MapFieldType(def.Type),
			Width:     def.Width,
			Precision: def.Precision,
			Nullable:  def.Nullable,
		})
	}

	logger.Get().Debug("extracted layer schema",
		zap.String("layer", schema.Name),
		zap.String("geometry_type", string(schema.GeometryType)),
		zap.Int64("features", schema.FeatureCount),
		zap.Int("fields", len(schema.Fields)))

	return schema, nil
}

// introspect reads the layer's description. Runs on the blocking boundary;
// must not be called inline.
func introspect(layer dataset.Layer) (*rawSchema, error) {
	count, err := layer.FeatureCount()
	if err != nil {
		return nil, err
	}

	geometryType, err := layer.GeometryType()
	if err != nil {
		return nil, err
	}

	srid, err := layer.SRID()
	if err != nil {
		return nil, err
	}

	fields, err := layer.FieldDefs()
	if err != nil {
		return nil, err
	}

	return &rawSchema{
		name:         layer.Name(),
		geometryType: geometryType,
		srid:         srid,
		featureCount: count,
		fields:       fields,
	}, nil
}
