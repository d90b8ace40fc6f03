package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enmeshed-analytics/gridwalk-core/internal/pipeline"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/catalog"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/config"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/connector/core"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/connector/registry"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/convert"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/dataset"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/dataset/gpkg"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/errors"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/logger"
	"github.com/enmeshed-analytics/gridwalk-core/pkg/schema"

	// Import available connectors to register them
	_ "github.com/enmeshed-analytics/gridwalk-core/pkg/connector/postgis"
)

var version = "0.1.0"

// pooler is implemented by connectors that expose their database pool; the
// layer catalog shares it.
type pooler interface {
	Pool() *pgxpool.Pool
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var configFile, connectorName string
	var timeout time.Duration

	root := &cobra.Command{
		Use:   "gridwalk",
		Short: "Gridwalk - geospatial layer import and tile serving core",
		Long: `Gridwalk imports geospatial file datasets into pluggable storage backends
and synthesizes Mapbox vector tiles from the stored layers.`,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "gridwalk.yaml", "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&connectorName, "connector", "postgis", "Storage connector to use")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Operation timeout")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Gridwalk v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "connectors",
		Short: "List available storage connectors",
		Run: func(cmd *cobra.Command, args []string) {
			for _, info := range registry.ListConnectorInfo() {
				fmt.Printf("  - %s: %s %v\n", info.Name, info.Description, info.Capabilities)
			}
		},
	})

	var describeLayer string
	var describeLayerIndex int
	describeCmd := &cobra.Command{
		Use:   "describe <dataset>",
		Short: "Extract and print a dataset layer's schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext(timeout)
			defer cancel()
			return describeDataset(ctx, configFile, connectorName, args[0], selector(describeLayer, describeLayerIndex))
		},
	}
	describeCmd.Flags().StringVar(&describeLayer, "layer", "", "Layer name (default: first layer)")
	describeCmd.Flags().IntVar(&describeLayerIndex, "layer-index", 0, "Layer index, ignored when --layer is set")
	root.AddCommand(describeCmd)

	var importLayer, importTable, importNamespace string
	var importLayerIndex, importWorkers int
	importCmd := &cobra.Command{
		Use:   "import <dataset>",
		Short: "Import a dataset layer into the storage backend",
		Long: `Import streams one layer of a geospatial file dataset into the configured
storage backend: the layer schema is extracted, the backend table created,
and every feature converted and inserted.

Example:
  gridwalk import parks.gpkg --layer parks --table city_parks`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext(timeout)
			defer cancel()
			return importDataset(ctx, configFile, connectorName, args[0], &importOptions{
				selector:  selector(importLayer, importLayerIndex),
				table:     importTable,
				namespace: importNamespace,
				workers:   importWorkers,
			})
		},
	}
	importCmd.Flags().StringVar(&importLayer, "layer", "", "Layer name (default: first layer)")
	importCmd.Flags().IntVar(&importLayerIndex, "layer-index", 0, "Layer index, ignored when --layer is set")
	importCmd.Flags().StringVar(&importTable, "table", "", "Target table name (default: layer name)")
	importCmd.Flags().StringVar(&importNamespace, "namespace", "", "Target namespace (default: connector schema)")
	importCmd.Flags().IntVar(&importWorkers, "workers", 0, "Parallel insert workers (default: from configuration)")
	root.AddCommand(importCmd)

	var tileTable, tileNamespace, tileGeomColumn, tileLayerName, tileOut string
	var tileSRID int
	tileCmd := &cobra.Command{
		Use:   "tile <z> <x> <y>",
		Short: "Fetch one Mapbox vector tile for a stored layer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			z, x, y, err := parseTileCoords(args)
			if err != nil {
				return err
			}
			ctx, cancel := opContext(timeout)
			defer cancel()
			return fetchTile(ctx, configFile, connectorName, &tileOptions{
				table:      tileTable,
				namespace:  tileNamespace,
				geomColumn: tileGeomColumn,
				layerName:  tileLayerName,
				srid:       tileSRID,
				out:        tileOut,
				z:          z, x: x, y: y,
			})
		},
	}
	tileCmd.Flags().StringVar(&tileTable, "table", "", "Stored layer table name (required)")
	tileCmd.Flags().StringVar(&tileNamespace, "namespace", "", "Layer namespace (default: connector schema)")
	tileCmd.Flags().StringVar(&tileGeomColumn, "geometry-column", "geometry", "Geometry column name")
	tileCmd.Flags().StringVar(&tileLayerName, "name", "", "Tile layer name (default: table name)")
	tileCmd.Flags().IntVar(&tileSRID, "srid", 0, "Stored geometry SRID (default 4326)")
	tileCmd.Flags().StringVar(&tileOut, "out", "", "Output file (default: stdout)")
	_ = tileCmd.MarkFlagRequired("table")
	root.AddCommand(tileCmd)

	root.AddCommand(&cobra.Command{
		Use:   "sources",
		Short: "List stored sources in the connector's namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext(timeout)
			defer cancel()
			return listSources(ctx, configFile, connectorName)
		},
	})

	var layersLimit, layersOffset uint64
	layersCmd := &cobra.Command{
		Use:   "layers",
		Short: "List cataloged layers, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext(timeout)
			defer cancel()
			return listLayers(ctx, configFile, connectorName, layersLimit, layersOffset)
		},
	}
	layersCmd.Flags().Uint64Var(&layersLimit, "limit", 50, "Maximum number of rows")
	layersCmd.Flags().Uint64Var(&layersOffset, "offset", 0, "Rows to skip")
	root.AddCommand(layersCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func opContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// selector builds the layer selector from the name/index flag pair.
func selector(name string, index int) convert.LayerSelector {
	if name != "" {
		return convert.ByName(name)
	}
	return convert.ByIndex(index)
}

// loadConfig reads and validates the configuration, then re-initializes the
// logger from it.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if err := config.Load(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Encoding:    cfg.Log.Encoding,
	}); err != nil {
		return nil, err
	}

	return cfg, nil
}

// vectorConnector creates the named connector and narrows it to its vector
// capability.
func vectorConnector(ctx context.Context, name string, cfg *config.Config) (core.Vector, error) {
	conn, err := registry.Create(ctx, name, cfg)
	if err != nil {
		return nil, err
	}

	vec, ok := conn.AsVector()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeCapability, "connector %q has no vector capability", name)
	}
	return vec, nil
}

func openDataset(path string) (dataset.Dataset, error) {
	return gpkg.Open(path)
}

func describeDataset(ctx context.Context, configFile, connectorName, datasetPath string, sel convert.LayerSelector) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	// Schema extraction only uses the connector's type mapping, so no
	// liveness check: describe works without a reachable database.
	vec, err := vectorConnector(ctx, connectorName, cfg)
	if err != nil {
		return err
	}

	ds, err := openDataset(datasetPath)
	if err != nil {
		return err
	}
	defer ds.Close()

	stream, err := convert.NewFeatureStream(ctx, ds, sel)
	if err != nil {
		return err
	}

	layerSchema, err := schema.ExtractLayer(ctx, ds, stream.LayerName(), vec)
	if err != nil {
		return err
	}

	return printJSON(layerSchema)
}

type importOptions struct {
	selector  convert.LayerSelector
	table     string
	namespace string
	workers   int
}

func importDataset(ctx context.Context, configFile, connectorName, datasetPath string, opts *importOptions) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	vec, err := vectorConnector(ctx, connectorName, cfg)
	if err != nil {
		return err
	}
	if err := vec.Connect(ctx); err != nil {
		return err
	}

	inserter, ok := vec.(pipeline.Inserter)
	if !ok {
		return errors.Newf(errors.ErrorTypeCapability, "connector %q cannot insert records", connectorName)
	}

	ds, err := openDataset(datasetPath)
	if err != nil {
		return err
	}
	defer ds.Close()

	namespace := opts.namespace
	if namespace == "" {
		namespace = cfg.Postgres.Schema
	}
	workers := opts.workers
	if workers <= 0 {
		workers = cfg.Pipeline.Workers
	}

	pipelineConfig := &pipeline.Config{
		Layer:     opts.selector,
		Namespace: namespace,
		TableName: opts.table,
		Workers:   workers,
		Connector: connectorName,
	}

	// The catalog shares the connector's pool when the backend exposes it.
	if p, ok := vec.(pooler); ok {
		store := catalog.NewStore(p.Pool())
		if err := store.Init(ctx); err != nil {
			return err
		}
		pipelineConfig.Catalog = store
	}

	result, err := pipeline.NewImport(ds, vec, inserter, pipelineConfig).Run(ctx)
	if err != nil {
		return err
	}

	logger.Get().Info("import finished",
		zap.String("table", result.TableName),
		zap.Int64("records", result.RecordsInserted),
		zap.Duration("duration", result.Duration))

	return printJSON(result)
}

type tileOptions struct {
	table      string
	namespace  string
	geomColumn string
	layerName  string
	srid       int
	out        string
	z, x, y    uint32
}

func fetchTile(ctx context.Context, configFile, connectorName string, opts *tileOptions) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	vec, err := vectorConnector(ctx, connectorName, cfg)
	if err != nil {
		return err
	}
	if err := vec.Connect(ctx); err != nil {
		return err
	}

	namespace := opts.namespace
	if namespace == "" {
		namespace = cfg.Postgres.Schema
	}
	layerName := opts.layerName
	if layerName == "" {
		layerName = opts.table
	}

	src := core.LayerSource{
		Namespace:      namespace,
		Name:           opts.table,
		GeometryColumn: opts.geomColumn,
		SRID:           opts.srid,
	}

	tile, err := vec.Tile(ctx, src, layerName, opts.z, opts.x, opts.y)
	if err != nil {
		return err
	}

	if opts.out == "" {
		_, err = os.Stdout.Write(tile)
		return err
	}
	return os.WriteFile(opts.out, tile, 0o644)
}

func parseTileCoords(args []string) (z, x, y uint32, err error) {
	coords := make([]uint32, 3)
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid tile coordinate %q: %w", arg, err)
		}
		coords[i] = uint32(v)
	}
	return coords[0], coords[1], coords[2], nil
}

func listSources(ctx context.Context, configFile, connectorName string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	vec, err := vectorConnector(ctx, connectorName, cfg)
	if err != nil {
		return err
	}
	if err := vec.Connect(ctx); err != nil {
		return err
	}

	sources, err := vec.ListSources(ctx)
	if err != nil {
		return err
	}
	for _, source := range sources {
		fmt.Printf("  - %s\n", source)
	}
	return nil
}

func listLayers(ctx context.Context, configFile, connectorName string, limit, offset uint64) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	vec, err := vectorConnector(ctx, connectorName, cfg)
	if err != nil {
		return err
	}
	if err := vec.Connect(ctx); err != nil {
		return err
	}

	p, ok := vec.(pooler)
	if !ok {
		return errors.Newf(errors.ErrorTypeCapability, "connector %q does not share a catalog database", connectorName)
	}

	store := catalog.NewStore(p.Pool())
	if err := store.Init(ctx); err != nil {
		return err
	}

	layers, err := store.List(ctx, limit, offset)
	if err != nil {
		return err
	}
	return printJSON(layers)
}

func printJSON(v interface{}) error {
	data, err := gojson.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
