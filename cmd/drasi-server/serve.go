package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/drasi-project/drasi-server/internal/api"
	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/component"
	"github.com/drasi-project/drasi-server/internal/config"
	"github.com/drasi-project/drasi-server/internal/factory"
	"github.com/drasi-project/drasi-server/internal/indexstore"
	"github.com/drasi-project/drasi-server/internal/instance"
	"github.com/drasi-project/drasi-server/internal/instanceregistry"
	"github.com/drasi-project/drasi-server/internal/logger"
	"github.com/drasi-project/drasi-server/internal/middleware"
	"github.com/drasi-project/drasi-server/internal/persistence"
	"github.com/drasi-project/drasi-server/internal/plugins/application"
	"github.com/drasi-project/drasi-server/internal/plugins/grpcstub"
	"github.com/drasi-project/drasi-server/internal/plugins/httpreaction"
	"github.com/drasi-project/drasi-server/internal/plugins/httpsource"
	"github.com/drasi-project/drasi-server/internal/plugins/logreaction"
	"github.com/drasi-project/drasi-server/internal/plugins/mock"
	"github.com/drasi-project/drasi-server/internal/plugins/noop"
	"github.com/drasi-project/drasi-server/internal/plugins/platformk8s"
	"github.com/drasi-project/drasi-server/internal/plugins/platformws"
	"github.com/drasi-project/drasi-server/internal/plugins/postgres"
	"github.com/drasi-project/drasi-server/internal/plugins/profiler"
	"github.com/drasi-project/drasi-server/internal/plugins/ssereaction"
	"github.com/drasi-project/drasi-server/internal/query"
	"github.com/drasi-project/drasi-server/internal/registry"
)

// loadConfigFile reads path, applies spec.md §6.1's environment-variable
// interpolation, decodes it with strict unknown-field rejection, then
// normalizes the flat-vs-"instances:" forms the same way
// persistence.Load does — duplicated here (rather than calling
// persistence.Load directly) because interpolation must run before the
// document is parsed, not after.
func loadConfigFile(path string) (persistence.FileDTO, []persistence.InstanceDTO, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return persistence.FileDTO{}, nil, apierrors.OperationFailed("config", path, "load", err)
	}
	interpolated, err := config.Interpolate(string(raw))
	if err != nil {
		return persistence.FileDTO{}, nil, err
	}

	var file persistence.FileDTO
	if _, err := config.DecodeStrict([]byte(interpolated), &file); err != nil {
		return persistence.FileDTO{}, nil, err
	}

	if len(file.Instances) > 0 {
		return file, file.Instances, nil
	}
	flat := persistence.InstanceDTO{
		ID:                            file.ID,
		StateStore:                    file.StateStore,
		PersistIndex:                  file.PersistIndex,
		DefaultPriorityQueueCapacity:  file.DefaultPriorityQueueCapacity,
		DefaultDispatchBufferCapacity: file.DefaultDispatchBufferCapacity,
		Sources:                       file.Sources,
		Queries:                       file.Queries,
		Reactions:                     file.Reactions,
	}
	return file, []persistence.InstanceDTO{flat}, nil
}

// registerBuiltins wires every plugin kind this binary ships (spec.md
// §4.1's PluginRegistry is otherwise empty at construction). natsConn may
// be nil, in which case "application" reactions still construct but their
// NATS publish path is inert.
func registerBuiltins(reg *registry.Registry, natsConn *nats.Conn) {
	reg.RegisterSource(mock.Descriptor{})
	reg.RegisterSource(noop.SourceDescriptor{})
	reg.RegisterSource(httpsource.Descriptor{})
	reg.RegisterSource(application.SourceDescriptor{})
	reg.RegisterSource(postgres.SourceDescriptor{})
	reg.RegisterSource(platformk8s.SourceDescriptor{})
	reg.RegisterSource(grpcstub.SourceDescriptor{StubKind: "grpc"})
	reg.RegisterSource(grpcstub.SourceDescriptor{StubKind: "mssql"})

	reg.RegisterReaction(noop.ReactionDescriptor{})
	reg.RegisterReaction(logreaction.Descriptor{})
	reg.RegisterReaction(application.Descriptor{Conn: natsConn})
	reg.RegisterReaction(postgres.ReactionDescriptor{})
	reg.RegisterReaction(httpreaction.Descriptor{Adaptive: false})
	reg.RegisterReaction(httpreaction.Descriptor{Adaptive: true})
	reg.RegisterReaction(ssereaction.Descriptor{})
	reg.RegisterReaction(platformws.Descriptor{})
	reg.RegisterReaction(profiler.Descriptor{})
	reg.RegisterReaction(grpcstub.Descriptor{StubKind: "grpc"})
	reg.RegisterReaction(grpcstub.Descriptor{StubKind: "grpc-adaptive"})
	reg.RegisterReaction(grpcstub.Descriptor{StubKind: "mssql"})
	reg.RegisterReaction(grpcstub.Descriptor{StubKind: "storedproc-mysql"})
	reg.RegisterReaction(grpcstub.Descriptor{StubKind: "storedproc-mssql"})
}

func toLabelSet(labels []string) map[string]struct{} {
	if len(labels) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return set
}

// buildInstance constructs one Instance from its declarative form: its
// state store, every source, every query (bridging its query string to a
// GraphIndex via query.BuildGraphIndex and wiring its source
// subscriptions), and every reaction.
func buildInstance(dto persistence.InstanceDTO, reg *registry.Registry, mws *middleware.Registry, defaultPQCap, defaultDispatchCap int) (*instance.Instance, error) {
	var store factory.StateStoreConfig
	var redisAddr string
	switch {
	case dto.StateStore != nil && dto.StateStore.Kind == "redis-observability":
		// Fan-out sink only (SPEC_FULL.md §4.10): component events and log
		// lines are mirrored to Redis Pub/Sub, while plugin state still
		// lands in the default bolt file — Redis is never the system of
		// record.
		redisAddr = dto.StateStore.Path
		store = factory.StateStoreConfig{Path: dto.ID + ".drasi-state.db"}
	case dto.StateStore != nil:
		store = factory.StateStoreConfig{Kind: dto.StateStore.Kind, Path: dto.StateStore.Path}
	default:
		store = factory.StateStoreConfig{Path: dto.ID + ".drasi-state.db"}
	}
	provider, err := factory.CreateStateStoreProvider(store)
	if err != nil {
		return nil, err
	}

	pqCap := dto.DefaultPriorityQueueCapacity
	if pqCap == 0 {
		pqCap = defaultPQCap
	}
	dispatchCap := dto.DefaultDispatchBufferCapacity
	if dispatchCap == 0 {
		dispatchCap = defaultDispatchCap
	}

	inst := instance.New(dto.ID, provider, dto.PersistIndex, pqCap, dispatchCap)

	if redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		inst.Events().AttachRedisMirror(client, dto.ID)
		inst.Logs().AttachRedisMirror(client, dto.ID)
	}

	if dto.PersistIndex {
		ixStore, err := indexstore.Open(indexstore.DirFor(filepath.Join(".", "data"), dto.ID))
		if err != nil {
			return nil, err
		}
		inst.IndexStore = ixStore
	}

	for _, s := range dto.Sources {
		src, err := factory.CreateSource(reg, factory.SourceConfig{
			Kind: s.Kind, ID: s.ID, AutoStart: s.AutoStart,
			BootstrapProvider: s.BootstrapProvider, Fields: s.Fields,
		})
		if err != nil {
			return nil, err
		}
		if err := inst.AddSource(src); err != nil {
			return nil, err
		}
	}

	for _, q := range dto.Queries {
		switch q.QueryLanguage {
		case "", "GQL", "Cypher":
		default:
			return nil, apierrors.InvalidConfig("query " + q.ID + " has unknown queryLanguage " + q.QueryLanguage + ", expected Cypher or GQL")
		}
		idx, err := query.BuildGraphIndex(q.Query)
		if err != nil {
			return nil, err
		}

		joins := make([]query.Join, 0, len(q.Joins))
		for _, j := range q.Joins {
			keys := make([]query.JoinKey, 0, len(j.Keys))
			for _, k := range j.Keys {
				keys = append(keys, query.JoinKey{Label: k.Label, Property: k.Property})
			}
			joins = append(joins, query.Join{ID: j.ID, Keys: keys})
		}

		queryPQCap := q.PriorityQueueCapacity
		if queryPQCap == 0 {
			queryPQCap = pqCap
		}
		cq := query.New(q.ID, idx, joins, q.BootstrapBufferSize, queryPQCap, inst)

		subs := make([]instance.SubscriptionWiring, 0, len(q.Sources))
		for _, s := range q.Sources {
			resolved, err := mws.Resolve(s.Pipeline)
			if err != nil {
				return nil, err
			}
			subs = append(subs, instance.SubscriptionWiring{
				SourceID: s.SourceID,
				Settings: component.SubscriptionSettings{
					QueryID:             q.ID,
					SourceID:            s.SourceID,
					NodeLabels:          toLabelSet(s.NodeLabels),
					RelationLabels:      toLabelSet(s.RelationLabels),
					Pipeline:            s.Pipeline,
					BootstrapEnabled:    s.BootstrapEnabled,
					BootstrapBufferSize: s.BootstrapBufferSize,
				},
				Middlewares: resolved,
			})
		}

		queryDispatchCap := q.DispatchBufferCapacity
		if queryDispatchCap == 0 {
			queryDispatchCap = inst.DefaultDispatchBufferCap
		}
		if err := inst.AddQuery(cq, q.AutoStart, queryDispatchCap, subs); err != nil {
			return nil, err
		}
	}

	for _, r := range dto.Reactions {
		reaction, err := factory.CreateReaction(reg, factory.ReactionConfig{
			Kind: r.Kind, ID: r.ID, Queries: r.Queries, AutoStart: r.AutoStart, Fields: r.Fields,
		})
		if err != nil {
			return nil, err
		}
		if err := inst.AddReaction(reaction); err != nil {
			return nil, err
		}
	}

	return inst, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	path := viper.GetString("config")
	file, instanceDTOs, err := loadConfigFile(path)
	if err != nil {
		return err
	}

	level := viper.GetString("log-level")
	if level == "" {
		level = file.LogLevel
	}
	if level == "" {
		level = "info"
	}
	logger.Initialize(level, pretty)

	var natsConn *nats.Conn
	if url := os.Getenv("DRASI_NATS_URL"); url != "" {
		conn, err := nats.Connect(url)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("could not connect to NATS, application reactions will not publish")
		} else {
			natsConn = conn
			defer conn.Close()
		}
	}

	reg := registry.New()
	registerBuiltins(reg, natsConn)
	mws := middleware.NewRegistry()

	readOnly := !persistence.IsWritable(path)
	if readOnly {
		logger.Log.Warn().Str("path", path).Msg("config file is not writable, entering read-only mode")
	}
	persist := persistence.New(path, file, file.PersistConfig, readOnly)

	instances := instanceregistry.New()
	for _, dto := range instanceDTOs {
		inst, err := buildInstance(dto, reg, mws, file.DefaultPriorityQueueCapacity, file.DefaultDispatchBufferCapacity)
		if err != nil {
			return fmt.Errorf("building instance %q: %w", dto.ID, err)
		}
		if err := instances.Add(inst); err != nil {
			return err
		}
		mirrorInstance(persist, dto)
		if err := inst.Start(context.Background()); err != nil {
			return fmt.Errorf("starting instance %q: %w", dto.ID, err)
		}
	}

	if file.PersistConfig {
		if err := persist.StartAutosave("@every 30s"); err != nil {
			logger.Log.Warn().Err(err).Msg("could not start config autosave")
		}
	}

	listenHost := viper.GetString("host")
	if listenHost == "" {
		listenHost = file.Host
	}
	if listenHost == "" {
		listenHost = "0.0.0.0"
	}
	listenPort := viper.GetInt("port")
	if listenPort == 0 {
		listenPort = file.Port
	}
	if err := config.ValidateServerSettings(listenHost, listenPort); err != nil {
		return err
	}

	handler := api.NewHandler(instances, reg, persist)
	router := api.NewRouter(handler)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", listenHost, listenPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Log.Info().Str("addr", srv.Addr).Msg("drasi-server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("http server failed", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info().Msg("shutting down")
	persist.StopAutosave()

	ctx, cancel := context.WithTimeout(context.Background(), instance.DrainTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Warn().Err(err).Msg("http server forced to shutdown")
	}
	for _, inst := range instances.List() {
		if err := inst.Stop(ctx); err != nil {
			logger.Log.Warn().Err(err).Str("instance", inst.ID).Msg("instance stop failed")
		}
	}
	return nil
}

// mirrorInstance seeds ConfigPersistence's in-memory mirror with the
// instance's startup declaration, so a later Save() reflects what was
// loaded even before any control-plane mutation occurs.
func mirrorInstance(persist *persistence.ConfigPersistence, dto persistence.InstanceDTO) {
	for _, s := range dto.Sources {
		_ = persist.MirrorSource(dto.ID, s, false)
	}
	for _, q := range dto.Queries {
		_ = persist.MirrorQuery(dto.ID, q, false)
	}
	for _, r := range dto.Reactions {
		_ = persist.MirrorReaction(dto.ID, r, false)
	}
}
