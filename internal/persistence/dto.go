// Package persistence implements ConfigPersistence (spec.md §4.9): the
// mirror of the live registry's declarative form, and its atomic-rename
// save() to a YAML config file.
//
// "Persistence mirror must mirror DTOs, not runtime objects" (spec.md §9):
// every type in this file is the declarative shape of a component, never
// the live runtime component itself. This decouples save cadence from
// runtime mutation and lets the single-vs-multi-instance normalization
// happen purely at serialization time.
package persistence

// SourceDTO mirrors a SourceConfig (spec.md §6.1).
type SourceDTO struct {
	Kind              string                 `yaml:"kind"`
	ID                string                 `yaml:"id"`
	AutoStart         bool                   `yaml:"autoStart"`
	BootstrapProvider string                 `yaml:"bootstrapProvider,omitempty"`
	Fields            map[string]interface{} `yaml:",inline"`
}

// SourceSubscriptionDTO mirrors one entry of QueryConfig.sources.
type SourceSubscriptionDTO struct {
	SourceID            string   `yaml:"sourceId"`
	NodeLabels          []string `yaml:"nodeLabels,omitempty"`
	RelationLabels      []string `yaml:"relationLabels,omitempty"`
	Pipeline            []string `yaml:"pipeline,omitempty"`
	BootstrapEnabled    bool     `yaml:"bootstrapEnabled"`
	BootstrapBufferSize int      `yaml:"bootstrapBufferSize,omitempty"`
}

// JoinDTO mirrors a QueryJoin declaration.
type JoinDTO struct {
	ID   string       `yaml:"id"`
	Keys []JoinKeyDTO `yaml:"keys"`
}

// JoinKeyDTO is one side of a JoinDTO.
type JoinKeyDTO struct {
	Label    string `yaml:"label"`
	Property string `yaml:"property"`
}

// QueryDTO mirrors a QueryConfig (spec.md §6.1).
type QueryDTO struct {
	ID                     string                  `yaml:"id"`
	Query                  string                  `yaml:"query"`
	QueryLanguage          string                  `yaml:"queryLanguage,omitempty"`
	AutoStart              bool                    `yaml:"autoStart"`
	EnableBootstrap        bool                    `yaml:"enableBootstrap"`
	BootstrapBufferSize    int                     `yaml:"bootstrapBufferSize,omitempty"`
	Sources                []SourceSubscriptionDTO `yaml:"sources"`
	Joins                  []JoinDTO               `yaml:"joins,omitempty"`
	PriorityQueueCapacity  int                     `yaml:"priorityQueueCapacity,omitempty"`
	DispatchBufferCapacity int                     `yaml:"dispatchBufferCapacity,omitempty"`
}

// ReactionDTO mirrors a ReactionConfig (spec.md §6.1).
type ReactionDTO struct {
	Kind      string                 `yaml:"kind"`
	ID        string                 `yaml:"id"`
	Queries   []string               `yaml:"queries"`
	AutoStart bool                   `yaml:"autoStart"`
	Fields    map[string]interface{} `yaml:",inline"`
}

// StateStoreDTO mirrors the top-level stateStore config block.
type StateStoreDTO struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

// InstanceDTO is one element of the "instances:" array form.
type InstanceDTO struct {
	ID                            string          `yaml:"id"`
	StateStore                    *StateStoreDTO  `yaml:"stateStore,omitempty"`
	PersistIndex                  bool            `yaml:"persistIndex,omitempty"`
	DefaultPriorityQueueCapacity  int             `yaml:"defaultPriorityQueueCapacity,omitempty"`
	DefaultDispatchBufferCapacity int             `yaml:"defaultDispatchBufferCapacity,omitempty"`
	Sources                       []SourceDTO     `yaml:"sources"`
	Queries                       []QueryDTO      `yaml:"queries"`
	Reactions                     []ReactionDTO   `yaml:"reactions"`
}

// FileDTO is the root shape of the config file (spec.md §6.1). When
// Instances is non-empty, Sources/Queries/Reactions at the root MUST be
// empty (the multi-instance form); otherwise the root fields carry the
// single instance's declaration directly (the flat form).
type FileDTO struct {
	ID                            string          `yaml:"id"`
	Host                          string          `yaml:"host"`
	Port                          int             `yaml:"port"`
	LogLevel                      string          `yaml:"logLevel,omitempty"`
	PersistConfig                 bool            `yaml:"persistConfig"`
	PersistIndex                  bool            `yaml:"persistIndex,omitempty"`
	StateStore                    *StateStoreDTO  `yaml:"stateStore,omitempty"`
	DefaultPriorityQueueCapacity  int             `yaml:"defaultPriorityQueueCapacity,omitempty"`
	DefaultDispatchBufferCapacity int             `yaml:"defaultDispatchBufferCapacity,omitempty"`
	Sources                       []SourceDTO     `yaml:"sources"`
	Queries                       []QueryDTO      `yaml:"queries"`
	Reactions                     []ReactionDTO   `yaml:"reactions"`
	Instances                     []InstanceDTO   `yaml:"instances,omitempty"`
}
