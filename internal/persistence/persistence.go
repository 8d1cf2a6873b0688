// persistence.go implements the in-memory mirror and atomic-rename save()
// described in the package doc comment (dto.go), plus the single-vs-multi-
// instance normalization spec.md §4.9 and §8 scenario (c) require.
package persistence

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/logger"
)

// instanceMirror is the in-memory source of truth for what the next Save
// will write for one instance, keyed by component id within each family.
type instanceMirror struct {
	meta      InstanceDTO
	sources   map[string]SourceDTO
	queries   map[string]QueryDTO
	reactions map[string]ReactionDTO
}

func newInstanceMirror(id string) *instanceMirror {
	return &instanceMirror{
		meta:      InstanceDTO{ID: id},
		sources:   make(map[string]SourceDTO),
		queries:   make(map[string]QueryDTO),
		reactions: make(map[string]ReactionDTO),
	}
}

// ConfigPersistence mirrors the live InstanceRegistry to disk (spec.md §4.9).
type ConfigPersistence struct {
	path string

	mu             sync.Mutex
	server         FileDTO // server-level settings (host/port/logLevel/...), Sources/Queries/Reactions/Instances ignored here
	instances      map[string]*instanceMirror
	instanceOrder  []string
	persistConfig  bool
	readOnly       bool

	cronSched *cron.Cron
	cronID    cron.EntryID
}

// New constructs a ConfigPersistence for the file at path. persistConfig
// mirrors spec.md §4.9's persist_config flag: when false, Save becomes a
// no-op that still reports success, so mutators update the in-memory mirror
// but nothing reaches the file. readOnly is determined
// by the caller probing path's writability at startup (spec.md §4.9: "if
// the config file is not writable at startup, the server enters read-only
// mode").
func New(path string, server FileDTO, persistConfig, readOnly bool) *ConfigPersistence {
	return &ConfigPersistence{
		path:          path,
		server:        server,
		instances:     make(map[string]*instanceMirror),
		persistConfig: persistConfig,
		readOnly:      readOnly,
	}
}

// ReadOnly reports whether mutations are currently rejected because the
// config file was not writable at startup (spec.md §9 open question 3).
func (c *ConfigPersistence) ReadOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readOnly
}

// PersistConfig reports the persist_config flag (spec.md §9 open question 3).
func (c *ConfigPersistence) PersistConfig() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistConfig
}

// checkWritable is consulted by every mutator before touching the mirror:
// mutations at the API layer are rejected in read-only mode (spec.md §4.9),
// independent of persist_config (spec.md §9 open question 3).
func (c *ConfigPersistence) checkWritable() error {
	if c.readOnly {
		return apierrors.ReadOnly()
	}
	return nil
}

func (c *ConfigPersistence) ensureInstance(id string) *instanceMirror {
	m, ok := c.instances[id]
	if !ok {
		m = newInstanceMirror(id)
		c.instances[id] = m
		c.instanceOrder = append(c.instanceOrder, id)
	}
	return m
}

// MirrorSource records src under instanceID (on create) or removes it
// (pass remove=true).
func (c *ConfigPersistence) MirrorSource(instanceID string, dto SourceDTO, remove bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkWritable(); err != nil {
		return err
	}
	m := c.ensureInstance(instanceID)
	if remove {
		delete(m.sources, dto.ID)
	} else {
		m.sources[dto.ID] = dto
	}
	return nil
}

// MirrorQuery records or removes a query DTO under instanceID.
func (c *ConfigPersistence) MirrorQuery(instanceID string, dto QueryDTO, remove bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkWritable(); err != nil {
		return err
	}
	m := c.ensureInstance(instanceID)
	if remove {
		delete(m.queries, dto.ID)
	} else {
		m.queries[dto.ID] = dto
	}
	return nil
}

// MirrorReaction records or removes a reaction DTO under instanceID.
func (c *ConfigPersistence) MirrorReaction(instanceID string, dto ReactionDTO, remove bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkWritable(); err != nil {
		return err
	}
	m := c.ensureInstance(instanceID)
	if remove {
		delete(m.reactions, dto.ID)
	} else {
		m.reactions[dto.ID] = dto
	}
	return nil
}

// RemoveInstance drops instanceID's mirror entirely.
func (c *ConfigPersistence) RemoveInstance(instanceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkWritable(); err != nil {
		return err
	}
	delete(c.instances, instanceID)
	for i, id := range c.instanceOrder {
		if id == instanceID {
			c.instanceOrder = append(c.instanceOrder[:i], c.instanceOrder[i+1:]...)
			break
		}
	}
	return nil
}

// buildFileDTO renders the current mirror into the on-disk shape, applying
// the single-vs-multi-instance normalization (spec.md §4.9, §8 scenario c).
func (c *ConfigPersistence) buildFileDTO() FileDTO {
	out := c.server
	out.Sources, out.Queries, out.Reactions, out.Instances = nil, nil, nil, nil

	if len(c.instanceOrder) == 1 {
		m := c.instances[c.instanceOrder[0]]
		out.Sources = mapValues(m.sources)
		out.Queries = mapValuesQuery(m.queries)
		out.Reactions = mapValuesReaction(m.reactions)
		return out
	}

	for _, id := range c.instanceOrder {
		m := c.instances[id]
		dto := m.meta
		dto.Sources = mapValues(m.sources)
		dto.Queries = mapValuesQuery(m.queries)
		dto.Reactions = mapValuesReaction(m.reactions)
		out.Instances = append(out.Instances, dto)
	}
	return out
}

func mapValues(m map[string]SourceDTO) []SourceDTO {
	out := make([]SourceDTO, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func mapValuesQuery(m map[string]QueryDTO) []QueryDTO {
	out := make([]QueryDTO, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func mapValuesReaction(m map[string]ReactionDTO) []ReactionDTO {
	out := make([]ReactionDTO, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// Save serializes the mirror + server settings into YAML and writes it via
// the atomic-rename protocol (spec.md §4.9, §8 invariant 6): write to a
// temp file in path's directory named <base>.tmp-<random suffix>
// (os.CreateTemp), not a fixed path.tmp, fsync, rename to path; on any
// failure the temp file is removed and the pre-existing file is left
// untouched.
//
// If persist_config=false, Save is a no-op returning success (spec.md
// §4.9): the in-memory mutation already stands, only durability is skipped.
func (c *ConfigPersistence) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.persistConfig {
		return nil
	}
	if c.readOnly {
		return apierrors.ReadOnly()
	}

	out := c.buildFileDTO()
	data, err := yaml.Marshal(out)
	if err != nil {
		return apierrors.Internal(err)
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".tmp-*")
	if err != nil {
		return apierrors.OperationFailed("config", c.path, "save", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apierrors.OperationFailed("config", c.path, "save", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apierrors.OperationFailed("config", c.path, "save", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return apierrors.OperationFailed("config", c.path, "save", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return apierrors.OperationFailed("config", c.path, "save", err)
	}
	return nil
}

// StartAutosave schedules a periodic Save using the same cron dependency
// already wired for polling sources (robfig/cron), rather than a bespoke
// time.Ticker loop, for consistency with the rest of the scheduled-work
// code. spec string follows standard cron syntax, e.g. "@every 30s".
func (c *ConfigPersistence) StartAutosave(spec string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cronSched != nil {
		return apierrors.InvalidState("autosave already started")
	}
	log := logger.Persistence()
	sched := cron.New()
	id, err := sched.AddFunc(spec, func() {
		if err := c.Save(); err != nil {
			log.Warn().Err(err).Msg("autosave failed")
		}
	})
	if err != nil {
		return apierrors.InvalidConfig("invalid autosave schedule: " + err.Error())
	}
	c.cronSched = sched
	c.cronID = id
	sched.Start()
	return nil
}

// StopAutosave cancels the autosave schedule, if any.
func (c *ConfigPersistence) StopAutosave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cronSched != nil {
		c.cronSched.Stop()
		c.cronSched = nil
	}
}

// Load reads and parses the config file at path as YAML or JSON (one YAML
// decode handles both, since JSON is valid YAML; neither the extension nor
// the content is inspected) (spec.md §6.1), and normalizes both the flat
// and multi-instance forms into a single slice of InstanceDTOs.
func Load(path string) (FileDTO, []InstanceDTO, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileDTO{}, nil, apierrors.OperationFailed("config", path, "load", err)
	}

	var file FileDTO
	if err := yaml.Unmarshal(data, &file); err != nil {
		return FileDTO{}, nil, apierrors.InvalidConfig("failed to parse config file: " + err.Error())
	}

	if len(file.Instances) > 0 {
		return file, file.Instances, nil
	}

	flat := InstanceDTO{
		ID:                            file.ID,
		StateStore:                    file.StateStore,
		PersistIndex:                  file.PersistIndex,
		DefaultPriorityQueueCapacity:  file.DefaultPriorityQueueCapacity,
		DefaultDispatchBufferCapacity: file.DefaultDispatchBufferCapacity,
		Sources:                       file.Sources,
		Queries:                       file.Queries,
		Reactions:                     file.Reactions,
	}
	return file, []InstanceDTO{flat}, nil
}

// IsWritable reports whether path can be opened for writing (or created,
// if absent), used at startup to decide whether the server enters
// read-only mode (spec.md §4.9).
func IsWritable(path string) bool {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err == nil {
		f.Close()
		return true
	}
	if os.IsNotExist(err) {
		dir := filepath.Dir(path)
		probe := filepath.Join(dir, ".drasi-write-probe")
		pf, ferr := os.Create(probe)
		if ferr != nil {
			return false
		}
		pf.Close()
		os.Remove(probe)
		return true
	}
	return false
}
