package config

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
)

// RendererConfig carries the tunables of the GPU scene update. Values of
// zero fall back to the defaults below.
type RendererConfig struct {
	// Backend selects the device buffer implementation: "vulkan" or "host".
	Backend string `toml:"backend"`
	// Target number of instances packed per parallel work batch.
	InstanceUploadBatchSize int `toml:"instance_upload_batch_size"`
	// Below this many work items the packing loop stays on the calling thread.
	ParallelUpdateThreshold int `toml:"parallel_update_threshold"`
	// Disables the worker pool entirely when false.
	ParallelUpdatesEnabled bool `toml:"parallel_updates_enabled"`
	// Worker goroutines in the job system. Zero means GOMAXPROCS.
	NumWorkers int `toml:"num_workers"`
	// Capacity floors, in elements, applied before power-of-two rounding.
	MinPrimitiveCapacity       uint32 `toml:"min_primitive_capacity"`
	MinInstanceDataCapacity    uint32 `toml:"min_instance_data_capacity"`
	MinInstancePayloadCapacity uint32 `toml:"min_instance_payload_capacity"`
	MinLightmapDataCapacity    uint32 `toml:"min_lightmap_data_capacity"`
}

type Config struct {
	Renderer RendererConfig `toml:"renderer"`
}

func DefaultConfig() *Config {
	return &Config{
		Renderer: RendererConfig{
			Backend:                    "host",
			InstanceUploadBatchSize:    64,
			ParallelUpdateThreshold:    256,
			ParallelUpdatesEnabled:     true,
			NumWorkers:                 0,
			MinPrimitiveCapacity:       256,
			MinInstanceDataCapacity:    1024,
			MinInstancePayloadCapacity: 256,
			MinLightmapDataCapacity:    64,
		},
	}
}

// Load reads a TOML config file, filling unset fields from the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyFallbacks()
	return cfg, nil
}

func (c *Config) applyFallbacks() {
	d := DefaultConfig()
	if c.Renderer.Backend == "" {
		c.Renderer.Backend = d.Renderer.Backend
	}
	if c.Renderer.InstanceUploadBatchSize <= 0 {
		c.Renderer.InstanceUploadBatchSize = d.Renderer.InstanceUploadBatchSize
	}
	if c.Renderer.ParallelUpdateThreshold <= 0 {
		c.Renderer.ParallelUpdateThreshold = d.Renderer.ParallelUpdateThreshold
	}
	if c.Renderer.MinPrimitiveCapacity == 0 {
		c.Renderer.MinPrimitiveCapacity = d.Renderer.MinPrimitiveCapacity
	}
	if c.Renderer.MinInstanceDataCapacity == 0 {
		c.Renderer.MinInstanceDataCapacity = d.Renderer.MinInstanceDataCapacity
	}
	if c.Renderer.MinInstancePayloadCapacity == 0 {
		c.Renderer.MinInstancePayloadCapacity = d.Renderer.MinInstancePayloadCapacity
	}
	if c.Renderer.MinLightmapDataCapacity == 0 {
		c.Renderer.MinLightmapDataCapacity = d.Renderer.MinLightmapDataCapacity
	}
}

// Watcher reloads the config file whenever it changes on disk so the
// renderer tunables can be adjusted while the application runs.
type Watcher struct {
	path     string
	fsnotify *fsnotify.Watcher
	onChange func(*Config)

	mutex    sync.Mutex
	done     chan struct{}
	isClosed bool
}

func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:     path,
		fsnotify: fsWatch,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	if err := fsWatch.Add(path); err != nil {
		fsWatch.Close()
		return nil, err
	}
	go w.start()
	return w, nil
}

func (w *Watcher) start() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				core.LogWarn("config reload failed for %s: %s", w.path, err.Error())
				continue
			}
			core.LogInfo("config reloaded from %s", w.path)
			w.onChange(cfg)
		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("config watcher error: %s", err.Error())
		}
	}
}

func (w *Watcher) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.isClosed {
		return nil
	}
	w.isClosed = true
	close(w.done)
	return w.fsnotify.Close()
}
