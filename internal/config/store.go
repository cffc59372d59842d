package config

import (
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"

	"github.com/isic-edge/reader-core/internal/apperr"
	"github.com/isic-edge/reader-core/internal/eventbus"
	"github.com/isic-edge/reader-core/internal/logging"
)

// KV is the storage contract ConfigStore consumes (spec.md §6 "Storage
// contract"): get/put of a single blob at a well-known key, no
// transactions. A crash mid-write invalidates the blob; recovery falls
// back to defaults.
type KV interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
}

// BlobKey is the well-known key the document is stored under.
const BlobKey = "config.yaml"

// FileKV is a KV backed by a single file on disk, standing in for the
// device's flash key-value store (out of scope per spec.md §1).
type FileKV struct {
	Path string
}

func (f FileKV) Get(key string) ([]byte, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Wrap("config", apperr.NotFound, "blob not found", err)
		}
		return nil, apperr.Wrap("config", apperr.TransportError, "read failed", err)
	}
	return b, nil
}

func (f FileKV) Put(key string, value []byte) error {
	if err := os.WriteFile(f.Path, value, 0o644); err != nil {
		return apperr.Wrap("config", apperr.TransportError, "write failed", err)
	}
	return nil
}

// Store owns the current configuration snapshot. Readers call Get(), which
// returns an immutable snapshot never mutated in place, so they see a
// consistent view between dispatches. Mutations go through Update, which
// applies a callback, persists, and publishes ConfigChanged.
type Store struct {
	mu    sync.RWMutex
	doc   Document
	kv    KV
	bus   *eventbus.Bus
	log   logging.Logger
	watch *fsnotify.Watcher
	path  string
}

// New constructs a Store seeded with Defaults(); callers typically follow
// with Load.
func New(bus *eventbus.Bus, kv KV, log logging.Logger) *Store {
	if log == nil {
		log = logging.Nop{}
	}
	return &Store{doc: Defaults(), kv: kv, bus: bus, log: log}
}

// Load reads the document blob, applies environment overrides, validates,
// and installs it as the current snapshot. On any failure it keeps
// Defaults() and publishes ConfigError — load failures are not fatal per spec.md §7 "Config invalid -> load defaults, publish
// ConfigError, continue".
func (s *Store) Load() {
	doc := Defaults()

	if s.kv != nil {
		blob, err := s.kv.Get(BlobKey)
		if err != nil {
			s.log.Warn("config blob unavailable, using defaults", "error", err)
			s.publishError("blob unavailable: " + err.Error())
		} else if err := yaml.Unmarshal(blob, &doc); err != nil {
			s.log.Warn("config blob malformed, using defaults", "error", err)
			s.publishError("malformed document: " + err.Error())
			doc = Defaults()
		}
	}

	applyEnvOverrides(&doc)

	if fixed := Validate(&doc); len(fixed) > 0 {
		s.log.Warn("config fields out of range, reset to defaults", "fields", fixed)
		s.publishError("fields reset to defaults: " + strings.Join(fixed, ","))
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
}

func (s *Store) publishError(msg string) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(eventbus.Event{Kind: eventbus.ConfigError, Payload: eventbus.ErrorPayload{Message: msg}})
}

// Get returns the current snapshot by value.
func (s *Store) Get() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Update applies fn to a copy of the current snapshot, validates it,
// persists it through KV if configured, installs it, and publishes
// ConfigChanged naming the fields fn's edits invalidated back to default
// (empty when validation reset nothing).
func (s *Store) Update(fn func(*Document)) error {
	s.mu.Lock()
	doc := s.doc
	fn(&doc)
	fixed := Validate(&doc)
	s.doc = doc
	s.mu.Unlock()

	if s.kv != nil {
		blob, err := yaml.Marshal(doc)
		if err != nil {
			return apperr.Wrap("config", apperr.InvalidArg, "marshal failed", err)
		}
		if err := s.kv.Put(BlobKey, blob); err != nil {
			// Per spec.md §7: storage write failed -> event emitted,
			// runtime state retains the update in memory until next boot.
			s.publishError("persist failed: " + err.Error())
		}
	}

	if s.bus != nil {
		_ = s.bus.Publish(eventbus.Event{Kind: eventbus.ConfigChanged, Payload: eventbus.ConfigChangedPayload{Changed: fixed}})
	}
	return nil
}

// Watch starts an fsnotify watch on path, reloading and publishing
// ConfigChanged on Write/Create events, debounced by settle so an editor's
// truncate-then-write sequence doesn't trigger a read of a half-written
// file. Call Close to stop watching.
func (s *Store) Watch(path string, settle time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return apperr.Wrap("config", apperr.TransportError, "watcher init failed", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return apperr.Wrap("config", apperr.TransportError, "watch add failed", err)
	}
	s.watch = w
	s.path = path

	go func() {
		var timer *time.Timer
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(settle, func() {
					s.log.Info("config file changed, reloading", "path", path)
					s.Load()
					if s.bus != nil {
						_ = s.bus.Publish(eventbus.Event{Kind: eventbus.ConfigChanged})
					}
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Error("config watch error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the file watch, if any.
func (s *Store) Close() error {
	if s.watch != nil {
		return s.watch.Close()
	}
	return nil
}

// envOverride describes one ENV_VAR -> struct field binding, coerced with
// golobby/cast the same way the teacher's feeders package coerces env
// strings into typed struct fields.
type envOverride struct {
	name  string
	apply func(doc *Document, raw string) error
}

var envOverrides = []envOverride{
	{"ISIC_WIFI_SSID", func(d *Document, v string) error { d.WiFi.SSID = v; return nil }},
	{"ISIC_WIFI_PASSWORD", func(d *Document, v string) error { d.WiFi.Password = v; return nil }},
	{"ISIC_BROKER_HOST", func(d *Document, v string) error { d.Broker.Host = v; return nil }},
	{"ISIC_BROKER_PORT", func(d *Document, v string) error {
		return coerce(v, &d.Broker.Port)
	}},
	{"ISIC_BROKER_USERNAME", func(d *Document, v string) error { d.Broker.Username = v; return nil }},
	{"ISIC_BROKER_PASSWORD", func(d *Document, v string) error { d.Broker.Password = v; return nil }},
	{"ISIC_BROKER_BASE_TOPIC", func(d *Document, v string) error { d.Broker.BaseTopic = v; return nil }},
	{"ISIC_DEVICE_ID", func(d *Document, v string) error { d.Device.ID = v; return nil }},
	{"ISIC_DEVICE_LOCATION_ID", func(d *Document, v string) error { d.Device.LocationID = v; return nil }},
	{"ISIC_ATTENDANCE_BATCH_MAX_SIZE", func(d *Document, v string) error {
		return coerce(v, &d.Attendance.BatchMaxSize)
	}},
	{"ISIC_POWER_SLEEP_ENABLED", func(d *Document, v string) error {
		return coerce(v, &d.Power.SleepEnabled)
	}},
}

// coerce converts raw into *target's type using golobby/cast's
// reflection-based FromType, the same mechanism the teacher's
// AffixedEnvFeeder uses to turn an environment-variable string into a
// typed struct field.
func coerce[T any](raw string, target *T) error {
	converted, err := cast.FromType(raw, reflect.TypeOf(*target))
	if err != nil {
		return err
	}
	v, ok := converted.(T)
	if !ok {
		return apperr.New("config", apperr.InvalidArg, "env override type mismatch")
	}
	*target = v
	return nil
}

func applyEnvOverrides(doc *Document) {
	for _, o := range envOverrides {
		raw, ok := os.LookupEnv(o.name)
		if !ok || raw == "" {
			continue
		}
		if err := o.apply(doc, raw); err != nil {
			continue
		}
	}
}
