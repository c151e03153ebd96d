package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
)

// DefaultPersistInterval is the debounce window between a mutation of a
// persisted field and the snapshot write.
const DefaultPersistInterval = 10 * time.Second

// PersistedVersion tags the on-disk layout.
const PersistedVersion = 1

// persistedKeys is the per-device subset that survives restarts. Transient
// fields (generation, status, metrics) are never written.
var persistedKeys = map[string]bool{
	"activeScene":  true,
	"playState":    true,
	"brightness":   true,
	"displayOn":    true,
	"loggingLevel": true,
}

// persistedDoc is the on-disk snapshot layout. Extra captures unknown
// top-level keys so newer layouts round-trip through older daemons.
type persistedDoc struct {
	Version   int                       `json:"version"`
	Timestamp time.Time                 `json:"timestamp"`
	Devices   map[string]map[string]any `json:"devices"`

	extra map[string]json.RawMessage
}

// Persister debounces snapshot writes of the persisted state subset. One
// timer per writer, rescheduled on each change, flushed synchronously on
// shutdown.
type Persister struct {
	logger   hclog.Logger
	store    *Store
	path     string
	interval time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	extra  map[string]json.RawMessage
	closed bool
}

func NewPersister(store *Store, path string, interval time.Duration, logger hclog.Logger) *Persister {
	if interval <= 0 {
		interval = DefaultPersistInterval
	}
	p := &Persister{
		logger:   logger.Named("persist"),
		store:    store,
		path:     path,
		interval: interval,
		extra:    make(map[string]json.RawMessage),
	}
	store.onMutate = p.noteMutation
	return p
}

// noteMutation schedules a debounced write when a persisted device field
// changed. Further mutations inside the window collapse into one write.
func (p *Persister) noteMutation(path string) {
	// Host segments may themselves contain dots (IP addresses), so only
	// the namespace and the trailing key are significant here.
	parts := strings.Split(path, ".")
	if len(parts) < 3 || parts[0] != NamespaceDevice || !persistedKeys[parts[len(parts)-1]] {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.timer != nil {
		p.timer.Reset(p.interval)
		return
	}
	p.timer = time.AfterFunc(p.interval, func() {
		if err := p.Flush(); err != nil {
			p.logger.Error("debounced persist failed", "error", err)
		}
	})
}

// Flush writes the persisted subset synchronously.
func (p *Persister) Flush() error {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	extra := p.extra
	p.mu.Unlock()

	snap, err := p.store.Snapshot()
	if err != nil {
		return err
	}
	devices := make(map[string]map[string]any)
	if devNS, ok := snap[NamespaceDevice].(map[string]any); ok {
		collectPersisted(devNS, nil, devices)
	}

	doc := map[string]json.RawMessage{}
	for k, v := range extra {
		doc[k] = v
	}
	if doc["version"], err = json.Marshal(PersistedVersion); err != nil {
		return err
	}
	if doc["timestamp"], err = json.Marshal(time.Now()); err != nil {
		return err
	}
	if doc["devices"], err = json.Marshal(devices); err != nil {
		return err
	}

	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp := p.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write state snapshot: %w", err)
	}
	return os.Rename(tmp, p.path)
}

// collectPersisted walks the device namespace gathering persisted leaf
// keys per host. Dotted hosts (IP addresses) nest one level per segment,
// so the host name is reconstructed from the path down to each leaf.
func collectPersisted(node map[string]any, segs []string, out map[string]map[string]any) {
	for k, v := range node {
		if sub, ok := v.(map[string]any); ok {
			next := append(append([]string{}, segs...), k)
			collectPersisted(sub, next, out)
			continue
		}
		if len(segs) == 0 || !persistedKeys[k] {
			continue
		}
		host := strings.Join(segs, ".")
		if out[host] == nil {
			out[host] = make(map[string]any)
		}
		out[host][k] = v
	}
}

// Restore rehydrates the persisted subset from disk. A missing file is not
// an error. A corrupt or version-mismatched snapshot is logged and
// ignored, leaving the store at defaults.
func (p *Persister) Restore() error {
	buf, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(buf, &raw); err != nil {
		p.logger.Error("corrupt state snapshot, resetting to defaults",
			"path", p.path, "error", err)
		return nil
	}

	var doc persistedDoc
	if v, ok := raw["version"]; ok {
		json.Unmarshal(v, &doc.Version) //nolint:errcheck
	}
	if doc.Version != PersistedVersion {
		p.logger.Warn("snapshot version mismatch, resetting to defaults",
			"have", doc.Version, "want", PersistedVersion)
		return nil
	}
	if v, ok := raw["devices"]; ok {
		if err := json.Unmarshal(v, &doc.Devices); err != nil {
			p.logger.Error("corrupt devices block, resetting to defaults", "error", err)
			return nil
		}
	}

	// Preserve keys we do not understand for the next write.
	p.mu.Lock()
	for k, v := range raw {
		switch k {
		case "version", "timestamp", "devices":
		default:
			p.extra[k] = v
		}
	}
	p.mu.Unlock()

	for host, tree := range doc.Devices {
		for k, v := range tree {
			if !persistedKeys[k] {
				continue
			}
			path := fmt.Sprintf("%s.%s.%s", NamespaceDevice, host, k)
			if err := p.store.Set(path, v); err != nil {
				return err
			}
		}
	}
	p.logger.Debug("restored persisted state", "devices", len(doc.Devices))
	return nil
}

// Close stops the debounce timer and flushes once.
func (p *Persister) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.Flush()
}
