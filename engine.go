package threemaGW

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/threemaGW/gateway"
	"github.com/MrEthical07/threemaGW/internal/flows"
	"github.com/MrEthical07/threemaGW/internal/stores"
	"github.com/MrEthical07/threemaGW/permission"
	"github.com/MrEthical07/threemaGW/tfa"
)

// Engine is the explicitly constructed gateway context: callback
// pipeline, TFA providers, stores and the permission cache. Safe for
// concurrent use after Build.
type Engine struct {
	config Config
	logger *logrus.Logger
	now    func() time.Time

	flow     flows.Service
	messages *stores.MessageStore
	pending  *stores.PendingStore
	data     providerDataStore
	crypto   *gateway.Crypto

	providers   map[string]tfa.Provider
	order       []string
	permissions *permission.Cache

	audit   *auditDispatcher
	metrics *Metrics
}

// Close flushes the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int) {
	if e == nil || e.metrics == nil || n <= 0 {
		return
	}
	e.metrics.Add(id, uint64(n))
}

// InvalidatePermissions drops the cached permissions of userID. Call it
// whenever the host changes the user's groups.
func (e *Engine) InvalidatePermissions(userID string) {
	if e == nil || e.permissions == nil {
		return
	}
	e.permissions.Invalidate(userID)
}

// InvalidateAllPermissions drops every cached permission mask, for example
// after group permissions were edited.
func (e *Engine) InvalidateAllPermissions() {
	if e == nil || e.permissions == nil {
		return
	}
	e.permissions.InvalidateAll()
}

// checkDownloadDir verifies that dir exists and accepts new files.
func checkDownloadDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	probe, err := os.CreateTemp(dir, ".threemagw-probe-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(filepath.Clean(name))
}

// discardFiles removes blobs of a message that ended up without a stored
// record pointing at them.
func (e *Engine) discardFiles(ctx context.Context, messageID string, files []stores.FileEntry) {
	if err := stores.RemoveSavedFiles(files); err != nil {
		e.logger.WithError(err).WithField("message_id", messageID).Warn("Orphaned message blobs not removed")
	}
}
