package cover

import (
	"context"
	"time"

	"github.com/unipi-control/unipi-controld/internal/modbus"
	"github.com/unipi-control/unipi-controld/internal/registry"
)

// writeTimeout bounds how long Write waits for the Command Queue to
// dispatch a relay write before giving up. Generous relative to the scan
// loop's fairness burst (spec.md §4.E) so a healthy transport never trips
// it, while a stuck one still surfaces an error to the controller.
const writeTimeout = 5 * time.Second

// FeatureRelay adapts a registry Feature (a writable output resolved by
// feature id, e.g. "ro_3_01", from CoverConfig.CoverUp/CoverDown) to the
// RelayPort the Controller
// drives. Writes are queued through the owning transport's Command Queue
// rather than issued synchronously, so relay writes interleave fairly
// with the scan loop like any other command (spec.md §4.E).
type FeatureRelay struct {
	feature *registry.Feature
	cache   *modbus.Cache
	queue   *modbus.Queue
}

// NewFeatureRelay builds a RelayPort bound to one writable feature.
func NewFeatureRelay(feature *registry.Feature, cache *modbus.Cache, queue *modbus.Queue) *FeatureRelay {
	return &FeatureRelay{feature: feature, cache: cache, queue: queue}
}

// Read reports the relay's last-scanned energized state.
func (r *FeatureRelay) Read() (bool, bool) {
	v, ok := registry.Decode(r.feature, r.cache)
	if !ok || v.Kind != registry.ValueBool {
		return false, ok
	}
	return v.Bool, true
}

// Write submits a coil/register write for the relay and blocks until the
// queue has dispatched it, returning the transport's own write error (not
// just EncodeWrite's config-level error) so the controller can react to a
// real write failure (spec.md §4.F). The cover controller calls this from
// within its own lock, so it must not itself try to re-enter the
// controller.
func (r *FeatureRelay) Write(energized bool) error {
	cmd, err := registry.EncodeWrite(r.feature, registry.FeatureValue{Kind: registry.ValueBool, Bool: energized})
	if err != nil {
		return err
	}

	handle := r.queue.Submit(cmd)

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	return handle.Wait(ctx)
}
