package daemon

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/classline/classline/internal/bus"
	"github.com/classline/classline/internal/store"
)

const kvLastConnectedAt = "last_connected_at"

// connRecorder persists the time of the most recent successful join so
// /status can report it, including across daemon restarts.
type connRecorder struct {
	db      *store.DB
	logger  *zap.Logger
	dispose func()
	done    chan struct{}
}

func newConnRecorder(db *store.DB, b *bus.Bus, logger *zap.Logger) *connRecorder {
	ch, dispose := b.Subscribe("conn.connected", 8)
	r := &connRecorder{
		db:      db,
		logger:  logger,
		dispose: dispose,
		done:    make(chan struct{}),
	}
	go r.pump(ch)
	return r
}

func (r *connRecorder) pump(ch <-chan bus.Event) {
	for {
		select {
		case <-ch:
			stamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
			if err := r.db.SetValue(kvLastConnectedAt, stamp); err != nil {
				r.logger.Warn("record last-connected time", zap.Error(err))
			}
		case <-r.done:
			return
		}
	}
}

func (r *connRecorder) Close() {
	r.dispose()
	close(r.done)
}

// lastConnectedAt reads the persisted stamp; 0 means never connected.
func lastConnectedAt(db *store.DB) int64 {
	v, err := db.GetValue(kvLastConnectedAt)
	if err != nil || v == "" {
		return 0
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return ms
}
