package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
	"gorm.io/gorm"
)

const defaultWatchInterval = 2 * time.Second

// Watcher polls system_state and keeps a copy of the active model. Listeners
// run only when the active model id or its definition actually changes.
type Watcher struct {
	db       *gorm.DB
	interval time.Duration

	mu        sync.RWMutex
	current   *models.ProductModel
	signature string
	listeners []func(*models.ProductModel)
}

// NewWatcher returns a Watcher polling every interval.
func NewWatcher(gdb *gorm.DB, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	return &Watcher{db: gdb, interval: interval}
}

// OnChange registers fn to be called with the new active model (nil when the
// line has none).
func (w *Watcher) OnChange(fn func(*models.ProductModel)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Current returns a copy of the cached active model.
func (w *Watcher) Current() (models.ProductModel, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.current == nil {
		return models.ProductModel{}, false
	}
	return *w.current, true
}

func signature(m *models.ProductModel) string {
	if m == nil {
		return ""
	}
	return fmt.Sprintf("%d|%s|%s|%g|%g", m.ID, m.Name, m.ModelType, m.LowerLimit, m.UpperLimit)
}

// Refresh reads system_state once and notifies listeners on change.
func (w *Watcher) Refresh(ctx context.Context) (bool, error) {
	m, err := ActiveModel(w.db.WithContext(ctx))
	if err != nil && !errors.Is(err, qcerr.ErrNoActiveModel) {
		return false, fmt.Errorf("registry: watch active model: %w", err)
	}

	sig := signature(m)
	w.mu.Lock()
	if sig == w.signature {
		w.mu.Unlock()
		return false, nil
	}
	w.signature = sig
	w.current = m
	listeners := append([]func(*models.ProductModel){}, w.listeners...)
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(m)
	}
	return true, nil
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Printf("registry: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
