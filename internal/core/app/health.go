package app

import (
	"context"
	"fmt"
	"semcache/internal/shared/util"
	"time"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
}

type HealthService struct {
	app *App
}

func NewHealthService(app *App) *HealthService {
	return &HealthService{app: app}
}

func (s *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]string),
	}
	if err := ctx.Err(); err != nil {
		status.Status = "down"
		status.Components["context"] = err.Error()
		return status
	}

	svc := s.app.Service
	switch {
	case svc == nil:
		status.Status = "down"
		status.Components["typecheck"] = "missing"
	case !svc.IsInitialized():
		status.Status = "degraded"
		status.Components["typecheck"] = "not initialized"
	case !svc.IsLoaded():
		status.Status = "degraded"
		status.Components["typecheck"] = "reloading"
	default:
		nodes, edges := svc.DependencyStats()
		status.Components["typecheck"] = fmt.Sprintf("ok (%d definitions, %d dependency nodes, %d edges)", svc.Index().Len(), nodes, edges)
	}

	if svc != nil {
		stats := svc.ResolveCacheStats()
		status.Components["resolve_cache"] = fmt.Sprintf("ok (%d syntax entries, %d value entries, %d hits)", stats.SyntaxEntries, stats.ValueEntries, stats.Hits)
		status.Components["libraries"] = fmt.Sprintf("ok (%d loaded)", len(svc.Libraries()))
	}

	if n := len(s.app.Notifications()); n > 0 {
		status.Status = "degraded"
		status.Components["libraries"] = fmt.Sprintf("%d pending notifications", n)
	}

	if s.app.store != nil {
		status.Components["libstore"] = "ok"
	} else if s.app.Config.DB.Enabled {
		status.Status = "degraded"
		status.Components["libstore"] = "missing but enabled in config"
	}

	s.app.watchMu.Lock()
	watching := s.app.activeWatcher != nil
	s.app.watchMu.Unlock()
	if watching {
		status.Components["watcher"] = "ok"
	}

	heapMB, cycles := util.HeapStats()
	status.Components["memory"] = fmt.Sprintf("%d MB heap, %d GC cycles", heapMB, cycles)
	return status
}
