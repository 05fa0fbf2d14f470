package logger

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ManuelReschke/ForumFox/internal/pkg/env"
)

var (
	mu  sync.RWMutex
	log *zap.Logger
)

// Setup builds the process logger. APP_ENV=dev switches to the
// human-readable development encoder.
func Setup() *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if env.IsDev() {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		l = zap.NewNop()
	}
	Set(l)
	return l
}

func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
	zap.ReplaceGlobals(l)
}

// Get returns the process logger, or a no-op logger before Setup ran.
func Get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// Named returns a child logger tagged with the component name.
func Named(component string) *zap.Logger {
	return Get().Named(component)
}

func Sync() {
	_ = Get().Sync()
}
