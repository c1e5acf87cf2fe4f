package logger

import (
	"fmt"

	"github.com/go-kit/log/level"
)

// LevelFromString maps a level name to the corresponding filter option.
func LevelFromString(l string) (level.Option, error) {
	switch l {
	case "debug":
		return level.AllowDebug(), nil
	case "info":
		return level.AllowInfo(), nil
	case "warn":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	default:
		return nil, fmt.Errorf("unknown log level %q", l)
	}
}
