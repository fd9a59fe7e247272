package log

import (
	"os"

	hclog "github.com/hashicorp/go-hclog"
)

func EnableDebug() {
	if str := os.Getenv("TRACE"); str != "" {
		L.SetLevel(hclog.Trace)
	}
}

// SetLevel changes the level of L. Unknown names leave the level alone.
func SetLevel(name string) {
	lvl := hclog.LevelFromString(name)
	if lvl == hclog.NoLevel {
		return
	}

	L.SetLevel(lvl)
}
