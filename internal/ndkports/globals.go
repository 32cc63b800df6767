package ndkports

import (
	"runtime"

	"github.com/gookit/color"
)

// Global variables
var (
	Debug      bool
	ConfigFile = "/etc/ndkports.conf"
	version    = "dev"     // default version; overridden at build time
	buildDate  = "unknown" // overridden at build time
	hostArch   = runtime.GOARCH
)

// color helpers
var (
	colWarn    = color.Warn
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
