package version

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Version holds the current build version. Override with
// -ldflags "-X github.com/subwave/internal/version.Version=v1.2.3".
var Version = "dev"

const (
	separator = "────────────────────────────────────────────────────────────"
	banner    = `
            _
  ___ _   _| |____      ____ ___   _____
 / __| | | | '_ \ \ /\ / / _' \ \ / / _ \
 \__ \ |_| | |_) \ V  V / (_| |\ V /  __/
 |___/\__,_|_.__/ \_/\_/ \__,_| \_/ \___|
`
)

// Banner returns the ASCII-art project banner.
func Banner() string {
	return strings.Trim(banner, "\n")
}

// PrintBanner writes the decorated banner and version info to w (stdout if nil).
func PrintBanner(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, Banner())
	fmt.Fprintf(w, "\n  subwave %s\n", Version)
	fmt.Fprintf(w, "  Async Speech-to-Subtitle Service\n")
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w)
}
