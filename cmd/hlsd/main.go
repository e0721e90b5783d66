// Command hlsd segments a live audio/video feed into a rolling HLS
// presentation (TS or fragmented MP4).
package main

import (
	"os"

	"github.com/riverstream/hlsd/cmd/hlsd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
