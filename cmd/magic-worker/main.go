package main

import (
	"os"

	"github.com/skypol2113/magic-worker/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
