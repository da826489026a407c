package main

import (
	"os"

	"github.com/oscarsorensen/FirstListing/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
