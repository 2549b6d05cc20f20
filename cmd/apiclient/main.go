package main

import (
	"os"

	"github.com/AmmannChristian/go-apiclient/internal/cli"
)

// version can be set during build with -ldflags.
var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
