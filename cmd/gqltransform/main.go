package main

import (
	"os"

	"github.com/ShadowCat567/amplify-category-api/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
