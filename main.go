package main

import (
	"os"

	"github.com/veilsec/azrbac/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
