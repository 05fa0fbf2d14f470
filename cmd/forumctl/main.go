package main

import (
	"os"

	"github.com/ManuelReschke/ForumFox/internal/pkg/logger"
)

func main() {
	defer logger.Sync()
	if err := newRootCommand(&cliApp{out: os.Stdout}).Execute(); err != nil {
		os.Exit(1)
	}
}
