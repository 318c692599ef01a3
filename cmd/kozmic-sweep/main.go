// Command kozmic-sweep prunes install-phase cache images down to a
// per-project limit, the operational counterpart to the Job Runner's
// cache commits (spec.md §6 "Cache sweeper"). It is meant to run
// periodically outside the request path, e.g. from cron.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/kozmic/kozmic/internal/config"
	"github.com/kozmic/kozmic/internal/docker"
	"github.com/kozmic/kozmic/internal/sweep"
)

func main() {
	var (
		configPath string
		limit      int
	)
	flag.StringVar(&configPath, "config", "", "Optional YAML config overlay")
	flag.IntVar(&limit, "limit", 0, "Cache images to keep per project (0 = use config's cached_images_limit)")
	flag.Parse()

	logger := log.New(os.Stdout, "[kozmic-sweep] ", log.LstdFlags)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal(err)
	}
	if limit <= 0 {
		limit = cfg.CachedImagesLimit
	}

	engine, err := docker.New(cfg.DockerURL, cfg.DockerAPIVersion)
	if err != nil {
		logger.Fatal(err)
	}

	removed, err := sweep.Run(context.Background(), engine, limit)
	if err != nil {
		logger.Fatal(err)
	}
	logger.Printf("removed %d cache image(s)", len(removed))
}
