// Command agpm-history inspects and exports the pull request history file
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"agpm/internal/platform/config"
	"agpm/internal/platform/logger"
	"agpm/internal/services/history/repo"
	"agpm/internal/services/history/service"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		fDB     = flag.String("db", "", "history database path (defaults to AGPM_HISTORY_DB)")
		fFormat = flag.String("format", "table", "output format: table | csv | json")
		fOut    = flag.String("out", "", "write to this file instead of stdout listing")
	)
	flag.Parse()

	log := logger.Get()
	root := config.New().Prefix("AGPM_")

	path := *fDB
	if path == "" {
		path = root.Prefix("HISTORY_").MayString("DB", "agpm-history.db")
	}
	store, err := repo.Open(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("history open failed")
		return 1
	}
	defer func() { _ = store.Close() }()
	svc := service.New(store)

	ctx := context.Background()
	switch *fFormat {
	case "csv":
		if *fOut == "" {
			log.Error().Msg("-out required for csv export")
			return 1
		}
		if err := svc.ExportCSV(ctx, *fOut); err != nil {
			log.Error().Err(err).Msg("csv export failed")
			return 1
		}
	case "json":
		if *fOut == "" {
			log.Error().Msg("-out required for json export")
			return 1
		}
		if err := svc.ExportJSON(ctx, *fOut); err != nil {
			log.Error().Err(err).Msg("json export failed")
			return 1
		}
	case "table":
		recs, err := svc.List(ctx)
		if err != nil {
			log.Error().Err(err).Msg("history read failed")
			return 1
		}
		for _, r := range recs {
			merged := " "
			if r.Merged {
				merged = "x"
			}
			fmt.Printf("[%s] #%-6d %s\n", merged, r.Number, r.Title)
		}
	default:
		log.Error().Str("format", *fFormat).Msg("unknown format")
		return 1
	}
	return 0
}
