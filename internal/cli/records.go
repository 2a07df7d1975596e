package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/okian/paddock/internal/adapters/snapshot"
	"github.com/okian/paddock/internal/adapters/sources"
	service "github.com/okian/paddock/internal/app"
	"github.com/okian/paddock/internal/config"
	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/pkg/logger"
)

// fileSource is the source ID of cards read by --file.
const fileSource = "file"

// loadRecords returns the races to score: those merged from file when it is
// set ("-" reads stdin), otherwise those in the data dir snapshot, whatever
// its day. p should carry no persister.
func loadRecords(ctx context.Context, cfg *config.Config, p *service.Pipeline, file string, stdin io.Reader) ([]model.RaceRecord, error) {
	if file == "" {
		_, races, err := snapshot.NewFileStore(cfg.DataDir, snapshot.WithLogger(logger.Named("snapshot"))).Load(ctx)
		if errors.Is(err, snapshot.ErrNoSnapshot) {
			return nil, fmt.Errorf("no snapshot in %s: run desktop or mobile first, or pass --file", cfg.DataDir)
		}
		if err != nil {
			return nil, err
		}
		out := make([]model.RaceRecord, 0, len(races))
		for _, rec := range races {
			out = append(out, rec)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].RaceKey < out[j].RaceKey })
		return out, nil
	}

	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}

	now := time.Now()
	loc := cfg.Location()
	docs, err := sources.Detect(data).Parse(data, sources.Meta{
		SourceID:   fileSource,
		Tier:       cfg.Tier(),
		Day:        now.In(loc),
		CapturedAt: now,
		Location:   loc,
	})
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if _, err := p.Merge().Ingest(ctx, doc); err != nil {
			logger.Named("cli").Warn(ctx, "document rejected",
				logger.String("race_key", doc.RaceKey), logger.Error(err))
		}
	}
	return p.Merge().Records(), nil
}

