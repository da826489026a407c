package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/oscarsorensen/FirstListing/internal/cli"
	"github.com/oscarsorensen/FirstListing/internal/listing"
	"github.com/oscarsorensen/FirstListing/internal/pipeline"
)

func runExtract(args []string) int {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	limit := fs.Int("limit", pipeline.DefaultExtractLimit, "Maximum pages to extract")
	pageID := fs.Int64("page-id", 0, "Extract one page by id, ignoring staleness")
	force := fs.Bool("force", false, "Re-extract pages that already have a record")
	mode := fs.String("mode", "", "Extraction mode: strict or permissive (default from EXTRACTION_MODE)")
	descriptionStage := fs.Bool("description-stage", false, "Run a second model call for the description")
	concurrency := fs.Int("concurrency", pipeline.DefaultConcurrency, "Pages processed in parallel")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}
	if *pageID < 0 {
		fmt.Fprintln(os.Stderr, "--page-id must be > 0")
		return 2
	}
	if *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "--concurrency must be > 0")
		return 2
	}
	if _, err := listing.ParseMode(*mode); err != nil {
		fmt.Fprintf(os.Stderr, "--mode: %v\n", err)
		return 2
	}

	overrides := serviceOverrides{Mode: *mode}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "description-stage" {
			overrides.DescriptionStage = descriptionStage
		}
	})

	cfg, logger, ok := loadRuntime(envLoader)
	if !ok {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := openPool(ctx, cfg, false)
	if err != nil {
		logger.Error().Err(err).Msg("extract command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc, err := buildService(cfg, pool, logger, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure pipeline: %v\n", err)
		return 1
	}

	result, err := svc.ProcessPages(ctx, pipeline.ExtractOptions{
		Limit:       *limit,
		PageID:      *pageID,
		Force:       *force,
		Concurrency: *concurrency,
		Report: func(status pipeline.PageStatus) {
			fmt.Println(status.Line())
		},
	})
	if err != nil {
		logger.Error().Err(err).Int("limit", *limit).Msg("extract failed")
		fmt.Fprintf(os.Stderr, "Extract failed: %v\n", err)
		return 1
	}

	fmt.Printf(
		"extract run_id=%s processed=%d inserted=%d updated=%d failed=%d limit=%d\n",
		result.RunID,
		result.Processed,
		result.Inserted,
		result.Updated,
		result.Failed,
		*limit,
	)
	return 0
}

func runDuplicates(args []string) int {
	fs := flag.NewFlagSet("duplicates", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	pageID := fs.Int64("page-id", 0, "Base page id")
	adjudicate := fs.Bool("adjudicate", false, "Ask the model to compare descriptions of the best candidates")
	asJSON := fs.Bool("json", false, "Print the result as JSON")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *pageID <= 0 {
		fmt.Fprintln(os.Stderr, "--page-id is required and must be > 0")
		return 2
	}

	cfg, logger, ok := loadRuntime(envLoader)
	if !ok {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := openPool(ctx, cfg, false)
	if err != nil {
		logger.Error().Err(err).Msg("duplicates command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc, err := buildService(cfg, pool, logger, serviceOverrides{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure pipeline: %v\n", err)
		return 1
	}

	dups, err := svc.FindDuplicates(ctx, *pageID, *adjudicate)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoListingRecord) {
			fmt.Fprintf(os.Stderr, "error: page %d has no extracted listing record; run extract first\n", *pageID)
			return 1
		}
		logger.Error().Err(err).Int64("page_id", *pageID).Msg("duplicate lookup failed")
		fmt.Fprintf(os.Stderr, "Duplicate lookup failed: %v\n", err)
		return 1
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(duplicatesOutput(dups)); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf("duplicates page_id=%d candidates=%d\n", *pageID, len(dups.Candidates))
	for _, c := range dups.Candidates {
		fmt.Println(candidateLine(c))
	}
	return 0
}

func candidateLine(c listing.Candidate) string {
	line := fmt.Sprintf(
		"candidate page_id=%d score=%d matched=%s url=%s",
		c.Record.PageID,
		c.MatchScore,
		joinFields(c.MatchedFields),
		c.Record.URL,
	)
	if v := c.Verdict; v != nil {
		line += fmt.Sprintf(
			" same_property=%s confidence=%s reason=%q",
			formatVerdict(v.SameProperty),
			formatConfidence(v.Confidence),
			v.Reason,
		)
	}
	return line
}

type verdictOutput struct {
	SameProperty *bool    `json:"same_property"`
	Confidence   *float64 `json:"confidence"`
	Reason       string   `json:"reason"`
}

type candidateOutput struct {
	PageID        int64           `json:"page_id"`
	URL           string          `json:"url"`
	MatchScore    int             `json:"match_score"`
	MatchedFields []listing.Field `json:"matched_fields"`
	Verdict       *verdictOutput  `json:"verdict,omitempty"`
}

type duplicatesJSON struct {
	PageID     int64             `json:"page_id"`
	Candidates []candidateOutput `json:"candidates"`
}

func duplicatesOutput(dups pipeline.Duplicates) duplicatesJSON {
	out := duplicatesJSON{
		PageID:     dups.Base.PageID,
		Candidates: make([]candidateOutput, 0, len(dups.Candidates)),
	}
	for _, c := range dups.Candidates {
		item := candidateOutput{
			PageID:        c.Record.PageID,
			URL:           c.Record.URL,
			MatchScore:    c.MatchScore,
			MatchedFields: c.MatchedFields,
		}
		if v := c.Verdict; v != nil {
			item.Verdict = &verdictOutput{SameProperty: v.SameProperty, Confidence: v.Confidence, Reason: v.Reason}
		}
		out.Candidates = append(out.Candidates, item)
	}
	return out
}

func joinFields(fields []listing.Field) string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, string(f))
	}
	return strings.Join(names, ",")
}

func formatVerdict(v *bool) string {
	if v == nil {
		return "unknown"
	}
	if *v {
		return "true"
	}
	return "false"
}

func formatConfidence(v *float64) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.2f", *v)
}
