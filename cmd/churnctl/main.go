package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"churn-service/internal/client"
	"churn-service/internal/features"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: churnctl [-addr URL] [-timeout D] <health|info|predict|predictions> [command flags]\n")
	flag.PrintDefaults()
}

func main() {
	addr := flag.String("addr", "http://localhost:8000", "Base URL of the churn server")
	timeout := flag.Duration("timeout", 5*time.Second, "Request timeout")
	flag.Usage = usage
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	c := client.New(*addr, *timeout)
	ctx := context.Background()

	var (
		out any
		err error
	)
	switch cmd := flag.Arg(0); cmd {
	case "health":
		out, err = c.Health(ctx)
	case "info":
		out, err = c.ModelInfo(ctx)
	case "predict":
		var in features.CustomerInput
		in, err = parsePredictFlags(flag.Args()[1:])
		if err == nil {
			out, err = c.Predict(ctx, in)
		}
	case "predictions":
		var start, end time.Time
		start, end, err = parseRangeFlags(flag.Args()[1:])
		if err == nil {
			out, err = c.Predictions(ctx, start, end)
		}
	default:
		log.Error().Str("command", cmd).Msg("unknown command")
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("request failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal().Err(err).Msg("failed to print response")
	}
}

func parsePredictFlags(args []string) (features.CustomerInput, error) {
	var in features.CustomerInput
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	fs.IntVar(&in.Tenure, "tenure", 0, "Months as a customer")
	fs.Float64Var(&in.MonthlyCharges, "monthly", 0, "Monthly charges")
	fs.Float64Var(&in.TotalCharges, "total", 0, "Total charges")
	fs.IntVar(&in.ContractOneYear, "one-year", 0, "1 for a one year contract")
	fs.IntVar(&in.ContractTwoYear, "two-year", 0, "1 for a two year contract")
	fs.IntVar(&in.InternetServiceFiberOptic, "fiber", 0, "1 for fiber optic internet")
	fs.IntVar(&in.OnlineSecurityYes, "security", 0, "1 if online security is subscribed")
	fs.IntVar(&in.TechSupportYes, "support", 0, "1 if tech support is subscribed")
	if err := fs.Parse(args); err != nil {
		return in, err
	}
	return in, nil
}

// parseRangeFlags reads -start/-end as RFC 3339, or -since as a window ending now.
func parseRangeFlags(args []string) (time.Time, time.Time, error) {
	fs := flag.NewFlagSet("predictions", flag.ContinueOnError)
	startStr := fs.String("start", "", "Range start (RFC 3339)")
	endStr := fs.String("end", "", "Range end (RFC 3339)")
	since := fs.Duration("since", 0, "Range covering the last duration, overrides -start")
	if err := fs.Parse(args); err != nil {
		return time.Time{}, time.Time{}, err
	}

	var start, end time.Time
	var err error
	if *endStr != "" {
		if end, err = time.Parse(time.RFC3339, *endStr); err != nil {
			return start, end, fmt.Errorf("invalid -end: %w", err)
		}
	}
	if *startStr != "" {
		if start, err = time.Parse(time.RFC3339, *startStr); err != nil {
			return start, end, fmt.Errorf("invalid -start: %w", err)
		}
	}
	if *since > 0 {
		if end.IsZero() {
			end = time.Now()
		}
		start = end.Add(-*since)
	}
	return start, end, nil
}
