package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/om/internal/config"
	"github.com/basket/om/internal/doctor"
)

func runDoctorCommand(ctx context.Context, args []string) int {
	jsonOutput := false
	for _, arg := range args {
		if arg == "-json" || arg == "--json" {
			jsonOutput = true
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "om doctor: config: %v\n", err)
		// Continue anyway to diagnose why.
	}

	diag := doctor.Run(ctx, cfg, Version)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(os.Stderr, "om doctor: encode: %v\n", err)
			return 1
		}
		return 0
	}

	tty := isatty.IsTerminal(os.Stdout.Fd())

	fmt.Printf("om doctor report (%s)\n", diag.Timestamp.Format(time.RFC3339))
	fmt.Printf("System: %s/%s (%s)\n", diag.System.OS, diag.System.Arch, diag.System.Go)
	fmt.Println("---")

	failCount := 0
	for _, res := range diag.Results {
		marker := res.Status
		if tty {
			switch res.Status {
			case "PASS":
				marker = "✅"
			case "FAIL":
				marker = "❌"
			case "WARN":
				marker = "⚠️ "
			case "SKIP":
				marker = "⏩"
			}
		}
		if res.Status == "FAIL" {
			failCount++
		}

		fmt.Printf("%s %-14s: %s\n", marker, res.Name, res.Message)
		if res.Detail != "" {
			fmt.Printf("    %s\n", res.Detail)
		}
	}

	if failCount > 0 {
		return 1
	}
	return 0
}
