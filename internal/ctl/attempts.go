package ctl

import (
	"fmt"
	"strings"
)

// Attempts lists the recorded capture attempts from the daemon's ledger.
func Attempts(baseURL string, jsonOut bool) error {
	var resp struct {
		Attempts []struct {
			Target      string `json:"target"`
			AOS         string `json:"aos"`
			FrequencyHz int    `json:"frequency_hz"`
			Pipeline    string `json:"pipeline"`
			Tier        int    `json:"tier"`
			Outcome     string `json:"outcome"`
			OutputDir   string `json:"output_dir"`
		} `json:"attempts"`
	}
	if err := getJSON(baseURL, "/api/attempts", &resp); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(resp)
	}

	fmt.Println()
	fmt.Println(header("  CAPTURE ATTEMPTS"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 76)))

	if len(resp.Attempts) == 0 {
		fmt.Println(colorize(dim, "  No attempts recorded."))
		fmt.Println()
		return nil
	}

	for _, a := range resp.Attempts {
		fmt.Printf("  %-14s %-22s tier %d  %8.3f MHz  %s\n",
			colorize(bold, a.Target),
			formatPassTime(a.AOS),
			a.Tier,
			float64(a.FrequencyHz)/1e6,
			colorize(outcomeColor(a.Outcome), padRight(a.Outcome, 15)),
		)
	}
	fmt.Println()

	return nil
}
