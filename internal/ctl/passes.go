package ctl

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// PassesOptions controls the passes command output.
type PassesOptions struct {
	Hours int
	JSON  bool
}

// Passes lists eligible upcoming passes from the daemon.
func Passes(baseURL string, opts PassesOptions) error {
	params := url.Values{}
	if opts.Hours > 0 {
		params.Set("hours", strconv.Itoa(opts.Hours))
	}
	path := "/api/passes"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp struct {
		Passes []struct {
			Target    string  `json:"target"`
			NoradID   int     `json:"norad_id"`
			AOS       string  `json:"aos"`
			TCA       string  `json:"tca"`
			LOS       string  `json:"los"`
			MaxElev   float64 `json:"max_elev"`
			DurationS int     `json:"duration_s"`
			Attempted bool    `json:"attempted"`
		} `json:"passes"`
		Station struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
			Alt float64 `json:"alt"`
		} `json:"station"`
	}

	// Pass computation may involve TLE network fetches and SGP4
	// propagation, so use a longer timeout than the default client.
	passClient := &http.Client{Timeout: 60 * time.Second}
	if err := getJSONWith(passClient, baseURL, path, &resp); err != nil {
		return err
	}

	if opts.JSON {
		return printJSON(resp)
	}

	fmt.Println()
	fmt.Println(header("  UPCOMING PASSES"))
	fmt.Printf("  %s %.4f, %.4f, %.0fm\n",
		colorize(dim, "Station:"),
		resp.Station.Lat, resp.Station.Lon, resp.Station.Alt,
	)
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 76)))

	if len(resp.Passes) == 0 {
		fmt.Println(colorize(dim, "  No upcoming passes found."))
		fmt.Println()
		return nil
	}

	fmt.Printf("  %-4s %-14s %-22s %6s  %-9s %s\n",
		colorize(dim, "#"),
		colorize(dim, "Target"),
		colorize(dim, "AOS"),
		colorize(dim, "Elev"),
		colorize(dim, "Duration"),
		colorize(dim, "Attempted"),
	)
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 76)))

	for i, p := range resp.Passes {
		attempted := ""
		if p.Attempted {
			attempted = colorize(dim, "yes")
		}
		fmt.Printf("  %-4d %-14s %-22s %5.1f°  %-9s %s\n",
			i+1,
			colorize(bold, p.Target),
			formatPassTime(p.AOS),
			p.MaxElev,
			formatDuration(time.Duration(p.DurationS)*time.Second),
			attempted,
		)
	}
	fmt.Println()

	return nil
}

// formatPassTime parses an RFC3339 timestamp and returns a local time string.
func formatPassTime(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.Local().Format("2006-01-02 15:04 MST")
}
