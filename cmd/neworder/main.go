package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/jo-hoe/goprint/internal/backend/database"
	"github.com/jo-hoe/goprint/internal/core"
	"github.com/spf13/pflag"
)

const placeholder = "###"

// neworder prints an order record for manual insertion into the order document.
// Usage: neworder [--status s] [--time-zone tz] [phone] [product] [image-url]
func main() {
	if err := run(os.Args[1:], os.Stdout, time.Now()); err != nil {
		slog.Error("failed to build order", "error", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, now time.Time) error {
	flags := pflag.NewFlagSet("neworder", pflag.ContinueOnError)
	status := flags.String("status", core.DefaultInitialStatus, "order status")
	timeZone := flags.String("time-zone", "", "IANA time zone of the order date, local time when empty")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *timeZone != "" {
		location, err := time.LoadLocation(*timeZone)
		if err != nil {
			return fmt.Errorf("unknown time zone %q: %w", *timeZone, err)
		}
		now = now.In(location)
	}

	order := database.Order{
		Phone:     argument(flags.Args(), 0),
		Product:   argument(flags.Args(), 1),
		CreatedAt: now.Format(core.DateLayout),
		Status:    *status,
		ImageURL:  argument(flags.Args(), 2),
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "    ")
	if err := encoder.Encode(order); err != nil {
		return err
	}
	_, err := out.Write(buf.Bytes())
	return err
}

func argument(args []string, index int) string {
	if index < len(args) && args[index] != "" {
		return args[index]
	}
	return placeholder
}
