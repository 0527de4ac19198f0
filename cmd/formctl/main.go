// Command formctl submits a contact or participation form to an intake
// endpoint from the command line, applying the same validation the site does.
//
//	formctl contact --endpoint http://localhost:8081/contact --name 田中 \
//	    --email tanaka@example.com --message "hello"
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"alumni-forms/common"
	"alumni-forms/formclient"
	"alumni-forms/logger"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: formctl contact|participation --endpoint URL [field flags]")
		return 2
	}
	kind, ok := common.ParseKind(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown form %q\n", args[0])
		return 2
	}

	fs := pflag.NewFlagSet("formctl "+string(kind), pflag.ContinueOnError)
	endpoint := fs.String("endpoint", os.Getenv("FORM_ENDPOINT"), "Intake URL for this form.")
	timeout := fs.Duration("timeout", formclient.DefaultTimeout, "Request timeout.")
	verbose := fs.BoolP("verbose", "v", false, "Log request details.")
	values := map[string]*string{}
	for _, f := range common.SchemaFor(kind).Fields {
		def := ""
		if f.Key == common.FieldAttendance {
			def = common.DefaultAttendance
		}
		values[f.Key] = fs.String(f.Key, def, f.Header)
	}
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *endpoint == "" {
		fmt.Fprintln(os.Stderr, "--endpoint or FORM_ENDPOINT is required")
		return 2
	}

	level := "WARN"
	if *verbose {
		level = "DEBUG"
	}
	log, err := logger.New(level, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	c := formclient.New(kind, formclient.Config{Endpoint: *endpoint, Timeout: *timeout})
	for key, v := range values {
		c.Set(key, *v)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	err = c.Submit(ctx)
	log.Debug("submission finished",
		zap.String("kind", string(kind)),
		zap.String("endpoint", *endpoint),
		zap.String("state", c.State().String()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, formclient.UserMessage(err))
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("送信が完了しました。")
	return 0
}
