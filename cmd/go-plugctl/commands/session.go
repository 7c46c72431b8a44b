package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/greeddj/go-plugctl/cmd/go-plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/config"
	"github.com/greeddj/go-plugctl/internal/plugctl/fetch"
	"github.com/greeddj/go-plugctl/internal/plugctl/infra"
	"github.com/greeddj/go-plugctl/internal/progress"
	"github.com/urfave/cli/v2"
)

// errFailed is returned after a failure has already been reported to the user.
var errFailed = errors.New("operation failed")

// session bundles what every command action needs.
type session struct {
	cfg *config.Config
	p   *progress.Progress
	rt  *infra.Infra
	out io.Writer
}

// withSession builds config, progress output and the runtime, then runs fn.
func withSession(c *cli.Context, fn func(s *session) error) error {
	cfg, err := config.BuildConfig(c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		return err
	}
	// JSON goes to stdout, so progress stays on stderr and is quiet unless verbose.
	p := progress.New(os.Stderr, cfg.Verbose, cfg.Quiet || cfg.JSON)
	if cfg.Verbose {
		log.SetOutput(p)
	} else {
		log.SetOutput(io.Discard)
	}
	defer p.Close()

	rt, err := infra.New(cfg, p, fetch.New(cfg.Changelog.Timeout))
	if err != nil {
		p.Errorf("%v", err)
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			p.Debugf("close: %v", err)
		}
	}()
	rt.DebugConfig(cfg)
	return fn(&session{cfg: cfg, p: p, rt: rt, out: os.Stdout})
}

// emit prints v as JSON in --json mode and line otherwise. A false ok reports failure.
func (s *session) emit(v any, ok bool, line string) error {
	if s.cfg.JSON {
		if err := s.printJSON(v); err != nil {
			return err
		}
	} else if ok {
		s.p.PersistentPrintf("%s", line)
	} else {
		s.p.Errorf("%s", line)
	}
	if !ok {
		return errFailed
	}
	return nil
}

func (s *session) printJSON(v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = fmt.Fprintln(s.out, string(payload))
	return err
}

// table prints rows to stdout in text mode, or v as JSON.
func (s *session) table(v any, rows []string) error {
	if s.cfg.JSON {
		return s.printJSON(v)
	}
	for _, row := range rows {
		fmt.Fprintln(s.out, row)
	}
	return nil
}

// flags concatenates flag groups.
func flags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// requireArgs returns an error unless the command received at least n arguments.
func requireArgs(c *cli.Context, n int, usage string) error {
	if c.NArg() < n {
		return cli.Exit(fmt.Sprintf("usage: %s %s %s", c.App.Name, c.Command.FullName(), usage), 2)
	}
	return nil
}

// commonFlags are accepted by every command.
func commonFlags() []cli.Flag {
	return helpers.CommonFlags()
}

// engineFlags are accepted by every command that builds the runtime.
func engineFlags() []cli.Flag {
	return flags(helpers.CommonFlags(), helpers.TransactionFlags())
}
