package commands

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// Audit returns the CLI command group for transaction audit records.
func Audit() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Inspect per-transaction audit records",
		Subcommands: []*cli.Command{
			{
				Name:  "ls",
				Usage: "List audit records, newest first",
				Flags: commonFlags(),
				Action: func(c *cli.Context) error {
					return withSession(c, func(s *session) error {
						names, err := s.rt.Audit.List()
						if err != nil {
							s.p.Errorf("%v", err)
							return err
						}
						return s.table(names, names)
					})
				},
			},
			{
				Name:      "show",
				Usage:     "Print one audit record",
				ArgsUsage: "<name>",
				Flags:     commonFlags(),
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1, "<name>"); err != nil {
						return err
					}
					return withSession(c, func(s *session) error {
						rec, err := s.rt.Audit.Read(c.Args().First())
						if err != nil {
							s.p.Errorf("%v", err)
							return err
						}
						if s.cfg.JSON {
							return s.printJSON(rec)
						}
						status := "ok"
						if !rec.Success && rec.Error != nil {
							status = "failed " + rec.Error.Code + ": " + rec.Error.Message
						}
						rows := []string{
							fmt.Sprintf("%s %s@%s %s (%s, %dms)", rec.Operation, rec.PluginID, rec.Version, status, rec.TransactionID, rec.DurationMS),
						}
						for _, m := range rec.Messages {
							rows = append(rows, fmt.Sprintf("  %-5s %-16s %s", m.Level, m.Step, m.Message))
						}
						return s.table(rec, rows)
					})
				},
			},
		},
	}
}
