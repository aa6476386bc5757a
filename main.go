package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/samber/do/v2"
	"github.com/vreid/challenger/internal/pkg/challenge"
	"github.com/vreid/challenger/internal/pkg/common"
	"github.com/vreid/challenger/internal/pkg/host"
	"github.com/vreid/challenger/internal/pkg/journal"

	"github.com/urfave/cli/v3"
)

type ChallengerService struct {
	EchoService     *common.EchoService     `do:""`
	DatabaseService *common.DatabaseService `do:""`

	ChallengeService *challenge.ChallengeService `do:""`
	JournalService   *journal.JournalService     `do:""`
}

func runServer(_ context.Context, cmd *cli.Command) error {
	i := do.New()

	do.ProvideNamedValue(i, "port", cmd.Int("port"))
	do.ProvideNamedValue(i, "data-dir", cmd.String("data-dir"))

	do.ProvideNamedValue(i, "valkey-addr", cmd.String("valkey-addr"))
	do.ProvideNamedValue(i, "events-channel", cmd.String("events-channel"))

	eventChan := make(chan challenge.Event, cmd.Int("event-buffer"))
	var eventSource <-chan challenge.Event = eventChan
	var eventSink chan<- challenge.Event = eventChan

	do.ProvideNamedValue(i, "event-source", eventSource)
	do.ProvideNamedValue(i, "event-sink", eventSink)

	do.ProvideValue[host.Clock](i, host.SystemClock{})

	do.Provide(i, common.NewDatabaseService)
	do.Provide(i, common.NewEchoService)

	do.Provide(i, challenge.NewChallengeService)
	do.Provide(i, journal.NewJournalService)

	do.Provide(i, do.InvokeStruct[ChallengerService])

	challengerService, err := do.Invoke[ChallengerService](i)
	if err != nil {
		return fmt.Errorf("failed to create challenger service: %w", err)
	}

	defer func() {
		challengerService.JournalService.Shutdown()

		err := challengerService.DatabaseService.Shutdown()
		if err != nil {
			log.Printf("failed to close database: %v", err)
		}
	}()

	challengerService.JournalService.Start()

	//nolint:wrapcheck
	return challengerService.EchoService.Start()
}

func main() {
	//nolint:exhaustruct
	cmd := &cli.Command{
		Name: "challenger",
		Commands: []*cli.Command{
			{
				Name: "server",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Value:   3000, //nolint:mnd
						Sources: cli.EnvVars("CHALLENGER_PORT"),
					},
					&cli.StringFlag{
						Name:    "data-dir",
						Value:   "./challenger/data",
						Sources: cli.EnvVars("CHALLENGER_DATA_DIR"),
					},
					&cli.StringFlag{
						Name:    "valkey-addr",
						Value:   "",
						Sources: cli.EnvVars("CHALLENGER_VALKEY_ADDR"),
					},
					&cli.StringFlag{
						Name:    "events-channel",
						Value:   "challenger:events",
						Sources: cli.EnvVars("CHALLENGER_EVENTS_CHANNEL"),
					},
					&cli.IntFlag{
						Name:    "event-buffer",
						Value:   1000, //nolint:mnd
						Sources: cli.EnvVars("CHALLENGER_EVENT_BUFFER"),
					},
				},
				Action: runServer,
			},
		},
		DefaultCommand: "server",
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
