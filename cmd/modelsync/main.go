package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"

	"github.com/opst/modelsync/cmd/modelsync/subcommands/common"
	subdelete "github.com/opst/modelsync/cmd/modelsync/subcommands/delete"
	subinit "github.com/opst/modelsync/cmd/modelsync/subcommands/init"
	substatus "github.com/opst/modelsync/cmd/modelsync/subcommands/status"
	subver "github.com/opst/modelsync/cmd/modelsync/subcommands/version"
	subwatch "github.com/opst/modelsync/cmd/modelsync/subcommands/watch"
	"github.com/opst/modelsync/pkg/logger"
	"github.com/opst/modelsync/pkg/utils/try"
	"github.com/youta-t/flarc"
)

func main() {
	name := path.Base(os.Args[0])
	logger := logger.Default()
	logger.SetPrefix(fmt.Sprintf("[%s] ", name))

	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, os.Kill,
	)
	defer cancel()

	init := try.To(subinit.New()).OrFatal(logger)
	status := try.To(substatus.New()).OrFatal(logger)
	watch := try.To(subwatch.New()).OrFatal(logger)
	del := try.To(subdelete.New()).OrFatal(logger)
	version := try.To(subver.New()).OrFatal(logger)

	modelsync := try.To(
		flarc.NewCommandGroup(
			"modelsync: keep track of InferenceServices and InferenceGraphs",
			common.Flags(),
			flarc.WithSubcommand("init", init),
			flarc.WithSubcommand("status", status),
			flarc.WithSubcommand("watch", watch),
			flarc.WithSubcommand("delete", del),
			flarc.WithSubcommand("version", version),
		),
	).OrFatal(logger)

	os.Exit(flarc.Run(ctx, modelsync, flarc.WithHelp(true)))
}
