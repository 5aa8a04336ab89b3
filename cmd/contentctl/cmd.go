package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/alem-hub/civiclearn/internal/application/command"
	"github.com/alem-hub/civiclearn/internal/domain/catalog"
	"github.com/alem-hub/civiclearn/internal/infrastructure/contentfile"
	"github.com/alem-hub/civiclearn/internal/interface/http/handlers"
)

var errHelp = errors.New("help provided")

// backend is what publish and history need from the database.
type backend struct {
	publish *command.PublishContentHandler
	history interface {
		History(ctx context.Context, limit int) ([]catalog.Version, error)
	}
	close func()
}

type commandLine struct {
	out  io.Writer
	open func(ctx context.Context) (*backend, error) // mockable
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  validate -file FILE  - parse and validate a content bundle")
	fmt.Fprintln(cli.out, "  publish -file FILE   - validate, store and activate a content bundle")
	fmt.Fprintln(cli.out, "  history [-limit N]   - list stored content versions")
	fmt.Fprintln(cli.out, "  hashkey -key KEY     - print the bcrypt hash to configure for an API key")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	validateCmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	validateFile := validateCmd.String("file", "", "Path to a YAML or JSON content bundle.")

	publishCmd := flag.NewFlagSet("publish", flag.ContinueOnError)
	publishFile := publishCmd.String("file", "", "Path to a YAML or JSON content bundle.")

	historyCmd := flag.NewFlagSet("history", flag.ContinueOnError)
	historyLimit := historyCmd.Int("limit", 20, "Number of versions to list.")

	hashCmd := flag.NewFlagSet("hashkey", flag.ContinueOnError)
	hashKey := hashCmd.String("key", "", "The API key to hash.")

	for _, fs := range []*flag.FlagSet{validateCmd, publishCmd, historyCmd, hashCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "validate":
		if err := validateCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *validateFile == "" {
			validateCmd.Usage()
			return errHelp
		}
		return cli.validate(*validateFile)
	case "publish":
		if err := publishCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *publishFile == "" {
			publishCmd.Usage()
			return errHelp
		}
		return cli.publish(ctx, *publishFile)
	case "history":
		if err := historyCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *historyLimit <= 0 {
			historyCmd.Usage()
			return errHelp
		}
		return cli.history(ctx, *historyLimit)
	case "hashkey":
		if err := hashCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *hashKey == "" {
			hashCmd.Usage()
			return errHelp
		}
		h, err := handlers.HashAPIKey(*hashKey)
		if err != nil {
			return err
		}
		fmt.Fprintln(cli.out, h)
		return nil
	default:
		cli.printUsage()
		return errHelp
	}
}

func loadValid(path string) (*catalog.Bundle, string, error) {
	bundle, err := contentfile.LoadFile(path)
	if err != nil {
		return nil, "", err
	}
	bundle.Normalize()
	if err := bundle.Validate(); err != nil {
		return nil, "", err
	}
	sum, err := bundle.Checksum()
	if err != nil {
		return nil, "", err
	}
	return bundle, sum, nil
}

func (cli *commandLine) validate(path string) error {
	bundle, sum, err := loadValid(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "ok: %d modules, %d quizzes, %d badges, %d challenges, checksum %s\n",
		len(bundle.Modules), len(bundle.Quizzes), len(bundle.Badges), len(bundle.Challenges), sum)
	return nil
}

func (cli *commandLine) publish(ctx context.Context, path string) error {
	bundle, _, err := loadValid(path)
	if err != nil {
		return err
	}
	b, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	res, err := b.publish.Handle(ctx, command.PublishContentCommand{Bundle: *bundle})
	if err != nil {
		return err
	}
	if res.Duplicate {
		fmt.Fprintf(cli.out, "unchanged: identical to version %d\n", res.Version)
		return nil
	}
	fmt.Fprintf(cli.out, "published version %d (%s)\n", res.Version, res.Checksum)
	return nil
}

func (cli *commandLine) history(ctx context.Context, limit int) error {
	b, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	versions, err := b.history.History(ctx, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tPUBLISHED\tCHECKSUM")
	for _, v := range versions {
		fmt.Fprintf(w, "%d\t%s\t%s\n", v.Version, v.PublishedAt.Format(time.RFC3339), v.Checksum)
	}
	return w.Flush()
}
