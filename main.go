package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/xeptore/albumshelf/album"
	"github.com/xeptore/albumshelf/asset"
	"github.com/xeptore/albumshelf/catalog"
	"github.com/xeptore/albumshelf/config"
	"github.com/xeptore/albumshelf/constant"
	"github.com/xeptore/albumshelf/library"
	"github.com/xeptore/albumshelf/log"
	"github.com/xeptore/albumshelf/mirror"
	"github.com/xeptore/albumshelf/session"
	"github.com/xeptore/albumshelf/shell"
)

const mirrorDrainTimeout = 10 * time.Second

func main() {
	logger := log.NewDefault()

	//nolint:exhaustruct
	app := &cli.Command{
		Name:    "albumshelf",
		Version: constant.Version,
		Metadata: map[string]any{
			"compiled_at": constant.CompileTime,
		},
		Suggest:                    true,
		Usage:                      "Personal album catalog",
		EnableShellCompletion:      true,
		ShellCompletionCommandName: "shell-completion",
		AllowExtFlags:              false,
		Flags: []cli.Flag{
			//nolint:exhaustruct
			&cli.StringFlag{
				Name:     "config",
				Usage:    "Config file path",
				Required: false,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "albums",
				Usage: "Catalog commands",
				Commands: []*cli.Command{
					//nolint:exhaustruct
					{
						Name:  "list",
						Usage: "List albums",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "page", Usage: "Page number, starting from 1", Value: 1},       //nolint:exhaustruct
							&cli.IntFlag{Name: "page-size", Usage: "Number of albums per page", Value: 20}, //nolint:exhaustruct
						},
						Action: albumsList,
					},
					{
						Name:  "add",
						Usage: "Add an album and save the catalog",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "title", Required: true},  //nolint:exhaustruct
							&cli.StringFlag{Name: "artist", Required: true}, //nolint:exhaustruct
							&cli.StringFlag{Name: "genre"},                  //nolint:exhaustruct
							&cli.StringFlag{Name: "cover-url"},              //nolint:exhaustruct
							&cli.StringFlag{Name: "year"},                   //nolint:exhaustruct
							&cli.IntFlag{ //nolint:exhaustruct
								Name:  "index",
								Usage: "Position to insert at. Defaults to the end of the catalog",
								Value: -1,
							},
						},
						Action: albumsAdd,
					},
					{
						Name:  "delete",
						Usage: "Delete an album and save the catalog",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "index", Required: true}, //nolint:exhaustruct
						},
						Action: albumsDelete,
					},
				},
			},
			{
				Name:  "covers",
				Usage: "Cover image commands",
				Commands: []*cli.Command{
					//nolint:exhaustruct
					{
						Name:   "fetch",
						Usage:  "Download every missing cover",
						Action: coversFetch,
					},
					{
						Name:  "path",
						Usage: "Show where the cover of an album is cached",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "index", Required: true}, //nolint:exhaustruct
						},
						Action: coversPath,
					},
				},
			},
			//nolint:exhaustruct
			{
				Name:   "shell",
				Usage:  "Browse and edit the catalog interactively",
				Action: shellRun,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			os.Exit(1)
		}

		var exitCode exitCodeError
		if errors.As(err, &exitCode) {
			os.Exit(int(exitCode))
		}

		logger.Error().Err(err).Msg("Application exited with error")
		os.Exit(10)
	}
}

type exitCodeError int

func (e exitCodeError) Error() string {
	return "error with exit code: " + strconv.Itoa(int(e))
}

func loadConfig(cmd *cli.Command) (*config.Config, zerolog.Logger, error) {
	logger := log.NewDefault()

	if err := godotenv.Load(); nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, logger, fmt.Errorf("load .env file: %v", err)
		}
		logger.Debug().Msg(".env file was not found")
	} else {
		logger.Debug().Msg(".env file was loaded")
	}

	conf, err := config.Load(cmd.String("config"))
	if nil != err {
		return nil, logger, fmt.Errorf("load config: %v", err)
	}

	logger = log.FromConfig(conf.Log)

	logger.Debug().Dict("config", conf.ToDict()).Msg("Config loaded")

	return conf, logger, nil
}

// components is what every catalog command needs: a loaded store and the
// service in front of it.
type components struct {
	logger zerolog.Logger
	conf   *config.Config
	store  *catalog.Store
	mirror *mirror.Mirror
	svc    *library.Service
}

func newComponents(ctx context.Context, cmd *cli.Command) (*components, error) {
	conf, logger, err := loadConfig(cmd)
	if nil != err {
		return nil, err
	}

	store := catalog.New(logger, conf.Catalog)
	if _, err := store.Load(ctx); nil != err {
		logger.Warn().Err(err).Msg("Failed to save the initial catalog. Continuing with unsaved placeholder albums")
	}

	m := mirror.New(logger, conf.Mirror)

	return &components{
		logger: logger,
		conf:   conf,
		store:  store,
		mirror: m,
		svc:    library.NewService(logger, store, m),
	}, nil
}

// drainMirror gives outstanding mirror signals a bounded time to finish.
func (c *components) drainMirror() {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorDrainTimeout)
	defer cancel()

	if err := c.mirror.Wait(ctx); nil != err {
		c.logger.Warn().Err(err).Msg("Exiting with mirror signals still in flight")
	}

	if n := c.mirror.Failures(); n > 0 {
		c.logger.Warn().Int64("failures", n).Msg("Some catalog changes were not mirrored")
	}
}

func (c *components) openCovers() (*asset.Cache, error) {
	covers, err := asset.New(c.logger, c.conf.Assets)
	if nil != err {
		return nil, fmt.Errorf("create cover cache: %v", err)
	}

	return covers, nil
}

func (c *components) save(ctx context.Context) error {
	if err := c.svc.Save(ctx); nil != err {
		var perr *catalog.PersistenceError
		if errors.As(err, &perr) {
			c.logger.Error().Err(perr.Err).Str("path", perr.Path).Msg("Failed to save the catalog")
			return exitCodeError(3)
		}

		return err
	}

	return nil
}

func indexError(logger zerolog.Logger, err error, index int) error {
	if errors.Is(err, catalog.ErrIndexOutOfRange) || errors.Is(err, catalog.ErrInvalidArgument) {
		logger.Error().Err(err).Int("index", index).Msg("Invalid album index")
		return exitCodeError(2)
	}

	return err
}

func albumsList(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := newComponents(ctx, cmd)
	if nil != err {
		return err
	}

	pageSize := int(cmd.Int("page-size"))
	if pageSize <= 0 {
		c.logger.Error().Int("page_size", pageSize).Msg("Page size must be positive")
		return exitCodeError(2)
	}

	shell.RenderPage(os.Stdout, c.svc.ListAlbums(), int(cmd.Int("page")), pageSize, -1)

	return nil
}

func albumsAdd(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := newComponents(ctx, cmd)
	if nil != err {
		return err
	}
	defer c.drainMirror()

	index := int(cmd.Int("index"))
	if index < 0 {
		index = c.store.Len()
	}

	r := album.New(cmd.String("title"), cmd.String("artist"), cmd.String("genre"), cmd.String("cover-url"), cmd.String("year"))
	if err := c.svc.AddAlbum(r, index); nil != err {
		return indexError(c.logger, err, index)
	}

	if err := c.save(ctx); nil != err {
		return err
	}

	c.logger.Info().Str("album", r.String()).Int("index", min(index, c.store.Len()-1)).Msg("Album added")

	return nil
}

func albumsDelete(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := newComponents(ctx, cmd)
	if nil != err {
		return err
	}
	defer c.drainMirror()

	index := int(cmd.Int("index"))
	removed, err := c.svc.DeleteAlbum(index)
	if nil != err {
		return indexError(c.logger, err, index)
	}

	if err := c.save(ctx); nil != err {
		return err
	}

	c.logger.Info().Str("album", removed.String()).Int("index", index).Msg("Album deleted")

	return nil
}

func coversFetch(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := newComponents(ctx, cmd)
	if nil != err {
		return err
	}

	covers, err := c.openCovers()
	if nil != err {
		return err
	}
	defer covers.Close()

	records := c.svc.ListAlbums()
	if err := covers.Prefetch(ctx, records); nil != err {
		if errors.Is(err, context.Canceled) {
			return err
		}

		c.logger.Error().Err(err).Msg("Some covers could not be fetched")
		renderCovers(c.logger, covers, records)

		return exitCodeError(4)
	}

	renderCovers(c.logger, covers, records)

	return nil
}

func renderCovers(logger zerolog.Logger, covers *asset.Cache, records []album.Record) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Album", "State", "Path"})
	for i, r := range records {
		k, err := asset.KeyFromURL(r.CoverURL)
		if nil != err {
			logger.Debug().Err(err).Int("index", i).Msg("Album has no valid cover url")
			t.AppendRow(table.Row{i, r.Title, "invalid url", ""})

			continue
		}
		t.AppendRow(table.Row{i, r.Title, covers.State(k), covers.Path(k)})
	}
	t.Render()
}

func coversPath(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := newComponents(ctx, cmd)
	if nil != err {
		return err
	}

	index := int(cmd.Int("index"))
	r, err := c.store.At(index)
	if nil != err {
		return indexError(c.logger, err, index)
	}

	k, err := asset.KeyFromURL(r.CoverURL)
	if nil != err {
		c.logger.Error().Err(err).Str("cover_url", r.CoverURL).Msg("Album has no valid cover url")
		return exitCodeError(2)
	}

	covers, err := c.openCovers()
	if nil != err {
		return err
	}
	defer covers.Close()

	state := covers.State(k)
	fmt.Fprintln(os.Stdout, covers.Path(k))
	c.logger.Info().Str("key", string(k)).Stringer("state", state).Msg("Cover located")

	if state != asset.StateReady {
		return exitCodeError(5)
	}

	return nil
}

func shellRun(ctx context.Context, cmd *cli.Command) (err error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := newComponents(ctx, cmd)
	if nil != err {
		return err
	}
	defer c.drainMirror()

	covers, err := c.openCovers()
	if nil != err {
		return err
	}
	defer covers.Close()

	state, err := session.Open(c.conf.Session.Path)
	if nil != err {
		return fmt.Errorf("open session state: %w", err)
	}
	defer func() {
		if closeErr := state.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close session state: %v", closeErr))
		}
	}()

	sess := library.NewSession(c.logger, c.svc, state)
	if err := shell.New(c.logger, sess, covers).Run(ctx); nil != err {
		if errors.Is(err, syscall.ENOTTY) {
			c.logger.Error().Msg("No TTY detected. Please run the shell from an interactive terminal.")
			return exitCodeError(1)
		}

		return fmt.Errorf("run shell: %w", err)
	}

	return nil
}
