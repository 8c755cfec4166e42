package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/xeptore/albumshelf/album"
	"github.com/xeptore/albumshelf/asset"
	"github.com/xeptore/albumshelf/library"
	"github.com/xeptore/albumshelf/mathutil"
	"github.com/xeptore/albumshelf/unit"
)

const pageSize = 10

const (
	actionList   = "List albums"
	actionShow   = "Show current album"
	actionNext   = "Next album"
	actionPrev   = "Previous album"
	actionAdd    = "Add album"
	actionDelete = "Delete current album"
	actionUndo   = "Undo last delete"
	actionSave   = "Save"
	actionQuit   = "Quit"
)

// Shell is an interactive session over a catalog. It keeps the position of the
// album being viewed and forgets undo history when it exits.
type Shell struct {
	logger  zerolog.Logger
	sess    *library.Session
	covers  *asset.Cache
	stdin   terminal.FileReader
	stdout  terminal.FileWriter
	current int
	dirty   bool
}

func New(logger zerolog.Logger, sess *library.Session, covers *asset.Cache) *Shell {
	return &Shell{
		logger:  logger.With().Str("component", "shell").Logger(),
		sess:    sess,
		covers:  covers,
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		current: 0,
		dirty:   false,
	}
}

// Run prompts for actions until the user quits or ctx is done. It fails with
// syscall.ENOTTY when stdout is not a terminal.
func (s *Shell) Run(ctx context.Context) (err error) {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return syscall.ENOTTY
	}

	if s.current, err = s.sess.LastViewedIndex(ctx); nil != err {
		s.logger.Warn().Err(err).Msg("Failed to restore last viewed album. Starting from the first one")
		s.current = 0
	}

	defer func() {
		if storeErr := s.sess.SetLastViewedIndex(context.WithoutCancel(ctx), s.current); nil != storeErr {
			err = errors.Join(err, storeErr)
		}
	}()

	s.show(ctx)

	for {
		if err := ctx.Err(); nil != err {
			return err
		}

		action, err := s.ask()
		if nil != err {
			if errors.Is(err, terminal.InterruptErr) {
				return s.quit(ctx)
			}

			return fmt.Errorf("failed to ask for action: %v", err)
		}

		switch action {
		case actionList:
			RenderPage(s.stdout, s.sess.Service().ListAlbums(), s.current/pageSize+1, pageSize, s.current)
		case actionShow:
			s.show(ctx)
		case actionNext:
			s.move(1)
			s.show(ctx)
		case actionPrev:
			s.move(-1)
			s.show(ctx)
		case actionAdd:
			if err := s.add(ctx); nil != err {
				if errors.Is(err, terminal.InterruptErr) {
					continue
				}

				return err
			}
		case actionDelete:
			if err := s.delete(); nil != err {
				if errors.Is(err, terminal.InterruptErr) {
					continue
				}

				return err
			}
		case actionUndo:
			s.undo()
		case actionSave:
			s.save(ctx)
		case actionQuit:
			return s.quit(ctx)
		}
	}
}

func (s *Shell) askOpts() []survey.AskOpt {
	return []survey.AskOpt{
		survey.WithStdio(s.stdin, s.stdout, s.stdout),
		survey.WithShowCursor(true),
	}
}

func (s *Shell) ask() (string, error) {
	n := len(s.sess.Service().ListAlbums())

	options := []string{actionList}
	if n > 0 {
		options = append(options, actionShow, actionNext, actionPrev)
	}
	options = append(options, actionAdd)
	if n > 0 {
		options = append(options, actionDelete)
	}
	if s.sess.CanUndo() {
		options = append(options, actionUndo)
	}
	options = append(options, actionSave, actionQuit)

	var action string
	prompt := &survey.Select{ //nolint:exhaustruct
		Message:     "What next?",
		Options:     options,
		PageSize:    len(options),
		Description: s.describeAction,
	}
	if err := survey.AskOne(prompt, &action, s.askOpts()...); nil != err {
		return "", err
	}

	return action, nil
}

func (s *Shell) describeAction(action string, _ int) string {
	if action != actionUndo {
		return ""
	}

	e, ok := s.sess.LastDeleted()
	if !ok {
		return ""
	}

	return "restores " + e.Record.String() + " at position " + strconv.Itoa(e.Index+1)
}

func (s *Shell) move(delta int) {
	n := len(s.sess.Service().ListAlbums())
	if n == 0 {
		s.current = 0
		return
	}

	s.current = mathutil.Clamp(s.current+delta, 0, n-1)
}

func (s *Shell) show(ctx context.Context) {
	records := s.sess.Service().ListAlbums()
	if len(records) == 0 {
		fmt.Fprintln(s.stdout, text.FgYellow.Sprint("The catalog is empty."))
		return
	}

	s.current = mathutil.Clamp(s.current, 0, len(records)-1)
	r := records[s.current]

	fmt.Fprintln(s.stdout, text.Bold.Sprint(strconv.Itoa(s.current+1)+"/"+strconv.Itoa(len(records))+"  "+r.String()))
	titles, values := r.TableRepresentation()
	for i, title := range titles {
		fmt.Fprintf(s.stdout, "  %-7s %s\n", title+":", values[i])
	}
	fmt.Fprintf(s.stdout, "  %-7s %s\n", "Cover:", s.coverStatus(ctx, r))
}

// coverStatus describes the cover of r, starting a background download when
// it is not cached yet.
func (s *Shell) coverStatus(ctx context.Context, r album.Record) string {
	k, err := asset.KeyFromURL(r.CoverURL)
	if nil != err {
		return text.FgRed.Sprint("invalid url")
	}

	if b, ok := s.covers.GetCached(k); ok {
		return s.covers.Path(k) + " (" + unit.FormatBinary(int64(len(b))) + ")"
	}

	if s.covers.State(k) != asset.StatePending {
		_ = s.covers.Fetch(ctx, k, r.CoverURL)
	}

	return text.FgYellow.Sprint("downloading")
}

func (s *Shell) add(ctx context.Context) error {
	n := len(s.sess.Service().ListAlbums())

	answers := struct {
		Title    string
		Artist   string
		Genre    string
		CoverURL string `survey:"cover_url"`
		Year     string
		Index    string
	}{} //nolint:exhaustruct

	questions := []*survey.Question{
		{Name: "title", Prompt: &survey.Input{Message: "Title:"}, Validate: survey.Required},   //nolint:exhaustruct
		{Name: "artist", Prompt: &survey.Input{Message: "Artist:"}, Validate: survey.Required}, //nolint:exhaustruct
		{Name: "genre", Prompt: &survey.Input{Message: "Genre:"}},                               //nolint:exhaustruct
		{Name: "cover_url", Prompt: &survey.Input{Message: "Cover URL:"}},                       //nolint:exhaustruct
		{Name: "year", Prompt: &survey.Input{Message: "Year:"}},                                 //nolint:exhaustruct
		{ //nolint:exhaustruct
			Name: "index",
			Prompt: &survey.Input{ //nolint:exhaustruct
				Message: "Position:",
				Default: strconv.Itoa(n),
			},
			Validate: validateIndex,
		},
	}
	if err := survey.Ask(questions, &answers, s.askOpts()...); nil != err {
		return err
	}

	index, _ := strconv.Atoi(answers.Index)
	r := album.New(answers.Title, answers.Artist, answers.Genre, answers.CoverURL, answers.Year)
	if err := s.sess.Service().AddAlbum(r, index); nil != err {
		s.logger.Error().Err(err).Msg("Failed to add album")
		return nil
	}
	s.dirty = true
	s.current = min(index, n)

	if k, err := asset.KeyFromURL(r.CoverURL); nil == err {
		_ = s.covers.Fetch(ctx, k, r.CoverURL)
	}

	s.show(ctx)

	return nil
}

func validateIndex(ans any) error {
	v, ok := ans.(string)
	if !ok {
		return errors.New("position must be a number")
	}

	i, err := strconv.Atoi(v)
	if nil != err || i < 0 {
		return errors.New("position must be a non-negative number")
	}

	return nil
}

func (s *Shell) delete() error {
	records := s.sess.Service().ListAlbums()
	if len(records) == 0 {
		return nil
	}

	var confirmed bool
	prompt := &survey.Confirm{ //nolint:exhaustruct
		Message: "Delete " + records[s.current].String() + "?",
		Default: false,
	}
	if err := survey.AskOne(prompt, &confirmed, s.askOpts()...); nil != err {
		return err
	}

	if !confirmed {
		return nil
	}

	if err := s.sess.Delete(s.current); nil != err {
		s.logger.Error().Err(err).Int("index", s.current).Msg("Failed to delete album")
		return nil
	}
	s.dirty = true
	s.move(0)

	return nil
}

func (s *Shell) undo() {
	e, ok, err := s.sess.Undo()
	switch {
	case nil != err:
		s.logger.Error().Err(err).Msg("Failed to undo delete")
	case !ok:
		fmt.Fprintln(s.stdout, text.FgYellow.Sprint("Nothing to undo."))
	default:
		s.dirty = true
		s.current = mathutil.Clamp(e.Index, 0, len(s.sess.Service().ListAlbums())-1)
		fmt.Fprintln(s.stdout, text.FgGreen.Sprint("Restored "+e.Record.String()))
	}
}

func (s *Shell) save(ctx context.Context) {
	if err := s.sess.Service().Save(ctx); nil != err {
		s.logger.Error().Err(err).Msg("Failed to save catalog")
		return
	}
	s.dirty = false
	fmt.Fprintln(s.stdout, text.FgGreen.Sprint("Saved."))
}

func (s *Shell) quit(ctx context.Context) error {
	if !s.dirty {
		return nil
	}

	var save bool
	prompt := &survey.Confirm{ //nolint:exhaustruct
		Message: "Save changes before quitting?",
		Default: true,
	}
	if err := survey.AskOne(prompt, &save, s.askOpts()...); nil != err {
		if errors.Is(err, terminal.InterruptErr) {
			return nil
		}

		return fmt.Errorf("failed to ask for save confirmation: %v", err)
	}

	if save {
		if err := s.sess.Service().Save(context.WithoutCancel(ctx)); nil != err {
			return err
		}
	}

	return nil
}
