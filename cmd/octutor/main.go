package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"

	"github.com/winzerprince/oc-tutor/internal/app"
	"github.com/winzerprince/oc-tutor/internal/apperr"
	"github.com/winzerprince/oc-tutor/internal/chat"
	"github.com/winzerprince/oc-tutor/internal/chunk"
	"github.com/winzerprince/oc-tutor/internal/config"
	"github.com/winzerprince/oc-tutor/internal/embeddings"
	"github.com/winzerprince/oc-tutor/internal/indexer"
	"github.com/winzerprince/oc-tutor/internal/llm"
	"github.com/winzerprince/oc-tutor/internal/quiz"
	"github.com/winzerprince/oc-tutor/internal/server"
	"github.com/winzerprince/oc-tutor/internal/session"
	"github.com/winzerprince/oc-tutor/internal/vector"
	"github.com/winzerprince/oc-tutor/internal/vector/qdrant"
)

const usage = `usage: octutor [--config octutor.yaml] <command> [args]

commands:
  init [path]
  build <document> <index> <store> [--structural]
  query <message> <index> [chat|quiz] [--store path] [--history path] [--k n]
  bulk [--force]
  courses
  upload <course> <pdf>
  chat <course> <message> [--session title]
  publish <course> [--recreate]
  server [--addr host:port]`

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit status. Answers and
// results go to stdout; logs and diagnostics go to stderr.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	log.SetOutput(stderr)

	global := flag.NewFlagSet("octutor", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "octutor.yaml", "configuration file")
	global.Usage = func() { fmt.Fprintln(stderr, usage) }
	if err := global.Parse(args); err != nil {
		return apperr.ExitCode(fmt.Errorf("%v: %w", err, apperr.ErrInvalidArguments))
	}
	if global.NArg() < 1 {
		fmt.Fprintln(stderr, usage)
		return apperr.ExitCode(apperr.ErrInvalidArguments)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Error("load config")
		return 1
	}
	setupLogging(cfg.Log)

	c := &cli{cfg: cfg, stdout: stdout, stderr: stderr}
	cmd, rest := global.Arg(0), global.Args()[1:]

	switch cmd {
	case "init":
		err = c.init(rest, *configPath)
	case "build":
		err = c.build(ctx, rest)
	case "query":
		err = c.query(ctx, rest)
	case "bulk":
		err = c.bulk(ctx, rest)
	case "courses":
		err = c.courses(rest)
	case "upload":
		err = c.upload(ctx, rest)
	case "chat":
		err = c.chat(ctx, rest)
	case "publish":
		err = c.publish(ctx, rest)
	case "server":
		err = c.server(ctx, rest)
	default:
		fmt.Fprintln(stderr, "unknown command:", cmd)
		fmt.Fprintln(stderr, usage)
		err = fmt.Errorf("unknown command %q: %w", cmd, apperr.ErrInvalidArguments)
	}

	if err != nil {
		if errors.Is(err, apperr.ErrCollaboratorUnavailable) && (cmd == "query" || cmd == "chat") {
			fmt.Fprintln(stderr, chat.Apology)
		}
		log.WithError(err).Error(cmd + " failed")
	}
	return apperr.ExitCode(err)
}

func setupLogging(cfg config.LogConfig) {
	lvl, err := log.ParseLevel(cfg.Level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

type cli struct {
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer
}

// parse accepts flags before, between and after positional arguments.
func (c *cli) parse(fs *flag.FlagSet, args []string) ([]string, error) {
	fs.SetOutput(c.stderr)
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, fmt.Errorf("%s: %v: %w", fs.Name(), err, apperr.ErrInvalidArguments)
		}
		args = fs.Args()
		if len(args) == 0 {
			return pos, nil
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}

func usageError(format string) error {
	return fmt.Errorf("usage: octutor %s: %w", format, apperr.ErrInvalidArguments)
}

func (c *cli) chunkOptions() chunk.Options {
	ch := c.cfg.Chunker
	return chunk.Options{
		Size:            ch.Size,
		Overlap:         ch.Overlap,
		SummaryMinRunes: ch.SummaryMinRunes,
		SummarySegments: ch.SummarySegments,
		SummaryBudget:   ch.SummaryBudget,
	}
}

func (c *cli) builder() (*indexer.Builder, error) {
	metric, err := vector.ParseMetric(c.cfg.Retrieval.Metric)
	if err != nil {
		return nil, err
	}
	emb, err := embeddings.New(c.cfg.Embedder)
	if err != nil {
		return nil, err
	}
	return indexer.New(emb, c.chunkOptions(), metric), nil
}

func (c *cli) store() (*app.Store, error) {
	b, err := c.builder()
	if err != nil {
		return nil, err
	}
	s := app.NewStore(c.cfg.DataDir, b)
	s.Structural = c.cfg.Chunker.Type == "structural"
	return s, nil
}

func (c *cli) answerer() (*chat.Answerer, error) {
	primary, fallback, err := llm.NewPair(c.cfg.LLM)
	if err != nil {
		return nil, err
	}
	return &chat.Answerer{
		Primary:         primary,
		Fallback:        fallback,
		MaxContextRunes: c.cfg.Retrieval.MaxContextRunes,
		HistoryTurns:    c.cfg.Retrieval.HistoryTurns,
	}, nil
}

// init writes the effective configuration so it can be edited.
func (c *cli) init(args []string, path string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	pos, err := c.parse(fs, args)
	if err != nil {
		return err
	}
	if len(pos) > 1 {
		return usageError("init [path]")
	}
	if len(pos) == 1 {
		path = pos[0]
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists: %w", path, apperr.ErrInvalidArguments)
	}
	if err := config.Save(path, c.cfg); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "wrote", path)
	return nil
}

func (c *cli) build(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	structural := fs.Bool("structural", c.cfg.Chunker.Type == "structural", "keep page boundaries and append a summary chunk")
	pos, err := c.parse(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 3 {
		return usageError("build <document> <index> <store> [--structural]")
	}

	b, err := c.builder()
	if err != nil {
		return err
	}
	n, err := b.Build(ctx, indexer.Request{DocumentPath: pos[0], IndexPath: pos[1], StorePath: pos[2], Structural: *structural})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, n)
	return nil
}

func (c *cli) query(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	storePath := fs.String("store", "", "chunk store (default: chunks.json next to the index)")
	historyPath := fs.String("history", c.cfg.HistoryPath, "conversation history file")
	k := fs.Int("k", c.cfg.Retrieval.K, "number of chunks to retrieve")
	pos, err := c.parse(fs, args)
	if err != nil {
		return err
	}
	if len(pos) < 2 || len(pos) > 3 {
		return usageError("query <message> <index> [chat|quiz]")
	}
	message, indexPath := pos[0], pos[1]
	mode := chat.ModeChat
	if len(pos) == 3 {
		if mode, err = chat.ParseMode(pos[2]); err != nil {
			return err
		}
	}
	if *storePath == "" {
		*storePath = filepath.Join(filepath.Dir(indexPath), "chunks.json")
	}

	pair, err := vector.LoadPair(indexPath, *storePath)
	if err != nil {
		return err
	}
	sess, err := session.Open(*historyPath)
	if err != nil {
		return err
	}
	a, err := c.answerer()
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{"index": indexPath, "chunks": pair.Count(), "k": *k, "mode": mode}).Info("querying")

	var res *chat.Result
	emb, err := embeddings.New(c.cfg.Embedder)
	switch {
	case err == nil:
		res, err = a.Ask(ctx, chat.NewRetriever(emb, pair), sess, message, *k, mode)
	case errors.Is(err, apperr.ErrCollaboratorUnavailable):
		log.WithError(err).Warn("embedder unavailable, falling back to the plain model")
		res, err = a.Plain(ctx, sess, message, mode, err)
	}
	if err != nil {
		return err
	}
	if res.Fallback {
		log.Warn("answered by the fallback model without course context")
	}
	fmt.Fprintln(c.stdout, res.Answer)
	return nil
}

func (c *cli) bulk(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bulk", flag.ContinueOnError)
	force := fs.Bool("force", false, "rebuild every course, replacing existing indexes")
	if _, err := c.parse(fs, args); err != nil {
		return err
	}
	s, err := c.store()
	if err != nil {
		return err
	}
	rep, err := s.BuildAll(ctx, *force)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	for _, r := range rep.Built {
		fmt.Fprintf(c.stdout, "%s\t%s\tchunks=%d\n", green("built"), r.Course, r.Chunks)
	}
	for _, r := range rep.Skipped {
		fmt.Fprintf(c.stdout, "%s\t%s\t%s\n", yellow("skipped"), r.Course, r.Reason)
	}
	for _, r := range rep.Failed {
		fmt.Fprintf(c.stdout, "%s\t%s\t%s\n", red("failed"), r.Course, r.Reason)
	}
	if len(rep.Failed) > 0 {
		return fmt.Errorf("%d of %d courses failed", len(rep.Failed), len(rep.Built)+len(rep.Skipped)+len(rep.Failed))
	}
	return nil
}

func (c *cli) courses(args []string) error {
	fs := flag.NewFlagSet("courses", flag.ContinueOnError)
	if _, err := c.parse(fs, args); err != nil {
		return err
	}
	s := app.NewStore(c.cfg.DataDir, nil)
	courses, err := s.ListCourses()
	if err != nil {
		return err
	}
	if len(courses) == 0 {
		fmt.Fprintln(c.stdout, "(no courses)")
		return nil
	}
	bold := color.New(color.Bold).SprintFunc()
	for _, m := range courses {
		state := "not built"
		if m.Built {
			state = "built " + m.BuiltAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(c.stdout, "%s\tchunks=%d\t%s\n", bold(m.Name), m.Chunks, state)
	}
	return nil
}

func (c *cli) upload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	pos, err := c.parse(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 2 {
		return usageError("upload <course> <pdf>")
	}
	course, path := pos[0], pos[1]

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, apperr.ErrMissingInput)
		}
		return err
	}
	defer f.Close()

	s, err := c.store()
	if err != nil {
		return err
	}
	if _, err := s.AddSource(course, f); err != nil {
		return err
	}
	n, err := s.BuildCourse(ctx, course)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "indexed %s: %d chunks\n", course, n)
	return nil
}

func (c *cli) tutor(s *app.Store, emb embeddings.Embedder) (*app.Tutor, func(), error) {
	a, err := c.answerer()
	if err != nil {
		return nil, nil, err
	}
	t := &app.Tutor{
		Courses:       s,
		Quiz:          quiz.NewStateStore(c.cfg.QuizDir),
		SessionDir:    c.cfg.SessionDir,
		DefaultCourse: c.cfg.DefaultCourse,
		Embedder:      emb,
		Answerer:      a,
		K:             c.cfg.Retrieval.K,
	}
	closeFn := func() {}
	if c.cfg.Qdrant.Enabled {
		qc, err := qdrant.Dial(c.cfg.Qdrant.Host, c.cfg.Qdrant.Port)
		if err != nil {
			return nil, nil, err
		}
		closeFn = func() { _ = qc.Close() }
		t.Searcher = func(course string, p *vector.Pair) (chat.Searcher, error) {
			return &qdrant.Searcher{
				Client:     qc,
				Collection: c.cfg.Qdrant.CollectionPrefix + course,
				Metric:     p.Index.Metric,
				Store:      p.Store,
			}, nil
		}
	}
	return t, closeFn, nil
}

func (c *cli) chat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	title := fs.String("session", "", "session title (default: Chat <course> - <date>)")
	pos, err := c.parse(fs, args)
	if err != nil {
		return err
	}
	if len(pos) < 2 {
		return usageError("chat <course> <message> [--session title]")
	}
	var emb embeddings.Embedder
	s, err := c.store()
	switch {
	case err == nil:
		emb = s.Builder.Embedder
	case errors.Is(err, apperr.ErrCollaboratorUnavailable):
		// retrieval fails on every turn and the answerer takes the plain model
		log.WithError(err).Warn("embedder unavailable, falling back to the plain model")
		s = app.NewStore(c.cfg.DataDir, nil)
		emb = embeddings.Unavailable{Err: err}
	default:
		return err
	}
	t, closeFn, err := c.tutor(s, emb)
	if err != nil {
		return err
	}
	defer closeFn()

	resp, err := t.Handle(ctx, app.TurnRequest{Course: pos[0], SessionTitle: *title, Message: strings.Join(pos[1:], " ")})
	if err != nil {
		return err
	}
	if resp.Question != "" {
		// keep the expected answer off the terminal until the student replies
		fmt.Fprintln(c.stdout, quiz.QuestionOnly(resp.Response))
		return nil
	}
	fmt.Fprintln(c.stdout, resp.Response)
	return nil
}

func (c *cli) publish(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	recreate := fs.Bool("recreate", false, "drop and recreate the collection")
	pos, err := c.parse(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usageError("publish <course> [--recreate]")
	}
	course := pos[0]

	s := app.NewStore(c.cfg.DataDir, nil)
	pair, err := s.LoadPair(course)
	if err != nil {
		return err
	}
	qc, err := qdrant.Dial(c.cfg.Qdrant.Host, c.cfg.Qdrant.Port)
	if err != nil {
		return err
	}
	defer qc.Close()

	collection := c.cfg.Qdrant.CollectionPrefix + course
	n, err := qc.Publish(ctx, collection, pair, *recreate)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "published %d points to %s\n", n, collection)
	return nil
}

func (c *cli) server(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	addr := fs.String("addr", c.cfg.Server.Addr, "listen address")
	if _, err := c.parse(fs, args); err != nil {
		return err
	}
	s, err := c.store()
	if err != nil {
		return err
	}
	t, closeFn, err := c.tutor(s, s.Builder.Embedder)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx, *addr, server.New(s, t))
}
