package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"blinkscan/internal/config"
	"blinkscan/internal/feed"
	"blinkscan/internal/ime"
	"blinkscan/internal/logging"
	"blinkscan/internal/pipeline"
	"blinkscan/internal/predict"
	"blinkscan/internal/store"
)

func cmdReplay(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	save := fs.Bool("save", false, "persist the session to the database")
	transcript := fs.String("transcript", "", "write the session transcript to this file")
	verbose := fs.Bool("v", false, "log every scanner event")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return errors.New("usage: blinkscan replay [options] <frames.jsonl|->")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lc := logging.FromConfig(&cfg.Logging)
	lc.Output = "stderr"
	if *verbose {
		lc.Level = logging.LevelDebug
	}
	logger, err := logging.New(lc)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if name := fs.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	opts := pipeline.Options{
		Config: cfg,
		Logger: logger.WithComponent("replay").Logger,
		Source: "replay",
	}
	if opts.Predictor, err = buildPredictor(cfg, nil); err != nil {
		return err
	}
	if *save {
		st, err := store.Open(cfg.Storage.Path, time.Duration(cfg.Storage.BusyTimeoutMs)*time.Millisecond)
		if err != nil {
			return err
		}
		defer st.Close()
		w := store.NewWriter(st, cfg.Storage.QueueSize, opts.Logger, nil)
		defer w.Close(context.Background())
		opts.Writer = w
	}

	p, err := pipeline.New(opts)
	if err != nil {
		return err
	}
	if *verbose {
		p.AddObserver(pipeline.ObserverFunc(func(ev pipeline.Event) {
			if ev.Kind == pipeline.EventCommit && ev.Commit != nil {
				fmt.Fprintf(os.Stderr, "%s  commit %q (%s)\n",
					ev.View.Text, ev.Commit.Symbol, ev.Commit.Area)
			}
		}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := p.Replay(ctx, feed.NewDecoder(in, 0))
	if err != nil {
		return err
	}

	text := ""
	if res.Transcript != nil {
		text = res.Transcript.Text
		if *transcript != "" {
			data, err := res.Transcript.ToJSON()
			if err != nil {
				return err
			}
			if err := os.WriteFile(*transcript, []byte(data), 0600); err != nil {
				return err
			}
		}
	}

	fmt.Fprintf(os.Stderr, "frames: %d  invalid: %d  commits: %d\n", res.Frames, res.Invalid, len(res.Commits))
	fmt.Println(text)
	return nil
}

func cmdConfig(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: blinkscan config <show|validate|init> [options]")
	}
	action := args[0]
	fs := flag.NewFlagSet("config "+action, flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	format := fs.String("format", "toml", "output format for show: toml, json or yaml")
	force := fs.Bool("force", false, "overwrite an existing file on init")
	fs.Parse(args[1:])

	path := *cfgPath
	if path == "" {
		path = config.ConfigPath()
	}

	switch action {
	case "show":
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		data, err := config.Encode(cfg, *format)
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
		return nil

	case "validate":
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			fmt.Printf("%s does not exist; defaults apply\n", path)
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		if err := config.ValidateConfig(cfg); err != nil {
			var verrs config.ValidationErrors
			if errors.As(err, &verrs) {
				for _, e := range verrs {
					fmt.Printf("  %s\n", e.Error())
				}
			}
			return fmt.Errorf("%s is invalid", path)
		}
		fmt.Printf("%s is valid\n", path)
		return nil

	case "init":
		if _, err := os.Stat(path); err == nil && !*force {
			return fmt.Errorf("%s already exists (use -force to overwrite)", path)
		}
		if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil

	default:
		return fmt.Errorf("unknown config action %q", action)
	}
}

func cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	limit := fs.Int("n", 20, "number of sessions")
	stats := fs.Bool("stats", false, "print database statistics")
	verify := fs.Bool("verify", false, "check database integrity")
	prune := fs.Duration("prune", 0, "delete sessions older than this (e.g. 720h)")
	fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Storage.Path, time.Duration(cfg.Storage.BusyTimeoutMs)*time.Millisecond)
	if err != nil {
		return err
	}
	defer st.Close()

	if *prune > 0 {
		n, err := st.DeleteSessionsBefore(time.Now().Add(-*prune))
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d sessions\n", n)
		if cfg.Storage.TranscriptsDir != "" {
			if ts, err := ime.NewTranscriptStorage(cfg.Storage.TranscriptsDir); err == nil {
				if removed, err := ts.Prune(time.Now(), *prune); err == nil && removed > 0 {
					fmt.Printf("pruned %d transcripts\n", removed)
				}
			}
		}
	}

	if *verify {
		mismatches, err := st.Verify()
		if err != nil {
			return err
		}
		for _, m := range mismatches {
			fmt.Printf("session %s: counter says %d commits, found %d\n", m.SessionID, m.Stored, m.Actual)
		}
		if len(mismatches) > 0 {
			return fmt.Errorf("%d sessions failed verification", len(mismatches))
		}
		fmt.Println("database OK")
	}

	if *stats {
		s, err := st.GetStats()
		if err != nil {
			return err
		}
		fmt.Printf("sessions:       %d (%d active)\n", s.Sessions, s.ActiveSessions)
		fmt.Printf("commits:        %d\n", s.Commits)
		fmt.Printf("learned words:  %d\n", s.LearnedWords)
		if s.FirstSession != nil && s.LastSession != nil {
			fmt.Printf("first / last:   %s / %s\n",
				s.FirstSession.Local().Format(time.DateTime), s.LastSession.Local().Format(time.DateTime))
		}
		fmt.Println()
	}

	sessions, err := st.RecentSessions(*limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tDURATION\tSOURCE\tBLINKS\tCOMMITS\tCPM\tTEXT")
	for _, s := range sessions {
		dur := "active"
		if s.EndedAt != nil {
			dur = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.1f\t%s\n",
			s.StartedAt.Local().Format(time.DateTime), dur, s.Source,
			s.Blinks, s.Commits, s.CharsPerMinute, truncate(s.Text, 40))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func cmdVocab(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: blinkscan vocab <check|export|phrase> [options] <file> [phrase]")
	}
	action := args[0]
	fs := flag.NewFlagSet("vocab "+action, flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	fs.Parse(args[1:])
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: blinkscan vocab %s [options] <file>", action)
	}
	file := fs.Arg(0)

	switch action {
	case "check":
		v, err := predict.LoadVocabulary(file)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d words, %d next-word entries, %d phrases\n",
			file, len(v.WordFrequencies), len(v.NextWordPredictions), len(v.Phrases))
		return nil

	case "export":
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		cfg.Predict.Enabled = true
		var st *store.Store
		if cfg.Storage.Enabled {
			if _, err := os.Stat(cfg.Storage.Path); err == nil {
				st, err = store.Open(cfg.Storage.Path, time.Duration(cfg.Storage.BusyTimeoutMs)*time.Millisecond)
				if err != nil {
					return err
				}
				defer st.Close()
			}
		}
		p, err := buildPredictor(cfg, st)
		if err != nil {
			return err
		}
		v := p.Vocabulary()
		if err := predict.SaveVocabulary(file, v); err != nil {
			return err
		}
		fmt.Printf("wrote %s (%d words)\n", file, len(v.WordFrequencies))
		return nil

	case "phrase":
		if fs.NArg() < 2 {
			return errors.New("usage: blinkscan vocab phrase <file> <phrase>")
		}
		phrase := strings.Join(fs.Args()[1:], " ")
		p := predict.NewEmpty()
		if _, err := os.Stat(file); err == nil {
			v, err := predict.LoadVocabulary(file)
			if err != nil {
				return err
			}
			p.Merge(v)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if !p.AddPhrase(phrase) {
			return fmt.Errorf("phrase %q is empty or already in %s", phrase, file)
		}
		if err := predict.SaveVocabulary(file, p.Vocabulary()); err != nil {
			return err
		}
		fmt.Printf("added %q to %s\n", strings.TrimSpace(phrase), file)
		return nil

	default:
		return fmt.Errorf("unknown vocab action %q", action)
	}
}
