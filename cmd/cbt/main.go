// Command cbt takes a CBT exam in the terminal. Session records are kept in
// a local SQLite file so an interrupted exam resumes on the next run.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agpaii-digital/exam-portal/internal/config"
	"github.com/agpaii-digital/exam-portal/internal/database"
	"github.com/agpaii-digital/exam-portal/internal/examclient"
	"github.com/agpaii-digital/exam-portal/internal/logger"
	"github.com/agpaii-digital/exam-portal/internal/model"
	"github.com/agpaii-digital/exam-portal/internal/repository"
	"github.com/agpaii-digital/exam-portal/internal/service"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

type options struct {
	packageID string
	attemptID string
	memberID  int64
	dbPath    string
	logLevel  string
}

func main() {
	cfg := config.Load()

	var opts options
	flag.StringVar(&opts.packageID, "package", "", "Exam package ID (required)")
	flag.StringVar(&opts.attemptID, "attempt", "", "Attempt ID; empty starts or continues one")
	flag.Int64Var(&opts.memberID, "member", 0, "Member ID used when starting an attempt")
	flag.StringVar(&opts.dbPath, "db", cfg.SQLitePath, "SQLite file for session records")
	flag.StringVar(&opts.logLevel, "log-level", "warn", "Log level")
	flag.Parse()

	if opts.packageID == "" {
		fmt.Fprintln(os.Stderr, "usage: cbt -package <id> [-attempt <id>] [-member <id>]")
		os.Exit(2)
	}

	// Logs go to stderr so they never interleave with the exam screen.
	log := logger.SetupWithOutput(os.Stderr, opts.logLevel, "pretty")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, os.Stdin, os.Stdout, log); err != nil {
		fmt.Fprintln(os.Stderr, "cbt:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, in io.Reader, out io.Writer, log zerolog.Logger) error {
	token := cfg.ExamAPIToken
	if token == "" && cfg.ExamAPITokenURL == "" {
		t, err := promptToken(out)
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		token = t
	}

	db, err := database.OpenSQLite(ctx, opts.dbPath, log)
	if err != nil {
		return err
	}
	defer db.Close()
	store := repository.NewSQLiteStore(db)

	api := examclient.New(examclient.Config{
		BaseURL:      cfg.ExamAPIBaseURL,
		TokenURL:     cfg.ExamAPITokenURL,
		ClientID:     cfg.ExamAPIClientID,
		ClientSecret: cfg.ExamAPIClientSecret,
		Token:        token,
		Timeout:      cfg.ExamAPITimeout,
	}, log)

	packages := service.NewPackageService(api, store, service.SharedKeyScope, nil, log)

	attemptID := opts.attemptID
	if attemptID == "" {
		ptr, resumed, err := packages.StartAttempt(ctx, opts.memberID, opts.packageID)
		if err != nil {
			return err
		}
		attemptID = ptr.AttemptID
		if resumed {
			fmt.Fprintf(out, "Melanjutkan ujian %s\n", attemptID)
		} else {
			fmt.Fprintf(out, "Memulai ujian %s\n", attemptID)
		}
	}

	gateway := service.NewAnswerSyncGateway(api, cfg.SyncConcurrency, cfg.SyncTimeout, log)
	defer gateway.Wait()
	manager := service.NewSessionManager(service.SessionManagerConfig{
		Store:   store,
		Content: api,
		Sync:    gateway,
		Scope:   service.SharedKeyScope,
		Log:     log,
	})
	defer manager.Shutdown()

	sess, err := manager.Open(opts.memberID, attemptID, opts.packageID)
	if err != nil {
		return fmt.Errorf("open attempt %s: %w", attemptID, err)
	}
	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	if sess.State() == model.SessionStateLoading {
		fmt.Fprintln(out, "Memuat soal...")
		select {
		case <-sess.Loaded():
		case <-ctx.Done():
			return nil
		}
	}

	t := &terminal{sess: sess, packages: packages, out: out}
	return t.loop(ctx, events, readLines(in))
}

type terminal struct {
	sess     *service.ExamSession
	packages *service.PackageService
	out      io.Writer
}

func (t *terminal) loop(ctx context.Context, events <-chan service.SessionEvent, lines <-chan string) error {
	t.show()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(t.out, "\nKeluar. Ujian dapat dilanjutkan nanti.")
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if done := t.onEvent(ctx, ev); done {
				return nil
			}

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := t.command(ctx, line)
			if err != nil {
				fmt.Fprintf(t.out, "! %v\n", err)
			}
			if quit {
				fmt.Fprintln(t.out, "Keluar. Ujian dapat dilanjutkan nanti.")
				return nil
			}
			t.show()
		}
	}
}

// onEvent reports whether the exam is over.
func (t *terminal) onEvent(ctx context.Context, ev service.SessionEvent) bool {
	switch ev.Type {
	case service.SessionEventTick:
		if ev.RemainingSeconds == 60 || ev.RemainingSeconds == 10 {
			fmt.Fprintf(t.out, "\n! Sisa waktu %s\n> ", formatRemaining(ev.RemainingSeconds))
		}
	case service.SessionEventState:
		switch {
		case ev.State == model.SessionStateExpired:
			fmt.Fprintln(t.out, "\nWaktu habis. Jawaban sedang dikirim...")
		case ev.Error != "":
			fmt.Fprintf(t.out, "\n! %s\n> ", ev.Error)
		}
	case service.SessionEventCompleted:
		fmt.Fprintln(t.out, "\nUjian selesai.")
		t.showResult(ctx, ev.AttemptID)
		return true
	}
	return false
}

// command runs one input line and reports whether the user quit.
func (t *terminal) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch strings.ToLower(fields[0]) {
	case "n":
		_, err := t.sess.Navigate(model.NavigateNext, 0)
		return false, err
	case "p":
		_, err := t.sess.Navigate(model.NavigatePrev, 0)
		return false, err
	case "g":
		if len(fields) < 2 {
			return false, errors.New("nomor soal diperlukan, mis. g 5")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return false, fmt.Errorf("nomor soal tidak valid: %q", fields[1])
		}
		_, err = t.sess.Navigate(model.NavigateJump, n-1)
		return false, err
	case "a":
		if len(fields) < 2 {
			return false, errors.New("kunci jawaban diperlukan, mis. a B")
		}
		v := t.sess.View()
		if v.Question == nil {
			return false, service.ErrSessionNotReady
		}
		key := fields[1]
		for _, opt := range v.Question.Options {
			if strings.EqualFold(opt.Key, key) {
				key = opt.Key
				break
			}
		}
		return false, t.sess.SelectAnswer(ctx, v.Question.ID, key)
	case "r":
		return false, t.sess.Refresh(ctx)
	case "s":
		fmt.Fprintln(t.out, "Mengirim jawaban...")
		return false, t.sess.Submit(ctx, model.SubmitReasonManual)
	case "q":
		return true, nil
	case "h", "?":
		fmt.Fprintln(t.out, helpText)
		return false, nil
	default:
		return false, fmt.Errorf("perintah tidak dikenal %q, ketik h untuk bantuan", fields[0])
	}
}

func (t *terminal) show() {
	if t.sess.State() == model.SessionStateCompleted {
		return
	}
	renderView(t.out, t.sess.View())
	fmt.Fprint(t.out, "> ")
}

func (t *terminal) showResult(ctx context.Context, attemptID string) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	res, err := t.packages.Result(ctx, attemptID)
	if err != nil || res == nil {
		fmt.Fprintln(t.out, "Hasil belum tersedia.")
		return
	}
	renderResult(t.out, res)
}

// readLines feeds stdin lines to a channel until EOF.
func readLines(in io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

// promptToken reads the API token without echo when stdin is a terminal.
func promptToken(out io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("EXAM_API_TOKEN is not set and stdin is not a terminal")
	}
	fmt.Fprint(out, "Token API: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", errors.New("token is empty")
	}
	return token, nil
}
