package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/wflib/app/library"
	"github.com/umputun/wflib/app/persistence"
	"github.com/umputun/wflib/app/web"
)

var opts struct {
	DB     string `long:"db" env:"WFLIB_DB" default:"wflib.db" description:"sqlite database file"`
	Listen string `short:"l" long:"listen" env:"WFLIB_LISTEN" default:":8080" description:"web server listen address"`
	Dbg    bool   `long:"dbg" env:"WFLIB_DEBUG" description:"debug mode"`

	Web struct {
		BaseURL        string  `long:"base-url" env:"BASE_URL" description:"base url path for reverse proxy, e.g. /wflib"`
		PasswordHash   string  `long:"password-hash" env:"PASSWORD_HASH" description:"bcrypt hash for basic auth, user wflib"`
		MaxBodySize    int64   `long:"max-body" env:"MAX_BODY" default:"1048576" description:"max request body size"`
		WriteRateLimit float64 `long:"write-limit" env:"WRITE_LIMIT" default:"0" description:"per-ip write requests per second, 0 to disable"`
	} `group:"web" namespace:"web" env-namespace:"WFLIB_WEB"`

	Library struct {
		Dir         string `long:"dir" env:"DIR" description:"system workflows directory"`
		Refresh     string `long:"refresh" env:"REFRESH" description:"library refresh schedule, e.g. @every 10m"`
		Concurrency int    `long:"concurrency" env:"CONCURRENCY" default:"4" description:"parallel library file parsing"`
		Alert       string `long:"alert" env:"ALERT" description:"webhook url notified when a scheduled refresh fails"`
	} `group:"library" namespace:"library" env-namespace:"WFLIB_LIBRARY"`

	Bootstrap struct {
		Attempts int           `long:"attempts" env:"ATTEMPTS" default:"5" description:"how many times to try opening the database"`
		Duration time.Duration `long:"duration" env:"DURATION" default:"500ms" description:"initial retry delay"`
		Factor   float64       `long:"factor" env:"FACTOR" default:"2" description:"backoff factor"`
	} `group:"bootstrap" namespace:"bootstrap" env-namespace:"WFLIB_BOOTSTRAP"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"filename" env:"FILENAME" default:"wflib.log" description:"file name to log to"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"maximum size in megabytes of the log file before it gets rotated"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"maximum number of old log files to retain"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"maximum number of days to retain old log files, 0 to keep all"`
		EnabledCompress bool   `long:"enabled-compress" env:"ENABLED_COMPRESS" description:"compress rotated log files"`
	} `group:"log" namespace:"log" env-namespace:"WFLIB_LOG"`
}

var revision = "unknown"

func main() {
	fmt.Printf("wflib %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT and SIGTERM

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	db, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("[WARN] failed to close database: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var refreshDone <-chan struct{}

	if opts.Library.Dir != "" {
		syncer := &library.Syncer{Store: store, Dir: opts.Library.Dir, Concurrency: opts.Library.Concurrency,
			OnError: makeAlerter()}
		if _, err := syncer.Sync(ctx); err != nil {
			return fmt.Errorf("initial library sync failed: %w", err)
		}
		if schedule := opts.Library.Refresh; schedule != "" {
			refreshDone = startRefresh(ctx, syncer, schedule)
		}
	}

	srv, err := web.New(web.Config{
		Store:          store,
		BaseURL:        validateBaseURL(opts.Web.BaseURL),
		Version:        revision,
		PasswordHash:   opts.Web.PasswordHash,
		MaxBodySize:    opts.Web.MaxBodySize,
		WriteRateLimit: opts.Web.WriteRateLimit,
	})
	if err != nil {
		return err
	}
	err = srv.Run(ctx, opts.Listen)

	// refresh must be stopped before the database is closed
	cancel()
	if refreshDone != nil {
		<-refreshDone
	}
	return err
}

// startRefresh runs scheduled library sync in background, the returned channel is closed when it stops
func startRefresh(ctx context.Context, syncer *library.Syncer, schedule string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := syncer.Run(ctx, schedule); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[WARN] library refresh stopped: %v", err)
		}
	}()
	return done
}

// validateBaseURL normalizes base url, "/" and "" mean root, trailing slash is dropped
func validateBaseURL(u string) string {
	u = strings.TrimRight(u, "/")
	if u != "" && !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	return u
}

// openStore opens the database and migrates the workflows schema. The database file may be shared
// and temporarily locked by the host application, so this is retried with backoff.
func openStore(ctx context.Context) (db *persistence.Database, store *persistence.WorkflowStore, err error) {
	rptr := repeater.New(&strategy.Backoff{Repeats: opts.Bootstrap.Attempts, Duration: opts.Bootstrap.Duration,
		Factor: opts.Bootstrap.Factor, Jitter: true})

	err = rptr.Do(ctx, func() error {
		d, e := persistence.OpenDatabase(opts.DB)
		if e != nil {
			log.Printf("[WARN] can't open database %s: %v", opts.DB, e)
			return e
		}
		st, e := persistence.NewWorkflowStore(ctx, d)
		if e != nil {
			log.Printf("[WARN] can't initialize workflow store: %v", e)
			if closeErr := d.Close(); closeErr != nil {
				log.Printf("[WARN] failed to close database: %v", closeErr)
			}
			return e
		}
		db, store = d, st
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workflow store %s: %w", opts.DB, err)
	}
	log.Printf("[INFO] workflow store ready, db %s", opts.DB)
	return db, store, nil
}

// makeAlerter returns library refresh failure handler posting to the alert webhook, nil if not configured
func makeAlerter() func(ctx context.Context, err error) {
	if opts.Library.Alert == "" {
		return nil
	}
	wh := notify.NewWebhook(notify.WebhookParams{Timeout: 10 * time.Second})
	dest, dir := opts.Library.Alert, opts.Library.Dir
	return func(ctx context.Context, err error) {
		msg := fmt.Sprintf("wflib: library refresh of %s failed: %v", dir, err)
		if e := wh.Send(ctx, dest, msg); e != nil {
			log.Printf("[WARN] failed to send library alert: %v", e)
		}
	}
}

// setupLogs configures lgr and returns the writer logs go to
func setupLogs() io.Writer {
	out := io.Writer(os.Stdout)
	if opts.Log.Enabled {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.EnabledCompress,
		}
	}

	if opts.Dbg {
		log.Setup(log.Debug, log.Msec, log.LevelBraces, log.CallerFunc, log.CallerPkg, log.CallerFile,
			log.Out(out), log.Err(out))
		return out
	}
	log.Setup(log.Msec, log.LevelBraces, log.Out(out), log.Err(out))
	return out
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			cancel() // terminate on SIGTERM
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
