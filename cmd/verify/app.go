package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/handover-verify/internal/artifacts"
	"github.com/kuitang/handover-verify/internal/browser"
	"github.com/kuitang/handover-verify/internal/config"
	"github.com/kuitang/handover-verify/internal/errs"
	"github.com/kuitang/handover-verify/internal/history"
	"github.com/kuitang/handover-verify/internal/mcp"
	"github.com/kuitang/handover-verify/internal/notify"
	"github.com/kuitang/handover-verify/internal/obs"
	"github.com/kuitang/handover-verify/internal/ratelimit"
	"github.com/kuitang/handover-verify/internal/report"
	"github.com/kuitang/handover-verify/internal/verify"
)

// app holds the wired services for one invocation.
type app struct {
	cfg      *config.Config
	registry *verify.Registry
	runner   *verify.Runner
	history  *history.Store
	uploader *artifacts.Uploader // nil when S3 is off
	notifier *notify.Notifier
}

func buildRegistry(checklists []string) (*verify.Registry, error) {
	registry, err := verify.NewRegistry(verify.Builtins()...)
	if err != nil {
		return nil, err
	}
	for _, path := range checklists {
		s, err := verify.LoadChecklist(path)
		if err != nil {
			return nil, err
		}
		if err := registry.Add(s); err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return registry, nil
}

func newApp(ctx context.Context, cfg *config.Config, registry *verify.Registry) (*app, error) {
	a := &app{cfg: cfg, registry: registry}

	var sinks []verify.Sink
	if cfg.S3Enabled() {
		store, err := artifacts.New(ctx, artifacts.Config{
			Endpoint:        cfg.AWSEndpointS3,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			BucketName:      cfg.AWSBucketName,
			PublicURL:       cfg.AWSPublicURL,
		})
		if err != nil {
			return nil, errs.Wrap(errs.Unavailable, "artifact storage", err)
		}
		a.uploader = artifacts.NewUploader(store)
		// uploads first so history records the artifact URLs
		sinks = append(sinks, a.uploader)
	}

	hist, err := history.Open(cfg.HistoryDB)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "run history", err)
	}
	a.history = hist
	sinks = append(sinks, hist)

	var sender notify.Sender
	to := cfg.NotifyEmailTo
	if cfg.EmailEnabled() {
		sender = notify.NewResendSender(cfg.ResendAPIKey, cfg.ResendFromEmail)
	} else {
		sender = notify.NewOutbox(filepath.Join(cfg.ResultsDir, "outbox"))
		if to == "" {
			to = notify.OutboxRecipient
		}
	}
	a.notifier = notify.New(sender, to, cfg.BaseURL)

	launch := verify.PlaywrightLauncher(browser.LaunchOptions{
		Browser:  cfg.Browser,
		Headless: cfg.Headless,
		Timeout:  cfg.Timeout,
	})
	a.runner = verify.NewRunner(launch, verify.Target{
		BaseURL:       cfg.BaseURL,
		LoginUser:     cfg.LoginUser,
		LoginPassword: cfg.LoginPassword,
		ResultsDir:    cfg.ResultsDir,
	}, sinks...)
	return a, nil
}

func (a *app) Close() error {
	if a.history != nil {
		return a.history.Close()
	}
	return nil
}

// finish writes the batch report, uploads it when S3 is on, and sends the
// failure notification. Its errors are logged; they never change the exit code.
func (a *app) finish(ctx context.Context, results []*verify.Result) {
	ctx = context.WithoutCancel(ctx)
	log := obs.Pkg("main")

	mdPath, htmlPath, err := report.Write(a.cfg.ResultsDir, results, report.Meta{
		BaseURL:     a.cfg.BaseURL,
		GeneratedAt: time.Now(),
	})
	if err != nil {
		log.Error("report_write_failed", "error", err)
		return
	}
	log.Info("report_written", "markdown", mdPath, "html", htmlPath)

	reportURL := ""
	if a.uploader != nil {
		batch := uuid.NewString()
		var uploadErrs []error
		for _, p := range []string{mdPath, htmlPath} {
			url, err := a.uploader.UploadFile(ctx, reportKey(batch, p), p)
			if err != nil {
				uploadErrs = append(uploadErrs, err)
				continue
			}
			if p == htmlPath {
				reportURL = url
			}
		}
		if err := errors.Join(uploadErrs...); err != nil {
			log.Warn("report_upload_failed", "error", err)
		}
	}

	if _, err := a.notifier.NotifyFailures(ctx, results, reportURL); err != nil {
		log.Warn("notify_failed", "error", err)
	}
}

func reportKey(batch, file string) string {
	return "reports/" + batch + "/" + filepath.Base(file)
}

func (a *app) serveMCP(ctx context.Context) error {
	handler := mcp.NewHandler(a.registry, a.runner, a.history)
	srv := mcp.NewServer(handler, a.cfg.MCPToken)
	if a.cfg.MCPRPS > 0 {
		limiter := ratelimit.New(ratelimit.Config{RPS: a.cfg.MCPRPS, Burst: a.cfg.MCPBurst, IdleTTL: ratelimit.DefaultConfig.IdleTTL})
		defer limiter.Stop()
		srv.WithRateLimit(limiter)
	}
	return srv.ListenAndServe(ctx, a.cfg.MCPAddr)
}
