// Package feed polls RSS/Atom sources on cron schedules and submits new item links as publish jobs
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/robfig/cron/v3"

	"github.com/cuongbtq/content-publisher/internal/config"
	"github.com/cuongbtq/content-publisher/internal/dispatch"
	"github.com/cuongbtq/content-publisher/internal/domain"
	"github.com/cuongbtq/content-publisher/internal/idempotency"
	"github.com/cuongbtq/content-publisher/internal/registry"
	"github.com/cuongbtq/content-publisher/shared/retry"
)

// scheduleParser accepts 5 or 6 field expressions and descriptors such as "@every 10m"
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Submitter admits jobs; implemented by *dispatch.Dispatcher
type Submitter interface {
	Submit(sub *dispatch.Submission) (*dispatch.Accepted, error)
}

// Config holds poller dependencies
type Config struct {
	Logger     *slog.Logger
	Feeds      []config.FeedConfig
	Submitter  Submitter
	Store      idempotency.Store
	Registry   *registry.Registry
	HTTPClient *http.Client
}

// Poller runs one cron entry per configured feed
type Poller struct {
	logger    *slog.Logger
	feeds     []config.FeedConfig
	submitter Submitter
	store     idempotency.Store
	registry  *registry.Registry
	parser    *gofeed.Parser
	cron      *cron.Cron

	mu    sync.Mutex
	links map[string]*linkState // feed name + link
	now   func() time.Time
}

// linkState tracks submissions of a link that is not yet processed
type linkState struct {
	taskID   string // unfinished task carrying the link, empty between attempts
	failures int
	retryAt  time.Time
}

// NewPoller validates every schedule and registers the feeds
func NewPoller(cfg *Config) (*Poller, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = "content-publisher/1.0"

	p := &Poller{
		logger:    cfg.Logger,
		feeds:     cfg.Feeds,
		submitter: cfg.Submitter,
		store:     cfg.Store,
		registry:  cfg.Registry,
		parser:    parser,
		links:     make(map[string]*linkState),
		now:       time.Now,
	}

	cronLog := cronLogger{logger: cfg.Logger}
	p.cron = cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	for i := range cfg.Feeds {
		feed := cfg.Feeds[i]
		_, err := p.cron.AddFunc(feed.Schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			if _, err := p.Poll(ctx, &feed); err != nil {
				p.logger.Error("Feed poll failed",
					slog.String("feed", feed.Name),
					slog.String("error", err.Error()),
				)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule feed %s: %w", feed.Name, err)
		}
	}

	return p, nil
}

// Start begins running schedules in the background
func (p *Poller) Start() {
	if len(p.feeds) == 0 {
		return
	}
	p.cron.Start()
	p.logger.Info("Feed poller started",
		slog.Int("feeds", len(p.feeds)),
	)
}

// Stop prevents new polls and waits for running ones until ctx is done
func (p *Poller) Stop(ctx context.Context) error {
	done := p.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop feed poller: %w", ctx.Err())
	}
}

// Poll fetches one feed and submits its new links as a single job. It returns the number of links submitted.
// A full queue is not an error: the links stay new and are offered again on the next tick.
func (p *Poller) Poll(ctx context.Context, feed *config.FeedConfig) (int, error) {
	parsed, err := p.parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch feed: %w", err)
	}

	links := make([]string, 0, feed.MaxItems)
	seen := make(map[string]bool)
	for _, item := range parsed.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" || seen[link] {
			continue
		}
		seen[link] = true

		if p.deferred(feed, link) {
			continue
		}
		processed, err := p.store.IsProcessed(ctx, link, feed.JobClass)
		if err != nil {
			return 0, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if processed {
			continue
		}

		links = append(links, link)
		if feed.MaxItems > 0 && len(links) >= feed.MaxItems {
			break
		}
	}

	if len(links) == 0 {
		p.logger.Debug("No new feed items",
			slog.String("feed", feed.Name),
			slog.Int("items", len(parsed.Items)),
		)
		return 0, nil
	}

	payload, err := json.Marshal(p.payload(feed, parsed))
	if err != nil {
		return 0, fmt.Errorf("failed to marshal feed payload: %w", err)
	}

	accepted, err := p.submitter.Submit(&dispatch.Submission{
		JobClass:    feed.JobClass,
		ContentKeys: links,
		Payload:     payload,
	})
	if err != nil {
		if errors.Is(err, domain.ErrQueueFull) {
			p.logger.Warn("Queue full, feed items deferred to next poll",
				slog.String("feed", feed.Name),
				slog.Int("items", len(links)),
			)
			return 0, nil
		}
		return 0, fmt.Errorf("failed to submit feed items: %w", err)
	}

	p.markPending(feed.Name, links, accepted.TaskID)
	p.logger.Info("Feed items submitted",
		slog.String("feed", feed.Name),
		slog.String("task_id", accepted.TaskID),
		slog.Int("items", len(links)),
	)
	return len(links), nil
}

func (p *Poller) payload(feed *config.FeedConfig, parsed *gofeed.Feed) map[string]interface{} {
	out := make(map[string]interface{}, len(feed.Payload)+2)
	for k, v := range feed.Payload {
		out[k] = v
	}
	out["feed"] = feed.Name
	out["feed_title"] = parsed.Title
	return out
}

// retryPolicy bounds resubmissions of links whose tasks did not publish them
func retryPolicy(feed *config.FeedConfig) retry.Policy {
	policy := retry.Policy{
		MaxAttempts:    feed.MaxAttempts,
		InitialBackoff: feed.RetryBackoff,
		Multiplier:     2,
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = config.DefaultFeedMaxAttempts
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = config.DefaultFeedRetryBackoff
	}
	return policy
}

// deferred reports whether link must not be submitted now: its task is unfinished, it is
// backing off after a failed attempt, or it exhausted its attempts.
func (p *Poller) deferred(feed *config.FeedConfig, link string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := feed.Name + "\x00" + link
	state, ok := p.links[key]
	if !ok {
		return false
	}

	policy := retryPolicy(feed)
	if state.taskID != "" {
		if p.registry == nil {
			delete(p.links, key)
			return false
		}
		rec, found := p.registry.Get(state.taskID)
		if !found {
			delete(p.links, key)
			return false
		}
		if !rec.Status.IsTerminal() {
			return true
		}
		if linkSucceeded(&rec, link) {
			delete(p.links, key)
			return false
		}

		state.taskID = ""
		state.failures++
		state.retryAt = p.now().Add(policy.Delay(state.failures))
		if state.failures >= policy.Attempts() {
			p.logger.Warn("Feed link abandoned after repeated failures",
				slog.String("feed", feed.Name),
				slog.String("link", link),
				slog.Int("attempts", state.failures),
			)
		}
	}

	if state.failures >= policy.Attempts() {
		return true
	}
	return p.now().Before(state.retryAt)
}

func linkSucceeded(rec *domain.TaskStatusRecord, link string) bool {
	if rec.Result == nil {
		return false
	}
	for _, item := range rec.Result.Items {
		if item.ContentKey == link {
			return item.Status.Succeeded()
		}
	}
	return false
}

func (p *Poller) markPending(feedName string, links []string, taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, link := range links {
		key := feedName + "\x00" + link
		state, ok := p.links[key]
		if !ok {
			state = &linkState{}
			p.links[key] = state
		}
		state.taskID = taskID
	}
}

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
