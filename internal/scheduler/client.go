package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"crmguard_backend/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Client enqueues deferred reconciliation tasks.
type Client struct {
	client *asynq.Client
	queue  string
	delay  time.Duration
}

// NewClient builds the task client from scheduler configuration.
func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	delay := cfg.GetOrphanSweepDelay()
	if delay <= 0 {
		delay = 5 * time.Minute
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
		delay:  delay,
	}, nil
}

// Close releases the underlying redis connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ScheduleOrphanSweep enqueues a delayed sweep for the INN. The delay gives
// the CRM's requisite index time to settle after the triggering deletion.
func (c *Client) ScheduleOrphanSweep(ctx context.Context, inn string) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewOrphanSweepTask(OrphanSweepPayload{INN: inn})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.ProcessIn(c.delay), asynq.Queue(c.queue))
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
