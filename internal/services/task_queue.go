package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gatherhq/gather/backend/internal/config"
	"github.com/gatherhq/gather/backend/pkg/logger"
	"github.com/hibiken/asynq"
)

const (
	TaskTypeGeocode = "geocode:group"
)

// GeocodeTask asks the pipeline to (re)geocode one group's address and
// refresh its entry in the proximity index. Geocoding never runs inside
// a membership or group write; it is always deferred through this queue.
type GeocodeTask struct {
	GroupID uint `json:"group_id"`
}

// TaskQueue defines the interface for background geocode processing.
type TaskQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(task *GeocodeTask) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

// Global task queue instance
var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue initializes the global task queue based on config
func InitTaskQueue(cfg *config.Config) TaskQueue {
	taskQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis)
			if err != nil {
				logger.Infof("[TaskQueue] Redis unavailable, falling back to in-process mode: %v", err)
				globalTaskQueue = NewSyncQueue()
			} else {
				logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalTaskQueue = queue
			}
		} else {
			logger.Infof("[TaskQueue] In-process queue initialized (Redis disabled)")
			globalTaskQueue = NewSyncQueue()
		}
	})
	return globalTaskQueue
}

// GetTaskQueue returns the global task queue instance
func GetTaskQueue() TaskQueue {
	return globalTaskQueue
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

// NewAsyncQueue creates a new Redis-based async queue
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	// Verify the connection before committing to async mode
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

// Enqueue adds a geocode task to the async queue
func (q *AsyncQueue) Enqueue(task *GeocodeTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeGeocode, payload)
	info, err := q.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return err
	}

	logger.Infof("[AsyncQueue] Geocode task enqueued: id=%s, group=%d", info.ID, task.GroupID)
	return nil
}

// IsAsync returns true for async queue
func (q *AsyncQueue) IsAsync() bool {
	return true
}

// Close closes the async queue client
func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue implements TaskQueue with in-process goroutine dispatch
// (no Redis). Tasks still run outside the request cycle.
type SyncQueue struct {
	processor func(context.Context, *GeocodeTask) error
}

// NewSyncQueue creates a new in-process queue
func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

// SetProcessor sets the function to process tasks
func (q *SyncQueue) SetProcessor(processor func(context.Context, *GeocodeTask) error) {
	q.processor = processor
}

// Enqueue dispatches the task on a fresh goroutine so the caller's
// request never blocks on geocoding.
func (q *SyncQueue) Enqueue(task *GeocodeTask) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] no processor set, geocode task for group %d dropped", task.GroupID)
		return nil
	}

	go func() {
		ctx := context.Background()
		if err := q.processor(ctx, task); err != nil {
			logger.Warnf("[SyncQueue] geocode task for group %d failed: %v", task.GroupID, err)
		}
	}()

	return nil
}

// IsAsync returns false for sync queue
func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close is a no-op for sync queue
func (q *SyncQueue) Close() error {
	return nil
}
