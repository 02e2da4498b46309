package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Dispatcher enqueues notifications for the Worker.
type Dispatcher struct {
	client *asynq.Client
	now    func() time.Time
}

func NewDispatcher(redisAddr string) *Dispatcher {
	return &Dispatcher{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		now:    time.Now,
	}
}

func (d *Dispatcher) Notify(ctx context.Context, accountID, message, url string) error {
	task, err := newNotifyTask(NotificationPayload{
		AccountID: accountID,
		Message:   message,
		URL:       url,
		CreatedAt: d.now().UTC(),
	})
	if err != nil {
		return err
	}
	if _, err := d.client.EnqueueContext(ctx, task, asynq.Queue(QueueNotifications), asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

func (d *Dispatcher) Close() error {
	return d.client.Close()
}

func newNotifyTask(p NotificationPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding notification: %w", err)
	}
	return asynq.NewTask(TaskNotifyAccount, b), nil
}

// Worker consumes notification tasks into the inbox.
type Worker struct {
	server *asynq.Server
	inbox  *Inbox
}

func NewWorker(redisAddr string, inbox *Inbox) *Worker {
	server := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			QueueNotifications: 10,
		},
	})
	return &Worker{server: server, inbox: inbox}
}

// Start begins processing in the background.
func (w *Worker) Start() error {
	mux := asynq.NewServeMux()
	mux.Handle(TaskNotifyAccount, w.inbox)
	return w.server.Start(mux)
}

func (w *Worker) Shutdown() {
	w.server.Shutdown()
}
