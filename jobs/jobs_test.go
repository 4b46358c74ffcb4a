package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/barangay-portal/portal/internal/jobs"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingEnqueuer struct {
	mu     sync.Mutex
	tasks  []*asynq.Task
	err    error
	closed bool
}

func (r *recordingEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: uuid.NewString(), Type: task.Type(), Payload: task.Payload()}, nil
}

func (r *recordingEnqueuer) Close() error {
	r.closed = true
	return nil
}

type presenceStub struct {
	calls []uuid.UUID
	err   error
}

func (p *presenceStub) SetOnline(ctx context.Context, id uuid.UUID, online bool) error {
	if online {
		return errors.New("unexpected online write")
	}
	p.calls = append(p.calls, id)
	return p.err
}

type warmerStub struct {
	requested []int64
	warmed    int
	err       error
}

func (w *warmerStub) WarmAll(ctx context.Context, ids []int64) (int, error) {
	w.requested = ids
	return w.warmed, w.err
}

func TestClientEnqueueOffline(t *testing.T) {
	rec := &recordingEnqueuer{}
	client := &Client{client: rec}
	id := uuid.New()

	require.NoError(t, client.EnqueueOffline(context.Background(), id))

	require.Len(t, rec.tasks, 1)
	assert.Equal(t, TaskPresenceOffline, rec.tasks[0].Type())
	var payload PresenceOfflinePayload
	require.NoError(t, json.Unmarshal(rec.tasks[0].Payload(), &payload))
	assert.Equal(t, id, payload.UserID)
}

func TestClientEnqueueOfflineRejectsNilUser(t *testing.T) {
	rec := &recordingEnqueuer{}
	client := &Client{client: rec}

	assert.Error(t, client.EnqueueOffline(context.Background(), uuid.Nil))
	assert.Empty(t, rec.tasks)
}

func TestClientTrigger(t *testing.T) {
	rec := &recordingEnqueuer{}
	client := &Client{client: rec}

	info, err := client.Trigger(context.Background(), TaskPrefetchWarmup)
	require.NoError(t, err)
	assert.Equal(t, TaskPrefetchWarmup, info.Type)

	_, err = client.Trigger(context.Background(), "mail:send")
	assert.Error(t, err)

	require.NoError(t, client.Close())
	assert.True(t, rec.closed)
}

func TestUnconfiguredClient(t *testing.T) {
	var client *Client
	assert.Error(t, client.EnqueueOffline(context.Background(), uuid.New()))
	assert.NoError(t, client.Close())

	_, err := NewClient(asynq.RedisClientOpt{})
	assert.Error(t, err)
}

func TestPresenceOfflineJob(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	store := &presenceStub{}
	job := NewPresenceOfflineJob(store, quietLogger(), metrics)
	id := uuid.New()
	task, err := NewPresenceOfflineTask(id)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, []uuid.UUID{id}, store.calls)
	assert.Equal(t, 1.0, gathered(t, registry, "portal_job_items_total"))
}

func TestPresenceOfflineJobFailureIsRetried(t *testing.T) {
	store := &presenceStub{err: errors.New("db down")}
	job := NewPresenceOfflineJob(store, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewPresenceOfflineTask(uuid.New())
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestPresenceOfflineJobSkipsBadPayload(t *testing.T) {
	job := NewPresenceOfflineJob(&presenceStub{}, quietLogger(), nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskPresenceOffline, []byte(`{"user_id":"nope"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestPrefetchWarmupJob(t *testing.T) {
	warmer := &warmerStub{warmed: 2}
	job := NewPrefetchWarmupJob(warmer, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewPrefetchWarmupTask(4, 9)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, []int64{4, 9}, warmer.requested)
}

func TestPrefetchWarmupJobAllBarangays(t *testing.T) {
	warmer := &warmerStub{}
	job := NewPrefetchWarmupJob(warmer, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewPrefetchWarmupTask()
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Nil(t, warmer.requested)
}

func TestPrefetchWarmupJobReportsFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	errDown := errors.New("replica down")
	job := NewPrefetchWarmupJob(&warmerStub{warmed: 1, err: errDown}, quietLogger(), jobmetrics.NewMetrics(registry))
	task, err := NewPrefetchWarmupTask()
	require.NoError(t, err)

	assert.ErrorIs(t, job.Handle(context.Background(), task), errDown)
	assert.Equal(t, 1.0, gathered(t, registry, "portal_jobs_failures_total"))
}

func TestServeMuxRoutesRegisteredHandlers(t *testing.T) {
	store := &presenceStub{}
	mux := newServeMux([]TaskHandler{
		{Type: TaskPresenceOffline, Handler: NewPresenceOfflineJob(store, quietLogger(), nil).Handle},
		{Type: "", Handler: nil},
	})
	task, err := NewPresenceOfflineTask(uuid.New())
	require.NoError(t, err)

	require.NoError(t, mux.ProcessTask(context.Background(), task))
	assert.Len(t, store.calls, 1)
	assert.Error(t, mux.ProcessTask(context.Background(), asynq.NewTask("mail:send", nil)))
}

type inspectorStub struct {
	info map[string]*asynq.QueueInfo
	err  error
}

func (i inspectorStub) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if i.err != nil {
		return nil, i.err
	}
	return i.info[queue], nil
}

func TestHealthHandler(t *testing.T) {
	handler := NewHandler(inspectorStub{info: map[string]*asynq.QueueInfo{
		QueueCritical: {Queue: QueueCritical, Pending: 3, Retry: 1},
	}}, quietLogger())
	router := chi.NewRouter()
	router.Route("/jobs", handler.MountRoutes)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got []queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []queueHealth{
		{Queue: QueueCritical, Pending: 3, Retry: 1},
		{Queue: QueueDefault},
	}, got)
}

func TestHealthHandlerUnavailable(t *testing.T) {
	handler := NewHandler(inspectorStub{err: errors.New("redis down")}, quietLogger())
	rec := httptest.NewRecorder()
	handler.health(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "Service Unavailable"))
}

func gathered(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}
