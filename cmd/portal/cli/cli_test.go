package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/barangay-portal/portal/jobs"
)

func TestExpandRuleWritesYAML(t *testing.T) {
	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	out := new(bytes.Buffer)

	err := ExpandRule(ExpandOptions{
		Rule:     "FREQ=DAILY;COUNT=3",
		Start:    start,
		Duration: 2 * time.Hour,
		From:     start,
		To:       start.AddDate(0, 1, 0),
	}, out)
	require.NoError(t, err)

	var report expandReport
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "Repeats daily, 3 times", report.Summary)
	require.Len(t, report.Occurrences, 3)
	assert.False(t, report.Occurrences[0].Generated)
	assert.True(t, report.Occurrences[0].Start.Equal(start))
	assert.True(t, report.Occurrences[2].Start.Equal(start.AddDate(0, 0, 2)))
	assert.True(t, report.Occurrences[2].End.Equal(start.AddDate(0, 0, 2).Add(2*time.Hour)))
}

func TestExpandRuleRejectsInvalidRule(t *testing.T) {
	err := ExpandRule(ExpandOptions{Rule: "FREQ=HOURLY", Start: time.Now()}, new(bytes.Buffer))
	assert.Error(t, err)
}

func TestRRuleCommands(t *testing.T) {
	stdout := new(bytes.Buffer)
	root := NewRootCommand(stdout, new(bytes.Buffer))
	root.SetArgs([]string{"rrule", "describe", "FREQ=WEEKLY;BYDAY=SA"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "Repeats weekly on Saturday\n", stdout.String())

	stdout.Reset()
	root = NewRootCommand(stdout, new(bytes.Buffer))
	root.SetArgs([]string{"rrule", "expand", "FREQ=WEEKLY;BYDAY=MO,TH",
		"--start", "2024-06-05T08:00:00Z", "--to", "2024-06-12T00:00:00Z"})
	require.NoError(t, root.Execute())

	var report expandReport
	require.NoError(t, yaml.Unmarshal(stdout.Bytes(), &report))
	require.Len(t, report.Occurrences, 3)
	assert.Equal(t, time.Thursday, report.Occurrences[1].Start.Weekday())
	assert.Equal(t, time.Monday, report.Occurrences[2].Start.Weekday())

	root = NewRootCommand(new(bytes.Buffer), new(bytes.Buffer))
	root.SetArgs([]string{"rrule", "expand", "FREQ=DAILY", "--start", "yesterday"})
	assert.Error(t, root.Execute())
}

type stubTrigger struct {
	name string
	err  error
}

func (s *stubTrigger) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	s.name = name
	if s.err != nil {
		return nil, s.err
	}
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueDefault, Type: name}, nil
}

func TestTriggerJob(t *testing.T) {
	trigger := &stubTrigger{}
	out := new(bytes.Buffer)

	require.NoError(t, TriggerJob(context.Background(), trigger, jobs.TaskPrefetchWarmup, out))
	assert.Equal(t, jobs.TaskPrefetchWarmup, trigger.name)
	assert.Equal(t, "enqueued prefetch:warmup id=task-1 queue=default\n", out.String())

	failing := &stubTrigger{err: errors.New("unsupported")}
	assert.Error(t, TriggerJob(context.Background(), failing, "mail:send", out))
}

type stubInspector map[string]*asynq.QueueInfo

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := s[queue]
	if !ok {
		return nil, errors.New("queue not found")
	}
	return info, nil
}

func TestInspectQueues(t *testing.T) {
	stats, err := InspectQueues(stubInspector{
		jobs.QueueCritical: {Pending: 2, Retry: 1},
		jobs.QueueDefault:  {Active: 1, Scheduled: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, []QueueStats{
		{Queue: jobs.QueueCritical, Pending: 2, Retry: 1},
		{Queue: jobs.QueueDefault, Active: 1, Scheduled: 4},
	}, stats)

	_, err = InspectQueues(stubInspector{})
	assert.Error(t, err)
	_, err = InspectQueues(nil)
	assert.Error(t, err)
}
