package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-commerce/meridian/jobs"
)

type stubEnqueuer struct {
	task *asynq.Task
}

func (s *stubEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	s.task = task
	return &asynq.TaskInfo{Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

type stubInspector struct {
	info      *asynq.QueueInfo
	scheduled []*asynq.TaskInfo
	queue     string
	listOpts  []asynq.ListOption
}

func (s *stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	s.queue = queue
	return s.info, nil
}

func (s *stubInspector) ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	s.queue = queue
	s.listOpts = opts
	return s.scheduled, nil
}

func TestTriggerEnqueuesKnownJobs(t *testing.T) {
	enq := &stubEnqueuer{}
	cli := &JobsCLI{client: enq}

	for _, name := range []string{jobs.TaskPurgeSessions, jobs.TaskSweepBuckets, jobs.TaskCleanupAudit} {
		info, err := cli.Trigger(context.Background(), name)
		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, name, enq.task.Type())
	}
}

func TestTriggerSweepCarriesDefaultHorizon(t *testing.T) {
	enq := &stubEnqueuer{}
	cli := &JobsCLI{client: enq}

	_, err := cli.Trigger(context.Background(), jobs.TaskSweepBuckets)
	require.NoError(t, err)

	var payload struct {
		IdleFor time.Duration `json:"idleFor"`
	}
	require.NoError(t, json.Unmarshal(enq.task.Payload(), &payload))
	assert.Equal(t, 24*time.Hour, payload.IdleFor)
}

func TestTriggerUnknownJob(t *testing.T) {
	cli := &JobsCLI{client: &stubEnqueuer{}}
	_, err := cli.Trigger(context.Background(), "reports:render")
	assert.ErrorContains(t, err, "unsupported job")
}

func TestInspectQueueMapsCounts(t *testing.T) {
	cli := &JobsCLI{inspector: &stubInspector{info: &asynq.QueueInfo{
		Queue:     jobs.QueueDefault,
		Pending:   3,
		Active:    1,
		Scheduled: 2,
		Retry:     4,
	}}}

	stats, err := cli.InspectQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 3, Active: 1, Scheduled: 2, Retry: 4}, stats)
}

func TestListScheduledTargetsDefaultQueue(t *testing.T) {
	inspector := &stubInspector{scheduled: []*asynq.TaskInfo{{Type: jobs.TaskPurgeSessions}}}
	cli := &JobsCLI{inspector: inspector}

	infos, err := cli.ListScheduled(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
	assert.Equal(t, jobs.QueueDefault, inspector.queue)
	assert.Len(t, inspector.listOpts, 2)
}

func TestUnconfiguredCLI(t *testing.T) {
	cli := &JobsCLI{}
	_, err := cli.Trigger(context.Background(), jobs.TaskPurgeSessions)
	assert.Error(t, err)
	_, err = cli.InspectQueue(context.Background())
	assert.Error(t, err)
	_, err = cli.ListScheduled(context.Background(), 5)
	assert.Error(t, err)
}
