package pushnotification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kazz187/agentdash/internal/eventbus"
	"github.com/kazz187/agentdash/internal/projectrun"
	"github.com/kazz187/agentdash/internal/task"
)

// Notifier delivers a payload to one owner's devices.
type Notifier interface {
	SendToOwner(ctx context.Context, ownerID string, payload *NotificationPayload)
}

// Dispatcher turns finished tasks and project runs into push notifications
// for their owners.
type Dispatcher struct {
	eventBus *eventbus.Bus
	notifier Notifier
}

func NewDispatcher(eventBus *eventbus.Bus, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		eventBus: eventBus,
		notifier: notifier,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	subID, ch := d.eventBus.Subscribe(256)
	defer d.eventBus.Unsubscribe(subID)

	slog.InfoContext(ctx, "push notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "push notification dispatcher stopped")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			d.handle(ctx, event)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, event *eventbus.Event) {
	ownerID := event.Metadata[eventbus.MetaOwnerID]
	if ownerID == "" {
		return
	}
	var payload *NotificationPayload
	switch event.Type {
	case eventbus.TaskFinished:
		t, ok := event.Payload.(*task.Task)
		if !ok {
			return
		}
		payload = taskPayload(t)
	case eventbus.ProjectRunFinished:
		run, ok := event.Payload.(*projectrun.ProjectRun)
		if !ok {
			return
		}
		payload = runPayload(run)
	default:
		return
	}
	d.notifier.SendToOwner(ctx, ownerID, payload)
}

func taskPayload(t *task.Task) *NotificationPayload {
	title := "Task complete"
	if t.State == task.StateFailed {
		title = "Task failed"
	}
	body := fmt.Sprintf("%s %s", t.Code, t.Title)
	if t.BranchName != "" {
		body += fmt.Sprintf(" (%s)", t.BranchName)
	}
	return &NotificationPayload{
		Title: title,
		Body:  body,
		URL:   fmt.Sprintf("/projects/%s/tasks/%s", t.ProjectID, t.ID),
		Tag:   t.ID,
	}
}

func runPayload(run *projectrun.ProjectRun) *NotificationPayload {
	p := run.Progress()
	title := "Project run complete"
	if p.Failed > 0 {
		title = "Project run finished with failures"
	}
	return &NotificationPayload{
		Title: title,
		Body:  fmt.Sprintf("%d of %d subtasks completed, %d failed", p.Completed, p.Total, p.Failed),
		URL:   fmt.Sprintf("/projects/%s/runs/%s", run.ProjectID, run.ID),
		Tag:   run.ID,
	}
}
