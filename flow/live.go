package flow

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/tool"
)

// Transcriber converts cached live input into contents that can be replayed
// as history when a live connection is (re)opened.
type Transcriber interface {
	Transcribe(ctx context.Context, entries []core.TranscriptionEntry) ([]*core.Content, error)
}

// PassThroughTranscriber replays cached contents as they are and wraps
// cached blobs into inline data contents.
type PassThroughTranscriber struct{}

// Transcribe implements Transcriber.
func (PassThroughTranscriber) Transcribe(_ context.Context, entries []core.TranscriptionEntry) ([]*core.Content, error) {
	out := make([]*core.Content, 0, len(entries))

	for _, e := range entries {
		switch {
		case e.Content != nil:
			out = append(out, e.Content.Clone())
		case e.Blob != nil:
			out = append(out, &core.Content{Role: e.Role, Parts: []core.Part{core.BlobPart{Blob: *e.Blob}}})
		}
	}

	return out, nil
}

// RunLive implements Flow. It keeps one model connection open while a
// sender goroutine forwards ictx.LiveRequestQueue to the model and the
// caller's goroutine turns model output into events. The run ends when the
// connection or the queue is closed, or after a transfer_to_agent or
// task_completed response. The sender is always stopped and awaited before
// RunLive returns.
func (f *BaseFlow) RunLive(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
	return func(yield func(*core.Event, error) bool) {
		agent, err := flowAgentOf(ictx)
		if err != nil {
			yield(nil, err)
			return
		}

		if ictx.LiveRequestQueue == nil {
			yield(nil, errors.New("live run requires a live request queue"))
			return
		}

		req := NewRequest()

		for ev, err := range f.preprocess(ictx, req, agent) {
			if !yield(ev, err) || err != nil {
				return
			}
		}

		if ictx.EndInvocation() {
			return
		}

		lm, ok := agent.Model().(model.LiveModel)
		if !ok {
			yield(nil, fmt.Errorf("%w: model %s", core.ErrLiveNotSupported, agent.Model().Info().Name))
			return
		}

		ctx, cancel := context.WithCancel(ictx.Context)
		defer cancel()

		conn, err := lm.Connect(ctx, req.Request)
		if err != nil {
			yield(nil, fmt.Errorf("connect %s: %w", req.Model, err))
			return
		}

		defer func() {
			if err := conn.Close(); err != nil {
				ictx.LogWarn("flow.live.close_failed", "error", err.Error())
			}
		}()

		ictx.LogInfo("flow.live.connected", "model", req.Model)

		if err := f.sendHistory(ctx, ictx, conn, req.Contents); err != nil {
			yield(nil, err)
			return
		}

		senderCtx, stopSender := context.WithCancel(ctx)

		var sender errgroup.Group

		sender.Go(func() error { return f.sendToModel(senderCtx, ictx, conn) })

		stop := func() error {
			stopSender()

			if err := sender.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		}
		defer func() { _ = stop() }()

		outcome, err := f.receiveFromModel(ctx, ictx, req, agent, conn, yield)
		if err != nil {
			if !errors.Is(err, errConsumerStopped) {
				yield(nil, err)
			}

			return
		}

		if err := stop(); err != nil {
			yield(nil, fmt.Errorf("live sender: %w", err))
			return
		}

		if outcome.transfer == nil {
			return
		}

		if err := conn.Close(); err != nil {
			ictx.LogWarn("flow.live.close_failed", "error", err.Error())
		}

		ictx.LogInfo("flow.transfer", "to_agent", outcome.transfer.Name(), "live", true)

		for ev, err := range outcome.transfer.RunLive(ictx) {
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// sendHistory replays the request contents, or the transcribed cache when
// live input is waiting, on a fresh connection.
func (f *BaseFlow) sendHistory(ctx context.Context, ictx *core.InvocationContext, conn model.Connection, contents []*core.Content) error {
	if len(contents) == 0 {
		return nil
	}

	if ictx.HasTranscriptionCache() {
		transcribed, err := f.transcriber.Transcribe(ctx, ictx.TakeTranscriptionCache())
		if err != nil {
			return fmt.Errorf("transcribe live input: %w", err)
		}

		contents = transcribed
	}

	f.tel().TraceSendData(ctx, ictx, core.NewID(), contents)

	if err := conn.SendHistory(ctx, contents); err != nil {
		return fmt.Errorf("send history: %w", err)
	}

	return nil
}

// sendToModel drains the live request queue into the connection until the
// queue is closed or ctx is cancelled.
func (f *BaseFlow) sendToModel(ctx context.Context, ictx *core.InvocationContext, conn model.Connection) error {
	queue := ictx.LiveRequestQueue

	for {
		req, err := queue.Get(ctx)
		if err != nil {
			return err
		}

		for _, st := range ictx.ActiveStreamingTools() {
			if st.Stream != nil {
				st.Stream.Send(req)
			}
		}

		switch {
		case req.Close:
			ictx.LogDebug("flow.live.queue_closed")
			return conn.Close()
		case req.Blob != nil:
			if !ictx.RunConfig.InputAudioTranscription {
				ictx.AppendTranscription(core.TranscriptionEntry{Role: core.RoleUser, Blob: req.Blob})
			}

			if err := conn.SendRealtime(ctx, *req.Blob); err != nil {
				return fmt.Errorf("send realtime: %w", err)
			}
		case req.Content != nil:
			if err := conn.SendContent(ctx, req.Content); err != nil {
				return fmt.Errorf("send content: %w", err)
			}
		}
	}
}

// errConsumerStopped reports that the caller stopped ranging over the run.
var errConsumerStopped = errors.New("consumer stopped")

type liveOutcome struct {
	transfer core.Agent
}

// receiveFromModel yields the events of the model output until the
// connection closes or a control response ends the run. Function responses
// are sent back to the model, except control responses: the connection
// ends with them and the next agent reads them from the history.
func (f *BaseFlow) receiveFromModel(
	ctx context.Context,
	ictx *core.InvocationContext,
	req *Request,
	agent FlowAgent,
	conn model.Connection,
	yield func(*core.Event, error) bool,
) (liveOutcome, error) {
	respCh, errCh := conn.Receive(ctx)

	for resp := range respCh {
		shell := newResponseShell(ictx)
		if resp.Content != nil && resp.Content.Role == core.RoleUser {
			shell.Author = core.RoleUser
		}

		var (
			outcome liveOutcome
			done    bool
		)

		for ev, err := range f.postprocessLive(ictx, req, agent, resp, shell) {
			if err != nil {
				return liveOutcome{}, err
			}

			if ev.Content != nil && len(ev.Content.Parts) > 0 && !ev.Partial && !isBlobContent(ev.Content) {
				ictx.AppendTranscription(core.TranscriptionEntry{Role: ev.Content.Role, Content: ev.Content})
			}

			if !yield(ev, nil) {
				return liveOutcome{}, errConsumerStopped
			}

			switch firstFunctionResponseName(ev) {
			case tool.TransferToAgentName:
				if ev.Actions.TransferToAgent != nil {
					target, err := transferTarget(ictx, *ev.Actions.TransferToAgent)
					if err != nil {
						return liveOutcome{}, err
					}

					outcome.transfer = target
				}

				done = true
			case tool.TaskCompletedName:
				done = true
			case "":
			default:
				ictx.LiveRequestQueue.SendContent(ev.Content)
			}
		}

		if done {
			return outcome, nil
		}
	}

	if err := <-errCh; err != nil {
		return liveOutcome{}, fmt.Errorf("receive: %w", err)
	}

	return liveOutcome{}, nil
}

// postprocessLive is postprocess for live responses: turn completion
// signals are kept and calls are dispatched sequentially.
func (f *BaseFlow) postprocessLive(ictx *core.InvocationContext, req *Request, agent FlowAgent, resp model.Response, shell *core.Event) iter.Seq2[*core.Event, error] {
	return func(yield func(*core.Event, error) bool) {
		for _, p := range f.responseProcessors {
			events, err := p.ProcessResponse(ictx, &resp, agent)
			if err != nil {
				yield(nil, fmt.Errorf("response processor %s: %w", p.Name(), err))
				return
			}

			for _, ev := range events {
				if !yield(ev, nil) {
					return
				}
			}
		}

		if resp.IsEmpty() && !resp.TurnComplete {
			return
		}

		ev := finalizeResponseEvent(resp, shell, req.ToolSet)
		if !yield(ev, nil) {
			return
		}

		if ev.Partial || len(ev.GetFunctionCalls()) == 0 {
			return
		}

		respEv, err := HandleFunctionCallsLive(ictx, ev, req.ToolSet)
		if err != nil {
			yield(nil, err)
			return
		}

		if respEv != nil {
			yield(respEv, nil)
		}
	}
}

func firstFunctionResponseName(ev *core.Event) string {
	if ev.Content == nil || len(ev.Content.Parts) == 0 {
		return ""
	}

	if fr, ok := ev.Content.Parts[0].(core.FunctionResponsePart); ok {
		return fr.FunctionResponse.Name
	}

	return ""
}

func isBlobContent(c *core.Content) bool {
	_, ok := c.Parts[0].(core.BlobPart)
	return ok
}
