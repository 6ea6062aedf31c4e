package orchestrator

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/backend"
	"github.com/rhuss/parley/pkg/observability"
	"github.com/rhuss/parley/pkg/provider"
	"github.com/rhuss/parley/pkg/retry"
	"github.com/rhuss/parley/pkg/template"
	"github.com/rhuss/parley/pkg/tools"
)

// step is one scripted Complete outcome.
type step struct {
	res *provider.Result
	err error
}

// fakeDriver replays scripted rounds. Complete and Stream share the call
// counter so tests can assert how often the backend was contacted.
type fakeDriver struct {
	mu       sync.Mutex
	steps    []step
	streams  [][]provider.Event
	failAt   int // stream event index that fails; -1 for none
	failWith error
	calls    int
	lastMsgs []provider.Message
}

func (d *fakeDriver) Name() string { return "fake" }
func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) next(req *provider.Request) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastMsgs = append([]provider.Message(nil), req.Messages...)
	d.calls++
	return d.calls - 1
}

func (d *fakeDriver) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDriver) Complete(_ context.Context, req *provider.Request) (*provider.Result, error) {
	i := d.next(req)
	s := d.steps[min(i, len(d.steps)-1)]
	return s.res, s.err
}

func (d *fakeDriver) Stream(ctx context.Context, req *provider.Request) iter.Seq2[provider.Event, error] {
	i := d.next(req)
	events := d.streams[min(i, len(d.streams)-1)]
	return func(yield func(provider.Event, error) bool) {
		for j, ev := range events {
			if ctx.Err() != nil {
				return
			}
			if j == d.failAt {
				yield(provider.Event{}, d.failWith)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func textEvent(s string) provider.Event {
	return provider.Event{Type: provider.EventTextDelta, Delta: s}
}

func toolEvent(name, args string) provider.Event {
	return provider.Event{Type: provider.EventToolCall, ToolCall: &provider.ToolCall{ID: "call_" + name, Name: name, Arguments: args}}
}

// fakeBackends resolves "local" to a DriverClient over the shared driver.
type fakeBackends struct {
	driver *fakeDriver
}

func (b *fakeBackends) Resolve(providerName, modelID string) (backend.Client, error) {
	if providerName != "" && providerName != "local" {
		return nil, &api.UnknownProviderError{Provider: providerName}
	}
	if modelID == "" {
		modelID = "test-model"
	}
	meta := api.BackendMetadata{ID: "local", DisplayName: "Local", Model: modelID}
	return backend.NewDriverClient(meta, b.driver), nil
}

func (b *fakeBackends) Backends() []api.BackendInfo {
	return []api.BackendInfo{{BackendMetadata: api.BackendMetadata{ID: "local", DisplayName: "Local"}}}
}

// recordingSleep captures retry delays without waiting.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestOrchestrator(d *fakeDriver, sleep *recordingSleep, opts ...Option) *Orchestrator {
	exec := retry.New(retry.Policy{MaxAttempts: 3, InitialDelay: time.Second}, retry.WithSleep(sleep.sleep))
	opts = append([]Option{WithRetry(exec)}, opts...)
	return New(&fakeBackends{driver: d}, template.NewEngine(template.Builtin()), opts...)
}

func chat(content string) api.ChatRequest {
	return api.ChatRequest{Messages: []api.Message{{Role: api.RoleUser, Content: content}}}
}

func fallbackCount(t *testing.T, reason string) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := observability.FallbacksTotal.WithLabelValues(reason).Write(m); err != nil {
		t.Fatalf("reading metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

// Tools used across tests.
var (
	echoTool = tools.Func{
		Def: tools.Definition{Name: "echo", Idempotent: true},
		Fn: func(_ context.Context, args map[string]any) (string, error) {
			s, _ := args["text"].(string)
			return s, nil
		},
	}
	sendEmailTool = tools.Func{
		Def: tools.Definition{Name: "send_email", Transient: true},
		Fn: func(context.Context, map[string]any) (string, error) {
			return "sent", nil
		},
	}
)

type toolList []tools.Func

func (l toolList) Definitions() []tools.Definition {
	defs := make([]tools.Definition, len(l))
	for i, t := range l {
		defs[i] = t.Def
	}
	return defs
}

func (l toolList) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	for _, t := range l {
		if t.Def.Name == name {
			return t.Fn(ctx, args)
		}
	}
	return "", tools.ErrUnknownTool
}

func transientErr() error {
	return &api.TransientBackendError{Provider: "local", StatusCode: 503, Err: errors.New("unavailable")}
}

func TestSendWithoutTools(t *testing.T) {
	d := &fakeDriver{steps: []step{{res: &provider.Result{Content: "2 + 2 = 4"}}}}
	o := newTestOrchestrator(d, &recordingSleep{})

	resp, err := o.Send(context.Background(), chat("What's 2+2?"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Message.Content == "" {
		t.Error("expected non-empty content")
	}
	if resp.ToolCalls == nil || len(resp.ToolCalls) != 0 {
		t.Errorf("expected empty tool calls, got %v", resp.ToolCalls)
	}
	if resp.ProviderUsed != "local" || resp.ModelUsed != "test-model" {
		t.Errorf("provider/model = %s/%s", resp.ProviderUsed, resp.ModelUsed)
	}
}

func TestSendRetriesTransientFailures(t *testing.T) {
	d := &fakeDriver{steps: []step{
		{err: transientErr()},
		{err: transientErr()},
		{res: &provider.Result{Content: "finally"}},
	}}
	sleep := &recordingSleep{}
	o := newTestOrchestrator(d, sleep)

	resp, err := o.Send(context.Background(), chat("hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Message.Content != "finally" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if d.Calls() != 3 {
		t.Errorf("expected 3 attempts, got %d", d.Calls())
	}
	if len(sleep.delays) != 2 || sleep.delays[0] != time.Second || sleep.delays[1] != 2*time.Second {
		t.Errorf("delays = %v, want [1s 2s]", sleep.delays)
	}
}

func TestSendFallbackAfterRetriesExhausted(t *testing.T) {
	d := &fakeDriver{steps: []step{{err: transientErr()}}}
	sleep := &recordingSleep{}
	o := newTestOrchestrator(d, sleep)
	before := fallbackCount(t, "transient_error")

	resp, err := o.Send(context.Background(), chat("hi"))
	if err != nil {
		t.Fatalf("fallback must not return an error: %v", err)
	}
	if d.Calls() != 3 {
		t.Errorf("expected 3 attempts, got %d", d.Calls())
	}
	if resp.ProviderUsed != FallbackProvider || resp.ModelUsed != FallbackModel {
		t.Errorf("provider/model = %s/%s", resp.ProviderUsed, resp.ModelUsed)
	}
	if resp.Message.Content != FallbackMessage || resp.Message.Role != api.RoleAssistant {
		t.Errorf("unexpected fallback message: %+v", resp.Message)
	}
	if resp.ToolCalls == nil || len(resp.ToolCalls) != 0 {
		t.Errorf("expected empty tool calls, got %v", resp.ToolCalls)
	}
	if got := fallbackCount(t, "transient_error"); got != before+1 {
		t.Errorf("fallback counter = %v, want %v", got, before+1)
	}
}

func TestSendPermanentFailureFallsBackImmediately(t *testing.T) {
	d := &fakeDriver{steps: []step{{err: &api.BackendError{Provider: "local", StatusCode: 400, Err: errors.New("unknown model")}}}}
	sleep := &recordingSleep{}
	o := newTestOrchestrator(d, sleep)

	resp, err := o.Send(context.Background(), chat("hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ProviderUsed != FallbackProvider {
		t.Errorf("expected fallback, got %+v", resp)
	}
	if d.Calls() != 1 || len(sleep.delays) != 0 {
		t.Errorf("permanent errors must not be retried: calls=%d delays=%v", d.Calls(), sleep.delays)
	}
}

func TestSendRequestErrorsAreNotRetried(t *testing.T) {
	d := &fakeDriver{steps: []step{{res: &provider.Result{Content: "x"}}}}
	o := newTestOrchestrator(d, &recordingSleep{})

	_, err := o.Send(context.Background(), api.ChatRequest{Provider: "nonexistent", Messages: chat("hi").Messages})
	var upe *api.UnknownProviderError
	if !errors.As(err, &upe) {
		t.Errorf("expected UnknownProviderError, got %v", err)
	}

	_, err = o.Send(context.Background(), api.ChatRequest{})
	var ae *api.ArgumentError
	if !errors.As(err, &ae) {
		t.Errorf("expected ArgumentError, got %v", err)
	}

	_, err = o.Send(context.Background(), api.ChatRequest{Messages: []api.Message{{Role: "robot", Content: "x"}}})
	if !errors.As(err, &ae) {
		t.Errorf("expected ArgumentError for bad role, got %v", err)
	}

	if d.Calls() != 0 {
		t.Errorf("backend contacted %d times", d.Calls())
	}
}

func TestSendCollectsToolCalls(t *testing.T) {
	d := &fakeDriver{steps: []step{
		{res: &provider.Result{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "echo", Arguments: `{"text":"first"}`}}}},
		{err: transientErr()},
		{res: &provider.Result{ToolCalls: []provider.ToolCall{{ID: "c2", Name: "echo", Arguments: `{"text":"second"}`}}}},
		{res: &provider.Result{Content: "done"}},
	}}
	o := newTestOrchestrator(d, &recordingSleep{}, WithTools(toolList{echoTool}))

	resp, err := o.Send(context.Background(), chat("echo something"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Message.Content != "done" {
		t.Fatalf("content = %q", resp.Message.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Result != "second" {
		t.Errorf("expected only the successful attempt's record, got %+v", resp.ToolCalls)
	}
}

func TestSendDoesNotRetryAfterNonIdempotentTool(t *testing.T) {
	d := &fakeDriver{steps: []step{
		{res: &provider.Result{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "send_email", Arguments: `{}`}}}},
		{err: transientErr()},
		{res: &provider.Result{Content: "should not be reached"}},
	}}
	sleep := &recordingSleep{}
	o := newTestOrchestrator(d, sleep, WithTools(toolList{sendEmailTool}))
	before := fallbackCount(t, "transient_error")

	resp, err := o.Send(context.Background(), chat("email bob"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ProviderUsed != FallbackProvider {
		t.Errorf("expected fallback, got %+v", resp)
	}
	if d.Calls() != 2 || len(sleep.delays) != 0 {
		t.Errorf("expected a single attempt: calls=%d delays=%v", d.Calls(), sleep.delays)
	}
	if got := fallbackCount(t, "transient_error"); got != before+1 {
		t.Errorf("fallback reason should keep the transient classification")
	}
}

func TestSendTransientToolFailureIsRetried(t *testing.T) {
	var mu sync.Mutex
	failures := 1
	flaky := tools.Func{
		Def: tools.Definition{Name: "lookup", Transient: true, Idempotent: true},
		Fn: func(context.Context, map[string]any) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			if failures > 0 {
				failures--
				return "", errors.New("timeout")
			}
			return "found", nil
		},
	}
	d := &fakeDriver{steps: []step{
		{res: &provider.Result{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "lookup", Arguments: `{}`}}}},
		{res: &provider.Result{ToolCalls: []provider.ToolCall{{ID: "c2", Name: "lookup", Arguments: `{}`}}}},
		{res: &provider.Result{Content: "ok"}},
	}}
	sleep := &recordingSleep{}
	o := newTestOrchestrator(d, sleep, WithTools(toolList{flaky}))

	resp, err := o.Send(context.Background(), chat("look it up"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Message.Content != "ok" || len(resp.ToolCalls) != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(sleep.delays) != 1 {
		t.Errorf("expected one retry, got delays %v", sleep.delays)
	}
}

func TestSendCancelledDuringBackoff(t *testing.T) {
	d := &fakeDriver{steps: []step{{err: transientErr()}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleep := func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	o := New(&fakeBackends{driver: d}, nil, WithRetry(retry.New(retry.Policy{}, retry.WithSleep(sleep))))

	resp, err := o.Send(ctx, chat("hi"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v (resp %+v)", err, resp)
	}
	if resp != nil {
		t.Error("cancellation must not produce a fallback response")
	}
}

func collect(seq iter.Seq[api.StreamingUpdate]) []api.StreamingUpdate {
	var out []api.StreamingUpdate
	for u := range seq {
		out = append(out, u)
	}
	return out
}

func assertSingleFinal(t *testing.T, updates []api.StreamingUpdate) {
	t.Helper()
	finals := 0
	for _, u := range updates {
		if u.IsFinal {
			finals++
		}
	}
	if finals != 1 || !updates[len(updates)-1].IsFinal {
		t.Fatalf("expected exactly one final update at the end, got %+v", updates)
	}
}

func TestStreamSuccess(t *testing.T) {
	d := &fakeDriver{failAt: -1, streams: [][]provider.Event{{textEvent("Hel"), textEvent("lo"), {Type: provider.EventDone}}}}
	o := newTestOrchestrator(d, &recordingSleep{})

	updates := collect(o.Stream(context.Background(), chat("hi")))
	assertSingleFinal(t, updates)
	if len(updates) != 3 {
		t.Fatalf("expected 3 updates, got %+v", updates)
	}
	if updates[0].Content != "Hel" || updates[1].Content != "lo" || updates[0].Type != api.UpdateContent {
		t.Errorf("unexpected content updates: %+v", updates[:2])
	}
	if last := updates[2]; last.Type != api.UpdateContent || last.Content != "" {
		t.Errorf("unexpected sentinel: %+v", last)
	}
}

func TestStreamFailureAfterContentIsNotRetried(t *testing.T) {
	d := &fakeDriver{
		streams:  [][]provider.Event{{textEvent("one "), textEvent("two "), textEvent("three")}},
		failAt:   2,
		failWith: transientErr(),
	}
	sleep := &recordingSleep{}
	o := newTestOrchestrator(d, sleep)

	updates := collect(o.Stream(context.Background(), chat("count")))
	assertSingleFinal(t, updates)
	if len(updates) != 3 {
		t.Fatalf("expected 2 content updates and 1 error, got %+v", updates)
	}
	if updates[0].Content != "one " || updates[1].Content != "two " {
		t.Errorf("content updates repeated or reordered: %+v", updates)
	}
	last := updates[2]
	if last.Type != api.UpdateError || last.Metadata["code"] != "transient_backend_error" || last.Metadata["transient"] != true {
		t.Errorf("unexpected error update: %+v", last)
	}
	if d.Calls() != 1 || len(sleep.delays) != 0 {
		t.Errorf("stream must not retry: calls=%d delays=%v", d.Calls(), sleep.delays)
	}
}

func TestStreamWithTools(t *testing.T) {
	d := &fakeDriver{failAt: -1, streams: [][]provider.Event{
		{textEvent("Checking. "), toolEvent("echo", `{"text":"pong"}`), {Type: provider.EventDone}},
		{textEvent("It said pong."), {Type: provider.EventDone}},
	}}
	o := newTestOrchestrator(d, &recordingSleep{}, WithTools(toolList{echoTool}))

	updates := collect(o.Stream(context.Background(), chat("ping")))
	assertSingleFinal(t, updates)

	want := []api.UpdateType{api.UpdateContent, api.UpdateToolCallStart, api.UpdateToolCallComplete, api.UpdateContent, api.UpdateContent}
	if len(updates) != len(want) {
		t.Fatalf("got %d updates, want %d: %+v", len(updates), len(want), updates)
	}
	for i, w := range want {
		if updates[i].Type != w {
			t.Errorf("update %d type = %s, want %s", i, updates[i].Type, w)
		}
	}
	if updates[1].ToolName != "echo" || updates[2].Content != "pong" {
		t.Errorf("unexpected tool updates: %+v %+v", updates[1], updates[2])
	}
}

func TestStreamCancellationIsSilent(t *testing.T) {
	d := &fakeDriver{failAt: -1, streams: [][]provider.Event{{textEvent("a"), textEvent("b"), textEvent("c"), {Type: provider.EventDone}}}}
	o := newTestOrchestrator(d, &recordingSleep{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var updates []api.StreamingUpdate
	for u := range o.Stream(ctx, chat("hi")) {
		updates = append(updates, u)
		cancel()
	}
	if len(updates) != 1 || updates[0].Content != "a" {
		t.Errorf("expected a single content update, got %+v", updates)
	}
}

func TestStreamRequestErrors(t *testing.T) {
	d := &fakeDriver{failAt: -1, streams: [][]provider.Event{{textEvent("x")}}}
	o := newTestOrchestrator(d, &recordingSleep{})
	req := api.ChatRequest{Provider: "nonexistent", Messages: chat("hi").Messages}

	if _, err := o.OpenStream(context.Background(), req); err == nil {
		t.Error("expected OpenStream to fail synchronously")
	}

	updates := collect(o.Stream(context.Background(), req))
	assertSingleFinal(t, updates)
	if len(updates) != 1 || updates[0].Type != api.UpdateError || updates[0].Metadata["code"] != "unknown_provider" {
		t.Errorf("unexpected updates: %+v", updates)
	}
	if d.Calls() != 0 {
		t.Error("backend must not be contacted")
	}
}

func TestExecuteTemplate(t *testing.T) {
	d := &fakeDriver{steps: []step{{res: &provider.Result{Content: "Hi Ada!"}}}}
	o := newTestOrchestrator(d, &recordingSleep{})

	resp, err := o.ExecuteTemplate(context.Background(), "greeting", api.TemplateRequest{Variables: map[string]any{"name": "Ada"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Message.Content != "Hi Ada!" || resp.ToolCalls == nil {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(d.lastMsgs) != 1 || d.lastMsgs[0].Role != provider.RoleUser || d.lastMsgs[0].Content != "Hello Ada" {
		t.Errorf("backend received %+v, want a single user turn \"Hello Ada\"", d.lastMsgs)
	}
}

func TestExecuteTemplateErrorsSkipBackend(t *testing.T) {
	d := &fakeDriver{steps: []step{{res: &provider.Result{Content: "x"}}}}
	o := newTestOrchestrator(d, &recordingSleep{})

	_, err := o.ExecuteTemplate(context.Background(), "greeting", api.TemplateRequest{Variables: map[string]any{}})
	var mve *api.MissingVariablesError
	if !errors.As(err, &mve) || len(mve.Names) != 1 || mve.Names[0] != "name" {
		t.Errorf("expected MissingVariables[name], got %v", err)
	}

	_, err = o.ExecuteTemplate(context.Background(), "no-such-template", api.TemplateRequest{})
	var tnf *api.TemplateNotFoundError
	if !errors.As(err, &tnf) {
		t.Errorf("expected TemplateNotFound, got %v", err)
	}

	if d.Calls() != 0 {
		t.Errorf("backend contacted %d times", d.Calls())
	}
}

func TestDiscovery(t *testing.T) {
	o := newTestOrchestrator(&fakeDriver{}, &recordingSleep{}, WithTools(toolList{echoTool, sendEmailTool}))

	if infos := o.Backends(); len(infos) != 1 || infos[0].ID != "local" {
		t.Errorf("Backends() = %+v", infos)
	}

	meta, err := o.Describe("")
	if err != nil || meta.ID != "local" {
		t.Errorf("Describe() = %+v, %v", meta, err)
	}
	if _, err := o.Describe("nope"); err == nil {
		t.Error("expected error for unknown backend")
	}

	list, err := o.ListAvailableTemplates()
	if err != nil {
		t.Fatalf("ListAvailableTemplates: %v", err)
	}
	found := false
	for _, info := range list {
		if info.Name == "greeting" {
			found = true
		}
	}
	if !found {
		t.Errorf("greeting template not listed: %+v", list)
	}

	if defs := o.Tools(); len(defs) != 2 {
		t.Errorf("Tools() = %+v", defs)
	}
	if defs := New(&fakeBackends{}, nil).Tools(); defs == nil || len(defs) != 0 {
		t.Errorf("expected empty tool list, got %v", defs)
	}
}
