package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sypherin/comply/internal/domain"
	"github.com/sypherin/comply/internal/httpx"
	"github.com/sypherin/comply/internal/providers"
	"github.com/sypherin/comply/internal/providers/graph"
	"github.com/sypherin/comply/internal/providers/offline"
	"github.com/sypherin/comply/internal/reminder"
	"github.com/sypherin/comply/internal/retry"
)

type fakeMailer struct {
	mu    sync.Mutex
	sent  []providers.Message
	calls map[string]int
	send  func(attempt int, msg providers.Message) (providers.Delivery, error)
}

func (f *fakeMailer) Send(ctx context.Context, msg providers.Message) (providers.Delivery, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[msg.To[0]]++
	attempt := f.calls[msg.To[0]]
	f.sent = append(f.sent, msg)
	f.mu.Unlock()

	if f.send != nil {
		return f.send(attempt, msg)
	}
	return providers.Delivery{ID: "id-" + msg.To[0]}, nil
}

func (f *fakeMailer) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeDirectory struct {
	mu       sync.Mutex
	managers map[string]string
	asked    []string
}

func (d *fakeDirectory) ResolveManager(ctx context.Context, identity string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.asked = append(d.asked, identity)
	m, ok := d.managers[identity]
	return m, ok
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

var fixedNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func testGroups() []domain.RecipientGroup {
	return []domain.RecipientGroup{
		{Email: "a@x.com", DisplayName: "Ann", ResponsibleParty: "boss@x.com", Courses: []domain.CourseItem{{Title: "Ethics"}, {Title: "Safety"}}},
		{Email: "b@x.com", DisplayName: "Bo", Courses: []domain.CourseItem{{Title: "Ethics"}}},
		{Email: "c@x.com", DisplayName: "Cy", Courses: []domain.CourseItem{{Title: "Privacy"}}},
	}
}

type engineDeps struct {
	mailer  providers.Mailer
	dir     providers.Directory
	sleeps  *sleepRecorder
	reg     *prometheus.Registry
	logger  *zap.Logger
	workers int
}

func newEngine(t *testing.T, deps engineDeps) *Engine {
	t.Helper()
	if deps.sleeps == nil {
		deps.sleeps = &sleepRecorder{}
	}
	if deps.reg == nil {
		deps.reg = prometheus.NewRegistry()
	}
	policy := retry.DefaultPolicy()
	policy.Sleep = deps.sleeps.sleep

	e, err := New(Options{
		Directory: deps.dir,
		Mailer:    deps.mailer,
		Template:  reminder.NewTemplate("{{LEARNER_NAME}}: {{COURSE_LIST}} -- {{SENDER_NAME}}"),
		Retry:     policy,
		Workers:   deps.workers,
		Metrics:   NewMetrics(deps.reg),
		Logger:    deps.logger,
		Now:       func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return e
}

var actor = domain.Principal{Name: "Dana", Email: "dana@x.com"}

func TestNewRequiresMailerAndTemplate(t *testing.T) {
	_, err := New(Options{Template: reminder.NewTemplate("x")})
	assert.Error(t, err)
	_, err = New(Options{Mailer: &fakeMailer{}})
	assert.Error(t, err)
}

func TestRehearsalNeverSends(t *testing.T) {
	mailer := &fakeMailer{}
	dir := &fakeDirectory{managers: map[string]string{"b@x.com": "dir-boss@x.com"}}
	e := newEngine(t, engineDeps{mailer: mailer, dir: dir})

	out := e.Run(context.Background(), testGroups(), RunOptions{
		DryRun:             true,
		CCResponsibleParty: true,
		UseDirectory:       true,
		Actor:              actor,
	})

	require.Len(t, out, 3)
	assert.Zero(t, mailer.total())
	for i, g := range testGroups() {
		assert.Equal(t, g.Email, out[i].Recipient)
		assert.Equal(t, domain.OutcomeDryRun, out[i].Status)
		assert.Empty(t, out[i].MessageID)
		assert.Equal(t, len(g.Courses), out[i].CourseCount)
		assert.Equal(t, "dana@x.com", out[i].Actor)
		assert.Equal(t, fixedNow, out[i].Timestamp)
	}
	// rehearsal resolves exactly like a live run
	assert.Equal(t, []string{"boss@x.com"}, out[0].CC)
	assert.Equal(t, []string{"dir-boss@x.com"}, out[1].CC)
	assert.Equal(t, []string{}, out[2].CC)
	assert.ElementsMatch(t, []string{"b@x.com", "c@x.com"}, dir.asked)
}

func TestLiveSendAndCCPolicy(t *testing.T) {
	mailer := &fakeMailer{}
	dir := &fakeDirectory{managers: map[string]string{"b@x.com": "dir-boss@x.com"}}
	e := newEngine(t, engineDeps{mailer: mailer, dir: dir})

	// cc off: nobody copied, directory untouched even though it is enabled
	out := e.Run(context.Background(), testGroups(), RunOptions{UseDirectory: true, Subject: "Reminder", Actor: actor})
	require.Len(t, out, 3)
	for _, o := range out {
		assert.Equal(t, domain.OutcomeSent, o.Status)
		assert.Equal(t, "id-"+o.Recipient, o.MessageID)
		assert.Empty(t, o.CC)
	}
	assert.Empty(t, dir.asked)
	assert.Equal(t, 3, mailer.total())

	mailer.mu.Lock()
	for _, m := range mailer.sent {
		assert.Equal(t, "Reminder", m.Subject)
		assert.Empty(t, m.CC)
		assert.Contains(t, m.HTML, "-- Dana")
	}
	mailer.mu.Unlock()

	// cc on without directory: only the roster manager is used
	out = e.Run(context.Background(), testGroups(), RunOptions{CCResponsibleParty: true, Actor: actor})
	assert.Equal(t, []string{"boss@x.com"}, out[0].CC)
	assert.Empty(t, out[1].CC)
	assert.Empty(t, dir.asked)
}

func TestLiveWithOfflineStubIsSimulated(t *testing.T) {
	e := newEngine(t, engineDeps{mailer: offline.New(nil)})

	out := e.Run(context.Background(), testGroups(), RunOptions{Actor: actor})
	require.Len(t, out, 3)
	for _, o := range out {
		assert.Equal(t, domain.OutcomeSimulated, o.Status)
		assert.Empty(t, o.MessageID)
	}
}

func TestFailureIsIsolated(t *testing.T) {
	mailer := &fakeMailer{send: func(attempt int, msg providers.Message) (providers.Delivery, error) {
		if msg.To[0] == "b@x.com" {
			return providers.Delivery{}, &httpx.HTTPError{Method: "POST", StatusCode: http.StatusBadRequest}
		}
		return providers.Delivery{ID: "ok"}, nil
	}}
	sleeps := &sleepRecorder{}
	e := newEngine(t, engineDeps{mailer: mailer, sleeps: sleeps})

	out := e.Run(context.Background(), testGroups(), RunOptions{Actor: actor})
	require.Len(t, out, 3)
	assert.Equal(t, domain.OutcomeSent, out[0].Status)
	assert.Equal(t, "failed:http_400", out[1].Status)
	assert.Empty(t, out[1].MessageID)
	assert.Equal(t, domain.OutcomeSent, out[2].Status)

	// permanent rejection is not retried
	assert.Equal(t, 1, mailer.calls["b@x.com"])
	assert.Empty(t, sleeps.delays)
}

func TestTransientFailureIsRetried(t *testing.T) {
	mailer := &fakeMailer{send: func(attempt int, msg providers.Message) (providers.Delivery, error) {
		if attempt < 3 {
			return providers.Delivery{}, &httpx.HTTPError{StatusCode: http.StatusServiceUnavailable}
		}
		return providers.Delivery{ID: "third-time"}, nil
	}}
	sleeps := &sleepRecorder{}
	e := newEngine(t, engineDeps{mailer: mailer, sleeps: sleeps})

	out := e.Run(context.Background(), testGroups()[:1], RunOptions{Actor: actor})
	require.Len(t, out, 1)
	assert.Equal(t, domain.OutcomeSent, out[0].Status)
	assert.Equal(t, "third-time", out[0].MessageID)
	assert.Equal(t, 3, mailer.calls["a@x.com"])
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.delays)
}

func TestRetryExhaustion(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	mailer := &fakeMailer{send: func(attempt int, msg providers.Message) (providers.Delivery, error) {
		return providers.Delivery{}, errors.New("connection reset by peer")
	}}
	sleeps := &sleepRecorder{}
	e := newEngine(t, engineDeps{mailer: mailer, sleeps: sleeps, logger: zap.New(core)})

	out := e.Run(context.Background(), testGroups()[1:2], RunOptions{Actor: actor})
	require.Len(t, out, 1)
	assert.Equal(t, "failed:connection reset by peer", out[0].Status)
	assert.Equal(t, 5, mailer.calls["b@x.com"])
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, sleeps.delays)

	assert.Equal(t, 5, logs.FilterMessage("send attempt failed").Len())
	failed := logs.FilterMessage("send failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "b***@x.com", failed[0].ContextMap()["recipient"])
}

func TestCancelledBeforeRun(t *testing.T) {
	mailer := &fakeMailer{}
	e := newEngine(t, engineDeps{mailer: mailer})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := e.Run(ctx, testGroups(), RunOptions{Actor: actor})
	require.Len(t, out, 3)
	for i, o := range out {
		assert.Equal(t, testGroups()[i].Email, o.Recipient)
		assert.Equal(t, "failed:cancelled", o.Status)
	}
	assert.Zero(t, mailer.total())
}

func TestCancelledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mailer := &fakeMailer{send: func(attempt int, msg providers.Message) (providers.Delivery, error) {
		cancel()
		return providers.Delivery{ID: "first"}, nil
	}}
	e := newEngine(t, engineDeps{mailer: mailer, workers: 1})

	out := e.Run(ctx, testGroups(), RunOptions{Actor: actor})
	require.Len(t, out, 3)
	assert.Equal(t, domain.OutcomeSent, out[0].Status)
	assert.Equal(t, "failed:cancelled", out[1].Status)
	assert.Equal(t, "failed:cancelled", out[2].Status)
	assert.Equal(t, 1, mailer.total())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mailer := &fakeMailer{send: func(attempt int, msg providers.Message) (providers.Delivery, error) {
		if msg.To[0] == "c@x.com" {
			return providers.Delivery{}, &httpx.HTTPError{StatusCode: http.StatusForbidden}
		}
		return providers.Delivery{ID: "x"}, nil
	}}
	e := newEngine(t, engineDeps{mailer: mailer, reg: reg})

	e.Run(context.Background(), testGroups(), RunOptions{CCResponsibleParty: true, Actor: actor})

	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.outcomes.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.outcomes.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.sendAttempts.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.sendAttempts.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.lookups.WithLabelValues("found")))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.lookups.WithLabelValues("absent")))
}

func TestFailureReason(t *testing.T) {
	live := context.Background()
	cases := []struct {
		err  error
		want string
	}{
		{context.Canceled, "cancelled"},
		{retry.Permanent(fmt.Errorf("%w: rate: Wait(n=1) would exceed context deadline", errRunEnding)), "cancelled"},
		{&retry.ExhaustedError{Attempts: 5, Err: &httpx.HTTPError{StatusCode: 503}}, "http_503"},
		{&retry.ExhaustedError{Attempts: 5, Err: errors.New("dial tcp:\n  refused")}, "dial tcp: refused"},
		{&retry.ExhaustedError{Attempts: 5, Err: context.DeadlineExceeded}, "context deadline exceeded"},
		{errors.New("plain"), "plain"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, failureReason(live, tc.err))
	}

	done, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, "cancelled", failureReason(done, errors.New("post: connection reset")))
}

func TestRequestTimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-time.After(300 * time.Millisecond):
			case <-r.Context().Done():
			}
			return
		}
		w.Header().Set("request-id", "req-2")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := graph.New(context.Background(), graph.Options{
		BaseURL: srv.URL,
		Token:   "token",
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	sleeps := &sleepRecorder{}
	e := newEngine(t, engineDeps{mailer: client, sleeps: sleeps})

	out := e.Run(context.Background(), testGroups()[:1], RunOptions{Actor: actor})
	require.Len(t, out, 1)
	assert.Equal(t, domain.OutcomeSent, out[0].Status)
	assert.Equal(t, "req-2", out[0].MessageID)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{time.Second}, sleeps.delays)
}

func TestRateLimitWaitPastDeadlineIsCancelled(t *testing.T) {
	mailer := &fakeMailer{}
	policy := retry.DefaultPolicy()
	policy.Sleep = (&sleepRecorder{}).sleep
	e, err := New(Options{
		Mailer:         mailer,
		Template:       reminder.NewTemplate("{{COURSE_LIST}}"),
		Retry:          policy,
		Workers:        2,
		SendRatePerMin: 1,
		Now:            func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	out := e.Run(ctx, testGroups()[:2], RunOptions{Actor: actor})
	require.Len(t, out, 2)

	statuses := []string{out[0].Status, out[1].Status}
	assert.ElementsMatch(t, []string{domain.OutcomeSent, domain.FailedStatus("cancelled")}, statuses)
	assert.Equal(t, 1, mailer.total())
}
