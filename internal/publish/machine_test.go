package publish

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type scheduledTask struct {
	at   time.Time
	task Task
}

type manualScheduler struct {
	mu    sync.Mutex
	tasks map[string]scheduledTask
	calls int
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{tasks: make(map[string]scheduledTask)}
}

func (s *manualScheduler) Schedule(clipID string, at time.Time, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[clipID] = scheduledTask{at: at, task: task}
	s.calls++
}

func (s *manualScheduler) get(clipID string) (scheduledTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[clipID]
	return st, ok
}

func (s *manualScheduler) fire(ctx context.Context, clipID string) {
	st, ok := s.get(clipID)
	if ok {
		st.task(ctx, clipID)
	}
}

type fakeUploader struct {
	mu         sync.Mutex
	uploads    int
	errs       []error
	flipErr    error
	visibility map[string]Visibility
}

func newFakeUploader(errs ...error) *fakeUploader {
	return &fakeUploader{errs: errs, visibility: make(map[string]Visibility)}
}

func (u *fakeUploader) Upload(_ context.Context, req UploadRequest) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploads++
	if len(u.errs) > 0 {
		err := u.errs[0]
		u.errs = u.errs[1:]
		if err != nil {
			return "", err
		}
	}
	remote := fmt.Sprintf("remote-%d", u.uploads)
	u.visibility[remote] = req.Visibility
	return remote, nil
}

func (u *fakeUploader) SetVisibility(_ context.Context, remoteID string, v Visibility) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.flipErr != nil {
		return u.flipErr
	}
	u.visibility[remoteID] = v
	return nil
}

func (u *fakeUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.uploads
}

type fakeClaims struct {
	mu     sync.Mutex
	status ClaimStatus
	err    error
	calls  int
}

func (c *fakeClaims) Check(context.Context, string) (ClaimStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.status, c.err
}

type harness struct {
	machine   *Machine
	store     Store
	uploader  *fakeUploader
	claims    *fakeClaims
	scheduler *manualScheduler
	clock     *fakeClock
	sleeps    []time.Duration
	seen      []Transition
}

func newHarness(t *testing.T, cfg Config, store Store, uploader *fakeUploader) *harness {
	t.Helper()
	if store == nil {
		store = NewMemoryStore()
	}
	if uploader == nil {
		uploader = newFakeUploader()
	}
	h := &harness{
		store:     store,
		uploader:  uploader,
		claims:    &fakeClaims{status: ClaimClean},
		scheduler: newManualScheduler(),
		clock:     newFakeClock(),
	}
	var mu sync.Mutex
	h.machine = NewMachine(zerolog.Nop(), cfg, store, uploader, h.claims, h.scheduler,
		WithClock(h.clock.Now),
		WithSleep(func(_ context.Context, d time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			h.sleeps = append(h.sleeps, d)
			return nil
		}),
		WithObserver(ObserverFunc(func(_ Record, tr Transition) {
			mu.Lock()
			defer mu.Unlock()
			h.seen = append(h.seen, tr)
		})),
	)
	return h
}

func enabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	return cfg
}

func testRequest() Request {
	return Request{ClipID: "clip-1", VideoID: "vid-1", Creator: "alice", Title: "Big play", Artifact: "/tmp/clip-1.mp4"}
}

func states(rec Record) []State {
	out := make([]State, 0, len(rec.History))
	for _, tr := range rec.History {
		out = append(out, tr.To)
	}
	return out
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateRendered, StateUploading, true},
		{StateRendered, StatePublic, false},
		{StateUploading, StateUploadedUnlisted, true},
		{StateUploadedUnlisted, StateClaimPending, true},
		{StateClaimPending, StatePublic, true},
		{StateClaimPending, StateClaimed, true},
		{StateClaimPending, StateStruck, true},
		{StateClaimPending, StateFailed, true},
		{StateClaimed, StatePublic, false},
		{StateStruck, StatePublic, false},
		{StatePublic, StateFailed, false},
		{StateFailed, StateUploading, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
	for _, s := range []State{StatePublic, StateClaimed, StateStruck, StateFailed} {
		assert.True(t, s.Terminal(), s)
	}
}

func TestSubmitUploadsUnlistedAndSchedulesClaimCheck(t *testing.T) {
	h := newHarness(t, enabledConfig(), nil, nil)
	start := h.clock.Now()

	rec, err := h.machine.Submit(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, StateClaimPending, rec.State)
	assert.Equal(t, VisibilityUnlisted, rec.Visibility)
	assert.Equal(t, ClaimUnknown, rec.ClaimStatus)
	assert.Equal(t, "remote-1", rec.RemoteVideoID)
	require.NotNil(t, rec.ScheduledFlipAt)
	assert.Equal(t, start.Add(24*time.Hour), *rec.ScheduledFlipAt)
	assert.Equal(t, []State{StateRendered, StateUploading, StateUploadedUnlisted, StateClaimPending}, states(rec))
	assert.Len(t, h.seen, 4)

	st, ok := h.scheduler.get("clip-1")
	require.True(t, ok)
	assert.Equal(t, start.Add(24*time.Hour), st.at)
}

func TestSubmitIsIdempotent(t *testing.T) {
	h := newHarness(t, enabledConfig(), nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.machine.Submit(ctx, testRequest())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.uploader.count(), "exactly one caller uploads")
	rec, err := h.machine.Submit(ctx, testRequest())
	require.NoError(t, err)
	assert.Equal(t, StateClaimPending, rec.State)
	assert.Equal(t, 1, h.uploader.count())

	all, _ := h.store.List(ctx)
	assert.Len(t, all, 1)
}

func TestSubmitSafeMode(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, nil)

	rec, err := h.machine.Submit(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, StateRendered, rec.State)
	assert.Equal(t, 0, h.uploader.count())
	assert.False(t, h.machine.Enabled())
}

func TestSubmitRequiresArtifact(t *testing.T) {
	h := newHarness(t, enabledConfig(), nil, nil)
	req := testRequest()
	req.Artifact = ""
	_, err := h.machine.Submit(context.Background(), req)
	assert.Error(t, err)
}

func TestUploadRetriesTransientWithBackoff(t *testing.T) {
	transient := &UploadError{ClipID: "clip-1", Transient: true, Err: errors.New("503")}
	h := newHarness(t, enabledConfig(), nil, newFakeUploader(transient, transient))

	rec, err := h.machine.Submit(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, StateClaimPending, rec.State)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second}, h.sleeps)
}

func TestUploadFailures(t *testing.T) {
	transient := &UploadError{ClipID: "clip-1", Transient: true, Err: errors.New("timeout")}
	permanent := &UploadError{ClipID: "clip-1", Transient: false, Err: errors.New("quota exceeded")}

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
	}{
		{"transient exhaustion", []error{transient, transient, transient}, 3},
		{"permanent", []error{permanent}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, enabledConfig(), nil, newFakeUploader(tt.errs...))

			rec, err := h.machine.Submit(context.Background(), testRequest())
			var uploadErr *UploadError
			require.True(t, errors.As(err, &uploadErr))
			assert.Equal(t, StateFailed, rec.State)
			assert.NotEmpty(t, rec.Error)
			assert.Equal(t, tt.wantCalls, h.uploader.count())

			_, ok := h.scheduler.get("clip-1")
			assert.False(t, ok)

			again, err := h.machine.Submit(context.Background(), testRequest())
			require.NoError(t, err)
			assert.Equal(t, StateFailed, again.State, "failed records are terminal")
			assert.Equal(t, tt.wantCalls, h.uploader.count())
		})
	}
}

func TestClaimCheckCleanGoesPublic(t *testing.T) {
	h := newHarness(t, enabledConfig(), nil, nil)
	ctx := context.Background()
	_, err := h.machine.Submit(ctx, testRequest())
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)
	h.scheduler.fire(ctx, "clip-1")

	rec, err := h.store.Get(ctx, "clip-1")
	require.NoError(t, err)
	assert.Equal(t, StatePublic, rec.State)
	assert.Equal(t, VisibilityPublic, rec.Visibility)
	assert.Equal(t, ClaimClean, rec.ClaimStatus)
	assert.Equal(t, VisibilityPublic, h.uploader.visibility["remote-1"])

	// redelivery is a no-op
	again, err := h.machine.HandleClaimCheck(ctx, "clip-1")
	require.NoError(t, err)
	assert.Equal(t, StatePublic, again.State)
	assert.Equal(t, 1, h.claims.calls)
}

func TestClaimCheckEarlyDeliveryReschedules(t *testing.T) {
	h := newHarness(t, enabledConfig(), nil, nil)
	ctx := context.Background()
	_, err := h.machine.Submit(ctx, testRequest())
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	rec, err := h.machine.HandleClaimCheck(ctx, "clip-1")
	require.NoError(t, err)
	assert.Equal(t, StateClaimPending, rec.State)
	assert.Equal(t, 0, h.claims.calls)
	assert.Equal(t, 2, h.scheduler.calls)
}

func TestClaimedClipsNeverGoPublic(t *testing.T) {
	for _, status := range []ClaimStatus{ClaimClaimed, ClaimStruck} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t, enabledConfig(), nil, nil)
			h.claims.status = status
			ctx := context.Background()
			_, err := h.machine.Submit(ctx, testRequest())
			require.NoError(t, err)

			h.clock.Advance(25 * time.Hour)
			rec, err := h.machine.HandleClaimCheck(ctx, "clip-1")
			require.NoError(t, err)

			assert.Equal(t, State(status), rec.State)
			assert.Equal(t, status, rec.ClaimStatus)
			assert.Equal(t, VisibilityUnlisted, rec.Visibility)
			assert.Equal(t, VisibilityUnlisted, h.uploader.visibility["remote-1"])
		})
	}
}

func TestClaimCheckRetriesThenExhausts(t *testing.T) {
	cfg := enabledConfig()
	cfg.ClaimAttempts = 2
	h := newHarness(t, cfg, nil, nil)
	h.claims.err = errors.New("api unavailable")
	ctx := context.Background()
	_, err := h.machine.Submit(ctx, testRequest())
	require.NoError(t, err)
	h.clock.Advance(24 * time.Hour)

	rec, err := h.machine.HandleClaimCheck(ctx, "clip-1")
	var checkErr *ClaimCheckError
	require.True(t, errors.As(err, &checkErr))
	assert.Equal(t, 1, rec.ClaimAttempts)
	st, _ := h.scheduler.get("clip-1")
	assert.Equal(t, h.clock.Now().Add(cfg.ClaimRetry), st.at)

	h.clock.Advance(cfg.ClaimRetry)
	rec, err = h.machine.HandleClaimCheck(ctx, "clip-1")
	require.True(t, errors.As(err, &checkErr))
	assert.Equal(t, 2, rec.ClaimAttempts)
	assert.Equal(t, StateClaimPending, rec.State)
	assert.Equal(t, ClaimUnknown, rec.ClaimStatus)
	assert.Equal(t, VisibilityUnlisted, rec.Visibility)
	assert.NotEmpty(t, rec.Error)
	assert.Equal(t, 2, h.scheduler.calls, "no reschedule after exhaustion")
}

func TestVisibilityFlipFailureRetries(t *testing.T) {
	h := newHarness(t, enabledConfig(), nil, nil)
	h.uploader.flipErr = errors.New("403")
	ctx := context.Background()
	_, err := h.machine.Submit(ctx, testRequest())
	require.NoError(t, err)
	h.clock.Advance(24 * time.Hour)

	rec, err := h.machine.HandleClaimCheck(ctx, "clip-1")
	assert.Error(t, err)
	assert.Equal(t, StateClaimPending, rec.State)
	assert.Equal(t, VisibilityUnlisted, rec.Visibility)

	h.uploader.flipErr = nil
	h.clock.Advance(time.Hour)
	rec, err = h.machine.HandleClaimCheck(ctx, "clip-1")
	require.NoError(t, err)
	assert.Equal(t, StatePublic, rec.State)
}

func TestResumeAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "publish.json")
	ctx := context.Background()

	store, err := OpenFileStore(path)
	require.NoError(t, err)
	h := newHarness(t, enabledConfig(), store, nil)
	_, err = h.machine.Submit(ctx, testRequest())
	require.NoError(t, err)
	_, _, err = store.Create(ctx, Record{ClipID: "clip-2", State: StateUploading, Artifact: "/tmp/clip-2.mp4"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	h2 := newHarness(t, enabledConfig(), reopened, nil)

	n, err := h2.machine.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := h2.scheduler.get("clip-1")
	assert.True(t, ok)

	interrupted, err := reopened.Get(ctx, "clip-2")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, interrupted.State)
	assert.Equal(t, "upload interrupted", interrupted.Error)

	h2.clock.Advance(48 * time.Hour)
	h2.scheduler.fire(ctx, "clip-1")
	rec, _ := reopened.Get(ctx, "clip-1")
	assert.Equal(t, StatePublic, rec.State)
	assert.Equal(t, 0, h2.uploader.count(), "resume never re-uploads")
}

func TestSubmitPendingAfterSafeMode(t *testing.T) {
	ctx := context.Background()
	safe := newHarness(t, DefaultConfig(), nil, nil)
	_, err := safe.machine.Submit(ctx, testRequest())
	require.NoError(t, err)
	second := testRequest()
	second.ClipID = "clip-2"
	_, err = safe.machine.Submit(ctx, second)
	require.NoError(t, err)

	n, err := safe.machine.SubmitPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "safe mode submits nothing")

	live := newHarness(t, enabledConfig(), safe.store, nil)
	n, err = live.machine.SubmitPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, live.uploader.count())

	for _, id := range []string{"clip-1", "clip-2"} {
		rec, err := live.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StateClaimPending, rec.State)
		_, ok := live.scheduler.get(id)
		assert.True(t, ok)
	}

	n, err = live.machine.SubmitPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, live.uploader.count())
}
