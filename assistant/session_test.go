package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askdan/utils"
)

// fakeTransport scripts the remote API. GetRun walks statuses and then keeps
// returning the last one.
type fakeTransport struct {
	mu sync.Mutex

	statuses []Status
	replies  []RemoteMessage
	failOp   string
	stallOp  string        // this call waits for its deadline
	block    chan struct{} // GetRun waits on it when set

	threads int
	added   []Input
	runs    int
	polls   int
}

func (f *fakeTransport) fail(op string) error {
	if f.failOp == op {
		return fmt.Errorf("%s: connection reset", op)
	}
	return nil
}

func (f *fakeTransport) stall(ctx context.Context, op string) error {
	if f.stallOp != op {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeTransport) CreateThread(ctx context.Context) (string, error) {
	if err := f.stall(ctx, "create thread"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("create thread"); err != nil {
		return "", err
	}
	f.threads++
	return fmt.Sprintf("thread_%d", f.threads), nil
}

func (f *fakeTransport) AddMessage(ctx context.Context, threadID string, in Input) error {
	if err := f.stall(ctx, "add message"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("add message"); err != nil {
		return err
	}
	f.added = append(f.added, in)
	return nil
}

func (f *fakeTransport) CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error) {
	if err := f.stall(ctx, "create run"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("create run"); err != nil {
		return nil, err
	}
	f.runs++
	return &Run{ID: fmt.Sprintf("run_%d", f.runs), Status: StatusQueued}, nil
}

func (f *fakeTransport) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	if err := f.stall(ctx, "get run"); err != nil {
		return nil, err
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("get run"); err != nil {
		return nil, err
	}
	status := StatusCompleted
	if len(f.statuses) > 0 {
		i := f.polls
		if i >= len(f.statuses) {
			i = len(f.statuses) - 1
		}
		status = f.statuses[i]
	}
	f.polls++
	return &Run{ID: runID, Status: status, LastError: "rate limited"}, nil
}

func (f *fakeTransport) ListMessages(ctx context.Context, threadID string) ([]RemoteMessage, error) {
	if err := f.stall(ctx, "list messages"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("list messages"); err != nil {
		return nil, err
	}
	return f.replies, nil
}

func (f *fakeTransport) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	return "file_" + name, f.fail("upload")
}

func (f *fakeTransport) ListAssistants(ctx context.Context) ([]Profile, error) {
	return []Profile{{ID: "asst_1", Name: "Dan", Model: "gpt-4o"}}, f.fail("list assistants")
}

type fakeBinder struct {
	mu       sync.Mutex
	bindings map[int64]string
	err      error
}

func (b *fakeBinder) BindSession(chatID int64, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	if b.bindings == nil {
		b.bindings = make(map[int64]string)
	}
	if current, ok := b.bindings[chatID]; ok && current != sessionID {
		return errors.New("already bound")
	}
	b.bindings[chatID] = sessionID
	return nil
}

func testConfig() Config {
	return Config{
		APIKey:         "sk-test",
		Organization:   "org-test",
		AssistantID:    "asst_1",
		RequestTimeout: time.Second,
		PollInterval:   time.Millisecond,
		MaxPolls:       5,
	}
}

func newTestClient(transport Transport, binder Binder) *Client {
	return NewClient(transport, binder, testConfig(), utils.NewDiscardLogger())
}

func TestExchange_NewChatBindsSession(t *testing.T) {
	transport := &fakeTransport{
		statuses: []Status{StatusQueued, StatusInProgress, StatusCompleted},
		replies: []RemoteMessage{
			{Role: RoleUser, CreatedAt: 10, Text: "hello"},
			{Role: RoleAssistant, RunID: "run_1", CreatedAt: 11, Text: "Hi! How can I help?"},
		},
	}
	binder := &fakeBinder{}
	client := newTestClient(transport, binder)

	reply, err := client.Exchange(context.Background(), 7, "", Input{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Hi! How can I help?", reply.Text)
	assert.Equal(t, "thread_1", reply.SessionID)
	assert.Equal(t, "run_1", reply.RunID)
	assert.Equal(t, "thread_1", binder.bindings[7])
	assert.Equal(t, 3, transport.polls)

	session, ok := client.Session(7)
	require.True(t, ok)
	assert.Equal(t, StateCompleted, session.State)
	assert.Equal(t, 3, session.Polls)
}

func TestExchange_ReusesBinding(t *testing.T) {
	transport := &fakeTransport{}
	binder := &fakeBinder{bindings: map[int64]string{3: "thread_S"}}
	client := newTestClient(transport, binder)

	for i := 0; i < 3; i++ {
		reply, err := client.Exchange(context.Background(), 3, "thread_S", Input{Text: "again"})
		require.NoError(t, err)
		assert.Equal(t, "thread_S", reply.SessionID)
	}
	assert.Zero(t, transport.threads)
	assert.Equal(t, "thread_S", binder.bindings[3])
	assert.Len(t, transport.added, 3)
}

func TestExchange_SeparateSessionsPerChat(t *testing.T) {
	transport := &fakeTransport{}
	binder := &fakeBinder{}
	client := newTestClient(transport, binder)

	_, err := client.Exchange(context.Background(), 1, "", Input{Text: "a"})
	require.NoError(t, err)
	_, err = client.Exchange(context.Background(), 2, "", Input{Text: "b"})
	require.NoError(t, err)

	assert.Equal(t, "thread_1", binder.bindings[1])
	assert.Equal(t, "thread_2", binder.bindings[2])
}

func TestExchange_EmptyInputSkipsSubmission(t *testing.T) {
	transport := &fakeTransport{}
	client := newTestClient(transport, &fakeBinder{})

	reply, err := client.Exchange(context.Background(), 1, "thread_S", Input{})
	require.NoError(t, err)
	assert.Empty(t, reply.Text)
	assert.Empty(t, transport.added)
	assert.Zero(t, transport.runs)
}

func TestExchange_SubmitsFileHandles(t *testing.T) {
	transport := &fakeTransport{}
	client := newTestClient(transport, &fakeBinder{})

	_, err := client.Exchange(context.Background(), 1, "thread_S", Input{Files: []string{"file_b", "file_a"}})
	require.NoError(t, err)
	require.Len(t, transport.added, 1)
	assert.Equal(t, []string{"file_b", "file_a"}, transport.added[0].Files)
	assert.Empty(t, transport.added[0].Text)
}

func TestExchange_RunFailureStatuses(t *testing.T) {
	for _, status := range []Status{StatusFailed, StatusCancelled, StatusExpired, StatusIncomplete} {
		t.Run(string(status), func(t *testing.T) {
			transport := &fakeTransport{statuses: []Status{StatusInProgress, status}}
			client := newTestClient(transport, &fakeBinder{})

			reply, err := client.Exchange(context.Background(), 1, "thread_S", Input{Text: "hi"})
			assert.Nil(t, reply)
			require.ErrorIs(t, err, ErrRun)

			var runErr *RunError
			require.ErrorAs(t, err, &runErr)
			assert.Equal(t, status, runErr.Status)
			assert.False(t, runErr.TimedOut())

			session, _ := client.Session(1)
			assert.Equal(t, StateFailed, session.State)
		})
	}
}

func TestExchange_PollCeiling(t *testing.T) {
	transport := &fakeTransport{statuses: []Status{StatusInProgress}}
	client := newTestClient(transport, &fakeBinder{})

	_, err := client.Exchange(context.Background(), 1, "thread_S", Input{Text: "hi"})
	require.ErrorIs(t, err, ErrRun)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.True(t, runErr.TimedOut())
	assert.Equal(t, 5, runErr.Polls)
	assert.Equal(t, 5, transport.polls)
}

func TestExchange_TransportFailures(t *testing.T) {
	for _, op := range []string{"create thread", "add message", "create run", "get run", "list messages"} {
		t.Run(op, func(t *testing.T) {
			transport := &fakeTransport{failOp: op}
			binder := &fakeBinder{}
			client := newTestClient(transport, binder)

			_, err := client.Exchange(context.Background(), 1, "", Input{Text: "hi"})
			require.ErrorIs(t, err, ErrTransport)

			var transportErr *TransportError
			require.ErrorAs(t, err, &transportErr)
			assert.Equal(t, op, transportErr.Op)

			if op == "create thread" {
				assert.Empty(t, binder.bindings)
			}
		})
	}
}

func TestExchange_CallDeadlineIsTransportFailure(t *testing.T) {
	for _, op := range []string{"create thread", "add message", "get run", "list messages"} {
		t.Run(op, func(t *testing.T) {
			transport := &fakeTransport{stallOp: op, statuses: []Status{StatusInProgress, StatusCompleted}}
			config := testConfig()
			config.RequestTimeout = 50 * time.Millisecond
			client := NewClient(transport, &fakeBinder{}, config, utils.NewDiscardLogger())

			start := time.Now()
			_, err := client.Exchange(context.Background(), 1, "", Input{Text: "hi"})
			elapsed := time.Since(start)

			require.ErrorIs(t, err, ErrTransport)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			var transportErr *TransportError
			require.ErrorAs(t, err, &transportErr)
			assert.Equal(t, op, transportErr.Op)

			assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
			assert.Less(t, elapsed, 5*time.Second)

			session, ok := client.Session(1)
			require.True(t, ok)
			assert.Equal(t, StateFailed, session.State)
		})
	}
}

func TestExchange_DeadlineIsPerCall(t *testing.T) {
	// Each poll is fast but all of them together outlast one deadline
	transport := &fakeTransport{statuses: []Status{
		StatusQueued, StatusInProgress, StatusInProgress, StatusInProgress, StatusCompleted,
	}}
	config := testConfig()
	config.RequestTimeout = 30 * time.Millisecond
	config.PollInterval = 15 * time.Millisecond
	config.MaxPolls = 10
	client := NewClient(transport, &fakeBinder{}, config, utils.NewDiscardLogger())

	_, err := client.Exchange(context.Background(), 1, "", Input{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 5, transport.polls)
}

func TestExchange_RetryAfterFailureKeepsSession(t *testing.T) {
	transport := &fakeTransport{failOp: "create run"}
	binder := &fakeBinder{}
	client := newTestClient(transport, binder)

	_, err := client.Exchange(context.Background(), 1, "", Input{Text: "hi"})
	require.ErrorIs(t, err, ErrTransport)
	require.Equal(t, "thread_1", binder.bindings[1])

	transport.failOp = ""
	reply, err := client.Exchange(context.Background(), 1, binder.bindings[1], Input{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "thread_1", reply.SessionID)
	assert.Equal(t, 1, transport.threads)
}

func TestExchange_BindFailure(t *testing.T) {
	transport := &fakeTransport{}
	client := newTestClient(transport, &fakeBinder{err: errors.New("disk full")})

	_, err := client.Exchange(context.Background(), 1, "", Input{Text: "hi"})
	require.Error(t, err)
	assert.Empty(t, transport.added)
}

func TestExchange_MissingConfiguration(t *testing.T) {
	config := testConfig()
	config.Organization = ""
	config.AssistantID = ""
	client := NewClient(&fakeTransport{}, &fakeBinder{}, config, utils.NewDiscardLogger())

	_, err := client.Exchange(context.Background(), 1, "", Input{Text: "hi"})
	require.ErrorIs(t, err, ErrConfiguration)

	var configErr *ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, []string{"organization", "assistant_id"}, configErr.Missing)
}

func TestExchange_CancelDiscardsSession(t *testing.T) {
	transport := &fakeTransport{block: make(chan struct{})}
	client := newTestClient(transport, &fakeBinder{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.Exchange(ctx, 1, "thread_S", Input{Text: "hi"})
		done <- err
	}()

	require.Eventually(t, func() bool {
		s, ok := client.Session(1)
		return ok && s.State == StatePolling
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("exchange did not stop after cancel")
	}

	_, ok := client.Session(1)
	assert.False(t, ok)
}

func TestExchange_ConcurrentSameChatRejected(t *testing.T) {
	transport := &fakeTransport{block: make(chan struct{})}
	client := newTestClient(transport, &fakeBinder{})

	done := make(chan error, 1)
	go func() {
		_, err := client.Exchange(context.Background(), 1, "thread_S", Input{Text: "first"})
		done <- err
	}()
	require.Eventually(t, func() bool {
		s, ok := client.Session(1)
		return ok && s.State == StatePolling
	}, time.Second, time.Millisecond)

	_, err := client.Exchange(context.Background(), 1, "thread_S", Input{Text: "second"})
	assert.ErrorIs(t, err, ErrSessionBusy)

	close(transport.block)
	require.NoError(t, <-done)
}

func TestProfiles(t *testing.T) {
	client := newTestClient(&fakeTransport{}, &fakeBinder{})

	profiles, err := client.Profiles(context.Background())
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "Dan", profiles[0].Name)

	config := testConfig()
	config.APIKey = ""
	client = NewClient(&fakeTransport{}, &fakeBinder{}, config, utils.NewDiscardLogger())
	_, err = client.Profiles(context.Background())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestLatestAssistantText(t *testing.T) {
	tests := []struct {
		name     string
		messages []RemoteMessage
		runID    string
		want     string
	}{
		{
			name: "newest assistant by creation time, not list position",
			messages: []RemoteMessage{
				{Role: RoleAssistant, CreatedAt: 5, Text: "older"},
				{Role: RoleUser, CreatedAt: 9, Text: "question"},
				{Role: RoleAssistant, CreatedAt: 12, Text: "newer"},
				{Role: RoleAssistant, CreatedAt: 8, Text: "middle"},
			},
			want: "newer",
		},
		{
			name: "message of the current run wins",
			messages: []RemoteMessage{
				{Role: RoleAssistant, RunID: "run_old", CreatedAt: 20, Text: "stale"},
				{Role: RoleAssistant, RunID: "run_new", CreatedAt: 20, Text: "fresh"},
			},
			runID: "run_new",
			want:  "fresh",
		},
		{
			name:     "no assistant message",
			messages: []RemoteMessage{{Role: RoleUser, CreatedAt: 1, Text: "hello"}},
			want:     "",
		},
		{
			name: "empty list",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, latestAssistantText(tt.messages, tt.runID))
		})
	}
}
