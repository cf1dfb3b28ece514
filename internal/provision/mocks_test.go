package provision_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"jido/internal/cloudapi"
	"jido/internal/control"
	"jido/internal/keymanager"
)

// scriptedAPI implements cloudapi.Client with per-method hooks plus call
// recording, in the spirit of the hand-written mocks used elsewhere in the
// codebase.
type scriptedAPI struct {
	mu sync.Mutex

	CreateServerFn func(opts cloudapi.CreateServerOpts) (*cloudapi.Server, error)
	GetServerFn    func(id int64) (*cloudapi.Server, error)
	DeleteServerFn func(id int64) error
	ListServersFn  func(selector string) ([]cloudapi.Server, error)

	createOpts    []cloudapi.CreateServerOpts
	getCalls      int
	deleteCalls   int
	listSelectors []string
}

func (s *scriptedAPI) CreateServer(ctx context.Context, opts cloudapi.CreateServerOpts) (*cloudapi.Server, error) {
	s.mu.Lock()
	s.createOpts = append(s.createOpts, opts)
	s.mu.Unlock()
	if s.CreateServerFn == nil {
		return &cloudapi.Server{ID: 1, Name: opts.Name, Status: cloudapi.StatusInitializing}, nil
	}
	return s.CreateServerFn(opts)
}

func (s *scriptedAPI) GetServer(ctx context.Context, id int64) (*cloudapi.Server, error) {
	s.mu.Lock()
	s.getCalls++
	s.mu.Unlock()
	if s.GetServerFn == nil {
		return nil, errors.New("GetServerFn not scripted")
	}
	return s.GetServerFn(id)
}

func (s *scriptedAPI) DeleteServer(ctx context.Context, id int64) error {
	s.mu.Lock()
	s.deleteCalls++
	s.mu.Unlock()
	if s.DeleteServerFn == nil {
		return nil
	}
	return s.DeleteServerFn(id)
}

func (s *scriptedAPI) ListServers(ctx context.Context, selector string) ([]cloudapi.Server, error) {
	s.mu.Lock()
	s.listSelectors = append(s.listSelectors, selector)
	s.mu.Unlock()
	if s.ListServersFn == nil {
		return nil, nil
	}
	return s.ListServersFn(selector)
}

func (s *scriptedAPI) CreateSSHKey(ctx context.Context, name, publicKey string, labels map[string]string) (*cloudapi.SSHKey, error) {
	return nil, errors.New("not scripted")
}

func (s *scriptedAPI) SSHKeyByName(ctx context.Context, name string) (*cloudapi.SSHKey, error) {
	return nil, errors.New("not scripted")
}

func (s *scriptedAPI) DeleteSSHKey(ctx context.Context, id int64) error {
	return errors.New("not scripted")
}

// statusSequence scripts GetServer to walk a status list, holding the last
// entry forever.
func statusSequence(servers ...cloudapi.Server) func(int64) (*cloudapi.Server, error) {
	i := 0
	return func(id int64) (*cloudapi.Server, error) {
		s := servers[i]
		if i < len(servers)-1 {
			i++
		}
		s.ID = id
		return &s, nil
	}
}

// fakeKeys implements provision.KeyManager
type fakeKeys struct {
	key        *keymanager.SecuredKey
	ensureErr  error
	cleanupErr error

	ensureCalls  int
	cleanupCalls []keymanager.CleanupStrategy
}

func (f *fakeKeys) Ensure(ctx context.Context, strategy keymanager.Strategy) (*keymanager.SecuredKey, error) {
	f.ensureCalls++
	if f.ensureErr != nil {
		return nil, f.ensureErr
	}
	if f.key != nil {
		return f.key, nil
	}
	return &keymanager.SecuredKey{KeyID: 77, PrivateKey: "PRIVATE", Cleanup: keymanager.CleanupShared}, nil
}

func (f *fakeKeys) MaybeCleanup(ctx context.Context, keyID int64, cleanup keymanager.CleanupStrategy) error {
	f.cleanupCalls = append(f.cleanupCalls, cleanup)
	return f.cleanupErr
}

// fakeAgent implements control.Agent
type fakeAgent struct {
	startErr error
	mkdirErr error
	stopErr  error

	startedWorkspaces []string
	startedParams     []control.ConnectParams
	mkdirPaths        []string
	runCommands       []string
	stopped           []string
}

func (f *fakeAgent) Start(workspaceID string, params control.ConnectParams) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.startedWorkspaces = append(f.startedWorkspaces, workspaceID)
	f.startedParams = append(f.startedParams, params)
	return "session-1", nil
}

func (f *fakeAgent) Run(sessionID, command string, timeout time.Duration) (string, error) {
	f.runCommands = append(f.runCommands, command)
	return "", nil
}

func (f *fakeAgent) MkdirAll(sessionID, path string) error {
	if f.mkdirErr != nil {
		return f.mkdirErr
	}
	f.mkdirPaths = append(f.mkdirPaths, path)
	return nil
}

func (f *fakeAgent) WriteFile(sessionID, path, content string) error {
	return nil
}

func (f *fakeAgent) Stop(sessionID string) error {
	f.stopped = append(f.stopped, sessionID)
	return f.stopErr
}

// fakeDialer implements control.Dialer, failing a scripted number of probes
// before succeeding.
type fakeDialer struct {
	failures int

	attempts int
	closed   int
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

func (f *fakeDialer) Connect(params control.ConnectParams, timeout time.Duration) (io.Closer, error) {
	f.attempts++
	if f.attempts <= f.failures {
		return nil, errors.New("connection refused")
	}
	return closerFunc(func() error {
		f.closed++
		return nil
	}), nil
}

func notFoundErr() error {
	return &cloudapi.APIError{Kind: cloudapi.ErrNotFound, StatusCode: 404, Body: `{"error":{"code":"not_found"}}`}
}
