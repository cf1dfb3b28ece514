package provision_test

import (
	"context"
	"errors"
	"time"

	"jido/internal/cloudapi"
	"jido/internal/keymanager"
	"jido/internal/provision"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func testConfig() provision.Config {
	return provision.Config{
		Token:             "test-token",
		ServerType:        "cx22",
		Image:             "ubuntu-24.04",
		Region:            "fsn1",
		KeyStrategy:       keymanager.Shared{Name: "jido-shared"},
		WorkspaceBase:     "/work",
		ServerBootTimeout: 100 * time.Millisecond,
		SSHTimeout:        100 * time.Millisecond,
		BootPollInterval:  time.Millisecond,
		SSHPollInterval:   time.Millisecond,
	}
}

var _ = Describe("Provision", func() {
	var (
		api    *scriptedAPI
		keys   *fakeKeys
		agent  *fakeAgent
		dialer *fakeDialer
		p      *provision.Provisioner
	)

	BeforeEach(func() {
		api = &scriptedAPI{}
		keys = &fakeKeys{}
		agent = &fakeAgent{}
		dialer = &fakeDialer{}
		p = provision.New(api, keys, agent, dialer)
	})

	Context("happy path", func() {
		BeforeEach(func() {
			api.GetServerFn = statusSequence(
				cloudapi.Server{Status: cloudapi.StatusInitializing},
				cloudapi.Server{Status: cloudapi.StatusStarting},
				cloudapi.Server{Status: cloudapi.StatusRunning, PublicIPv4: "192.0.2.10"},
			)
		})

		It("returns the address reported at running", func() {
			result, err := p.Provision(context.Background(), "my-ws", testConfig(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IPAddress).To(Equal("192.0.2.10"))
			Expect(result.ServerID).To(Equal(int64(1)))
			Expect(result.SessionID).To(Equal("session-1"))
			Expect(result.KeyID).To(Equal(int64(77)))
			Expect(result.KeyCleanup).To(Equal(keymanager.CleanupShared))
		})

		It("derives the workspace directory and instance name", func() {
			result, err := p.Provision(context.Background(), "my-ws", testConfig(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.WorkspaceDir).To(Equal("/work/my-ws"))
			Expect(agent.mkdirPaths).To(ConsistOf("/work/my-ws"))

			Expect(api.createOpts).To(HaveLen(1))
			Expect(api.createOpts[0].Name).To(Equal("jido-my-ws"))
		})

		It("attaches the secured key and the management label", func() {
			_, err := p.Provision(context.Background(), "my-ws", testConfig(), nil)
			Expect(err).NotTo(HaveOccurred())

			opts := api.createOpts[0]
			Expect(opts.SSHKeys).To(Equal([]int64{77}))
			Expect(opts.Labels).To(HaveKeyWithValue(keymanager.ManagementLabel, keymanager.ManagementLabelValue))
		})

		It("submits a numeric image id as text", func() {
			cfg := testConfig()
			cfg.Image = provision.ImageFromID(12345678)
			_, err := p.Provision(context.Background(), "my-ws", cfg, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(api.createOpts[0].Image).To(Equal("12345678"))
		})

		It("hands the secured private key to the session", func() {
			_, err := p.Provision(context.Background(), "my-ws", testConfig(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(agent.startedWorkspaces).To(ConsistOf("my-ws"))
			Expect(agent.startedParams[0].Host).To(Equal("192.0.2.10"))
			Expect(agent.startedParams[0].PrivateKey).To(Equal("PRIVATE"))
		})

		It("closes every reachability probe connection", func() {
			dialer.failures = 3
			_, err := p.Provision(context.Background(), "my-ws", testConfig(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(dialer.attempts).To(Equal(4))
			Expect(dialer.closed).To(Equal(1))
		})

		It("emits progress stages in pipeline order", func() {
			var stages []provision.Stage
			progress := func(stage provision.Stage, meta map[string]string) {
				stages = append(stages, stage)
			}
			_, err := p.Provision(context.Background(), "my-ws", testConfig(), progress)
			Expect(err).NotTo(HaveOccurred())
			Expect(stages).To(Equal([]provision.Stage{
				provision.StageValidateConfig,
				provision.StageSecureSSHKey,
				provision.StageCreateServer,
				provision.StageWaitForServer,
				provision.StageWaitForSSH,
				provision.StageStartSession,
				provision.StageCreateWorkspace,
			}))
		})

		It("survives a panicking progress callback", func() {
			progress := func(stage provision.Stage, meta map[string]string) {
				panic("observer bug")
			}
			result, err := p.Provision(context.Background(), "my-ws", testConfig(), progress)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).NotTo(BeNil())
		})
	})

	Context("config validation", func() {
		It("rejects a blank token before any API call", func() {
			cfg := testConfig()
			cfg.Token = "   "
			_, err := p.Provision(context.Background(), "my-ws", cfg, nil)
			Expect(err).To(MatchError(provision.ErrMissingToken))
			Expect(api.createOpts).To(BeEmpty())
			Expect(keys.ensureCalls).To(BeZero())
		})
	})

	Context("boot polling", func() {
		It("times out on an instance stuck initializing", func() {
			api.GetServerFn = statusSequence(cloudapi.Server{Status: cloudapi.StatusInitializing})
			cfg := testConfig()
			cfg.ServerBootTimeout = 10 * time.Millisecond

			_, err := p.Provision(context.Background(), "my-ws", cfg, nil)
			Expect(err).To(MatchError(provision.ErrServerTimeout))
			Expect(dialer.attempts).To(BeZero())
			Expect(agent.startedWorkspaces).To(BeEmpty())
		})

		It("fails fast on an unexpected status", func() {
			api.GetServerFn = statusSequence(cloudapi.Server{Status: "off"})

			_, err := p.Provision(context.Background(), "my-ws", testConfig(), nil)
			Expect(err).To(MatchError(provision.ErrUnexpectedServerStatus))
			Expect(err.Error()).To(ContainSubstring("off"))
			Expect(api.getCalls).To(Equal(1))
		})

		It("surfaces a poll transport failure without re-entering the loop", func() {
			api.GetServerFn = func(id int64) (*cloudapi.Server, error) {
				return nil, &cloudapi.APIError{Kind: cloudapi.ErrServerError, StatusCode: 500}
			}

			_, err := p.Provision(context.Background(), "my-ws", testConfig(), nil)
			Expect(err).To(MatchError(provision.ErrServerPollFailed))
			Expect(api.getCalls).To(Equal(1))
		})

		It("keeps polling while running has no public address", func() {
			api.GetServerFn = statusSequence(
				cloudapi.Server{Status: cloudapi.StatusRunning},
				cloudapi.Server{Status: cloudapi.StatusRunning, PublicIPv4: "192.0.2.10"},
			)

			result, err := p.Provision(context.Background(), "my-ws", testConfig(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IPAddress).To(Equal("192.0.2.10"))
		})
	})

	Context("SSH reachability", func() {
		BeforeEach(func() {
			api.GetServerFn = statusSequence(
				cloudapi.Server{Status: cloudapi.StatusRunning, PublicIPv4: "192.0.2.10"},
			)
		})

		It("times out when no handshake ever succeeds", func() {
			dialer.failures = 1 << 30
			cfg := testConfig()
			cfg.SSHTimeout = 10 * time.Millisecond

			_, err := p.Provision(context.Background(), "my-ws", cfg, nil)
			Expect(err).To(MatchError(provision.ErrSSHTimeout))
			Expect(agent.startedWorkspaces).To(BeEmpty())
		})
	})

	Context("stage failures abort the pipeline", func() {
		It("stops at a key manager failure", func() {
			keys.ensureErr = keymanager.ErrMissingSSHPrivateKey
			_, err := p.Provision(context.Background(), "my-ws", testConfig(), nil)
			Expect(err).To(MatchError(keymanager.ErrMissingSSHPrivateKey))
			Expect(api.createOpts).To(BeEmpty())
		})

		It("wraps a rejected create call", func() {
			api.CreateServerFn = func(opts cloudapi.CreateServerOpts) (*cloudapi.Server, error) {
				return nil, &cloudapi.APIError{Kind: cloudapi.ErrUnauthorized, StatusCode: 401}
			}
			_, err := p.Provision(context.Background(), "my-ws", testConfig(), nil)
			Expect(err).To(MatchError(provision.ErrServerCreateFailed))
			Expect(cloudapi.IsUnauthorized(err)).To(BeTrue())
		})

		It("stops when the session cannot be started", func() {
			api.GetServerFn = statusSequence(
				cloudapi.Server{Status: cloudapi.StatusRunning, PublicIPv4: "192.0.2.10"},
			)
			agent.startErr = errors.New("agent unavailable")

			_, err := p.Provision(context.Background(), "my-ws", testConfig(), nil)
			Expect(err).To(HaveOccurred())
			Expect(agent.mkdirPaths).To(BeEmpty())
		})
	})
})
