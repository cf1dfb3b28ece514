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

// fastBackoffs keeps the retry loop quick in tests
var fastBackoffs = []time.Duration{0, time.Millisecond, time.Millisecond}

var _ = Describe("Teardown", func() {
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

	request := func() provision.TeardownRequest {
		return provision.TeardownRequest{
			SessionID:     "session-1",
			ServerID:      42,
			KeyID:         77,
			KeyCleanup:    keymanager.CleanupShared,
			RetryBackoffs: fastBackoffs,
		}
	}

	It("verifies deletion in one attempt when the server is already gone", func() {
		api.DeleteServerFn = func(id int64) error { return notFoundErr() }

		outcome := p.Teardown(context.Background(), request())
		Expect(outcome.Verified).To(BeTrue())
		Expect(outcome.Attempts).To(Equal(1))
		Expect(outcome.Warnings).To(BeNil())
	})

	It("is idempotent for an already-deleted server", func() {
		api.DeleteServerFn = func(id int64) error { return notFoundErr() }

		first := p.Teardown(context.Background(), request())
		second := p.Teardown(context.Background(), request())
		Expect(first.Verified).To(BeTrue())
		Expect(second.Verified).To(BeTrue())
	})

	It("confirms deletion by recheck after a successful delete", func() {
		api.DeleteServerFn = func(id int64) error { return nil }
		api.GetServerFn = func(id int64) (*cloudapi.Server, error) { return nil, notFoundErr() }

		outcome := p.Teardown(context.Background(), request())
		Expect(outcome.Verified).To(BeTrue())
		Expect(outcome.Attempts).To(Equal(1))
		Expect(outcome.Warnings).To(BeNil())
	})

	It("keeps retrying while the server remains present", func() {
		gone := false
		rechecks := 0
		api.DeleteServerFn = func(id int64) error { return nil }
		api.GetServerFn = func(id int64) (*cloudapi.Server, error) {
			rechecks++
			if rechecks >= 2 {
				gone = true
			}
			if gone {
				return nil, notFoundErr()
			}
			return &cloudapi.Server{ID: id, Status: cloudapi.StatusRunning}, nil
		}

		outcome := p.Teardown(context.Background(), request())
		Expect(outcome.Verified).To(BeTrue())
		Expect(outcome.Attempts).To(Equal(2))
	})

	It("exhausts the backoff schedule unverified when delete keeps failing", func() {
		api.DeleteServerFn = func(id int64) error {
			return &cloudapi.APIError{Kind: cloudapi.ErrLocked, StatusCode: 423, Body: "locked"}
		}

		outcome := p.Teardown(context.Background(), request())
		Expect(outcome.Verified).To(BeFalse())
		Expect(outcome.Attempts).To(Equal(len(fastBackoffs)))
		// Identical failures collapse to one warning, first occurrence first.
		Expect(outcome.Warnings).To(HaveLen(1))
		Expect(outcome.Warnings[0]).To(ContainSubstring("failed to delete server 42"))
	})

	It("short-circuits on a missing server id", func() {
		req := request()
		req.ServerID = 0

		outcome := p.Teardown(context.Background(), req)
		Expect(outcome.Verified).To(BeFalse())
		Expect(outcome.Attempts).To(BeZero())
		Expect(outcome.Warnings).To(ConsistOf(ContainSubstring("server_id_missing")))
		Expect(api.deleteCalls).To(BeZero())
	})

	It("records a session stop failure as a warning only", func() {
		agent.stopErr = errors.New("session already closed")
		api.DeleteServerFn = func(id int64) error { return notFoundErr() }

		outcome := p.Teardown(context.Background(), request())
		Expect(outcome.Verified).To(BeTrue())
		Expect(outcome.Warnings).To(ConsistOf(ContainSubstring("failed to stop session")))
	})

	It("records a key cleanup failure without flipping verification", func() {
		api.DeleteServerFn = func(id int64) error { return notFoundErr() }
		keys.cleanupErr = errors.New("listing instances failed")

		outcome := p.Teardown(context.Background(), request())
		Expect(outcome.Verified).To(BeTrue())
		Expect(outcome.Warnings).To(ConsistOf(ContainSubstring("failed to release SSH key 77")))
		Expect(keys.cleanupCalls).To(ConsistOf(keymanager.CleanupShared))
	})

	It("skips key cleanup when no key id was produced", func() {
		api.DeleteServerFn = func(id int64) error { return notFoundErr() }
		req := request()
		req.KeyID = 0

		p.Teardown(context.Background(), req)
		Expect(keys.cleanupCalls).To(BeEmpty())
	})

	It("honors a caller-supplied backoff schedule", func() {
		api.DeleteServerFn = func(id int64) error {
			return &cloudapi.APIError{Kind: cloudapi.ErrServerError, StatusCode: 500}
		}
		req := request()
		req.RetryBackoffs = []time.Duration{0, 0}

		outcome := p.Teardown(context.Background(), req)
		Expect(outcome.Attempts).To(Equal(2))
		Expect(api.deleteCalls).To(Equal(2))
	})

	It("runs every step even when all of them fail", func() {
		agent.stopErr = errors.New("stop failed")
		api.DeleteServerFn = func(id int64) error {
			return &cloudapi.APIError{Kind: cloudapi.ErrServerError, StatusCode: 500}
		}
		keys.cleanupErr = errors.New("cleanup failed")

		outcome := p.Teardown(context.Background(), request())
		Expect(outcome.Verified).To(BeFalse())
		Expect(outcome.Warnings).To(HaveLen(3))
		Expect(keys.cleanupCalls).To(HaveLen(1))
	})
})
