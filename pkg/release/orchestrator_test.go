package release

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chazu/wharf/pkg/graph"
	"github.com/chazu/wharf/pkg/inventory"
	"github.com/chazu/wharf/pkg/version"
)

var _ = ginkgo.Describe("Orchestrator", func() {
	var (
		ctx       context.Context
		publisher *scriptedPublisher
		config    Config
		g         *graph.DependencyGraph
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		publisher = newScriptedPublisher()
		config = Config{
			MaxConcurrency: 4,
			MaxAttempts:    4,
			Backoff:        BackoffConfig{InitialInterval: time.Millisecond, MaxInterval: 8 * time.Millisecond, Multiplier: 2},
		}
		g = buildGraph(pkg("core"), pkg("utils", "core"))
	})

	ginkgo.Context("When releasing core and utils", func() {
		ginkgo.It("should fail core and skip utils on a permanent failure", func() {
			publisher.script["core"] = []error{Permanent(errAuth)}
			o, delays := testOrchestrator(publisher, config)

			report, err := o.Publish(ctx, g, TargetsFromGraph(g))
			Expect(err).NotTo(HaveOccurred())

			core, _ := report.Get("core")
			Expect(core.Status).To(Equal(StatusFailed))
			Expect(core.Attempts).To(Equal(1))
			Expect(core.Cause).To(ContainSubstring("401 unauthorized"))

			utils, _ := report.Get("utils")
			Expect(utils.Status).To(Equal(StatusSkipped))
			Expect(utils.SkipReason).To(Equal(SkipReasonDependencyFailed))
			Expect(utils.Cause).To(Equal("core"))
			Expect(utils.Attempts).To(Equal(0))

			Expect(publisher.callCount("utils")).To(Equal(0))
			Expect(*delays).To(BeEmpty())
			Expect(report.HasFailures()).To(BeTrue())
			Expect(report.ExitCode()).To(Equal(1))
		})

		ginkgo.It("should retry transient failures and then publish", func() {
			publisher.script["core"] = []error{errNotVisible("core"), errNotVisible("core")}
			o, delays := testOrchestrator(publisher, config)

			report, err := o.Publish(ctx, g, TargetsFromGraph(g))
			Expect(err).NotTo(HaveOccurred())

			core, _ := report.Get("core")
			Expect(core.Status).To(Equal(StatusPublished))
			Expect(core.Attempts).To(Equal(3))
			Expect(core.Cause).To(BeEmpty())

			utils, _ := report.Get("utils")
			Expect(utils.Status).To(Equal(StatusPublished))
			Expect(utils.Attempts).To(Equal(1))
			Expect(utils.Sequence).To(BeNumerically(">", core.Sequence))

			Expect(*delays).To(Equal([]time.Duration{time.Millisecond, 2 * time.Millisecond}))
			Expect(report.ExitCode()).To(Equal(0))
		})

		ginkgo.It("should fail after exhausting the attempt limit", func() {
			publisher.script["core"] = []error{
				errNotVisible("core"), errNotVisible("core"), errNotVisible("core"), errNotVisible("core"), errNotVisible("core"),
			}
			o, delays := testOrchestrator(publisher, config)

			report, err := o.Publish(ctx, g, TargetsFromGraph(g))
			Expect(err).NotTo(HaveOccurred())

			core, _ := report.Get("core")
			Expect(core.Status).To(Equal(StatusFailed))
			Expect(core.Attempts).To(Equal(4))
			Expect(publisher.callCount("core")).To(Equal(4))
			Expect(*delays).To(HaveLen(3))
			Expect((*delays)[2]).To(Equal(4 * time.Millisecond))

			utils, _ := report.Get("utils")
			Expect(utils.SkipReason).To(Equal(SkipReasonDependencyFailed))
		})

		ginkgo.It("should treat unclassified errors as permanent", func() {
			publisher.script["core"] = []error{errors.New("manifest invalid")}
			o, _ := testOrchestrator(publisher, config)

			report, err := o.Publish(ctx, g, TargetsFromGraph(g))
			Expect(err).NotTo(HaveOccurred())
			Expect(publisher.callCount("core")).To(Equal(1))

			core, _ := report.Get("core")
			Expect(core.Status).To(Equal(StatusFailed))
		})
	})

	ginkgo.Context("When packages are independent", func() {
		ginkgo.BeforeEach(func() {
			g = buildGraph(
				pkg("core"), pkg("utils", "core"), pkg("cli", "utils"),
				pkg("log"), pkg("web", "log"),
			)
		})

		ginkgo.It("should publish unaffected branches despite a failure", func() {
			publisher.script["utils"] = []error{Permanent(errAuth)}
			o, _ := testOrchestrator(publisher, config)

			report, err := o.Publish(ctx, g, TargetsFromGraph(g))
			Expect(err).NotTo(HaveOccurred())

			statuses := map[string]Status{}
			for _, rec := range report.Records {
				statuses[rec.Name] = rec.Status
			}
			Expect(statuses).To(Equal(map[string]Status{
				"core":  StatusPublished,
				"utils": StatusFailed,
				"cli":   StatusSkipped,
				"log":   StatusPublished,
				"web":   StatusPublished,
			}))
			Expect(report.Summary()).To(Equal(Summary{Total: 5, Published: 3, Failed: 1, Skipped: 1}))
		})

		ginkgo.It("should order records so dependencies come first", func() {
			publisher.delay = 2 * time.Millisecond
			o, _ := testOrchestrator(publisher, config)

			report, err := o.Publish(ctx, g, TargetsFromGraph(g))
			Expect(err).NotTo(HaveOccurred())

			position := map[string]int{}
			for i, rec := range report.Records {
				position[rec.Name] = i
				if i > 0 {
					Expect(rec.Sequence).To(BeNumerically(">", report.Records[i-1].Sequence))
				}
			}
			Expect(position["core"]).To(BeNumerically("<", position["utils"]))
			Expect(position["utils"]).To(BeNumerically("<", position["cli"]))
			Expect(position["log"]).To(BeNumerically("<", position["web"]))

			for _, rec := range report.Records {
				Expect(rec.StartedAt).NotTo(BeNil())
				Expect(rec.FinishedAt).NotTo(BeNil())
			}
		})

		ginkgo.It("should bound concurrency and never overlap a chain", func() {
			publisher.delay = 5 * time.Millisecond
			config.MaxConcurrency = 2
			o, _ := testOrchestrator(publisher, config)

			_, err := o.Publish(ctx, g, TargetsFromGraph(g))
			Expect(err).NotTo(HaveOccurred())
			Expect(atomic.LoadInt32(&publisher.maxRunning)).To(BeNumerically("<=", 2))

			chain := buildGraph(pkg("a"), pkg("b", "a"), pkg("c", "b"))
			serial := newScriptedPublisher()
			serial.delay = 2 * time.Millisecond
			o, _ = testOrchestrator(serial, Config{MaxConcurrency: 8})
			_, err = o.Publish(ctx, chain, TargetsFromGraph(chain))
			Expect(err).NotTo(HaveOccurred())
			Expect(serial.maxRunning).To(Equal(int32(1)))
			Expect(serial.published()).To(Equal([]string{"a", "b", "c"}))
		})

		ginkgo.It("should treat packages outside the targets as released", func() {
			o, _ := testOrchestrator(publisher, config)
			report, err := o.Publish(ctx, g, []Target{{Name: "cli", Version: "1.0.1"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Records).To(HaveLen(1))
			Expect(report.Records[0].Status).To(Equal(StatusPublished))
			Expect(publisher.published()).To(Equal([]string{"cli"}))
		})
	})

	ginkgo.Context("When skipping packages without blocking dependents", func() {
		ginkgo.It("should skip private packages", func() {
			targets := TargetsFromGraph(g)
			targets[0].Private = true
			o, _ := testOrchestrator(publisher, config)

			report, err := o.Publish(ctx, g, targets)
			Expect(err).NotTo(HaveOccurred())

			core, _ := report.Get("core")
			Expect(core.Status).To(Equal(StatusSkipped))
			Expect(core.SkipReason).To(Equal(SkipReasonPrivate))

			utils, _ := report.Get("utils")
			Expect(utils.Status).To(Equal(StatusPublished))
			Expect(publisher.published()).To(Equal([]string{"utils"}))
			Expect(report.ExitCode()).To(Equal(0))
		})

		ginkgo.It("should resume from the inventory of a prior run", func() {
			tracker := inventory.NewTracker()
			tracker.RecordPublished("core", "1.0.0", "", 1, "previous")
			config.Inventory = tracker
			o, _ := testOrchestrator(publisher, config)

			report, err := o.Publish(ctx, g, TargetsFromGraph(g))
			Expect(err).NotTo(HaveOccurred())

			core, _ := report.Get("core")
			Expect(core.SkipReason).To(Equal(SkipReasonAlreadyPublished))
			Expect(publisher.published()).To(Equal([]string{"utils"}))

			item, ok := tracker.Get("utils@1.0.0")
			Expect(ok).To(BeTrue())
			Expect(item.Status).To(Equal(inventory.ItemStatusPublished))
			Expect(item.RunID).To(Equal(report.RunID))
			Expect(item.Hash).NotTo(BeEmpty())
		})

		ginkgo.It("should skip a version whose recorded fingerprint still matches", func() {
			tracker := inventory.NewTracker()
			tracker.RecordPublished("core", "1.0.0", fingerprint(g, Target{Name: "core", Version: "1.0.0"}), 1, "previous")
			config.Inventory = tracker
			o, _ := testOrchestrator(publisher, config)

			report, err := o.Publish(ctx, g, TargetsFromGraph(g))
			Expect(err).NotTo(HaveOccurred())

			core, _ := report.Get("core")
			Expect(core.SkipReason).To(Equal(SkipReasonAlreadyPublished))
			Expect(publisher.published()).To(Equal([]string{"utils"}))
		})

		ginkgo.It("should fail a package that changed since its version was published", func() {
			tracker := inventory.NewTracker()
			tracker.RecordPublished("core", "1.0.0", "stale-fingerprint", 1, "previous")
			config.Inventory = tracker
			o, _ := testOrchestrator(publisher, config)

			report, err := o.Publish(ctx, g, TargetsFromGraph(g))
			Expect(err).NotTo(HaveOccurred())

			core, _ := report.Get("core")
			Expect(core.Status).To(Equal(StatusFailed))
			Expect(core.Cause).To(ContainSubstring(ErrDrift.Error()))
			utils, _ := report.Get("utils")
			Expect(utils.Status).To(Equal(StatusSkipped))
			Expect(utils.SkipReason).To(Equal(SkipReasonDependencyFailed))
			Expect(publisher.callCount("core")).To(Equal(0))
			Expect(report.ExitCode()).To(Equal(1))
		})

		ginkgo.It("should record failures in the inventory", func() {
			tracker := inventory.NewTracker()
			config.Inventory = tracker
			publisher.script["core"] = []error{Permanent(errAuth)}
			o, _ := testOrchestrator(publisher, config)

			_, err := o.Publish(ctx, g, TargetsFromGraph(g))
			Expect(err).NotTo(HaveOccurred())

			item, ok := tracker.Get("core@1.0.0")
			Expect(ok).To(BeTrue())
			Expect(item.Status).To(Equal(inventory.ItemStatusFailed))
			_, ok = tracker.Get("utils@1.0.0")
			Expect(ok).To(BeFalse())
		})
	})

	ginkgo.Context("When waiting for the registry index", func() {
		ginkgo.It("should wait after every publish", func() {
			index := &fakeIndex{}
			config.Index = index
			o, _ := testOrchestrator(publisher, config)

			report, err := o.Publish(ctx, g, TargetsFromGraph(g))
			Expect(err).NotTo(HaveOccurred())
			Expect(atomic.LoadInt32(&index.calls)).To(Equal(int32(2)))
			Expect(report.ExitCode()).To(Equal(0))
		})

		ginkgo.It("should keep a timed out package published with a warning", func() {
			config.Index = &fakeIndex{err: errors.New("timed out waiting for index")}
			o, _ := testOrchestrator(publisher, config)

			report, err := o.Publish(ctx, g, TargetsFromGraph(g))
			Expect(err).NotTo(HaveOccurred())

			core, _ := report.Get("core")
			Expect(core.Status).To(Equal(StatusPublished))
			Expect(core.Warning).To(ContainSubstring("timed out"))
			Expect(report.ExitCode()).To(Equal(0))
		})
	})

	ginkgo.Context("When an attempt times out", func() {
		ginkgo.It("should retry it as transient", func() {
			publisher.blockOn["core"] = make(chan struct{})
			config.AttemptTimeout = 10 * time.Millisecond
			config.MaxAttempts = 2
			o, delays := testOrchestrator(publisher, config)

			report, err := o.Publish(ctx, g, TargetsFromGraph(g))
			Expect(err).NotTo(HaveOccurred())

			core, _ := report.Get("core")
			Expect(core.Status).To(Equal(StatusFailed))
			Expect(core.Attempts).To(Equal(2))
			Expect(*delays).To(HaveLen(1))
		})
	})

	ginkgo.Context("When running dry", func() {
		ginkgo.It("should not call the publisher", func() {
			config.DryRun = true
			o, _ := testOrchestrator(nil, config)

			targets := TargetsFromGraph(g)
			targets[1].Private = true
			report, err := o.Publish(ctx, g, targets)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Records).To(HaveLen(2))
			Expect(report.Records[0].Name).To(Equal("core"))
			Expect(report.Records[0].SkipReason).To(Equal(SkipReasonDryRun))
			Expect(report.Records[1].SkipReason).To(Equal(SkipReasonPrivate))
			Expect(report.ExitCode()).To(Equal(0))
		})
	})

	ginkgo.Context("When the run is cancelled", func() {
		ginkgo.It("should not start any package", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			o, _ := testOrchestrator(publisher, config)

			report, err := o.Publish(cancelled, g, TargetsFromGraph(g))
			Expect(err).To(MatchError(context.Canceled))
			Expect(publisher.published()).To(BeEmpty())
			for _, rec := range report.Records {
				Expect(rec.Status).To(Equal(StatusSkipped))
				Expect(rec.SkipReason).To(Equal(SkipReasonCancelled))
			}
		})

		ginkgo.It("should let a running publish finish", func() {
			cancellable, cancel := context.WithCancel(ctx)
			publisher.blockOn["core"] = make(chan struct{})
			o, _ := testOrchestrator(publisher, config)

			go func() {
				defer ginkgo.GinkgoRecover()
				Eventually(func() int { return publisher.callCount("core") }).Should(Equal(1))
				cancel()
				time.Sleep(5 * time.Millisecond)
				close(publisher.blockOn["core"])
			}()

			report, err := o.Publish(cancellable, g, TargetsFromGraph(g))
			Expect(err).To(MatchError(context.Canceled))

			core, _ := report.Get("core")
			Expect(core.Status).To(Equal(StatusPublished))
			utils, _ := report.Get("utils")
			Expect(utils.SkipReason).To(Equal(SkipReasonCancelled))
		})

		ginkgo.It("should stop waiting to retry once cancelled", func() {
			cancellable, cancel := context.WithCancel(ctx)
			publisher.script["core"] = []error{errNotVisible("core"), errNotVisible("core")}
			o, _ := testOrchestrator(publisher, config)
			o.sleep = func(sleepCtx context.Context, d time.Duration) error {
				cancel()
				return sleepContext(sleepCtx, time.Hour)
			}

			report, err := o.Publish(cancellable, g, TargetsFromGraph(g))
			Expect(err).To(MatchError(context.Canceled))
			Expect(publisher.callCount("core")).To(Equal(1))

			core, _ := report.Get("core")
			Expect(core.Status).To(Equal(StatusFailed))
			Expect(core.Attempts).To(Equal(1))
			Expect(core.Cause).To(ContainSubstring("retry cancelled"))
			utils, _ := report.Get("utils")
			Expect(utils.Status).To(Equal(StatusSkipped))
		})
	})

	ginkgo.Context("When publishing a version plan", func() {
		ginkgo.It("should publish the planned versions", func() {
			plan, err := version.NewPlanner().Plan(ctx, g, []string{"core"}, version.Policy{Uniform: version.BumpPatch})
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.Apply(g)).To(Succeed())

			targets, err := TargetsFromPlan(g, plan)
			Expect(err).NotTo(HaveOccurred())
			Expect(targets).To(Equal([]Target{
				{Name: "core", Version: "1.0.1", Path: "/ws/core"},
				{Name: "utils", Version: "1.0.1", Path: "/ws/utils"},
			}))

			o, _ := testOrchestrator(publisher, config)
			report, err := o.Publish(ctx, g, targets)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Summary().Published).To(Equal(2))
		})
	})

	ginkgo.Context("When given invalid input", func() {
		ginkgo.It("should reject it before publishing", func() {
			o, _ := testOrchestrator(publisher, config)

			_, err := o.Publish(ctx, nil, nil)
			Expect(err).To(HaveOccurred())

			_, err = o.Publish(ctx, g, []Target{{Name: "ghost", Version: "1.0.0"}})
			Expect(err).To(HaveOccurred())

			_, err = o.Publish(ctx, g, []Target{{Name: "core"}, {Name: "core"}})
			Expect(err).To(HaveOccurred())

			_, err = NewOrchestrator(nil, Config{}).Publish(ctx, g, TargetsFromGraph(g))
			Expect(err).To(HaveOccurred())
			Expect(publisher.published()).To(BeEmpty())
		})
	})
})
