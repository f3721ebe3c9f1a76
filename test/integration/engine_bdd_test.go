//go:build integration

package integration

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/peva0411/focusgate/internal/blocker"
	"github.com/peva0411/focusgate/internal/budget"
	"github.com/peva0411/focusgate/internal/client"
	"github.com/peva0411/focusgate/internal/domain"
	"github.com/peva0411/focusgate/internal/engine"
	"github.com/peva0411/focusgate/internal/infra"
	"github.com/peva0411/focusgate/internal/notify"
	"github.com/peva0411/focusgate/internal/schedule"
	"github.com/peva0411/focusgate/internal/server"
	"github.com/peva0411/focusgate/internal/store"
)

// stack is one fully wired engine over real bolt storage and a real
// published rules file, driven by a manual clock.
type stack struct {
	dir       string
	clock     *infra.ManualClock
	storage   *store.BoltStore
	installer *infra.FileRuleInstaller
	coord     *engine.Coordinator
	cancel    context.CancelFunc
}

func newStack(dir string, seed func(st *store.PersistedState)) *stack {
	logger := zap.NewNop()
	// Monday 2024-01-01 10:00 UTC.
	clock := infra.NewManualClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))

	storage, err := store.OpenBolt(filepath.Join(dir, "state.db"))
	Expect(err).NotTo(HaveOccurred())

	ctx := context.Background()
	persisted, err := store.Load(ctx, storage, logger)
	Expect(err).NotTo(HaveOccurred())
	if seed != nil {
		seed(persisted)
		// Persist the seeded state so a store-watch refresh reloads the
		// same data instead of an empty database.
		Expect(storage.Put(ctx, store.KeySchedules, persisted.Schedule.Schedules)).To(Succeed())
		Expect(storage.Put(ctx, store.KeyActiveID, persisted.Schedule.ActiveID)).To(Succeed())
		Expect(storage.Put(ctx, store.KeyEnabled, persisted.Schedule.Enabled)).To(Succeed())
		Expect(storage.Put(ctx, store.KeySites, persisted.Sites)).To(Succeed())
		Expect(storage.Put(ctx, store.KeyBudgetConfig, persisted.BudgetConfig)).To(Succeed())
		Expect(storage.Put(ctx, store.KeyBudgetToday, persisted.BudgetToday)).To(Succeed())
	}

	installer := infra.NewFileRuleInstaller(filepath.Join(dir, "rules.json"), clock)
	evaluator := schedule.NewEvaluator(clock, logger)
	tracker := budget.NewTracker(clock, storage, notify.NopNotifier{},
		persisted.BudgetConfig, persisted.BudgetToday, persisted.BudgetHistory, logger)
	sync := blocker.NewSynchronizer(installer, "ext://interstitial", logger)

	cfg := engine.Config{
		TickInterval:        time.Hour,
		SessionTickInterval: time.Hour,
		HeartbeatInterval:   time.Hour,
	}
	coord := engine.New(cfg, clock, storage, evaluator, tracker, sync, persisted, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)

	return &stack{
		dir:       dir,
		clock:     clock,
		storage:   storage,
		installer: installer,
		coord:     coord,
		cancel:    cancel,
	}
}

func (s *stack) stop() {
	s.cancel()
	// Give the loop a moment to run its shutdown path before closing bolt.
	time.Sleep(50 * time.Millisecond)
	Expect(s.storage.Close()).To(Succeed())
}

func (s *stack) publishedPatterns() []string {
	rules, err := s.installer.ListRules(context.Background())
	Expect(err).NotTo(HaveOccurred())
	var patterns []string
	for _, r := range rules {
		patterns = append(patterns, r.Pattern)
	}
	return patterns
}

func seedWorkday(st *store.PersistedState) {
	st.Schedule.Schedules = []domain.Schedule{{
		ID:      "work",
		Name:    "Work hours",
		Enabled: true,
		Days: map[domain.Weekday][]domain.Interval{
			domain.Monday: {{Start: 9 * 60, End: 17 * 60}},
		},
	}}
	st.Schedule.ActiveID = "work"
	st.Sites = []domain.BlockedSite{
		{ID: "fb", Pattern: "facebook.com", Enabled: true},
	}
	st.BudgetConfig = domain.BudgetConfig{TotalMinutes: 30, ResetTime: "00:00"}
	st.BudgetToday = domain.NewDailyBudget("2024-01-01")
}

var _ = Describe("Blocking engine", func() {
	var s *stack

	BeforeEach(func() {
		s = newStack(GinkgoT().TempDir(), seedWorkday)
	})

	AfterEach(func() {
		s.stop()
	})

	Describe("startup", func() {
		It("publishes rules for the active schedule window", func() {
			Expect(s.coord.ForceReconcile(context.Background())).To(Succeed())
			Expect(s.publishedPatterns()).To(ConsistOf("facebook.com"))
		})
	})

	Describe("pausing", func() {
		It("removes rules for the pause and reinstates them after expiry", func() {
			ctx := context.Background()

			_, err := s.coord.Pause(ctx, 15)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.publishedPatterns()).To(BeEmpty())

			s.clock.Advance(16 * time.Minute)
			Expect(s.coord.ForceReconcile(ctx)).To(Succeed())
			Expect(s.publishedPatterns()).To(ConsistOf("facebook.com"))
		})
	})

	Describe("budget sessions", func() {
		It("lifts the rule during a session and reinstates on exhaustion", func() {
			ctx := context.Background()

			target, err := s.coord.StartBudgetSession(ctx, "fb", "https://facebook.com/feed", 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(target).To(Equal("https://facebook.com/feed"))
			Expect(s.publishedPatterns()).To(BeEmpty())

			// Burn through the whole 30-minute budget.
			s.clock.Advance(31 * time.Minute)
			Expect(s.coord.ForceReconcile(ctx)).To(Succeed())
			Expect(s.publishedPatterns()).To(ConsistOf("facebook.com"))

			_, err = s.coord.StartBudgetSession(ctx, "fb", "https://facebook.com", 2)
			Expect(err).To(MatchError(budget.ErrBudgetExhausted))
		})
	})

	Describe("restart", func() {
		It("keeps sites, budget spend and stats across a daemon restart", func() {
			ctx := context.Background()

			site, err := s.coord.AddSite(ctx, "reddit.com")
			Expect(err).NotTo(HaveOccurred())

			_, err = s.coord.StartBudgetSession(ctx, "fb", "https://facebook.com", 1)
			Expect(err).NotTo(HaveOccurred())
			s.clock.Advance(10 * time.Minute)
			Expect(s.coord.ForceReconcile(ctx)).To(Succeed())
			Expect(s.coord.RecordBlock(ctx, site.ID)).To(Succeed())

			dir := s.dir
			s.stop()
			s = newStack(dir, nil)

			sites, err := s.coord.Sites(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(sites).To(HaveLen(2))

			// Spend survived; the session itself did not.
			status, _, err := s.coord.CheckBudget(ctx, "fb")
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Used).To(BeNumerically("~", 10, 0.1))
			n, err := s.coord.SessionCount(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())

			blocks, err := s.coord.BlockStats(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(blocks["2024-01-01"][site.ID]).To(Equal(1))
		})
	})
})

var _ = Describe("RPC endpoint", func() {
	var (
		s       *stack
		httpSrv *server.HTTPServer
		addr    string
		c       *client.Client
	)

	const token = "integration-secret"

	BeforeEach(func() {
		s = newStack(GinkgoT().TempDir(), seedWorkday)

		rpc := server.NewRPCServer(&server.RPCConfig{Secret: token, Version: "it"}, s.coord)
		httpSrv = server.NewHTTPServer(rpc, zap.NewNop())
		var err error
		addr, err = httpSrv.Listen(0)
		Expect(err).NotTo(HaveOccurred())
		go httpSrv.Serve()

		c = client.New(addr, token)
	})

	AfterEach(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		Expect(httpSrv.Shutdown(shutdownCtx)).To(Succeed())
		s.stop()
	})

	It("serves site management end to end", func() {
		ctx := context.Background()

		id, err := c.AddSite(ctx, "news.ycombinator.com")
		Expect(err).NotTo(HaveOccurred())

		sites, err := c.Sites(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sites).To(HaveLen(2))

		Expect(c.RemoveSite(ctx, id)).To(Succeed())
		sites, err = c.Sites(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sites).To(HaveLen(1))
	})

	It("rejects a wrong token", func() {
		wrong := client.New(addr, "wrong-token")
		_, err := wrong.Sites(context.Background())
		Expect(err).To(HaveOccurred())
	})

	It("round-trips pause state", func() {
		ctx := context.Background()

		_, err := c.Pause(ctx, 10)
		Expect(err).NotTo(HaveOccurred())

		st, err := c.ScheduleStatus(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.IsPaused).To(BeTrue())

		Expect(c.Resume(ctx)).To(Succeed())
		st, err = c.ScheduleStatus(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.IsPaused).To(BeFalse())
	})
})
