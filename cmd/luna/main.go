package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lunabot/luna/internal/ai"
	"github.com/lunabot/luna/internal/analyst"
	"github.com/lunabot/luna/internal/boredom"
	"github.com/lunabot/luna/internal/config"
	"github.com/lunabot/luna/internal/dreamer"
	"github.com/lunabot/luna/internal/gateway"
	"github.com/lunabot/luna/internal/gossip"
	"github.com/lunabot/luna/internal/logging"
	"github.com/lunabot/luna/internal/memory"
	"github.com/lunabot/luna/internal/pipeline"
	"github.com/lunabot/luna/internal/respond"
	"github.com/lunabot/luna/internal/sched"
)

func main() {
	cfg := config.New()
	logger := logging.Setup(cfg.LogPath)
	log := logging.For(logger, "main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Memory tiers.
	store, err := memory.Open(cfg.DataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer func() { _ = store.Close() }()

	stm := memory.NewShortTerm(cfg.STMCapacity, cfg.STMMaxAge)
	engCfg := memory.DefaultEngineConfig()
	engCfg.MinConfidence = cfg.LTMMinConfidence
	engCfg.EchoThreshold = cfg.EchoThreshold
	engCfg.EchoLookback = cfg.EchoLookback
	engCfg.RecallTopK = cfg.RecallTopK
	engCfg.RecallMinSim = cfg.RecallMinSim
	eng := memory.NewEngine(store, stm, engCfg, logging.For(logger, "memory"))

	// Collaborators and the analyst they feed.
	provider := ai.NewProvider(cfg.AIBaseURL, cfg.AIModel, cfg.AIKey)
	agent := analyst.New(cfg.AnalystEvery, provider, store, eng, logging.For(logger, "analyst"))
	eng.OnLTMWrite = agent.OnLTMWrite
	eng.Embedder = provider

	// Gateway.
	bot, err := gateway.New(cfg.DiscordToken, logging.For(logger, "gateway"))
	if err != nil {
		log.Fatal().Err(err).Msg("create gateway")
	}

	// Admission pipeline.
	hardCfg := pipeline.DefaultHardFilterConfig()
	hardCfg.MinLength = cfg.MinMessageLen
	filter := pipeline.NewFilter(
		pipeline.NewHardFilter(hardCfg),
		pipeline.NewScorer(pipeline.ScorerConfig{
			BotNames:  []string{cfg.BotName},
			Keywords:  cfg.InterestKeywords,
			Threshold: cfg.InterestThreshold,
		}, nil),
		pipeline.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitVIP, time.Minute),
		eng,
		cfg.VIPUsers,
		logging.For(logger, "pipeline"),
	)

	// Autonomy: victims, antics, boredom.
	victims := boredom.NewVictimSelector(cfg.OwnerID, bot.Presence(), store, nil, logging.For(logger, "victims"))
	antics := respond.NewAntics(provider, store, bot, cfg.Persona, nil, logging.For(logger, "antics"))
	bored := boredom.NewEngine(boredom.Config{
		Cooldown:     cfg.BoredomCooldown,
		RenameRevert: cfg.RenameRevert,
	}, antics, victims, nil, logging.For(logger, "boredom"))

	// Response path.
	responder := respond.New(respond.Options{
		Persona:  cfg.Persona,
		SelfID:   cfg.BotName,
		Decider:  provider,
		Gen:      provider,
		Embedder: provider,
		Memory:   eng,
		Sender:   bot,
		Filter:   filter,
		Notify:   bored,
		Log:      logging.For(logger, "respond"),
	})
	queue := pipeline.NewQueue(cfg.QueueDelay, 64, responder.Handle, logging.For(logger, "queue"))
	agg := pipeline.NewAggregator(cfg.DebounceWindow, queue.Enqueue)

	// Gossip.
	gossiper := gossip.NewPipeline(gossip.Config{
		BatchSize:     cfg.GossipBatchSize,
		BatchAge:      cfg.GossipBatchAge,
		CoPresenceGap: cfg.CoPresenceGap,
	}, provider, eng, logging.For(logger, "gossip"))

	// Dreamer.
	dream := dreamer.New(dreamer.Config{
		BandLow:  cfg.DreamBandLow,
		BandHigh: cfg.DreamBandHigh,
		MaxLinks: 10,
	}, store, eng, provider, logging.For(logger, "dreamer"))

	// Inbound wiring.
	bot.OnMessage(func(msg pipeline.RawMessage) {
		if msg.IsSelf {
			// Own replies only reset the silence clock. The responder already
			// records each reply into short-term memory below the write floor.
			bored.OnBotSpoke(msg.ChannelID, msg.At)
			return
		}
		bored.OnMessage(msg.ChannelID, len(msg.Text), msg.MentionsBot, msg.At)
		if v := filter.Process(ctx, msg); v.Admitted {
			agg.Add(msg)
		}
	})
	bot.OnInteraction(func(channelID, authorID, replyToAuthor string, mentions []string, at time.Time) {
		gossiper.Observe(channelID, authorID, replyToAuthor, mentions, at)
	})

	// Background schedules.
	scheduler := sched.NewService(5*time.Minute, logging.For(logger, "sched"))
	mustRegister(log, scheduler, sched.Job{Name: "dream", Spec: "@every " + cfg.DreamInterval.String(), Run: func(ctx context.Context) {
		if err := dream.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("dream run failed")
		}
	}})
	mustRegister(log, scheduler, sched.Job{Name: "gossip-sweep", Spec: "@every 30s", Run: func(context.Context) {
		gossiper.Sweep(time.Now())
	}})
	mustRegister(log, scheduler, sched.Job{Name: "boredom-heartbeat", Spec: "@every 60s", Run: func(ctx context.Context) {
		bored.Heartbeat(ctx, time.Now())
	}})

	// Metrics endpoint, optional.
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	go queue.Run(ctx)
	scheduler.Start(ctx)

	if err := bot.Open(); err != nil {
		log.Fatal().Err(err).Msg("open gateway")
	}
	log.Info().Msg("luna is awake")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("shutting down")

	cancel()
	scheduler.Stop()
	agg.Stop()
	gossiper.Stop()
	agent.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	bored.Shutdown(shutdownCtx)

	if err := bot.Close(); err != nil {
		log.Warn().Err(err).Msg("gateway close")
	}
	log.Info().Msg("goodnight")
}

func mustRegister(log zerolog.Logger, s *sched.Service, job sched.Job) {
	if err := s.Register(job); err != nil {
		log.Fatal().Err(err).Str("job", job.Name).Msg("register job")
	}
}
