package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, falling back to system environment variables")
	}
}

// Config holds all runtime tunables. Defaults match production behavior;
// tests override individual fields.
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN"`
	OwnerID      string `env:"OWNER_ID"`
	DataPath     string `env:"DATA_PATH" envDefault:"data/luna.db"`
	LogPath      string `env:"LOG_PATH" envDefault:""`
	MetricsAddr  string `env:"METRICS_ADDR" envDefault:""`

	AIBaseURL string `env:"AI_BASE_URL" envDefault:"https://text.pollinations.ai/openai"`
	AIModel   string `env:"AI_MODEL" envDefault:"openai"`
	AIKey     string `env:"AI_KEY"`

	BotName string `env:"BOT_NAME" envDefault:"luna"`
	Persona string `env:"PERSONA" envDefault:"You are Luna, a sharp-tongued but warm regular of this server. Keep replies short and conversational."`

	// Filter stack.
	InterestThreshold int           `env:"INTEREST_THRESHOLD" envDefault:"50"`
	InterestKeywords  []string      `env:"INTEREST_KEYWORDS" envSeparator:"," envDefault:"luna,game,music,meme"`
	MinMessageLen     int           `env:"MIN_MESSAGE_LEN" envDefault:"3"`
	RateLimitPerMin   int           `env:"RATE_LIMIT_PER_MIN" envDefault:"12"`
	RateLimitVIP      int           `env:"RATE_LIMIT_VIP_PER_MIN" envDefault:"20"`
	VIPUsers          []string      `env:"VIP_USERS" envSeparator:","`
	DebounceWindow    time.Duration `env:"DEBOUNCE_WINDOW" envDefault:"2s"`
	QueueDelay        time.Duration `env:"QUEUE_DELAY" envDefault:"500ms"`

	// Memory tiers.
	STMCapacity      int           `env:"STM_CAPACITY" envDefault:"15"`
	STMMaxAge        time.Duration `env:"STM_MAX_AGE" envDefault:"5m"`
	LTMMinConfidence float64       `env:"LTM_MIN_CONFIDENCE" envDefault:"0.3"`
	EchoThreshold    float64       `env:"ECHO_THRESHOLD" envDefault:"0.9"`
	EchoLookback     int           `env:"ECHO_LOOKBACK" envDefault:"5"`
	RecallTopK       int           `env:"RECALL_TOP_K" envDefault:"5"`
	RecallMinSim     float64       `env:"RECALL_MIN_SIM" envDefault:"0.4"`

	// Boredom engine.
	BoredomCooldown time.Duration `env:"BOREDOM_COOLDOWN" envDefault:"180s"`
	RenameRevert    time.Duration `env:"RENAME_REVERT" envDefault:"300s"`

	// Gossip batcher.
	GossipBatchSize int           `env:"GOSSIP_BATCH_SIZE" envDefault:"6"`
	GossipBatchAge  time.Duration `env:"GOSSIP_BATCH_AGE" envDefault:"120s"`
	CoPresenceGap   time.Duration `env:"CO_PRESENCE_GAP" envDefault:"5s"`

	// Dreamer.
	DreamInterval time.Duration `env:"DREAM_INTERVAL" envDefault:"6h"`
	DreamBandLow  float64       `env:"DREAM_BAND_LOW" envDefault:"0.65"`
	DreamBandHigh float64       `env:"DREAM_BAND_HIGH" envDefault:"0.85"`

	// Analyst.
	AnalystEvery int `env:"ANALYST_EVERY_WRITES" envDefault:"50"`
}

// New parses the environment into a Config. Fatal on malformed values,
// same as a missing token: the process cannot run half-configured.
func New() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}
