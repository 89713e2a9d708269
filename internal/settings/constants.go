package settings

// Billing and gateway defaults.
const (
	// CreditsPerDollar converts upstream dollar cost into internal credits.
	CreditsPerDollar = 100.0
	// ProfitMultiplier marks up upstream cost before conversion.
	ProfitMultiplier = 1.2
	// DefaultDailyFreeCredits is the per-user daily free allowance.
	DefaultDailyFreeCredits = 50
	// FallbackThinkingBudgetTokens is applied when a reasoning level carries
	// only a qualitative token and no explicit budget.
	FallbackThinkingBudgetTokens = 16384
	// DefaultMaxCompletions caps the `n` parameter for chat requests.
	DefaultMaxCompletions = 1
	// DailyCounterRedisPrefix namespaces daily credit counter keys in Redis.
	DailyCounterRedisPrefix = "mrly:daily"
	// DefaultListenPort is used when the config omits a port.
	DefaultListenPort = 8318
)
