package settings

// DB config keys and defaults for settings.
const (
	// SiteNameKey is the DB config key for the panel site name.
	SiteNameKey = "SITE_NAME"
	// DefaultSiteName is the fallback panel site name.
	DefaultSiteName = "KeyForge"
	// RegistrationBonusKey controls chips credited at signup.
	RegistrationBonusKey = "REGISTRATION_BONUS_CHIPS"
	// ReferralBonusKey controls chips credited to each side of a referral.
	ReferralBonusKey = "REFERRAL_BONUS_CHIPS"
	// DiscordLinkBonusKey controls the one-time Discord link credit.
	DiscordLinkBonusKey = "DISCORD_LINK_BONUS_CHIPS"
	// AFKClaimCapKey caps a single AFK reward claim.
	AFKClaimCapKey = "AFK_CLAIM_CAP_CHIPS"
	// VerifyRateLimitKey controls the per-key verify requests per second.
	VerifyRateLimitKey = "VERIFY_RATE_LIMIT"
	// VerifyRedisEnabledKey toggles Redis-backed verify rate limiting.
	VerifyRedisEnabledKey = "VERIFY_RATE_LIMIT_REDIS_ENABLED"
	// VerifyRedisAddrKey defines the Redis address for rate limiting.
	VerifyRedisAddrKey = "VERIFY_RATE_LIMIT_REDIS_ADDR"
	// VerifyRedisPasswordKey defines the Redis password for rate limiting.
	VerifyRedisPasswordKey = "VERIFY_RATE_LIMIT_REDIS_PASSWORD"
	// VerifyRedisDBKey defines the Redis DB index for rate limiting.
	VerifyRedisDBKey = "VERIFY_RATE_LIMIT_REDIS_DB"
	// VerifyRedisPrefixKey defines the Redis key prefix for rate limiting.
	VerifyRedisPrefixKey = "VERIFY_RATE_LIMIT_REDIS_PREFIX"

	// DefaultRegistrationBonus is the fallback signup credit.
	DefaultRegistrationBonus = 100
	// DefaultReferralBonus is the fallback referral credit.
	DefaultReferralBonus = 50
	// DefaultDiscordLinkBonus is the fallback Discord link credit.
	DefaultDiscordLinkBonus = 100
	// DefaultAFKClaimCap is the fallback AFK claim cap.
	DefaultAFKClaimCap = 30
	// DefaultVerifyRateLimit is the fallback verify limit (0 means unlimited).
	DefaultVerifyRateLimit = 0
	// DefaultVerifyRedisPrefix is the fallback Redis key prefix.
	DefaultVerifyRedisPrefix = "keyforge:rl"
)
