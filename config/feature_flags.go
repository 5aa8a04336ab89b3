package config

import (
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// FeatureFlags toggles optional engine behaviour at runtime.
// Flags are read once at start and may be flipped by operators later.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
}

// Predefined feature flag names.
const (
	// Progress responses are served from Redis when possible.
	FeatureProgressCache = "progress.cache"

	// Domain events are forwarded to Redis pub/sub for other replicas.
	FeatureEventPublishing = "events.publishing"

	// Every applied event updates the learner's daily streak.
	FeatureStreaks = "gamification.streaks"

	// Community activity ingestion and the community_posts stat.
	FeatureCommunityBadges = "gamification.community_badges"
)

var defaultFeatures = []Feature{
	{Name: FeatureProgressCache, Description: "Serve learner progress from the Redis cache", Enabled: true},
	{Name: FeatureEventPublishing, Description: "Forward domain events over Redis pub/sub", Enabled: true},
	{Name: FeatureStreaks, Description: "Track daily activity streaks", Enabled: true},
	{Name: FeatureCommunityBadges, Description: "Accept community activity events", Enabled: true},
}

// featureNameToKey converts a feature name to its config key.
// "progress.cache" -> "feature_progress_cache" (env FEATURE_PROGRESS_CACHE)
func featureNameToKey(name string) string {
	return "feature_" + strings.NewReplacer(".", "_").Replace(name)
}

func setFeatureDefaults(v *viper.Viper) {
	for _, f := range defaultFeatures {
		v.SetDefault(featureNameToKey(f.Name), f.Enabled)
	}
}

// LoadFeatureFlags reads flags from v. A nil v yields the defaults.
func LoadFeatureFlags(v *viper.Viper) *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature, len(defaultFeatures))}
	for _, f := range defaultFeatures {
		feature := f
		if v != nil && v.IsSet(featureNameToKey(f.Name)) {
			feature.Enabled = v.GetBool(featureNameToKey(f.Name))
		}
		ff.features[f.Name] = &feature
	}
	return ff
}

// IsEnabled reports whether the named feature is on. Unknown names are off.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	f, ok := ff.features[name]
	return ok && f.Enabled
}

// Set flips a feature. Unknown names return ErrFeatureNotFound.
func (ff *FeatureFlags) Set(name string, enabled bool) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.features[name]
	if !ok {
		return ErrFeatureNotFound
	}
	f.Enabled = enabled
	return nil
}

// Names returns all feature names in order.
func (ff *FeatureFlags) Names() []string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	names := make([]string, 0, len(ff.features))
	for n := range ff.features {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// --- Convenience methods for common checks ---

func (ff *FeatureFlags) ProgressCacheEnabled() bool   { return ff.IsEnabled(FeatureProgressCache) }
func (ff *FeatureFlags) EventPublishingEnabled() bool { return ff.IsEnabled(FeatureEventPublishing) }
func (ff *FeatureFlags) StreaksEnabled() bool         { return ff.IsEnabled(FeatureStreaks) }
func (ff *FeatureFlags) CommunityEnabled() bool       { return ff.IsEnabled(FeatureCommunityBadges) }

// --- Errors ---

var (
	ErrFeatureNotFound = &FeatureFlagError{Message: "feature not found"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
